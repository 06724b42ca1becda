package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"knoweasy/models"

	"gorm.io/gorm"
)

// catalogLimit caps catalog and history listings.
const catalogLimit = 50

type TestService struct {
	db    *gorm.DB
	cache TestCache
	now   func() time.Time
}

type TestServiceOption func(*TestService)

// WithTestClock overrides the clock used to stamp question creation times.
func WithTestClock(now func() time.Time) TestServiceOption {
	return func(s *TestService) { s.now = now }
}

func NewTestService(db *gorm.DB, cache TestCache, opts ...TestServiceOption) *TestService {
	if cache == nil {
		cache = NopTestCache()
	}
	s := &TestService{
		db:    db,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateTestRequest struct {
	Title        string            `json:"title" binding:"required" validate:"required,max=200"`
	Description  string            `json:"description"`
	Cls          *int              `json:"cls" validate:"omitempty,min=1,max=12"`
	Board        string            `json:"board" validate:"max=100"`
	SubjectSlug  string            `json:"subject_slug" validate:"max=120"`
	ChapterSlug  string            `json:"chapter_slug" validate:"max=160"`
	TimeLimitSec *int              `json:"time_limit_sec" validate:"omitempty,min=0"`
	Questions    []QuestionRequest `json:"questions" validate:"dive"`
}

type QuestionRequest struct {
	Qno           int     `json:"qno" binding:"required" validate:"required,min=1"`
	QuestionText  string  `json:"question_text" binding:"required" validate:"required"`
	OptionA       string  `json:"option_a" validate:"required"`
	OptionB       string  `json:"option_b" validate:"required"`
	OptionC       string  `json:"option_c" validate:"required"`
	OptionD       string  `json:"option_d" validate:"required"`
	CorrectOption string  `json:"correct_option" binding:"required" validate:"option_letter"`
	Marks         int     `json:"marks" validate:"min=1"`
	NegativeMarks int     `json:"negative_marks" validate:"min=0"`
	Explanation   *string `json:"explanation"`
}

// normalize applies column defaults before validation.
func (r *QuestionRequest) normalize() {
	r.QuestionText = strings.TrimSpace(r.QuestionText)
	r.CorrectOption, _ = models.NormalizeOption(r.CorrectOption)
	if r.Marks == 0 {
		r.Marks = 1
	}
}

func (r *QuestionRequest) toModel(testID uint, createdAt time.Time) models.Question {
	return models.Question{
		TestID:        testID,
		Qno:           r.Qno,
		QuestionText:  r.QuestionText,
		OptionA:       r.OptionA,
		OptionB:       r.OptionB,
		OptionC:       r.OptionC,
		OptionD:       r.OptionD,
		CorrectOption: r.CorrectOption,
		Marks:         r.Marks,
		NegativeMarks: r.NegativeMarks,
		Explanation:   r.Explanation,
		CreatedAt:     createdAt,
	}
}

// PublicTest is the student view of a published test. Correct options and
// explanations are withheld.
type PublicTest struct {
	ID           uint             `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Cls          *int             `json:"cls"`
	Board        string           `json:"board"`
	SubjectSlug  string           `json:"subject_slug"`
	ChapterSlug  string           `json:"chapter_slug"`
	TimeLimitSec *int             `json:"time_limit_sec"`
	TotalMarks   int              `json:"total_marks"`
	Questions    []PublicQuestion `json:"questions"`
}

type PublicQuestion struct {
	ID            uint   `json:"id"`
	Qno           int    `json:"qno"`
	QuestionText  string `json:"question_text"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	OptionC       string `json:"option_c"`
	OptionD       string `json:"option_d"`
	Marks         int    `json:"marks"`
	NegativeMarks int    `json:"negative_marks"`
}

type CatalogFilter struct {
	Cls     *int
	Board   string
	Subject string
	Chapter string
}

type CatalogItem struct {
	ID           uint      `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Cls          *int      `json:"cls"`
	Board        string    `json:"board"`
	SubjectSlug  string    `json:"subject_slug"`
	ChapterSlug  string    `json:"chapter_slug"`
	TimeLimitSec *int      `json:"time_limit_sec"`
	TotalMarks   int       `json:"total_marks"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *TestService) CreateTest(ctx context.Context, req *CreateTestRequest) (*models.Test, error) {
	req.Title = strings.TrimSpace(req.Title)
	for i := range req.Questions {
		req.Questions[i].normalize()
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(req.Questions))
	for _, q := range req.Questions {
		if seen[q.Qno] {
			return nil, conflict("question number %d appears twice", q.Qno)
		}
		seen[q.Qno] = true
	}

	test := models.Test{
		Title:        req.Title,
		Description:  req.Description,
		Cls:          req.Cls,
		Board:        req.Board,
		SubjectSlug:  req.SubjectSlug,
		ChapterSlug:  req.ChapterSlug,
		TimeLimitSec: normalizeTimeLimit(req.TimeLimitSec),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&test).Error; err != nil {
			return fmt.Errorf("failed to create test: %w", err)
		}

		createdAt := s.now()
		for i := range req.Questions {
			question := req.Questions[i].toModel(test.ID, createdAt)
			if err := tx.Create(&question).Error; err != nil {
				return fmt.Errorf("failed to create question %d: %w", question.Qno, err)
			}
		}

		return refreshTotalMarks(tx, test.ID)
	})
	if err != nil {
		return nil, err
	}

	return s.GetTest(ctx, test.ID)
}

// AddQuestion appends a question to a draft test.
func (s *TestService) AddQuestion(ctx context.Context, testID uint, req *QuestionRequest) (*models.Question, error) {
	req.normalize()
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var question models.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		test, err := lockTest(tx, testID)
		if err != nil {
			return err
		}
		if test.IsPublished {
			return invalidState("test %d is published; use a correction instead", testID)
		}

		var count int64
		if err := tx.Model(&models.Question{}).
			Where("test_id = ? AND qno = ?", testID, req.Qno).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check question number: %w", err)
		}
		if count > 0 {
			return conflict("test %d already has question %d", testID, req.Qno)
		}

		question = req.toModel(testID, s.now())
		if err := tx.Create(&question).Error; err != nil {
			return fmt.Errorf("failed to create question: %w", err)
		}
		return refreshTotalMarks(tx, testID)
	})
	if err != nil {
		return nil, err
	}
	return &question, nil
}

// PublishTest recomputes total marks and makes the test visible to
// students. Publishing an already published test changes nothing.
func (s *TestService) PublishTest(ctx context.Context, testID uint) (*models.Test, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		test, err := lockTest(tx, testID)
		if err != nil {
			return err
		}
		if test.IsPublished {
			return nil
		}
		if err := refreshTotalMarks(tx, testID); err != nil {
			return err
		}
		if err := tx.Model(&models.Test{}).Where("id = ?", testID).
			Update("is_published", true).Error; err != nil {
			return fmt.Errorf("failed to publish test: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, testID)
	return s.GetTest(ctx, testID)
}

// CorrectQuestion inserts or rewrites the question with req.Qno. It is the
// only way to change questions of a published test. Finalized attempts keep
// their stored scores until they are recomputed.
func (s *TestService) CorrectQuestion(ctx context.Context, testID uint, req *QuestionRequest) (*models.Question, error) {
	req.normalize()
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var question models.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockTest(tx, testID); err != nil {
			return err
		}

		err := tx.Where("test_id = ? AND qno = ?", testID, req.Qno).First(&question).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			question = req.toModel(testID, s.now())
			if err := tx.Create(&question).Error; err != nil {
				return fmt.Errorf("failed to create question: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to load question: %w", err)
		default:
			if err := tx.Model(&question).Updates(map[string]interface{}{
				"question_text":  req.QuestionText,
				"option_a":       req.OptionA,
				"option_b":       req.OptionB,
				"option_c":       req.OptionC,
				"option_d":       req.OptionD,
				"correct_option": req.CorrectOption,
				"marks":          req.Marks,
				"negative_marks": req.NegativeMarks,
				"explanation":    req.Explanation,
			}).Error; err != nil {
				return fmt.Errorf("failed to update question: %w", err)
			}
			if err := tx.First(&question, question.ID).Error; err != nil {
				return fmt.Errorf("failed to reload question: %w", err)
			}
		}
		return refreshTotalMarks(tx, testID)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, testID)
	return &question, nil
}

// DeleteTest removes a test with its questions, attempts and answers.
func (s *TestService) DeleteTest(ctx context.Context, testID uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Test{}, testID)
	if res.Error != nil {
		return fmt.Errorf("failed to delete test: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("test %d not found", testID)
	}
	s.cache.Invalidate(ctx, testID)
	return nil
}

// GetTest returns a test with every question, answers included.
func (s *TestService) GetTest(ctx context.Context, testID uint) (*models.Test, error) {
	var test models.Test
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("test_questions.qno")
		}).
		First(&test, testID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("test %d not found", testID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	return &test, nil
}

// GetPublishedTest returns the student view of a published test.
// Unpublished tests are reported as not found.
func (s *TestService) GetPublishedTest(ctx context.Context, testID uint) (*PublicTest, error) {
	if cached, ok := s.cache.GetPublicTest(ctx, testID); ok {
		return cached, nil
	}

	test, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !test.IsPublished {
		return nil, notFound("test %d not found", testID)
	}

	public := toPublicTest(test)
	s.cache.SetPublicTest(ctx, public)
	return public, nil
}

// ListCatalog returns published tests matching filter, most recently
// updated first.
func (s *TestService) ListCatalog(ctx context.Context, filter CatalogFilter) ([]CatalogItem, error) {
	query := s.db.WithContext(ctx).Model(&models.Test{}).Where("is_published = ?", true)
	if filter.Cls != nil {
		query = query.Where("cls = ?", *filter.Cls)
	}
	if filter.Board != "" {
		query = query.Where("board = ?", filter.Board)
	}
	if filter.Subject != "" {
		query = query.Where("subject_slug = ?", filter.Subject)
	}
	if filter.Chapter != "" {
		query = query.Where("chapter_slug = ?", filter.Chapter)
	}

	items := []CatalogItem{}
	err := query.Order("updated_at DESC").Order("id DESC").Limit(catalogLimit).Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	return items, nil
}

// normalizeTimeLimit treats a zero limit as no limit.
func normalizeTimeLimit(limit *int) *int {
	if limit == nil || *limit == 0 {
		return nil
	}
	v := *limit
	return &v
}

func lockTest(tx *gorm.DB, testID uint) (*models.Test, error) {
	var test models.Test
	err := tx.Clauses(lockForUpdate).First(&test, testID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("test %d not found", testID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock test: %w", err)
	}
	return &test, nil
}

// refreshTotalMarks keeps tests.total_marks equal to the sum of its
// questions' marks.
func refreshTotalMarks(tx *gorm.DB, testID uint) error {
	var total int64
	if err := tx.Model(&models.Question{}).
		Where("test_id = ?", testID).
		Select("COALESCE(SUM(marks), 0)").
		Scan(&total).Error; err != nil {
		return fmt.Errorf("failed to sum marks: %w", err)
	}
	if err := tx.Model(&models.Test{}).Where("id = ?", testID).
		Update("total_marks", int(total)).Error; err != nil {
		return fmt.Errorf("failed to update total marks: %w", err)
	}
	return nil
}

func toPublicTest(test *models.Test) *PublicTest {
	public := &PublicTest{
		ID:           test.ID,
		Title:        test.Title,
		Description:  test.Description,
		Cls:          test.Cls,
		Board:        test.Board,
		SubjectSlug:  test.SubjectSlug,
		ChapterSlug:  test.ChapterSlug,
		TimeLimitSec: test.TimeLimitSec,
		TotalMarks:   test.TotalMarks,
		Questions:    make([]PublicQuestion, 0, len(test.Questions)),
	}
	for _, q := range test.Questions {
		public.Questions = append(public.Questions, PublicQuestion{
			ID:            q.ID,
			Qno:           q.Qno,
			QuestionText:  q.QuestionText,
			OptionA:       q.OptionA,
			OptionB:       q.OptionB,
			OptionC:       q.OptionC,
			OptionD:       q.OptionD,
			Marks:         q.Marks,
			NegativeMarks: q.NegativeMarks,
		})
	}
	return public
}

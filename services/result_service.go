package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"knoweasy/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ResultService serves read-only views of finalized attempts.
type ResultService struct {
	db      *gorm.DB
	parents ParentDirectory
}

func NewResultService(db *gorm.DB, parents ParentDirectory) *ResultService {
	return &ResultService{db: db, parents: parents}
}

type HistoryEntry struct {
	AttemptID    uint                 `json:"attempt_id"`
	TestID       uint                 `json:"test_id"`
	Status       models.AttemptStatus `json:"status"`
	StartedAt    time.Time            `json:"started_at"`
	SubmittedAt  *time.Time           `json:"submitted_at"`
	Score        *int                 `json:"score"`
	MaxScore     *int                 `json:"max_score"`
	CorrectCount *int                 `json:"correct_count"`
	WrongCount   *int                 `json:"wrong_count"`
	SkippedCount *int                 `json:"skipped_count"`
	TimeTakenSec *int                 `json:"time_taken_sec"`
	Title        string               `json:"title"`
	Cls          *int                 `json:"cls"`
	Board        string               `json:"board"`
	SubjectSlug  string               `json:"subject_slug"`
	ChapterSlug  string               `json:"chapter_slug"`
}

type AttemptReview struct {
	AttemptID    uint                 `json:"attempt_id"`
	TestID       uint                 `json:"test_id"`
	Status       models.AttemptStatus `json:"status"`
	StartedAt    time.Time            `json:"started_at"`
	SubmittedAt  *time.Time           `json:"submitted_at"`
	TimeTakenSec *int                 `json:"time_taken_sec"`
	Score        *int                 `json:"score"`
	MaxScore     *int                 `json:"max_score"`
	CorrectCount *int                 `json:"correct_count"`
	WrongCount   *int                 `json:"wrong_count"`
	SkippedCount *int                 `json:"skipped_count"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	TimeLimitSec *int                 `json:"time_limit_sec"`
	Questions    []ReviewQuestion     `json:"questions"`
}

// ReviewQuestion pairs a question with the attempt's selection. The correct
// option and explanation stay empty while the attempt is in progress.
type ReviewQuestion struct {
	ID             uint    `json:"id"`
	Qno            int     `json:"qno"`
	QuestionText   string  `json:"question_text"`
	OptionA        string  `json:"option_a"`
	OptionB        string  `json:"option_b"`
	OptionC        string  `json:"option_c"`
	OptionD        string  `json:"option_d"`
	Marks          int     `json:"marks"`
	NegativeMarks  int     `json:"negative_marks"`
	CorrectOption  *string `json:"correct_option,omitempty"`
	Explanation    *string `json:"explanation,omitempty"`
	SelectedOption *string `json:"selected_option"`
	IsCorrect      bool    `json:"is_correct"`
	MarksAwarded   int     `json:"marks_awarded"`
}

type ParentSummary struct {
	StudentID     uint     `json:"student_id"`
	Attempted     int      `json:"attempted"`
	AvgPercent    float64  `json:"avg_percent"`
	LatestPercent *float64 `json:"latest_percent"`
}

// ListHistory returns the user's finalized attempts, newest first.
func (s *ResultService) ListHistory(ctx context.Context, userID uint, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > catalogLimit {
		limit = catalogLimit
	}

	entries := []HistoryEntry{}
	err := s.db.WithContext(ctx).
		Table("test_attempts").
		Select(`test_attempts.id AS attempt_id, test_attempts.test_id, test_attempts.status,
			test_attempts.started_at, test_attempts.submitted_at, test_attempts.score,
			test_attempts.max_score, test_attempts.correct_count, test_attempts.wrong_count,
			test_attempts.skipped_count, test_attempts.time_taken_sec,
			tests.title, tests.cls, tests.board, tests.subject_slug, tests.chapter_slug`).
		Joins("JOIN tests ON tests.id = test_attempts.test_id").
		Where("test_attempts.user_id = ? AND test_attempts.status IN ?", userID,
			[]string{string(models.AttemptSubmitted), string(models.AttemptExpired)}).
		Order("test_attempts.id DESC").
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}

// GetAttemptReview returns an attempt of userID with every question of its
// test. Attempts of other users are reported as not found.
func (s *ResultService) GetAttemptReview(ctx context.Context, userID, attemptID uint) (*AttemptReview, error) {
	db := s.db.WithContext(ctx)

	var attempt models.Attempt
	err := db.Where("id = ? AND user_id = ?", attemptID, userID).First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("attempt %d not found", attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	var test models.Test
	if err := db.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("test_questions.qno")
	}).First(&test, attempt.TestID).Error; err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}

	var answers []models.Answer
	if err := db.Where("attempt_id = ?", attempt.ID).Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	byQuestion := make(map[uint]models.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	reveal := attempt.Status.Terminal()
	review := &AttemptReview{
		AttemptID:    attempt.ID,
		TestID:       attempt.TestID,
		Status:       attempt.Status,
		StartedAt:    attempt.StartedAt,
		SubmittedAt:  attempt.SubmittedAt,
		TimeTakenSec: attempt.TimeTakenSec,
		Score:        attempt.Score,
		MaxScore:     attempt.MaxScore,
		CorrectCount: attempt.CorrectCount,
		WrongCount:   attempt.WrongCount,
		SkippedCount: attempt.SkippedCount,
		Title:        test.Title,
		Description:  test.Description,
		TimeLimitSec: test.TimeLimitSec,
		Questions:    make([]ReviewQuestion, 0, len(test.Questions)),
	}
	for _, q := range test.Questions {
		rq := ReviewQuestion{
			ID:            q.ID,
			Qno:           q.Qno,
			QuestionText:  q.QuestionText,
			OptionA:       q.OptionA,
			OptionB:       q.OptionB,
			OptionC:       q.OptionC,
			OptionD:       q.OptionD,
			Marks:         q.Marks,
			NegativeMarks: q.NegativeMarks,
		}
		if a, ok := byQuestion[q.ID]; ok {
			rq.SelectedOption = a.SelectedOption
			rq.IsCorrect = a.IsCorrect
			rq.MarksAwarded = a.MarksAwarded
		}
		if reveal {
			correct := q.CorrectOption
			rq.CorrectOption = &correct
			rq.Explanation = q.Explanation
		}
		review.Questions = append(review.Questions, rq)
	}
	return review, nil
}

// ParentSummary summarizes the latest finalized attempts of a student for a
// linked parent.
func (s *ResultService) ParentSummary(ctx context.Context, parentID, studentID uint) (*ParentSummary, error) {
	if err := s.requireLink(ctx, parentID, studentID); err != nil {
		return nil, err
	}

	var rows []struct {
		Score    *int
		MaxScore *int
	}
	err := s.db.WithContext(ctx).Model(&models.Attempt{}).
		Select("score, max_score").
		Where("user_id = ? AND status IN ?", studentID,
			[]string{string(models.AttemptSubmitted), string(models.AttemptExpired)}).
		Order("id DESC").
		Limit(catalogLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	summary := &ParentSummary{StudentID: studentID, Attempted: len(rows)}
	hundred := decimal.NewFromInt(100)
	var percents []decimal.Decimal
	for _, r := range rows {
		if intValue(r.MaxScore) <= 0 {
			continue
		}
		p := decimal.NewFromInt(int64(intValue(r.Score))).
			Div(decimal.NewFromInt(int64(intValue(r.MaxScore)))).
			Mul(hundred)
		percents = append(percents, p)
	}
	if len(percents) == 0 {
		return summary, nil
	}

	avg := decimal.Avg(percents[0], percents[1:]...)
	summary.AvgPercent = avg.Round(1).InexactFloat64()
	latest := percents[0].Round(1).InexactFloat64()
	summary.LatestPercent = &latest
	return summary, nil
}

// ParentHistory lists a linked student's finalized attempts.
func (s *ResultService) ParentHistory(ctx context.Context, parentID, studentID uint, limit int) ([]HistoryEntry, error) {
	if err := s.requireLink(ctx, parentID, studentID); err != nil {
		return nil, err
	}
	return s.ListHistory(ctx, studentID, limit)
}

func (s *ResultService) requireLink(ctx context.Context, parentID, studentID uint) error {
	if s.parents == nil {
		return forbidden("parent links are not configured")
	}
	linked, err := s.parents.IsLinked(ctx, parentID, studentID)
	if err != nil {
		return err
	}
	if !linked {
		return forbidden("student %d is not linked to this account", studentID)
	}
	return nil
}

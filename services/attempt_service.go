package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"knoweasy/metrics"
	"knoweasy/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate takes a row lock for the rest of the transaction. Dialects
// without row locks ignore it.
var lockForUpdate = clause.Locking{Strength: "UPDATE"}

// errAttemptSettled reports that another writer moved the attempt out of
// STARTED first.
var errAttemptSettled = errors.New("attempt already settled")

// Event types published for an attempt.
const (
	EventAnswerRecorded   = "answer_recorded"
	EventAttemptFinalized = "attempt_finalized"
)

// EventPublisher receives attempt events after their transaction commits.
type EventPublisher interface {
	Publish(attemptID uint, eventType string, payload interface{})
}

// AttemptPolicy selects the lifecycle and scoring behaviour.
type AttemptPolicy struct {
	// AllowConcurrent lets a user hold several STARTED attempts for one test.
	AllowConcurrent bool
	FloorAtZero     bool
	// IncludeLateQuestions scores questions added after an attempt started.
	IncludeLateQuestions bool
}

type AttemptService struct {
	db      *gorm.DB
	policy  AttemptPolicy
	now     func() time.Time
	metrics *metrics.Metrics
	log     *logrus.Entry
	events  EventPublisher
}

type AttemptOption func(*AttemptService)

func WithClock(now func() time.Time) AttemptOption {
	return func(s *AttemptService) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) AttemptOption {
	return func(s *AttemptService) { s.metrics = m }
}

func WithLogger(log *logrus.Entry) AttemptOption {
	return func(s *AttemptService) { s.log = log }
}

func WithPublisher(p EventPublisher) AttemptOption {
	return func(s *AttemptService) { s.events = p }
}

func NewAttemptService(db *gorm.DB, policy AttemptPolicy, opts ...AttemptOption) *AttemptService {
	s := &AttemptService{
		db:     db,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "attempts")
	return s
}

// AttemptResult is the scoring outcome handed to callers and collaborators.
type AttemptResult struct {
	AttemptID        uint                 `json:"attempt_id"`
	TestID           uint                 `json:"test_id"`
	Status           models.AttemptStatus `json:"status"`
	Score            int                  `json:"score"`
	MaxScore         int                  `json:"max_score"`
	CorrectCount     int                  `json:"correct_count"`
	WrongCount       int                  `json:"wrong_count"`
	SkippedCount     int                  `json:"skipped_count"`
	TimeTakenSec     int                  `json:"time_taken_sec"`
	SubmittedAt      *time.Time           `json:"submitted_at"`
	AlreadySubmitted bool                 `json:"already_submitted"`
}

func resultFromAttempt(a *models.Attempt) *AttemptResult {
	return &AttemptResult{
		AttemptID:    a.ID,
		TestID:       a.TestID,
		Status:       a.Status,
		Score:        intValue(a.Score),
		MaxScore:     intValue(a.MaxScore),
		CorrectCount: intValue(a.CorrectCount),
		WrongCount:   intValue(a.WrongCount),
		SkippedCount: intValue(a.SkippedCount),
		TimeTakenSec: intValue(a.TimeTakenSec),
		SubmittedAt:  a.SubmittedAt,
	}
}

// AnswerInput is one selection of a batch submission.
type AnswerInput struct {
	QuestionID     uint    `json:"question_id" binding:"required"`
	SelectedOption *string `json:"selected_option"`
}

type pendingEvent struct {
	attemptID uint
	eventType string
	payload   interface{}
}

// StartAttempt opens a new attempt on a published test. Unless concurrent
// attempts are allowed, an attempt still in progress for the same user and
// test is a conflict; one that already ran out of time is expired first.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, testID uint) (*models.Attempt, error) {
	var (
		attempt models.Attempt
		events  []pendingEvent
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("is_published = ?", true)
		if !s.policy.AllowConcurrent {
			query = query.Clauses(lockForUpdate)
		}
		var test models.Test
		err := query.First(&test, testID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("test %d not found", testID)
		}
		if err != nil {
			return fmt.Errorf("failed to load test: %w", err)
		}

		now := s.now()
		if !s.policy.AllowConcurrent {
			var active []models.Attempt
			if err := tx.Clauses(lockForUpdate).
				Where("user_id = ? AND test_id = ? AND status = ?", userID, testID, models.AttemptStarted).
				Find(&active).Error; err != nil {
				return fmt.Errorf("failed to load active attempts: %w", err)
			}
			for i := range active {
				deadline, limited := test.Deadline(active[i].StartedAt)
				if !limited || !now.After(deadline) {
					return conflict("attempt %d is already in progress", active[i].ID)
				}
				result, err := s.finalize(tx, &active[i], &test, models.AttemptExpired, nil, *test.TimeLimitSec)
				if err != nil {
					return err
				}
				events = append(events, pendingEvent{active[i].ID, EventAttemptFinalized, result})
			}
		}

		attempt = models.Attempt{
			UserID:    userID,
			TestID:    testID,
			Status:    models.AttemptStarted,
			StartedAt: now,
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return fmt.Errorf("failed to create attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AttemptStarted()
	for range events {
		s.metrics.AttemptFinalized(string(models.AttemptExpired))
	}
	s.log.WithFields(logrus.Fields{"attempt_id": attempt.ID, "user_id": userID, "test_id": testID}).Info("Attempt started")
	s.publish(events)
	return &attempt, nil
}

// RecordAnswer upserts the selection for one question. A nil selection
// clears it. Recording onto an attempt that ran out of time expires it and
// fails.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID, questionID uint, selected *string) (*models.Answer, error) {
	var (
		answer  *models.Answer
		events  []pendingEvent
		overdue bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := lockAttempt(tx, attemptID)
		if err != nil {
			return err
		}
		if attempt.Status.Terminal() {
			return invalidState("attempt %d is %s", attemptID, attempt.Status)
		}

		test, err := loadTest(tx, attempt.TestID)
		if err != nil {
			return err
		}
		if deadline, ok := test.Deadline(attempt.StartedAt); ok && s.now().After(deadline) {
			result, err := s.finalize(tx, attempt, test, models.AttemptExpired, nil, *test.TimeLimitSec)
			if err != nil {
				return err
			}
			events = append(events, pendingEvent{attempt.ID, EventAttemptFinalized, result})
			overdue = true
			return nil
		}

		answer, err = upsertSelection(tx, attempt, AnswerInput{QuestionID: questionID, SelectedOption: selected})
		if err != nil {
			return err
		}
		events = append(events, pendingEvent{attempt.ID, EventAnswerRecorded, answer})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	if overdue {
		s.metrics.AttemptFinalized(string(models.AttemptExpired))
		return nil, invalidState("attempt %d ran out of time", attemptID)
	}
	return answer, nil
}

// SubmitAttempt finalizes an attempt. Submitting after the time limit
// expires the attempt instead. A repeat submission returns the stored
// result without scoring again.
func (s *AttemptService) SubmitAttempt(ctx context.Context, attemptID uint, submittedAt time.Time) (*AttemptResult, error) {
	return s.submit(ctx, attemptID, submittedAt, nil)
}

// SubmitWithAnswers records a batch of selections and submits in one
// transaction. Selections arriving after the time limit are discarded.
func (s *AttemptService) SubmitWithAnswers(ctx context.Context, attemptID uint, submittedAt time.Time, answers []AnswerInput) (*AttemptResult, error) {
	return s.submit(ctx, attemptID, submittedAt, answers)
}

func (s *AttemptService) submit(ctx context.Context, attemptID uint, submittedAt time.Time, answers []AnswerInput) (*AttemptResult, error) {
	submittedAt = submittedAt.UTC()

	var result *AttemptResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := lockAttempt(tx, attemptID)
		if err != nil {
			return err
		}
		switch attempt.Status {
		case models.AttemptSubmitted:
			result = resultFromAttempt(attempt)
			result.AlreadySubmitted = true
			return nil
		case models.AttemptExpired:
			return invalidState("attempt %d has expired", attemptID)
		}

		test, err := loadTest(tx, attempt.TestID)
		if err != nil {
			return err
		}

		status := models.AttemptSubmitted
		timeTaken := elapsedSeconds(attempt.StartedAt, submittedAt)
		if deadline, ok := test.Deadline(attempt.StartedAt); ok && submittedAt.After(deadline) {
			status = models.AttemptExpired
			timeTaken = *test.TimeLimitSec
		}

		if status == models.AttemptSubmitted {
			for _, in := range answers {
				if _, err := upsertSelection(tx, attempt, in); err != nil {
					return err
				}
			}
		}

		result, err = s.finalize(tx, attempt, test, status, &submittedAt, timeTaken)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadySubmitted {
		s.metrics.AttemptFinalized(string(result.Status))
		s.log.WithFields(logrus.Fields{
			"attempt_id": result.AttemptID,
			"status":     result.Status,
			"score":      result.Score,
			"max_score":  result.MaxScore,
		}).Info("Attempt finalized")
		s.publish([]pendingEvent{{result.AttemptID, EventAttemptFinalized, result}})
	}
	return result, nil
}

// ExpireStaleAttempts expires every STARTED attempt whose time limit ran out
// before now and returns how many it expired. Attempts settled concurrently
// by another writer are skipped. Failures on individual attempts do not stop
// the sweep and are returned joined.
func (s *AttemptService) ExpireStaleAttempts(ctx context.Context, now time.Time) (int, error) {
	type candidate struct {
		ID           uint
		StartedAt    time.Time
		TimeLimitSec int
	}

	var candidates []candidate
	err := s.db.WithContext(ctx).
		Table("test_attempts").
		Select("test_attempts.id, test_attempts.started_at, tests.time_limit_sec").
		Joins("JOIN tests ON tests.id = test_attempts.test_id").
		Where("test_attempts.status = ? AND tests.time_limit_sec IS NOT NULL", models.AttemptStarted).
		Order("test_attempts.id").
		Scan(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list started attempts: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, c := range candidates {
		if !now.After(c.StartedAt.Add(time.Duration(c.TimeLimitSec) * time.Second)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.expireOne(ctx, c.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("attempt %d: %w", c.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}

	s.metrics.AttemptsExpiredBySweep(expired)
	if expired > 0 {
		s.log.WithField("expired", expired).Info("Expired stale attempts")
	}
	return expired, errors.Join(errs...)
}

func (s *AttemptService) expireOne(ctx context.Context, attemptID uint, now time.Time) (bool, error) {
	var result *AttemptResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := lockAttempt(tx, attemptID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if attempt.Status != models.AttemptStarted {
			return nil
		}

		test, err := loadTest(tx, attempt.TestID)
		if err != nil {
			return err
		}
		deadline, ok := test.Deadline(attempt.StartedAt)
		if !ok || !now.After(deadline) {
			return nil
		}

		result, err = s.finalize(tx, attempt, test, models.AttemptExpired, nil, *test.TimeLimitSec)
		if errors.Is(err, errAttemptSettled) {
			result = nil
			return nil
		}
		return err
	})
	if err != nil || result == nil {
		return false, err
	}

	s.metrics.AttemptFinalized(string(models.AttemptExpired))
	s.publish([]pendingEvent{{result.AttemptID, EventAttemptFinalized, result}})
	return true, nil
}

// RecomputeAttempt scores a finalized attempt again against the current
// questions of its test. It is the only path that changes a stored score.
func (s *AttemptService) RecomputeAttempt(ctx context.Context, attemptID uint) (*AttemptResult, error) {
	var result *AttemptResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := lockAttempt(tx, attemptID)
		if err != nil {
			return err
		}
		if !attempt.Status.Terminal() {
			return invalidState("attempt %d is still in progress", attemptID)
		}

		test, err := loadTest(tx, attempt.TestID)
		if err != nil {
			return err
		}
		score, err := s.score(tx, attempt, test)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Attempt{}).Where("id = ?", attempt.ID).
			Updates(aggregateColumns(score)).Error; err != nil {
			return fmt.Errorf("failed to store recomputed score: %w", err)
		}
		if err := persistOutcomes(tx, attempt.ID, score); err != nil {
			return err
		}

		applyScore(attempt, score)
		result = resultFromAttempt(attempt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"attempt_id": attemptID, "score": result.Score}).Info("Attempt recomputed")
	return result, nil
}

func (s *AttemptService) GetAttempt(ctx context.Context, attemptID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	err := s.db.WithContext(ctx).First(&attempt, attemptID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("attempt %d not found", attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	return &attempt, nil
}

// finalize moves a STARTED attempt to status and stores its score. It must
// run inside the transaction holding the attempt lock.
func (s *AttemptService) finalize(tx *gorm.DB, attempt *models.Attempt, test *models.Test, status models.AttemptStatus, submittedAt *time.Time, timeTaken int) (*AttemptResult, error) {
	score, err := s.score(tx, attempt, test)
	if err != nil {
		return nil, err
	}

	columns := aggregateColumns(score)
	columns["status"] = string(status)
	columns["submitted_at"] = submittedAt
	columns["time_taken_sec"] = timeTaken

	res := tx.Model(&models.Attempt{}).
		Where("id = ? AND status = ?", attempt.ID, models.AttemptStarted).
		Updates(columns)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to finalize attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errAttemptSettled
	}
	if err := persistOutcomes(tx, attempt.ID, score); err != nil {
		return nil, err
	}

	attempt.Status = status
	attempt.SubmittedAt = submittedAt
	attempt.TimeTakenSec = &timeTaken
	applyScore(attempt, score)
	return resultFromAttempt(attempt), nil
}

func (s *AttemptService) score(tx *gorm.DB, attempt *models.Attempt, test *models.Test) (ScoreResult, error) {
	var questions []models.Question
	if err := tx.Where("test_id = ?", test.ID).Order("qno").Find(&questions).Error; err != nil {
		return ScoreResult{}, fmt.Errorf("failed to load questions: %w", err)
	}
	var answers []models.Answer
	if err := tx.Where("attempt_id = ?", attempt.ID).Find(&answers).Error; err != nil {
		return ScoreResult{}, fmt.Errorf("failed to load answers: %w", err)
	}

	return Score(*test, questions, answers, ScoreOptions{
		FloorAtZero:          s.policy.FloorAtZero,
		ExcludeLateQuestions: !s.policy.IncludeLateQuestions,
		StartedAt:            attempt.StartedAt,
	}), nil
}

func (s *AttemptService) publish(events []pendingEvent) {
	if s.events == nil {
		return
	}
	for _, e := range events {
		s.events.Publish(e.attemptID, e.eventType, e.payload)
	}
}

func lockAttempt(tx *gorm.DB, attemptID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	err := tx.Clauses(lockForUpdate).First(&attempt, attemptID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("attempt %d not found", attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock attempt: %w", err)
	}
	return &attempt, nil
}

func loadTest(tx *gorm.DB, testID uint) (*models.Test, error) {
	var test models.Test
	err := tx.First(&test, testID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("test %d not found", testID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	return &test, nil
}

// upsertSelection stores one selection of a STARTED attempt. Correctness is
// left for scoring.
func upsertSelection(tx *gorm.DB, attempt *models.Attempt, in AnswerInput) (*models.Answer, error) {
	selected, err := normalizeSelection(in.SelectedOption)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := tx.Model(&models.Question{}).
		Where("id = ? AND test_id = ?", in.QuestionID, attempt.TestID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check question: %w", err)
	}
	if count == 0 {
		return nil, notFound("question %d is not part of this test", in.QuestionID)
	}

	answer := models.Answer{
		AttemptID:      attempt.ID,
		QuestionID:     in.QuestionID,
		SelectedOption: selected,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"selected_option"}),
	}).Create(&answer).Error
	if err != nil {
		return nil, fmt.Errorf("failed to record answer: %w", err)
	}
	return &answer, nil
}

// persistOutcomes writes per-question verdicts onto answer rows, creating
// rows for questions that were never answered.
func persistOutcomes(tx *gorm.DB, attemptID uint, score ScoreResult) error {
	if len(score.Questions) == 0 {
		return nil
	}

	rows := make([]models.Answer, 0, len(score.Questions))
	for _, q := range score.Questions {
		rows = append(rows, models.Answer{
			AttemptID:      attemptID,
			QuestionID:     q.QuestionID,
			SelectedOption: q.SelectedOption,
			IsCorrect:      q.IsCorrect,
			MarksAwarded:   q.MarksAwarded,
		})
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_correct", "marks_awarded"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to store answer outcomes: %w", err)
	}
	return nil
}

func aggregateColumns(score ScoreResult) map[string]interface{} {
	return map[string]interface{}{
		"score":         score.Score,
		"max_score":     score.MaxScore,
		"correct_count": score.CorrectCount,
		"wrong_count":   score.WrongCount,
		"skipped_count": score.SkippedCount,
	}
}

func applyScore(attempt *models.Attempt, score ScoreResult) {
	attempt.Score = &score.Score
	attempt.MaxScore = &score.MaxScore
	attempt.CorrectCount = &score.CorrectCount
	attempt.WrongCount = &score.WrongCount
	attempt.SkippedCount = &score.SkippedCount
}

// elapsedSeconds returns whole seconds between start and end, never
// negative.
func elapsedSeconds(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

package services

import (
	"time"

	"knoweasy/models"
)

// ScoreOptions selects the scoring policy.
type ScoreOptions struct {
	// FloorAtZero clamps a negative total to zero. Per-question marks are
	// still reported unclamped.
	FloorAtZero bool

	// ExcludeLateQuestions drops questions created after StartedAt. By
	// default every question of the test is scored, so questions added by
	// an administrative correction count against in-flight attempts.
	ExcludeLateQuestions bool
	StartedAt            time.Time
}

type Outcome string

const (
	OutcomeCorrect Outcome = "correct"
	OutcomeWrong   Outcome = "wrong"
	OutcomeSkipped Outcome = "skipped"
)

// QuestionScore is the scoring verdict for one question of an attempt.
type QuestionScore struct {
	QuestionID     uint    `json:"question_id"`
	SelectedOption *string `json:"selected_option"`
	Outcome        Outcome `json:"outcome"`
	IsCorrect      bool    `json:"is_correct"`
	MarksAwarded   int     `json:"marks_awarded"`
}

type ScoreResult struct {
	Score        int             `json:"score"`
	MaxScore     int             `json:"max_score"`
	CorrectCount int             `json:"correct_count"`
	WrongCount   int             `json:"wrong_count"`
	SkippedCount int             `json:"skipped_count"`
	Questions    []QuestionScore `json:"questions"`
}

// Score grades answers against the questions of test. Questions belonging to
// another test and answers to unknown questions are ignored. It never touches
// storage.
func Score(test models.Test, questions []models.Question, answers []models.Answer, opts ScoreOptions) ScoreResult {
	selected := make(map[uint]*string, len(answers))
	for _, a := range answers {
		selected[a.QuestionID] = a.SelectedOption
	}

	result := ScoreResult{Questions: make([]QuestionScore, 0, len(questions))}
	for _, q := range questions {
		if q.TestID != test.ID {
			continue
		}
		if opts.ExcludeLateQuestions && q.CreatedAt.After(opts.StartedAt) {
			continue
		}

		qs := QuestionScore{QuestionID: q.ID, SelectedOption: selected[q.ID]}
		result.MaxScore += q.Marks

		switch {
		case qs.SelectedOption == nil:
			qs.Outcome = OutcomeSkipped
			result.SkippedCount++
		case *qs.SelectedOption == q.CorrectOption:
			qs.Outcome = OutcomeCorrect
			qs.IsCorrect = true
			qs.MarksAwarded = q.Marks
			result.CorrectCount++
		default:
			qs.Outcome = OutcomeWrong
			qs.MarksAwarded = -q.NegativeMarks
			result.WrongCount++
		}

		result.Score += qs.MarksAwarded
		result.Questions = append(result.Questions, qs)
	}

	if opts.FloorAtZero && result.Score < 0 {
		result.Score = 0
	}
	return result
}

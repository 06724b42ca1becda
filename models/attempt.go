package models

import (
	"time"
)

type AttemptStatus string

const (
	AttemptStarted   AttemptStatus = "STARTED"
	AttemptSubmitted AttemptStatus = "SUBMITTED"
	AttemptExpired   AttemptStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired
}

type Attempt struct {
	ID           uint          `json:"id" gorm:"primaryKey"`
	UserID       uint          `json:"user_id" gorm:"not null;index"`
	TestID       uint          `json:"test_id" gorm:"not null;index"`
	Status       AttemptStatus `json:"status" gorm:"size:16;not null;index"`
	StartedAt    time.Time     `json:"started_at" gorm:"not null"`
	SubmittedAt  *time.Time    `json:"submitted_at"`
	TimeTakenSec *int          `json:"time_taken_sec"`

	// Aggregates are set only once the attempt is terminal.
	Score        *int `json:"score"`
	MaxScore     *int `json:"max_score"`
	CorrectCount *int `json:"correct_count"`
	WrongCount   *int `json:"wrong_count"`
	SkippedCount *int `json:"skipped_count"`

	// Relationships
	Answers []Answer `json:"answers,omitempty" gorm:"foreignKey:AttemptID;constraint:OnDelete:CASCADE"`
}

func (Attempt) TableName() string {
	return "test_attempts"
}

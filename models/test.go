package models

import (
	"time"
)

type Test struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Title        string    `json:"title" gorm:"size:200;not null"`
	Description  string    `json:"description" gorm:"type:text"`
	Cls          *int      `json:"cls" gorm:"index"`
	Board        string    `json:"board" gorm:"size:100"`
	SubjectSlug  string    `json:"subject_slug" gorm:"size:120;index"`
	ChapterSlug  string    `json:"chapter_slug" gorm:"size:160"`
	TimeLimitSec *int      `json:"time_limit_sec"`
	TotalMarks   int       `json:"total_marks" gorm:"not null"`
	IsPublished  bool      `json:"is_published" gorm:"not null;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relationships
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:TestID;constraint:OnDelete:CASCADE"`
	Attempts  []Attempt  `json:"-" gorm:"foreignKey:TestID;constraint:OnDelete:CASCADE"`
}

func (Test) TableName() string {
	return "tests"
}

// Deadline reports when an attempt started at startedAt runs out of time.
// Tests without a limit never expire.
func (t Test) Deadline(startedAt time.Time) (time.Time, bool) {
	if t.TimeLimitSec == nil {
		return time.Time{}, false
	}
	return startedAt.Add(time.Duration(*t.TimeLimitSec) * time.Second), true
}

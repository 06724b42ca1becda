package models

import (
	"strings"
	"time"
)

// OptionLetters are the only valid values of Question.CorrectOption and
// Answer.SelectedOption.
var OptionLetters = []string{"A", "B", "C", "D"}

type Question struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	TestID        uint      `json:"test_id" gorm:"not null;index;uniqueIndex:idx_test_questions_test_qno"`
	Qno           int       `json:"qno" gorm:"not null;uniqueIndex:idx_test_questions_test_qno"`
	QuestionText  string    `json:"question_text" gorm:"type:text;not null"`
	OptionA       string    `json:"option_a" gorm:"type:text;not null"`
	OptionB       string    `json:"option_b" gorm:"type:text;not null"`
	OptionC       string    `json:"option_c" gorm:"type:text;not null"`
	OptionD       string    `json:"option_d" gorm:"type:text;not null"`
	CorrectOption string    `json:"correct_option" gorm:"size:1;not null"`
	Marks         int       `json:"marks" gorm:"not null"`
	NegativeMarks int       `json:"negative_marks" gorm:"not null"`
	Explanation   *string   `json:"explanation" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`

	// Relationships
	Answers []Answer `json:"-" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

func (Question) TableName() string {
	return "test_questions"
}

// NormalizeOption upper-cases and trims a raw option letter and reports
// whether the result is one of OptionLetters.
func NormalizeOption(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, letter := range OptionLetters {
		if s == letter {
			return s, true
		}
	}
	return s, false
}

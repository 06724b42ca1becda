package models

type Answer struct {
	ID             uint    `json:"id" gorm:"primaryKey"`
	AttemptID      uint    `json:"attempt_id" gorm:"not null;index;uniqueIndex:idx_attempt_answers_attempt_question"`
	QuestionID     uint    `json:"question_id" gorm:"not null;index;uniqueIndex:idx_attempt_answers_attempt_question"`
	SelectedOption *string `json:"selected_option" gorm:"size:1"`
	IsCorrect      bool    `json:"is_correct" gorm:"not null"`
	MarksAwarded   int     `json:"marks_awarded" gorm:"not null"`
}

func (Answer) TableName() string {
	return "test_attempt_answers"
}

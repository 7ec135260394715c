package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptResult is one persisted submission. Rows are append-only; the
// counts always partition the exam's question set.
type AttemptResult struct {
	ID               uuid.UUID `json:"id"`
	ExamID           string    `json:"exam_id"`
	StudentID        string    `json:"student_id"`
	Score            float64   `json:"score"`
	CorrectCount     int       `json:"correct_answers"`
	WrongCount       int       `json:"wrong_answers"`
	UnattemptedCount int       `json:"unattempted"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// AttemptSummary is an attempt as listed on the student's results page.
type AttemptSummary struct {
	AttemptResult
	ExamName string `json:"exam_name"`
}

// ResultsQuery is the query string of the results page.
type ResultsQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1"`
	PerPage int `form:"per_page" binding:"omitempty,min=1,max=100"`
}

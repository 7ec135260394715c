package model

import (
	"time"
)

// Exam represents an exam entity. It is created by an administrator and is
// immutable while a student's session is running.
type Exam struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	BatchID               string    `json:"batch_id"`
	DurationMinutes       int       `json:"duration_minutes"`
	NegativeMarksPerWrong float64   `json:"negative_marks_per_wrong"`
	QuestionSourceRef     string    `json:"file_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Layout selects the page size of a session.
type Layout string

const (
	LayoutDesktop Layout = "desktop"
	LayoutMobile  Layout = "mobile"
)

// StartSessionRequest is the payload for starting an exam session.
type StartSessionRequest struct {
	Layout Layout `json:"layout" binding:"omitempty,oneof=desktop mobile"`
}

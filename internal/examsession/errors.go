package examsession

import "errors"

// Domain Errors
var (
	ErrNoQuestions          = errors.New("exam has no questions")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrSessionClosed        = errors.New("exam session is already submitted")
	ErrInvalidOption        = errors.New("option index out of range")
	ErrInvalidNegativeMarks = errors.New("negative marks per wrong answer must not be negative")
	ErrInvalidPageSize      = errors.New("page size must be positive")
	ErrInvalidDuration      = errors.New("exam duration must be positive")
)

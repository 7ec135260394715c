package repository

import "errors"

var (
	ErrPersistenceUnavailable = errors.New("result store unavailable")
	ErrAttemptExists          = errors.New("an attempt for this exam is already recorded")
	ErrExamNotFound           = errors.New("exam not found")
	ErrStudentNotFound        = errors.New("student not found")
)

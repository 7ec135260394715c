package questionbank

import "errors"

var (
	ErrSourceUnavailable = errors.New("question source unavailable")
	ErrMalformedQuestion = errors.New("malformed question")
	ErrNoQuestions       = errors.New("question source returned no usable questions")
)

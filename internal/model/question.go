package model

// Question is the canonical multiple-choice question produced by the question
// bank adapter. Past the adapter every question satisfies
// 0 <= CorrectIndex < len(Options).
type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Images       []string `json:"images,omitempty"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
	Type         string   `json:"type,omitempty"`
	Section      string   `json:"section,omitempty"`
}

// AnswerStatus is the per-question state shown in the review grid.
type AnswerStatus string

const (
	AnswerStatusMarked      AnswerStatus = "marked"
	AnswerStatusAttempted   AnswerStatus = "attempted"
	AnswerStatusUnattempted AnswerStatus = "unattempted"
)

// QuestionForStudent is a question without the correct answer, sent to students
// while the session is running.
type QuestionForStudent struct {
	ID       string       `json:"id"`
	Number   int          `json:"number"`
	Text     string       `json:"text"`
	Images   []string     `json:"images,omitempty"`
	Options  []string     `json:"options"`
	Status   AnswerStatus `json:"status"`
	Selected *int         `json:"selected,omitempty"`
}

// SelectAnswerRequest is the payload for choosing an option.
type SelectAnswerRequest struct {
	OptionIndex *int `json:"option_index" binding:"required,min=0,max=25"`
}

package examsession

import (
	"fmt"

	"github.com/mnrworld/exam-backend/internal/model"
)

// Verdict classifies one question after submission.
type Verdict string

const (
	VerdictCorrect     Verdict = "correct"
	VerdictWrong       Verdict = "wrong"
	VerdictUnattempted Verdict = "unattempted"
)

// QuestionOutcome is the post-submission view of one question.
type QuestionOutcome struct {
	QuestionID   string  `json:"question_id"`
	Selected     *int    `json:"selected,omitempty"`
	CorrectIndex int     `json:"correct_index"`
	Verdict      Verdict `json:"verdict"`
	Explanation  string  `json:"explanation,omitempty"`
}

// ScoreResult holds the counts and the normalized percentage of an attempt.
// Percentage is floored at 0; RawPercentage keeps the unclamped value.
type ScoreResult struct {
	Total         int               `json:"total"`
	Correct       int               `json:"correct"`
	Wrong         int               `json:"wrong"`
	Unattempted   int               `json:"unattempted"`
	NegativeMarks float64           `json:"negative_marks"`
	RawMarks      float64           `json:"raw_marks"`
	RawPercentage float64           `json:"raw_percentage"`
	Percentage    float64           `json:"percentage"`
	Outcomes      []QuestionOutcome `json:"outcomes"`
}

// Score grades answers against the canonical question set. The result does
// not depend on presentation order.
func Score(questions []model.Question, answers map[string]int, negativePerWrong float64) (ScoreResult, error) {
	if len(questions) == 0 {
		return ScoreResult{}, ErrNoQuestions
	}
	if negativePerWrong < 0 {
		return ScoreResult{}, fmt.Errorf("%w: %v", ErrInvalidNegativeMarks, negativePerWrong)
	}

	res := ScoreResult{
		Total:    len(questions),
		Outcomes: make([]QuestionOutcome, 0, len(questions)),
	}

	for _, q := range questions {
		out := QuestionOutcome{
			QuestionID:   q.ID,
			CorrectIndex: q.CorrectIndex,
			Explanation:  q.Explanation,
		}
		selected, ok := answers[q.ID]
		switch {
		case !ok:
			out.Verdict = VerdictUnattempted
			res.Unattempted++
		case selected == q.CorrectIndex:
			out.Verdict = VerdictCorrect
			res.Correct++
		default:
			out.Verdict = VerdictWrong
			res.Wrong++
		}
		if ok {
			sel := selected
			out.Selected = &sel
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	res.NegativeMarks = float64(res.Wrong) * negativePerWrong
	res.RawMarks = float64(res.Correct) - res.NegativeMarks
	res.RawPercentage = res.RawMarks / float64(res.Total) * 100
	res.Percentage = res.RawPercentage
	if res.Percentage < 0 {
		res.Percentage = 0
	}

	return res, nil
}

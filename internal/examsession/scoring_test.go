package examsession

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mnrworld/exam-backend/internal/model"
)

func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:           fmt.Sprintf("q%d", i+1),
			Text:         fmt.Sprintf("Question %d", i+1),
			Options:      []string{"A", "B", "C", "D"},
			CorrectIndex: i % 4,
		}
	}
	return qs
}

func wrongIndex(q model.Question) int {
	return (q.CorrectIndex + 1) % len(q.Options)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name            string
		total           int
		correct         int
		wrong           int
		negative        float64
		wantRaw         float64
		wantRawPercent  float64
		wantPercent     float64
		wantUnattempted int
	}{
		{name: "half marks with negative marking", total: 10, correct: 6, wrong: 2, negative: 0.5, wantRaw: 5, wantRawPercent: 50, wantPercent: 50, wantUnattempted: 2},
		{name: "floor at zero", total: 4, correct: 0, wrong: 4, negative: 1, wantRaw: -4, wantRawPercent: -100, wantPercent: 0, wantUnattempted: 0},
		{name: "all correct", total: 5, correct: 5, wrong: 0, negative: 1, wantRaw: 5, wantRawPercent: 100, wantPercent: 100, wantUnattempted: 0},
		{name: "nothing answered", total: 3, correct: 0, wrong: 0, negative: 0.25, wantRaw: 0, wantRawPercent: 0, wantPercent: 0, wantUnattempted: 3},
		{name: "no negative marking", total: 4, correct: 1, wrong: 3, negative: 0, wantRaw: 1, wantRawPercent: 25, wantPercent: 25, wantUnattempted: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			qs := makeQuestions(tc.total)
			answers := map[string]int{}
			for i := 0; i < tc.correct; i++ {
				answers[qs[i].ID] = qs[i].CorrectIndex
			}
			for i := tc.correct; i < tc.correct+tc.wrong; i++ {
				answers[qs[i].ID] = wrongIndex(qs[i])
			}

			res, err := Score(qs, answers, tc.negative)
			if err != nil {
				t.Fatalf("score failed: %v", err)
			}
			if res.Correct != tc.correct || res.Wrong != tc.wrong || res.Unattempted != tc.wantUnattempted {
				t.Fatalf("expected C/W/U %d/%d/%d, got %d/%d/%d",
					tc.correct, tc.wrong, tc.wantUnattempted, res.Correct, res.Wrong, res.Unattempted)
			}
			if res.RawMarks != tc.wantRaw {
				t.Fatalf("expected raw marks %v, got %v", tc.wantRaw, res.RawMarks)
			}
			if res.RawPercentage != tc.wantRawPercent {
				t.Fatalf("expected raw percentage %v, got %v", tc.wantRawPercent, res.RawPercentage)
			}
			if res.Percentage != tc.wantPercent {
				t.Fatalf("expected percentage %v, got %v", tc.wantPercent, res.Percentage)
			}
			if res.Correct+res.Wrong+res.Unattempted != res.Total {
				t.Fatalf("counts do not partition %d questions: %+v", res.Total, res)
			}
			if len(res.Outcomes) != tc.total {
				t.Fatalf("expected %d outcomes, got %d", tc.total, len(res.Outcomes))
			}
		})
	}
}

func TestScoreIgnoresPresentationOrder(t *testing.T) {
	qs := makeQuestions(8)
	answers := map[string]int{"q1": 0, "q2": 0, "q6": 1}

	base, err := Score(qs, answers, 0.5)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	reversed := make([]model.Question, len(qs))
	for i, q := range qs {
		reversed[len(qs)-1-i] = q
	}
	again, err := Score(reversed, answers, 0.5)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	if base.Percentage != again.Percentage || base.Correct != again.Correct || base.Wrong != again.Wrong {
		t.Fatalf("score changed with order: %+v vs %+v", base, again)
	}
}

func TestScoreRejectsInvalidInput(t *testing.T) {
	if _, err := Score(nil, nil, 0); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if _, err := Score(makeQuestions(2), nil, -1); !errors.Is(err, ErrInvalidNegativeMarks) {
		t.Fatalf("expected ErrInvalidNegativeMarks, got %v", err)
	}
}

func TestScoreOutcomeVerdicts(t *testing.T) {
	qs := makeQuestions(3)
	answers := map[string]int{
		"q1": qs[0].CorrectIndex,
		"q2": wrongIndex(qs[1]),
	}

	res, err := Score(qs, answers, 0)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	want := []Verdict{VerdictCorrect, VerdictWrong, VerdictUnattempted}
	for i, out := range res.Outcomes {
		if out.Verdict != want[i] {
			t.Fatalf("question %s: expected %s, got %s", out.QuestionID, want[i], out.Verdict)
		}
	}
	if res.Outcomes[2].Selected != nil {
		t.Fatalf("unattempted question should have no selection")
	}
	if res.Outcomes[1].Selected == nil || *res.Outcomes[1].Selected != wrongIndex(qs[1]) {
		t.Fatalf("wrong answer selection not reported: %+v", res.Outcomes[1])
	}
}

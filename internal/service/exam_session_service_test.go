package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/examsession"
	"github.com/mnrworld/exam-backend/internal/model"
	"github.com/mnrworld/exam-backend/internal/questionbank"
	"github.com/mnrworld/exam-backend/internal/repository"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type fakeExams struct {
	exams map[string]*model.Exam
}

func (f *fakeExams) GetByID(_ context.Context, id string) (*model.Exam, error) {
	if e, ok := f.exams[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrExamNotFound
}

type fakeEnrollment struct {
	mu       sync.Mutex
	enrolled map[string]bool
	err      error
	calls    int
}

func (f *fakeEnrollment) IsEnrolled(_ context.Context, studentID, batchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.enrolled[studentID+"/"+batchID], nil
}

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	result *questionbank.LoadResult
	err    error
}

func (f *fakeSource) LoadQuestions(_ context.Context, _ string) (*questionbank.LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryStore struct {
	mu       sync.Mutex
	attempts []model.AttemptResult
	err      error
}

func (s *memoryStore) RecordAttempt(_ context.Context, a *model.AttemptResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// ─── Helpers ───────────────────────────────────────────────────────

func buildQuestions(n int) []model.Question {
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

type testEnv struct {
	svc        *ExamSessionService
	enrollment *fakeEnrollment
	source     *fakeSource
	store      *memoryStore
	questions  []model.Question
	ticks      chan time.Time
}

func newTestEnv(t *testing.T, questionCount int) *testEnv {
	t.Helper()

	questions := buildQuestions(questionCount)
	env := &testEnv{
		enrollment: &fakeEnrollment{enrolled: map[string]bool{"s1/batch-a": true}},
		source:     &fakeSource{result: &questionbank.LoadResult{Questions: questions}},
		store:      &memoryStore{},
		questions:  questions,
		ticks:      make(chan time.Time),
	}
	exams := &fakeExams{exams: map[string]*model.Exam{
		"exam-1": {ID: "exam-1", Name: "Physics", BatchID: "batch-a", DurationMinutes: 1, NegativeMarksPerWrong: 0.25},
		"exam-2": {ID: "exam-2", Name: "Chemistry", BatchID: "batch-b", DurationMinutes: 30},
	}}

	env.svc = NewExamSessionService(
		exams,
		env.enrollment,
		env.source,
		NewAttemptRecorder(env.store, nil, zerolog.Nop()),
		SessionConfig{
			PageSize:                 50,
			MobilePageSize:           10,
			WarningThresholdPercent:  10,
			CriticalThresholdSeconds: 5,
			ResultRetention:          time.Minute,
			NewTicker: func(time.Duration) (<-chan time.Time, func()) {
				return env.ticks, func() {}
			},
		},
		zerolog.Nop(),
	)
	t.Cleanup(env.svc.Shutdown)
	return env
}

func (e *testEnv) answerAllCorrectly(t *testing.T, studentID, examID string) {
	t.Helper()
	for _, q := range e.questions {
		if _, err := e.svc.SelectAnswer(studentID, examID, q.ID, q.CorrectIndex); err != nil {
			t.Fatalf("select answer %s: %v", q.ID, err)
		}
	}
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestStartRequiresEnrollment(t *testing.T) {
	tests := []struct {
		name      string
		studentID string
		examID    string
		lookupErr error
	}{
		{name: "not enrolled in batch", studentID: "s1", examID: "exam-2"},
		{name: "unknown student", studentID: "s9", examID: "exam-1"},
		{name: "lookup failure", studentID: "s1", examID: "exam-1", lookupErr: repository.ErrPersistenceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 5)
			env.enrollment.err = tt.lookupErr

			_, err := env.svc.Start(context.Background(), tt.studentID, tt.examID, model.LayoutDesktop)
			if !errors.Is(err, ErrAuthorizationDenied) {
				t.Fatalf("expected ErrAuthorizationDenied, got %v", err)
			}
			if env.source.callCount() != 0 {
				t.Fatalf("questions must not be loaded for a denied student")
			}
			if env.svc.ActiveCount() != 0 {
				t.Fatalf("no session should be registered")
			}
		})
	}
}

func TestStartUnknownExam(t *testing.T) {
	env := newTestEnv(t, 5)
	_, err := env.svc.Start(context.Background(), "s1", "missing", model.LayoutDesktop)
	if !errors.Is(err, repository.ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
}

func TestStartPropagatesSourceErrors(t *testing.T) {
	env := newTestEnv(t, 5)
	env.source.result = nil
	env.source.err = fmt.Errorf("%w: status 500", questionbank.ErrSourceUnavailable)

	_, err := env.svc.Start(context.Background(), "s1", "exam-1", model.LayoutDesktop)
	if !errors.Is(err, questionbank.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if env.svc.ActiveCount() != 0 {
		t.Fatalf("failed start must not register a session")
	}
}

func TestStartReportsExcludedQuestions(t *testing.T) {
	env := newTestEnv(t, 5)
	env.source.result.Excluded = []questionbank.Exclusion{{QuestionID: "bad", Reason: "no options"}}

	state, err := env.svc.Start(context.Background(), "s1", "exam-1", model.LayoutDesktop)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.ExcludedQuestions != 1 {
		t.Fatalf("expected 1 excluded question, got %d", state.ExcludedQuestions)
	}
	if state.Progress.TotalQuestions != 5 {
		t.Fatalf("expected 5 questions, got %d", state.Progress.TotalQuestions)
	}
}

func TestStartReturnsLiveSession(t *testing.T) {
	env := newTestEnv(t, 8)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutDesktop); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.SelectAnswer("s1", "exam-1", "q3", 1); err != nil {
		t.Fatalf("select: %v", err)
	}

	again, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutDesktop)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.Progress.Attempted != 1 {
		t.Fatalf("second start should return the live session, attempted=%d", again.Progress.Attempted)
	}
	if env.source.callCount() != 1 {
		t.Fatalf("questions loaded %d times, want 1", env.source.callCount())
	}
	if env.enrollment.calls != 2 {
		t.Fatalf("enrollment must be checked on every start, got %d checks", env.enrollment.calls)
	}
	if env.svc.ActiveCount() != 1 {
		t.Fatalf("expected one active session, got %d", env.svc.ActiveCount())
	}
}

func TestLayoutSelectsPageSize(t *testing.T) {
	tests := []struct {
		layout    model.Layout
		wantSize  int
		wantPages int
	}{
		{layout: model.LayoutDesktop, wantSize: 50, wantPages: 3},
		{layout: model.LayoutMobile, wantSize: 10, wantPages: 12},
		{layout: "", wantSize: 50, wantPages: 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.layout), func(t *testing.T) {
			env := newTestEnv(t, 120)
			state, err := env.svc.Start(context.Background(), "s1", "exam-1", tt.layout)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if state.Progress.PageSize != tt.wantSize || state.Progress.TotalPages != tt.wantPages {
				t.Fatalf("page size %d / pages %d, want %d / %d",
					state.Progress.PageSize, state.Progress.TotalPages, tt.wantSize, tt.wantPages)
			}
			if len(state.Questions) != tt.wantSize {
				t.Fatalf("first page has %d questions, want %d", len(state.Questions), tt.wantSize)
			}
		})
	}
}

func TestSubmitRecordsAndKeepsOutcome(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutDesktop); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.answerAllCorrectly(t, "s1", "exam-1")

	outcome, err := env.svc.Submit(ctx, "s1", "exam-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Result.Correct != 10 || outcome.Attempt.Score != 100 {
		t.Fatalf("unexpected outcome: %+v", outcome.Result)
	}
	if outcome.Reason != examsession.SubmitManual {
		t.Fatalf("expected manual reason, got %s", outcome.Reason)
	}
	if env.store.count() != 1 {
		t.Fatalf("expected one stored attempt, got %d", env.store.count())
	}
	if env.svc.ActiveCount() != 0 {
		t.Fatalf("submitted session should leave the registry")
	}

	state, err := env.svc.State("s1", "exam-1", nil)
	if err != nil {
		t.Fatalf("state after submit: %v", err)
	}
	if state.Outcome == nil || state.Outcome.Attempt.ID != outcome.Attempt.ID {
		t.Fatalf("state should carry the graded outcome")
	}

	again, err := env.svc.Submit(ctx, "s1", "exam-1")
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if again.Attempt.ID != outcome.Attempt.ID || env.store.count() != 1 {
		t.Fatalf("repeat submit must not record a second attempt")
	}

	if _, err := env.svc.SelectAnswer("s1", "exam-1", "q1", 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after submit, got %v", err)
	}
}

func TestConcurrentSubmitsShareOneOutcome(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutDesktop); err != nil {
		t.Fatalf("start: %v", err)
	}

	const callers = 20
	outcomes := make([]*examsession.Outcome, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = env.svc.Submit(ctx, "s1", "exam-1")
		}(i)
	}
	wg.Wait()

	for i := range outcomes {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if outcomes[i].Attempt.ID != outcomes[0].Attempt.ID {
			t.Fatalf("caller %d saw a different attempt", i)
		}
	}
	if env.store.count() != 1 {
		t.Fatalf("expected exactly one stored attempt, got %d", env.store.count())
	}
}

func TestTimerExpirySubmitsAndStreamsEvents(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutDesktop); err != nil {
		t.Fatalf("start: %v", err)
	}
	events, cancel, err := env.svc.Subscribe("s1", "exam-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	stopTicks := make(chan struct{})
	defer close(stopTicks)
	go func() {
		for {
			select {
			case env.ticks <- time.Now():
			case <-stopTicks:
				return
			}
		}
	}()

	var kinds []examsession.EventKind
	var graded *examsession.Outcome
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			if ev.Kind != examsession.EventTick {
				kinds = append(kinds, ev.Kind)
			}
			if ev.Kind == examsession.EventGraded {
				graded = ev.Outcome
			}
		case <-timeout:
			t.Fatalf("stream did not close after expiry, events so far: %v", kinds)
		}
	}

	if graded == nil {
		t.Fatalf("expected a graded event, got %v", kinds)
	}
	if graded.Reason != examsession.SubmitTimeout {
		t.Fatalf("expected timeout reason, got %s", graded.Reason)
	}
	if graded.Result.Unattempted != 4 {
		t.Fatalf("expected all questions unattempted, got %+v", graded.Result)
	}
	if env.store.count() != 1 {
		t.Fatalf("expected one stored attempt, got %d", env.store.count())
	}

	seen := map[examsession.EventKind]bool{}
	for _, k := range kinds {
		seen[k] = true
	}
	if !seen[examsession.EventWarning] || !seen[examsession.EventCritical] {
		t.Fatalf("expected warning and critical events, got %v", kinds)
	}
}

func TestPersistenceFailureKeepsScore(t *testing.T) {
	env := newTestEnv(t, 10)
	env.store.err = fmt.Errorf("%w: connection refused", repository.ErrPersistenceUnavailable)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutDesktop); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.answerAllCorrectly(t, "s1", "exam-1")

	outcome, err := env.svc.Submit(ctx, "s1", "exam-1")
	if err != nil {
		t.Fatalf("submit should succeed even when persistence fails: %v", err)
	}
	if outcome.Attempt.Score != 100 {
		t.Fatalf("score lost: %v", outcome.Attempt.Score)
	}
	if outcome.PersistenceWarning == "" || !errors.Is(outcome.PersistErr, repository.ErrPersistenceUnavailable) {
		t.Fatalf("expected a persistence warning, got %+v", outcome)
	}
}

func TestAbandonRecordsNothing(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutDesktop); err != nil {
		t.Fatalf("start: %v", err)
	}
	events, cancel, err := env.svc.Subscribe("s1", "exam-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := env.svc.Abandon("s1", "exam-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber channel not closed after abandon")
	}

	if env.store.count() != 0 {
		t.Fatalf("abandoned session must not record an attempt")
	}
	if _, err := env.svc.State("s1", "exam-1", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := env.svc.Abandon("s1", "exam-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second abandon should report ErrSessionNotFound, got %v", err)
	}
}

func TestSessionEditsAndReview(t *testing.T) {
	env := newTestEnv(t, 12)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, "s1", "exam-1", model.LayoutMobile); err != nil {
		t.Fatalf("start: %v", err)
	}

	status, err := env.svc.ToggleReview("s1", "exam-1", "q2")
	if err != nil || status != model.AnswerStatusMarked {
		t.Fatalf("toggle review: %v %v", status, err)
	}
	status, err = env.svc.SelectAnswer("s1", "exam-1", "q2", 3)
	if err != nil || status != model.AnswerStatusAttempted {
		t.Fatalf("answer should clear the mark: %v %v", status, err)
	}
	if _, err := env.svc.SelectAnswer("s1", "exam-1", "q2", 7); !errors.Is(err, examsession.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}

	state, err := env.svc.SetPage("s1", "exam-1", 99)
	if err != nil {
		t.Fatalf("set page: %v", err)
	}
	if state.Progress.Page != 1 || len(state.Questions) != 2 {
		t.Fatalf("page should clamp to the last page: page=%d len=%d", state.Progress.Page, len(state.Questions))
	}

	grid, err := env.svc.Review("s1", "exam-1")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(grid) != 12 {
		t.Fatalf("review grid has %d entries, want 12", len(grid))
	}
	attempted := 0
	for _, e := range grid {
		if e.Status == model.AnswerStatusAttempted {
			attempted++
		}
	}
	if attempted != 1 {
		t.Fatalf("expected 1 attempted question in grid, got %d", attempted)
	}
}

func TestShutdownAbandonsRunningSessions(t *testing.T) {
	env := newTestEnv(t, 3)
	if _, err := env.svc.Start(context.Background(), "s1", "exam-1", model.LayoutDesktop); err != nil {
		t.Fatalf("start: %v", err)
	}

	env.svc.Shutdown()

	if env.svc.ActiveCount() != 0 {
		t.Fatalf("shutdown left %d sessions running", env.svc.ActiveCount())
	}
	if env.store.count() != 0 {
		t.Fatalf("shutdown must not grade sessions")
	}
}

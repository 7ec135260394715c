package examsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/model"
)

// SubmitReason tells how a session was submitted.
type SubmitReason string

const (
	SubmitManual  SubmitReason = "manual"
	SubmitTimeout SubmitReason = "timeout"
)

const defaultPersistTimeout = 5 * time.Second

// Recorder stores a finished attempt.
type Recorder interface {
	RecordAttempt(ctx context.Context, result *model.AttemptResult) error
}

// Outcome is the result of a submitted session. PersistErr is set when the
// attempt was graded but could not be stored.
type Outcome struct {
	Attempt            model.AttemptResult `json:"attempt"`
	Result             ScoreResult         `json:"result"`
	Reason             SubmitReason        `json:"reason"`
	PersistenceWarning string              `json:"persistence_warning,omitempty"`
	PersistErr         error               `json:"-"`
}

const persistWarning = "Your score was calculated but could not be saved yet. It will be retried."

// ControllerConfig wires a Controller. Exam, StudentID, Questions, Options and
// Recorder are required.
type ControllerConfig struct {
	Exam      model.Exam
	StudentID string
	Questions []model.Question
	Options   Options
	Recorder  Recorder
	Log       zerolog.Logger

	// OnEvent receives every session event. It must not block.
	OnEvent func(Event)
	// OnFinish runs once after a submission or abandonment.
	OnFinish func(*Outcome)

	TickInterval   time.Duration
	NewTicker      TickerFunc
	Now            func() time.Time
	PersistTimeout time.Duration
}

// Controller runs one session: it owns the countdown and the single
// submission path shared by manual and timed-out submits.
type Controller struct {
	exam      model.Exam
	studentID string
	session   *Session
	timer     *Timer
	recorder  Recorder
	log       zerolog.Logger

	onEvent        func(Event)
	onFinish       func(*Outcome)
	now            func() time.Time
	persistTimeout time.Duration

	mu       sync.Mutex
	outcome  *Outcome
	done     chan struct{}
	doneOnce sync.Once
}

// NewController builds a session for the exam without starting its timer.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Exam.NegativeMarksPerWrong < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNegativeMarks, cfg.Exam.NegativeMarksPerWrong)
	}
	if cfg.Recorder == nil {
		return nil, errors.New("examsession: recorder is required")
	}

	opts := cfg.Options
	if opts.Duration == 0 {
		opts.Duration = time.Duration(cfg.Exam.DurationMinutes) * time.Minute
	}
	session, err := Start(cfg.Questions, opts)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		exam:           cfg.Exam,
		studentID:      cfg.StudentID,
		session:        session,
		recorder:       cfg.Recorder,
		log:            cfg.Log.With().Str("exam_id", cfg.Exam.ID).Str("student_id", cfg.StudentID).Logger(),
		onEvent:        cfg.OnEvent,
		onFinish:       cfg.OnFinish,
		now:            cfg.Now,
		persistTimeout: cfg.PersistTimeout,
		done:           make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.persistTimeout <= 0 {
		c.persistTimeout = defaultPersistTimeout
	}
	c.timer = NewTimer(cfg.TickInterval, cfg.NewTicker, c.handleTick, c.expire, c.log)

	return c, nil
}

// Session exposes the session state for reads and edits.
func (c *Controller) Session() *Session { return c.session }

// Exam returns the exam this controller runs.
func (c *Controller) Exam() model.Exam { return c.exam }

// Run starts the countdown.
func (c *Controller) Run() {
	c.timer.Start()
}

// Done is closed once the session has been submitted or abandoned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Wait blocks until the session is finished.
func (c *Controller) Wait() { <-c.done }

// Outcome returns the graded result, or nil while the session is running.
func (c *Controller) Outcome() *Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Submit grades the session and records the attempt. Only the first of
// concurrent submits proceeds; the others get ErrSubmissionInProgress or
// ErrSessionClosed. A recorder failure does not fail the submit.
func (c *Controller) Submit(ctx context.Context, reason SubmitReason) (*Outcome, error) {
	answers, err := c.session.beginSubmit()
	if err != nil {
		return nil, err
	}
	c.timer.Stop()

	result, err := Score(c.session.Questions(), answers, c.exam.NegativeMarksPerWrong)
	if err != nil {
		c.session.markSubmitted()
		c.finish(nil)
		return nil, fmt.Errorf("score attempt: %w", err)
	}

	outcome := &Outcome{
		Attempt: model.AttemptResult{
			ID:               uuid.New(),
			ExamID:           c.exam.ID,
			StudentID:        c.studentID,
			Score:            result.Percentage,
			CorrectCount:     result.Correct,
			WrongCount:       result.Wrong,
			UnattemptedCount: result.Unattempted,
			SubmittedAt:      c.now().UTC(),
		},
		Result: result,
		Reason: reason,
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.persistTimeout)
	outcome.PersistErr = c.recorder.RecordAttempt(pctx, &outcome.Attempt)
	cancel()

	if outcome.PersistErr != nil {
		c.log.Error().Err(outcome.PersistErr).Str("attempt_id", outcome.Attempt.ID.String()).Msg("Failed to record attempt")
		outcome.PersistenceWarning = persistWarning
		c.emit(Event{Kind: EventNotice, Message: persistWarning})
	}

	c.session.markSubmitted()

	c.mu.Lock()
	c.outcome = outcome
	c.mu.Unlock()

	c.log.Info().
		Str("reason", string(reason)).
		Float64("score", outcome.Attempt.Score).
		Int("correct", result.Correct).
		Int("wrong", result.Wrong).
		Int("unattempted", result.Unattempted).
		Msg("Exam submitted")

	c.emit(Event{Kind: EventGraded, Outcome: outcome})
	c.finish(outcome)
	return outcome, nil
}

// Abandon stops the session without grading or recording anything.
func (c *Controller) Abandon() {
	if !c.session.abandon() {
		return
	}
	c.timer.Stop()
	c.log.Info().Msg("Exam session abandoned")
	c.finish(nil)
}

func (c *Controller) handleTick() bool {
	events, expired := c.session.tick()
	for _, ev := range events {
		c.emit(ev)
	}
	return expired
}

func (c *Controller) expire() {
	_, err := c.Submit(context.Background(), SubmitTimeout)
	if err == nil || errors.Is(err, ErrSubmissionInProgress) || errors.Is(err, ErrSessionClosed) {
		return
	}
	c.log.Error().Err(err).Msg("Timed-out submission failed")
	c.emit(Event{Kind: EventNotice, Message: "Time is up, but the exam could not be submitted automatically."})
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func (c *Controller) finish(outcome *Outcome) {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.onFinish != nil {
			c.onFinish(outcome)
		}
	})
}

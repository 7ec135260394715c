package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/examsession"
	"github.com/mnrworld/exam-backend/internal/model"
	"github.com/mnrworld/exam-backend/internal/monitoring"
	"github.com/mnrworld/exam-backend/internal/questionbank"
)

// Session lifecycle errors.
var (
	ErrAuthorizationDenied = errors.New("student is not enrolled in the exam's batch")
	ErrSessionNotFound     = errors.New("no exam session found")
)

// ExamStore looks up exams.
type ExamStore interface {
	GetByID(ctx context.Context, id string) (*model.Exam, error)
}

// EnrollmentChecker answers whether a student belongs to a batch.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, studentID, batchID string) (bool, error)
}

// SessionConfig holds the engine parameters shared by every session.
type SessionConfig struct {
	PageSize                 int
	MobilePageSize           int
	WarningThresholdPercent  float64
	CriticalThresholdSeconds int
	ResultRetention          time.Duration

	// Test hooks; zero values use the real clock.
	TickInterval time.Duration
	NewTicker    examsession.TickerFunc
	Shuffler     examsession.Shuffler
}

// SessionConfigFromConfig maps the application config onto SessionConfig.
func SessionConfigFromConfig(cfg *config.Config) SessionConfig {
	return SessionConfig{
		PageSize:                 cfg.PageSize,
		MobilePageSize:           cfg.MobilePageSize,
		WarningThresholdPercent:  cfg.WarningThresholdPercent,
		CriticalThresholdSeconds: cfg.CriticalThresholdSeconds,
		ResultRetention:          cfg.ResultRetention,
	}
}

func (c SessionConfig) pageSizeFor(layout model.Layout) int {
	if layout == model.LayoutMobile && c.MobilePageSize > 0 {
		return c.MobilePageSize
	}
	return c.PageSize
}

// SessionState is what a student sees of a session.
type SessionState struct {
	ExamID            string                     `json:"exam_id"`
	ExamName          string                     `json:"exam_name"`
	Layout            model.Layout               `json:"layout"`
	Progress          examsession.Snapshot       `json:"progress"`
	Questions         []model.QuestionForStudent `json:"questions,omitempty"`
	ExcludedQuestions int                        `json:"excluded_questions"`
	Outcome           *examsession.Outcome       `json:"outcome,omitempty"`
}

type sessionKey struct {
	studentID string
	examID    string
}

type activeSession struct {
	ctrl     *examsession.Controller
	events   *broker
	layout   model.Layout
	excluded int
}

type finishedSession struct {
	exam     model.Exam
	layout   model.Layout
	progress examsession.Snapshot
	outcome  *examsession.Outcome
	timer    *time.Timer
}

// ExamSessionService owns the running sessions of this process: at most one
// per student and exam.
type ExamSessionService struct {
	exams      ExamStore
	enrollment EnrollmentChecker
	questions  questionbank.Source
	recorder   examsession.Recorder
	cfg        SessionConfig
	log        zerolog.Logger

	mu       sync.Mutex
	active   map[sessionKey]*activeSession
	finished map[sessionKey]*finishedSession
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	exams ExamStore,
	enrollment EnrollmentChecker,
	questions questionbank.Source,
	recorder examsession.Recorder,
	cfg SessionConfig,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		exams:      exams,
		enrollment: enrollment,
		questions:  questions,
		recorder:   recorder,
		cfg:        cfg,
		log:        log.With().Str("component", "exam_session").Logger(),
		active:     make(map[sessionKey]*activeSession),
		finished:   make(map[sessionKey]*finishedSession),
	}
}

// Start opens a session, or returns the one already running for this
// student and exam. Enrollment is checked on every call, before any
// question is loaded.
func (s *ExamSessionService) Start(ctx context.Context, studentID, examID string, layout model.Layout) (*SessionState, error) {
	if layout == "" {
		layout = model.LayoutDesktop
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.enrollment.IsEnrolled(ctx, studentID, exam.BatchID)
	if err != nil {
		s.log.Warn().Err(err).Str("student_id", studentID).Str("exam_id", examID).Msg("Enrollment lookup failed")
		return nil, fmt.Errorf("%w: enrollment lookup failed", ErrAuthorizationDenied)
	}
	if !enrolled {
		return nil, ErrAuthorizationDenied
	}

	key := sessionKey{studentID: studentID, examID: examID}
	if sess := s.lookupActive(key); sess != nil {
		return s.stateOf(sess, nil), nil
	}

	loaded, err := s.questions.LoadQuestions(ctx, exam.QuestionSourceRef)
	if loaded != nil && len(loaded.Excluded) > 0 {
		monitoring.ExcludedQuestions.Add(float64(len(loaded.Excluded)))
		s.log.Warn().
			Str("exam_id", examID).
			Int("excluded", len(loaded.Excluded)).
			Msg("Some questions were excluded from the exam")
	}
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	events := newBroker()
	ctrl, err := examsession.NewController(examsession.ControllerConfig{
		Exam:      *exam,
		StudentID: studentID,
		Questions: loaded.Questions,
		Options: examsession.Options{
			PageSize:                 s.cfg.pageSizeFor(layout),
			Duration:                 time.Duration(exam.DurationMinutes) * time.Minute,
			WarningThresholdPercent:  s.cfg.WarningThresholdPercent,
			CriticalThresholdSeconds: s.cfg.CriticalThresholdSeconds,
			Shuffler:                 s.cfg.Shuffler,
		},
		Recorder:     s.recorder,
		Log:          s.log,
		OnEvent:      events.publish,
		OnFinish:     func(o *examsession.Outcome) { s.onFinish(key, o) },
		TickInterval: s.cfg.TickInterval,
		NewTicker:    s.cfg.NewTicker,
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	sess := &activeSession{ctrl: ctrl, events: events, layout: layout, excluded: len(loaded.Excluded)}

	s.mu.Lock()
	if existing, ok := s.active[key]; ok {
		// A concurrent start won the race.
		s.mu.Unlock()
		return s.stateOf(existing, nil), nil
	}
	s.active[key] = sess
	if f, ok := s.finished[key]; ok {
		f.timer.Stop()
		delete(s.finished, key)
	}
	s.mu.Unlock()

	ctrl.Run()
	monitoring.ActiveSessions.Inc()

	s.log.Info().
		Str("student_id", studentID).
		Str("exam_id", examID).
		Str("layout", string(layout)).
		Int("questions", len(loaded.Questions)).
		Msg("Exam session started")

	return s.stateOf(sess, nil), nil
}

// State returns the running session, or the graded result of a session that
// finished recently.
func (s *ExamSessionService) State(studentID, examID string, page *int) (*SessionState, error) {
	key := sessionKey{studentID: studentID, examID: examID}
	if sess := s.lookupActive(key); sess != nil {
		return s.stateOf(sess, page), nil
	}

	s.mu.Lock()
	f, ok := s.finished[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &SessionState{
		ExamID:   f.exam.ID,
		ExamName: f.exam.Name,
		Layout:   f.layout,
		Progress: f.progress,
		Outcome:  f.outcome,
	}, nil
}

// SelectAnswer records an answer in the running session.
func (s *ExamSessionService) SelectAnswer(studentID, examID, questionID string, optionIndex int) (model.AnswerStatus, error) {
	sess, err := s.mustActive(studentID, examID)
	if err != nil {
		return "", err
	}
	session := sess.ctrl.Session()
	if err := session.SelectAnswer(questionID, optionIndex); err != nil {
		return "", err
	}
	return session.AnswerStatus(questionID), nil
}

// ToggleReview flips a question's review mark.
func (s *ExamSessionService) ToggleReview(studentID, examID, questionID string) (model.AnswerStatus, error) {
	sess, err := s.mustActive(studentID, examID)
	if err != nil {
		return "", err
	}
	session := sess.ctrl.Session()
	if _, err := session.ToggleReview(questionID); err != nil {
		return "", err
	}
	return session.AnswerStatus(questionID), nil
}

// SetPage moves the session to another page and returns that page.
func (s *ExamSessionService) SetPage(studentID, examID string, page int) (*SessionState, error) {
	sess, err := s.mustActive(studentID, examID)
	if err != nil {
		return nil, err
	}
	clamped, err := sess.ctrl.Session().SetPage(page)
	if err != nil {
		return nil, err
	}
	return s.stateOf(sess, &clamped), nil
}

// Review returns the status grid of the running session.
func (s *ExamSessionService) Review(studentID, examID string) ([]examsession.ReviewEntry, error) {
	sess, err := s.mustActive(studentID, examID)
	if err != nil {
		return nil, err
	}
	return sess.ctrl.Session().ReviewSummary(), nil
}

// Submit grades the session. A submit that races with the timer waits for
// the winning submission and returns its outcome.
func (s *ExamSessionService) Submit(ctx context.Context, studentID, examID string) (*examsession.Outcome, error) {
	key := sessionKey{studentID: studentID, examID: examID}
	sess := s.lookupActive(key)
	if sess == nil {
		return s.finishedOutcome(key)
	}

	outcome, err := sess.ctrl.Submit(ctx, examsession.SubmitManual)
	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, examsession.ErrSubmissionInProgress), errors.Is(err, examsession.ErrSessionClosed):
		select {
		case <-sess.ctrl.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if out := sess.ctrl.Outcome(); out != nil {
			return out, nil
		}
		return nil, ErrSessionNotFound
	default:
		return nil, err
	}
}

// Abandon stops a running session without recording a result.
func (s *ExamSessionService) Abandon(studentID, examID string) error {
	sess, err := s.mustActive(studentID, examID)
	if err != nil {
		return err
	}
	sess.ctrl.Abandon()
	return nil
}

// Subscribe streams the events of a running session. The channel is closed
// when the session ends or cancel is called.
func (s *ExamSessionService) Subscribe(studentID, examID string) (<-chan examsession.Event, func(), error) {
	sess, err := s.mustActive(studentID, examID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.events.subscribe()
	return ch, cancel, nil
}

// ActiveCount returns the number of running sessions.
func (s *ExamSessionService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown stops every running session. In-memory sessions cannot outlive
// the process, so they are abandoned rather than graded early.
func (s *ExamSessionService) Shutdown() {
	s.mu.Lock()
	running := make([]*activeSession, 0, len(s.active))
	for _, sess := range s.active {
		running = append(running, sess)
	}
	for _, f := range s.finished {
		f.timer.Stop()
	}
	s.finished = make(map[sessionKey]*finishedSession)
	s.mu.Unlock()

	if len(running) > 0 {
		s.log.Warn().Int("sessions", len(running)).Msg("Abandoning running exam sessions on shutdown")
	}
	for _, sess := range running {
		sess.ctrl.Abandon()
	}
}

func (s *ExamSessionService) lookupActive(key sessionKey) *activeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[key]
}

func (s *ExamSessionService) mustActive(studentID, examID string) (*activeSession, error) {
	sess := s.lookupActive(sessionKey{studentID: studentID, examID: examID})
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *ExamSessionService) finishedOutcome(key sessionKey) (*examsession.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.finished[key]; ok {
		return f.outcome, nil
	}
	return nil, ErrSessionNotFound
}

func (s *ExamSessionService) stateOf(sess *activeSession, page *int) *SessionState {
	session := sess.ctrl.Session()
	exam := sess.ctrl.Exam()

	var p int
	var questions []model.QuestionForStudent
	if page != nil {
		p = *page
		questions = session.View(p)
	} else {
		p, questions = session.CurrentView()
	}

	progress := session.Snapshot()
	progress.Page = p

	return &SessionState{
		ExamID:            exam.ID,
		ExamName:          exam.Name,
		Layout:            sess.layout,
		Progress:          progress,
		Questions:         questions,
		ExcludedQuestions: sess.excluded,
		Outcome:           sess.ctrl.Outcome(),
	}
}

func (s *ExamSessionService) onFinish(key sessionKey, outcome *examsession.Outcome) {
	s.mu.Lock()
	sess, ok := s.active[key]
	if ok {
		delete(s.active, key)
	}
	if ok && outcome != nil && s.cfg.ResultRetention > 0 {
		f := &finishedSession{
			exam:     sess.ctrl.Exam(),
			layout:   sess.layout,
			progress: sess.ctrl.Session().Snapshot(),
			outcome:  outcome,
		}
		f.timer = time.AfterFunc(s.cfg.ResultRetention, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.finished[key] == f {
				delete(s.finished, key)
			}
		})
		s.finished[key] = f
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	monitoring.ActiveSessions.Dec()
	if outcome != nil {
		monitoring.Submissions.WithLabelValues(string(outcome.Reason)).Inc()
	}
	sess.events.close()
}

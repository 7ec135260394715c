package examsession

import (
	"math"
	"sync"
	"time"

	"github.com/mnrworld/exam-backend/internal/model"
)

// Options configures a single session. PageSize is fixed for the lifetime
// of the session.
type Options struct {
	PageSize                 int
	Duration                 time.Duration
	WarningThresholdPercent  float64
	CriticalThresholdSeconds int
	Shuffler                 Shuffler
}

type sessionState int

const (
	stateActive sessionState = iota
	stateSubmitting
	stateSubmitted
	stateAbandoned
)

// Session is the in-memory state of one student taking one exam. All methods
// are safe for concurrent use; every mutation is serialized on one lock.
type Session struct {
	mu sync.Mutex

	questions []model.Question
	order     []int          // presentation order, indices into questions
	position  map[string]int // question id -> position in order

	answers map[string]int
	marked  map[string]struct{}

	pageSize int
	page     int

	totalSeconds int
	remaining    int
	warningAt    int
	criticalAt   int
	warned       bool
	critical     bool

	state sessionState
}

// Snapshot is a consistent, read-only view of a session.
type Snapshot struct {
	Page             int  `json:"page"`
	TotalPages       int  `json:"total_pages"`
	PageSize         int  `json:"page_size"`
	TotalQuestions   int  `json:"total_questions"`
	Attempted        int  `json:"attempted"`
	Marked           int  `json:"marked"`
	Unattempted      int  `json:"unattempted"`
	DurationSeconds  int  `json:"duration_seconds"`
	RemainingSeconds int  `json:"remaining_seconds"`
	Submitted        bool `json:"submitted"`
}

// ReviewEntry is one cell of the review grid.
type ReviewEntry struct {
	Number     int                `json:"number"`
	QuestionID string             `json:"question_id"`
	Status     model.AnswerStatus `json:"status"`
	Page       int                `json:"page"`
}

// Start creates a session over questions in a freshly shuffled order.
func Start(questions []model.Question, opts Options) (*Session, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	if opts.PageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	total := int(opts.Duration / time.Second)
	if total <= 0 {
		return nil, ErrInvalidDuration
	}

	canonical := make([]model.Question, len(questions))
	copy(canonical, questions)

	idx := make([]int, len(canonical))
	for i := range idx {
		idx[i] = i
	}
	order := Shuffle(idx, opts.Shuffler)

	position := make(map[string]int, len(order))
	for pos, qi := range order {
		position[canonical[qi].ID] = pos
	}

	return &Session{
		questions:    canonical,
		order:        order,
		position:     position,
		answers:      make(map[string]int),
		marked:       make(map[string]struct{}),
		pageSize:     opts.PageSize,
		totalSeconds: total,
		remaining:    total,
		warningAt:    int(math.Floor(float64(total) * opts.WarningThresholdPercent / 100)),
		criticalAt:   opts.CriticalThresholdSeconds,
	}, nil
}

// Questions returns the canonical question set (not shuffled).
func (s *Session) Questions() []model.Question {
	return s.questions
}

// Order returns the question ids in presentation order.
func (s *Session) Order() []string {
	ids := make([]string, len(s.order))
	for pos, qi := range s.order {
		ids[pos] = s.questions[qi].ID
	}
	return ids
}

// SelectAnswer records the chosen option for qid and clears its review mark.
// Empty or unknown ids are ignored.
func (s *Session) SelectAnswer(qid string, optionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return ErrSessionClosed
	}
	pos, ok := s.position[qid]
	if qid == "" || !ok {
		return nil
	}
	q := s.questions[s.order[pos]]
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return ErrInvalidOption
	}

	s.answers[qid] = optionIndex
	delete(s.marked, qid)
	return nil
}

// ToggleReview flips the review mark of qid and reports whether it is now marked.
func (s *Session) ToggleReview(qid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return false, ErrSessionClosed
	}
	if _, ok := s.position[qid]; qid == "" || !ok {
		return false, nil
	}

	if _, marked := s.marked[qid]; marked {
		delete(s.marked, qid)
		return false, nil
	}
	s.marked[qid] = struct{}{}
	return true, nil
}

// SetPage moves to page n, clamped into the valid range.
func (s *Session) SetPage(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return s.page, ErrSessionClosed
	}
	last := TotalPages(len(s.order), s.pageSize) - 1
	if n > last {
		n = last
	}
	if n < 0 {
		n = 0
	}
	s.page = n
	return n, nil
}

// AnswerStatus reports the review status of qid.
func (s *Session) AnswerStatus(qid string) model.AnswerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(qid)
}

func (s *Session) statusLocked(qid string) model.AnswerStatus {
	if _, ok := s.marked[qid]; ok {
		return model.AnswerStatusMarked
	}
	if _, ok := s.answers[qid]; ok {
		return model.AnswerStatusAttempted
	}
	return model.AnswerStatusUnattempted
}

// Snapshot returns the current counters of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Page:             s.page,
		TotalPages:       TotalPages(len(s.order), s.pageSize),
		PageSize:         s.pageSize,
		TotalQuestions:   len(s.order),
		DurationSeconds:  s.totalSeconds,
		RemainingSeconds: s.remaining,
		Submitted:        s.state == stateSubmitted,
	}
	for _, q := range s.questions {
		switch s.statusLocked(q.ID) {
		case model.AnswerStatusMarked:
			snap.Marked++
		case model.AnswerStatusAttempted:
			snap.Attempted++
		default:
			snap.Unattempted++
		}
	}
	return snap
}

// View renders one page of questions for the student, without answer keys.
func (s *Session) View(page int) []model.QuestionForStudent {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := Page(s.order, page, s.pageSize)
	out := make([]model.QuestionForStudent, 0, len(window))
	for i, qi := range window {
		q := s.questions[qi]
		item := model.QuestionForStudent{
			ID:      q.ID,
			Number:  page*s.pageSize + i + 1,
			Text:    q.Text,
			Images:  q.Images,
			Options: q.Options,
			Status:  s.statusLocked(q.ID),
		}
		if sel, ok := s.answers[q.ID]; ok {
			item.Selected = &sel
		}
		out = append(out, item)
	}
	return out
}

// CurrentView renders the page the student is currently on.
func (s *Session) CurrentView() (int, []model.QuestionForStudent) {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	return page, s.View(page)
}

// ReviewSummary lists every question in presentation order with its status
// and the page it lives on.
func (s *Session) ReviewSummary() []ReviewEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ReviewEntry, len(s.order))
	for pos, qi := range s.order {
		id := s.questions[qi].ID
		out[pos] = ReviewEntry{
			Number:     pos + 1,
			QuestionID: id,
			Status:     s.statusLocked(id),
			Page:       PageOf(pos, s.pageSize),
		}
	}
	return out
}

// tick advances the countdown by one second. It returns the events to
// publish and whether time has run out.
func (s *Session) tick() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return nil, false
	}

	if s.remaining > 0 {
		s.remaining--
	}
	events := []Event{{Kind: EventTick, Remaining: s.remaining}}

	if !s.warned && s.remaining <= s.warningAt {
		s.warned = true
		events = append(events, Event{Kind: EventWarning, Remaining: s.remaining})
	}
	if !s.critical && s.remaining <= s.criticalAt {
		s.critical = true
		events = append(events, Event{Kind: EventCritical, Remaining: s.remaining})
	}

	return events, s.remaining <= 0
}

// beginSubmit closes the session to further edits and returns a copy of the
// answers to grade. Only the first caller succeeds.
func (s *Session) beginSubmit() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateSubmitting:
		return nil, ErrSubmissionInProgress
	case stateSubmitted, stateAbandoned:
		return nil, ErrSessionClosed
	}
	s.state = stateSubmitting

	answers := make(map[string]int, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	return answers, nil
}

func (s *Session) markSubmitted() {
	s.mu.Lock()
	s.state = stateSubmitted
	s.mu.Unlock()
}

// abandon closes an active session without grading it.
func (s *Session) abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return false
	}
	s.state = stateAbandoned
	return true
}

// Submitted reports whether the session has been graded.
func (s *Session) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateSubmitted
}

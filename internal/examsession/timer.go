package examsession

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind names a session event pushed to subscribers.
type EventKind string

const (
	EventTick     EventKind = "tick"
	EventWarning  EventKind = "warning"
	EventCritical EventKind = "critical"
	EventNotice   EventKind = "notice"
	EventGraded   EventKind = "graded"
)

// Event is emitted by a running session.
type Event struct {
	Kind      EventKind `json:"kind"`
	Remaining int       `json:"remaining_seconds"`
	Message   string    `json:"message,omitempty"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
}

// TickerFunc creates a tick source and returns it with its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Timer drives a countdown on its own goroutine. onTick runs for every tick
// and reports expiry; onExpire runs once, after the loop has exited.
type Timer struct {
	interval  time.Duration
	newTicker TickerFunc
	onTick    func() bool
	onExpire  func()
	log       zerolog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	stop     chan struct{}
	loopDone chan struct{}
	exited   chan struct{}
}

// NewTimer creates a stopped timer.
func NewTimer(interval time.Duration, newTicker TickerFunc, onTick func() bool, onExpire func(), log zerolog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Second
	}
	if newTicker == nil {
		newTicker = realTicker
	}
	return &Timer{
		interval:  interval,
		newTicker: newTicker,
		onTick:    onTick,
		onExpire:  onExpire,
		log:       log,
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// Start launches the countdown goroutine. Calling it twice, or after Stop,
// has no effect.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true

	ch, stopTicker := t.newTicker(t.interval)
	go t.run(ch, stopTicker)
}

// Stop halts the countdown. Once Stop returns no further tick will run.
// It is safe to call from any goroutine, including the expiry callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	close(t.stop)
	t.mu.Unlock()

	if !started {
		close(t.exited)
		return
	}
	<-t.loopDone
}

// Wait blocks until the countdown goroutine, including any expiry callback,
// has finished.
func (t *Timer) Wait() {
	<-t.exited
}

func (t *Timer) run(ch <-chan time.Time, stopTicker func()) {
	expired := t.loop(ch)
	stopTicker()
	close(t.loopDone)

	if expired {
		t.fireExpire()
	}
	close(t.exited)
}

func (t *Timer) loop(ch <-chan time.Time) bool {
	for {
		select {
		case <-t.stop:
			return false
		case <-ch:
			// A stop that raced with this tick wins.
			select {
			case <-t.stop:
				return false
			default:
			}
			if t.onTick() {
				return true
			}
		}
	}
}

func (t *Timer) fireExpire() {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("expiry callback panicked")
		}
	}()
	t.onExpire()
}

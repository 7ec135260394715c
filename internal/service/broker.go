package service

import (
	"sync"

	"github.com/mnrworld/exam-backend/internal/examsession"
)

const subscriberBuffer = 16

// broker fans session events out to WebSocket subscribers without ever
// blocking the session's timer goroutine.
type broker struct {
	mu     sync.Mutex
	subs   map[int]chan examsession.Event
	nextID int
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan examsession.Event)}
}

func (b *broker) subscribe() (<-chan examsession.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan examsession.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// publish delivers ev to every subscriber. Ticks are dropped for slow
// readers; other events evict the oldest queued event instead.
func (b *broker) publish(ev examsession.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if ev.Kind == examsession.EventTick {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

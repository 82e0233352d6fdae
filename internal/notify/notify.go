// Package notify fans session state changes out to observers such as the
// dashboard and the lifecycle journal. Publishing never blocks: an observer
// that falls behind loses events rather than stalling the publisher.
package notify

import (
	"sync"
	"time"
)

// Kind identifies what changed.
type Kind string

const (
	NewSession         Kind = "session_created"
	SessionDone        Kind = "session_done"
	SessionReactivated Kind = "session_reactivated"
	NewQuestion        Kind = "question_asked"
	QuestionAnswered   Kind = "question_answered"
	QuestionTimeout    Kind = "question_timeout"
	StaleCleaned       Kind = "stale_cleaned"
	Refresh            Kind = "refresh"
)

// Event is one state change.
type Event struct {
	Kind      Kind
	SessionID string
	Detail    string
	Time      time.Time
}

// Bus is a non-blocking publish/subscribe hub. The zero value is not usable;
// call NewBus.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers ev to every subscriber that has buffer room. A nil Bus
// drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel receiving future events and a func that ends the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
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
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

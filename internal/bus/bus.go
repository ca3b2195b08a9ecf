// Package bus implements the in-process typed publish/subscribe hub. It owns
// no domain state; it only fans envelopes out to registered subscribers.
//
// Guarantees: a subscriber observes events in publish order (strict
// per-subscriber ordering), and Publish never blocks on subscriber
// processing. There is no ordering guarantee between different subscribers.
package bus

import (
	"strings"
	"sync"

	"github.com/jaakkos/conductor/internal/domain"
)

// Handler receives a published envelope. Handlers run on the subscriber's own
// dispatch goroutine and must not mutate the envelope's shared payload.
type Handler func(domain.EventEnvelope)

// Bus fans published envelopes out to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	pattern string
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.EventEnvelope
	closed bool
	done   chan struct{}
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a handler for event types matching pattern and returns
// an unsubscribe function. Patterns: "*" matches everything, "mail:*" matches
// by prefix, anything else is an exact type match. Unsubscribe is idempotent
// and returns after the subscriber's dispatch goroutine has drained.
func (b *Bus) Subscribe(pattern string, h Handler) func() {
	sub := &subscriber{pattern: pattern, handler: h, done: make(chan struct{})}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.dispatch()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.close()
			<-sub.done
		})
	}
}

// Publish delivers the envelope to every matching subscriber's queue and
// returns without waiting for handlers.
func (b *Bus) Publish(ev domain.EventEnvelope) {
	b.mu.Lock()
	matched := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchPattern(sub.pattern, ev.Type) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matched {
		sub.enqueue(ev)
	}
}

// Close tears down every subscriber and rejects future subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		<-sub.done
	}
}

func matchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == eventType
}

func (s *subscriber) enqueue(ev domain.EventEnvelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

// dispatch drains the queue in order, one handler call at a time.
func (s *subscriber) dispatch() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(ev)
	}
}

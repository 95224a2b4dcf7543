// Package progress fans FileProgress and session-terminal events out to
// UI subscribers with per-subscriber bounded queues, grounded on the
// teacher's channel-based incoming/errs fan-out in network/server.go
// (there a single-consumer channel pair; here generalized to many
// independent subscribers: a new intermediate event is dropped while a
// subscriber's queue is full, and a terminal event evicts the oldest
// queued event to make room).
package progress

import (
	"sync"
	"time"

	"p2pxfer/models"
)

// subscriberQueueCapacity is the bound on each subscriber's event channel,
// per spec.md §4.8.
const subscriberQueueCapacity = 64

// throttleInterval is the minimum spacing between non-terminal events
// delivered for the same (session, file) pair, per spec.md §4.5/§4.8.
const throttleInterval = 100 * time.Millisecond

// Bus is the process-wide fan-out point for transfer progress. It is the
// one cross-component shared mutable surface spec.md §5 allows, and holds
// its own synchronization so callers never see a raw channel.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*subscription
	nextID      int
	lastSent    map[throttleKey]time.Time
}

type throttleKey struct {
	sessionID string
	fileIndex int
}

type subscription struct {
	ch chan models.FileProgress
}

// Subscription is a live handle a caller reads events from and must
// Unsubscribe when done.
type Subscription struct {
	id     int
	bus    *Bus
	Events <-chan models.FileProgress
}

// NewBus constructs an empty progress bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]*subscription),
		lastSent:    make(map[throttleKey]time.Time),
	}
}

// Subscribe registers a new subscriber with a bounded event queue.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan models.FileProgress, subscriberQueueCapacity)}
	b.subscribers[id] = sub

	return &Subscription{id: id, bus: b, Events: sub.ch}
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call once; a second call is a no-op.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	sub, ok := s.bus.subscribers[s.id]
	if !ok {
		return
	}
	delete(s.bus.subscribers, s.id)
	close(sub.ch)
}

// Publish delivers ev to every subscriber. Non-terminal events are
// throttled to at most one per throttleInterval per (session, file); the
// throttle is skipped, and delivery is never dropped, for terminal events
// (ev.Terminal == true — FileAck/SessionEnd equivalents).
func (b *Bus) Publish(ev models.FileProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ev.Terminal {
		key := throttleKey{sessionID: ev.SessionID, fileIndex: ev.FileIndex}
		if last, ok := b.lastSent[key]; ok && ev.MonotonicTS.Sub(last) < throttleInterval {
			return
		}
		b.lastSent[key] = ev.MonotonicTS
	}

	for _, sub := range b.subscribers {
		if ev.Terminal {
			b.deliverReliably(sub, ev)
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Queue full: drop this intermediate event rather than block
			// the publisher; events already queued are kept.
		}
	}
}

// deliverReliably makes room for a terminal event by discarding the
// subscriber's oldest queued event if necessary, since terminal events
// (FileAck, SessionEnd) must never be dropped.
func (b *Bus) deliverReliably(sub *subscription, ev models.FileProgress) {
	for {
		select {
		case sub.ch <- ev:
			return
		default:
			select {
			case <-sub.ch:
			default:
				return
			}
		}
	}
}

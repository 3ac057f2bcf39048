package travellog

import (
	"fmt"
	"sync"
	"time"
)

// EventKind selects which events a subscription receives.
type EventKind int

const (
	// EventAny subscribes to every kind.
	EventAny EventKind = iota
	EventLifecycle
	EventOwnerChanged
	EventRefreshed
)

func (k EventKind) String() string {
	switch k {
	case EventAny:
		return "any"
	case EventLifecycle:
		return "lifecycle"
	case EventOwnerChanged:
		return "owner-changed"
	case EventRefreshed:
		return "refreshed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is published by the synchronizer. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind  EventKind
	Owner OwnerKey
	At    time.Time

	// EventLifecycle
	Notification Notification

	// EventOwnerChanged
	Previous OwnerKey

	// EventRefreshed
	Count     int
	FetchedAt time.Time
}

// Bus fans events out to subscriptions.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe returns a subscription receiving events of kind, or all events
// for EventAny. Close it on teardown.
func (b *Bus) Subscribe(kind EventKind) *Subscription {
	s := &Subscription{
		bus:  b,
		kind: kind,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run()
	return s
}

// Publish queues ev on every matching subscription. It never blocks on
// slow consumers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.kind == EventAny || s.kind == ev.Kind {
			s.push(ev)
		}
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is an ordered, unbounded stream of events.
type Subscription struct {
	bus  *Bus
	kind EventKind

	mu    sync.Mutex
	queue []Event

	wake      chan struct{}
	done      chan struct{}
	out       chan Event
	closeOnce sync.Once
}

// Events returns the stream. It is closed after Close.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close unsubscribes. Queued events not yet received are dropped.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

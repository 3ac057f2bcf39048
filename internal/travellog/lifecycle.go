package travellog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is a position in the transaction lifecycle of one owner.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateAwaitingConfirmation
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingConfirmation:
		return "awaiting-confirmation"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a write.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Notification is emitted for every lifecycle transition.
type Notification struct {
	Owner  OwnerKey
	State  State
	Record Record
	Ref    ExternalRef
	Reason error
	At     time.Time
}

// Observer receives lifecycle notifications in transition order.
// Observers must not block for long: delivery for an owner is sequential.
type Observer interface {
	Notify(n Notification)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notification)

func (f ObserverFunc) Notify(n Notification) { f(n) }

// PendingWrite describes the owner's in-flight write.
type PendingWrite struct {
	Record      Record
	State       State
	SubmittedAt time.Time
	Ref         ExternalRef
}

// Handle tracks a single write from submission to its terminal state.
type Handle struct {
	owner       OwnerKey
	submittedAt time.Time
	done        chan struct{}

	mu      sync.Mutex
	record  Record
	state   State
	ref     ExternalRef
	err     error
	history []State
}

func newHandle(rec Record, at time.Time) *Handle {
	return &Handle{
		owner:       rec.Owner,
		submittedAt: at,
		done:        make(chan struct{}),
		record:      rec,
		state:       StateIdle,
		history:     []State{StateIdle},
	}
}

func (h *Handle) Owner() OwnerKey { return h.owner }

func (h *Handle) SubmittedAt() time.Time { return h.submittedAt }

// Record returns the record being written. Once confirmed it carries the
// sequence assigned by the store.
func (h *Handle) Record() Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record
}

// State returns the furthest state this write reached. After completion it
// is Confirmed or Failed even though the owner's lifecycle is back to Idle.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Ref() ExternalRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ref
}

// Err returns the failure reason, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// History returns every state the write passed through, starting and
// ending with Idle once complete.
func (h *Handle) History() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.history...)
}

// Done is closed after the final Idle notification has been delivered.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the write completes or ctx is done. Abandoning the wait
// does not affect the write.
func (h *Handle) Wait(ctx context.Context) (Record, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.record, h.err
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

func (h *Handle) enter(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, s)
	if s != StateIdle {
		h.state = s
	}
}

type queuedNotification struct {
	n     Notification
	after func()
}

// Lifecycle is the per-owner transaction state machine. At most one write is
// pending at a time; a second Begin fails with AlreadyInFlight instead of
// waiting.
//
// Notifications are queued while the state lock is held and delivered
// outside it, one at a time, in the order the transitions happened.
type Lifecycle struct {
	owner   OwnerKey
	clock   Clock
	deliver func(Notification)

	mu       sync.Mutex
	state    State
	pending  *Handle
	outbox   []queuedNotification
	flushing bool
}

// NewLifecycle creates an idle lifecycle. deliver receives every
// notification and may be nil.
func NewLifecycle(owner OwnerKey, clock Clock, deliver func(Notification)) *Lifecycle {
	return &Lifecycle{owner: owner, clock: clock, deliver: deliver}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Pending returns the in-flight write, if any.
func (l *Lifecycle) Pending() (PendingWrite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return PendingWrite{}, false
	}
	return PendingWrite{
		Record:      l.pending.Record(),
		State:       l.state,
		SubmittedAt: l.pending.submittedAt,
		Ref:         l.pending.Ref(),
	}, true
}

// Begin moves Idle -> Submitting for rec.
func (l *Lifecycle) Begin(rec Record) (*Handle, error) {
	l.mu.Lock()
	if l.pending != nil {
		l.mu.Unlock()
		return nil, &Error{Kind: KindAlreadyInFlight, Op: "submit", Owner: l.owner}
	}
	h := newHandle(rec, l.clock.Now())
	l.pending = h
	l.transition(h, StateSubmitting, nil, nil)
	l.mu.Unlock()

	l.flush()
	return h, nil
}

// Accept moves Submitting -> AwaitingConfirmation. It returns false if h is
// no longer the pending write (timed out or abandoned).
func (l *Lifecycle) Accept(h *Handle, ref ExternalRef) bool {
	l.mu.Lock()
	if l.pending != h || l.state != StateSubmitting {
		l.mu.Unlock()
		return false
	}
	h.mu.Lock()
	h.ref = ref
	h.mu.Unlock()
	l.transition(h, StateAwaitingConfirmation, nil, nil)
	l.mu.Unlock()

	l.flush()
	return true
}

// Confirm runs commit for the pending write and moves it to Confirmed, or to
// Failed if commit fails. commit runs before any observer hears about the
// confirmation and never concurrently with another transition of h.
func (l *Lifecycle) Confirm(h *Handle, commit func(Record) (Record, error)) bool {
	l.mu.Lock()
	if l.pending != h || l.state != StateAwaitingConfirmation {
		l.mu.Unlock()
		return false
	}
	stored, err := commit(h.Record())
	if err != nil {
		l.finish(h, StateFailed, err)
	} else {
		h.mu.Lock()
		h.record = stored
		h.mu.Unlock()
		l.finish(h, StateConfirmed, nil)
	}
	l.mu.Unlock()

	l.flush()
	return err == nil
}

// Fail moves the pending write h to Failed and back to Idle. Any state may
// fail; the store is never touched.
func (l *Lifecycle) Fail(h *Handle, reason error) bool {
	l.mu.Lock()
	if l.pending != h {
		l.mu.Unlock()
		return false
	}
	l.finish(h, StateFailed, reason)
	l.mu.Unlock()

	l.flush()
	return true
}

// Abandon fails whatever write is pending with reason. Used when the owner
// changes; the remote operation keeps running and its outcome is ignored.
func (l *Lifecycle) Abandon(reason error) {
	l.mu.Lock()
	if l.pending == nil {
		l.mu.Unlock()
		return
	}
	l.finish(l.pending, StateFailed, reason)
	l.mu.Unlock()

	l.flush()
}

// finish must be called with l.mu held.
func (l *Lifecycle) finish(h *Handle, terminal State, reason error) {
	if reason != nil {
		h.mu.Lock()
		h.err = reason
		h.mu.Unlock()
	}
	l.transition(h, terminal, reason, nil)
	l.pending = nil
	l.transition(h, StateIdle, nil, func() { close(h.done) })
}

// transition must be called with l.mu held.
func (l *Lifecycle) transition(h *Handle, to State, reason error, after func()) {
	l.state = to
	h.enter(to)
	l.outbox = append(l.outbox, queuedNotification{
		n: Notification{
			Owner:  l.owner,
			State:  to,
			Record: h.Record(),
			Ref:    h.Ref(),
			Reason: reason,
			At:     l.clock.Now(),
		},
		after: after,
	})
}

// flush delivers queued notifications. Only one goroutine delivers at a time;
// others (including observers re-entering the lifecycle) just enqueue and
// leave the delivery to it.
func (l *Lifecycle) flush() {
	l.mu.Lock()
	if l.flushing {
		l.mu.Unlock()
		return
	}
	l.flushing = true
	for len(l.outbox) > 0 {
		q := l.outbox[0]
		l.outbox = l.outbox[1:]
		l.mu.Unlock()

		if l.deliver != nil {
			l.deliver(q.n)
		}
		if q.after != nil {
			q.after()
		}

		l.mu.Lock()
	}
	l.flushing = false
	l.mu.Unlock()
}

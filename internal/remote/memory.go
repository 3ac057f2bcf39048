package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"travellog/internal/travellog"
)

type txStatus int

const (
	txPending txStatus = iota
	txConfirmed
	txFailed
)

type memoryTx struct {
	owner    travellog.OwnerKey
	record   travellog.Record
	status   txStatus
	outcome  travellog.Confirmation
	watchers []chan travellog.Confirmation
}

// MemoryLedger is an in-memory simulated chain. Submissions are accepted
// immediately and confirmed after a delay measured on the injected clock,
// or only when Confirm is called in manual mode.
//
// It also carries hooks to simulate outages and rejections in tests.
type MemoryLedger struct {
	clock  travellog.Clock
	delay  time.Duration
	manual bool
	refs   travellog.IDGenerator

	mu          sync.Mutex
	records     map[travellog.OwnerKey][]travellog.Record
	txs         map[travellog.ExternalRef]*memoryTx
	block       int64
	nonce       uint64
	unavailable error
	rejectNext  error
	readGate    chan struct{}
	submitGate  chan struct{}
	listCalls   int
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithConfirmDelay sets how long after acceptance a write is confirmed.
func WithConfirmDelay(d time.Duration) MemoryOption {
	return func(l *MemoryLedger) { l.delay = d }
}

// WithManualConfirm disables automatic confirmation; call Confirm or Fail.
func WithManualConfirm() MemoryOption {
	return func(l *MemoryLedger) { l.manual = true }
}

// WithRefGenerator replaces transaction hashes with ids from g.
func WithRefGenerator(g travellog.IDGenerator) MemoryOption {
	return func(l *MemoryLedger) { l.refs = g }
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(clock travellog.Clock, opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		clock:   clock,
		records: make(map[travellog.OwnerKey][]travellog.Record),
		txs:     make(map[travellog.ExternalRef]*memoryTx),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Seed appends already confirmed records for owner.
func (l *MemoryLedger) Seed(owner travellog.OwnerKey, recs ...travellog.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range recs {
		r.Owner = owner
		l.records[owner] = append(l.records[owner], r)
	}
	l.block++
}

// SetUnavailable makes every call fail with a RemoteUnavailable error
// wrapping err. nil restores the ledger.
func (l *MemoryLedger) SetUnavailable(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = err
}

// RejectNext makes the next submission fail with err.
func (l *MemoryLedger) RejectNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectNext = err
}

// HoldReads delays ListRecords answers until the returned release func is
// called. The records are read before the hold, like a slow provider reply.
func (l *MemoryLedger) HoldReads() (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := make(chan struct{})
	l.readGate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.readGate == gate {
				l.readGate = nil
			}
			l.mu.Unlock()
			close(gate)
		})
	}
}

// HoldSubmissions blocks SubmitRecord until the returned release func is
// called.
func (l *MemoryLedger) HoldSubmissions() (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := make(chan struct{})
	l.submitGate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.submitGate == gate {
				l.submitGate = nil
			}
			l.mu.Unlock()
			close(gate)
		})
	}
}

// ListCalls returns how many times ListRecords reached the ledger.
func (l *MemoryLedger) ListCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listCalls
}

// PendingRefs returns the refs of submissions not yet settled.
func (l *MemoryLedger) PendingRefs() []travellog.ExternalRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	var refs []travellog.ExternalRef
	for ref, tx := range l.txs {
		if tx.status == txPending {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (l *MemoryLedger) ListRecords(ctx context.Context, owner travellog.OwnerKey) ([]travellog.Record, error) {
	l.mu.Lock()
	l.listCalls++
	if l.unavailable != nil {
		l.mu.Unlock()
		return nil, travellog.Unavailable("list records", l.unavailable)
	}
	out := make([]travellog.Record, len(l.records[owner]))
	copy(out, l.records[owner])
	gate := l.readGate
	l.mu.Unlock()

	// The answer reflects the ledger at read time even if it is held.
	if err := wait(ctx, gate); err != nil {
		return nil, travellog.Unavailable("list records", err)
	}
	return out, nil
}

func (l *MemoryLedger) SubmitRecord(ctx context.Context, owner travellog.OwnerKey, rec travellog.Record) (travellog.ExternalRef, error) {
	l.mu.Lock()
	gate := l.submitGate
	l.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return "", travellog.Unavailable("submit record", err)
	}

	l.mu.Lock()
	if l.unavailable != nil {
		err := l.unavailable
		l.mu.Unlock()
		return "", travellog.Unavailable("submit record", err)
	}
	if l.rejectNext != nil {
		err := l.rejectNext
		l.rejectNext = nil
		l.mu.Unlock()
		return "", travellog.Rejected("submit record", err)
	}

	l.nonce++
	var ref travellog.ExternalRef
	if l.refs != nil {
		ref = travellog.ExternalRef(l.refs.New())
	} else {
		ref = txHash(owner, rec, l.nonce)
	}
	rec.Owner = owner
	l.txs[ref] = &memoryTx{owner: owner, record: rec}
	manual, delay := l.manual, l.delay
	l.mu.Unlock()

	if !manual {
		timer := l.clock.After(delay)
		go func() {
			<-timer
			l.Confirm(ref)
		}()
	}
	return ref, nil
}

// Confirm seals a pending submission into a new block.
func (l *MemoryLedger) Confirm(ref travellog.ExternalRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[ref]
	if !ok {
		return fmt.Errorf("unknown transaction %s", ref)
	}
	if tx.status != txPending {
		return fmt.Errorf("transaction %s already settled", ref)
	}
	l.block++
	tx.status = txConfirmed
	tx.outcome = travellog.Confirmation{Ref: ref, Block: l.block}
	l.records[tx.owner] = append(l.records[tx.owner], tx.record)
	l.settle(tx)
	return nil
}

// Fail settles a pending submission as failed, e.g. reverted.
func (l *MemoryLedger) Fail(ref travellog.ExternalRef, reason error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[ref]
	if !ok {
		return fmt.Errorf("unknown transaction %s", ref)
	}
	if tx.status != txPending {
		return fmt.Errorf("transaction %s already settled", ref)
	}
	if reason == nil {
		reason = errors.New("transaction reverted")
	}
	tx.status = txFailed
	tx.outcome = travellog.Confirmation{Ref: ref, Err: reason}
	l.settle(tx)
	return nil
}

// settle must be called with l.mu held.
func (l *MemoryLedger) settle(tx *memoryTx) {
	for _, ch := range tx.watchers {
		ch <- tx.outcome
		close(ch)
	}
	tx.watchers = nil
}

func (l *MemoryLedger) Watch(ref travellog.ExternalRef) <-chan travellog.Confirmation {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan travellog.Confirmation, 1)
	tx, ok := l.txs[ref]
	switch {
	case !ok:
		ch <- travellog.Confirmation{Ref: ref, Err: fmt.Errorf("unknown transaction %s", ref)}
		close(ch)
	case tx.status != txPending:
		ch <- tx.outcome
		close(ch)
	default:
		tx.watchers = append(tx.watchers, ch)
	}
	return ch
}

func (l *MemoryLedger) Count(ctx context.Context, owner travellog.OwnerKey) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable != nil {
		return 0, travellog.Unavailable("count", l.unavailable)
	}
	return len(l.records[owner]), nil
}

// wait blocks until gate is closed or ctx is done. A nil gate is open.
func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ travellog.Remote = (*MemoryLedger)(nil)

package travellog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options tunes the synchronizer.
type Options struct {
	// SoftMaxAge is the staleness window: older cache entries trigger a
	// remote fetch.
	SoftMaxAge time.Duration
	// HardCeiling is the oldest data served as a fallback when the remote
	// cannot be reached.
	HardCeiling time.Duration
	// TxTimeout bounds both a remote fetch and a write from submission to
	// confirmation.
	TxTimeout time.Duration
	Ordering  Ordering
}

// DefaultOptions returns the defaults used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SoftMaxAge:  2 * time.Minute,
		HardCeiling: 5 * time.Minute,
		TxTimeout:   30 * time.Second,
		Ordering:    DefaultOrdering,
	}
}

// View is a read-only, sorted snapshot of an owner's records.
type View struct {
	Owner     OwnerKey
	Records   []Record
	FetchedAt time.Time
	// Stale is set when the remote could not be reached and older data is
	// served instead. Warning then carries a StaleDataServed error.
	Stale   bool
	Warning error
}

// ownerState is everything the synchronizer keeps for one owner.
type ownerState struct {
	lifecycle *Lifecycle

	// mu orders fetch results against confirmed writes. generation
	// changes whenever the owner's cache is invalidated.
	mu         sync.Mutex
	generation uint64
}

// Synchronizer keeps the local record store and cache in step with the
// remote and drives the per-owner transaction lifecycle. Owners never block
// each other.
type Synchronizer struct {
	store       RecordStore
	remote      Remote
	persistence Persistence
	cache       *Cache
	bus         *Bus
	clock       Clock
	idgen       IDGenerator
	logger      Logger
	opts        Options

	fetches singleflight.Group

	mu        sync.Mutex
	owners    map[OwnerKey]*ownerState
	observers []Observer
	current   OwnerKey
}

// NewSynchronizer creates a Synchronizer. persistence may be nil, in which
// case only the cache is used as a fallback.
func NewSynchronizer(store RecordStore, remote Remote, persistence Persistence, clock Clock, idgen IDGenerator, logger Logger, opts Options) *Synchronizer {
	def := DefaultOptions()
	if opts.SoftMaxAge <= 0 {
		opts.SoftMaxAge = def.SoftMaxAge
	}
	if opts.HardCeiling <= 0 {
		opts.HardCeiling = def.HardCeiling
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = def.TxTimeout
	}
	if opts.Ordering == "" {
		opts.Ordering = def.Ordering
	}
	if opts.HardCeiling < opts.SoftMaxAge {
		// Stale entries would never be served as a fallback.
		logger.Warn("hard ceiling below soft max age, raising it",
			"hard_ceiling", opts.HardCeiling, "soft_max_age", opts.SoftMaxAge)
		opts.HardCeiling = opts.SoftMaxAge
	}
	return &Synchronizer{
		store:       store,
		remote:      remote,
		persistence: persistence,
		cache:       NewCache(clock),
		bus:         NewBus(),
		clock:       clock,
		idgen:       idgen,
		logger:      logger,
		opts:        opts,
		owners:      make(map[OwnerKey]*ownerState),
	}
}

// Options returns the effective options.
func (s *Synchronizer) Options() Options { return s.opts }

// Cache exposes the cache for inspection. Mutate it only through the
// synchronizer.
func (s *Synchronizer) Cache() *Cache { return s.cache }

// Subscribe returns a stream of events of kind.
func (s *Synchronizer) Subscribe(kind EventKind) *Subscription {
	return s.bus.Subscribe(kind)
}

// Observe registers an observer for lifecycle notifications of all owners.
// Notifications are delivered synchronously, in transition order per owner.
func (s *Synchronizer) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Current returns the active owner, empty when logged out.
func (s *Synchronizer) Current() OwnerKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Pending returns the owner's in-flight write, if any.
func (s *Synchronizer) Pending(owner OwnerKey) (PendingWrite, bool) {
	return s.state(owner).lifecycle.Pending()
}

// LifecycleState returns the owner's current lifecycle state.
func (s *Synchronizer) LifecycleState(owner OwnerKey) State {
	return s.state(owner).lifecycle.State()
}

func (s *Synchronizer) state(owner OwnerKey) *ownerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.owners[owner]
	if !ok {
		st = &ownerState{}
		st.lifecycle = NewLifecycle(owner, s.clock, s.deliver)
		s.owners[owner] = st
	}
	return st
}

func (s *Synchronizer) deliver(n Notification) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.Notify(n)
	}
	s.bus.Publish(Event{Kind: EventLifecycle, Owner: n.Owner, At: n.At, Notification: n})
}

// Refresh returns the owner's records. A fresh cache entry is returned as
// is; otherwise the remote is fetched once for all concurrent callers and
// replaces the local view. When the remote is unreachable, data no older than
// the hard ceiling is served with Stale set.
func (s *Synchronizer) Refresh(ctx context.Context, owner OwnerKey) (*View, error) {
	if owner.IsZero() {
		return nil, &Error{Kind: KindInvalidInput, Op: "refresh", Err: errors.New("no owner")}
	}

	if !s.cache.IsStale(owner, s.opts.SoftMaxAge) {
		if e, ok := s.cache.Get(owner); ok {
			return &View{Owner: owner, Records: e.Records, FetchedAt: e.FetchedAt}, nil
		}
	}

	st := s.state(owner)
	st.mu.Lock()
	gen := st.generation
	st.mu.Unlock()

	// The fetch outlives callers that give up; it is bounded by TxTimeout.
	key := string(owner) + "#" + strconv.FormatUint(gen, 10)
	ch := s.fetches.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.TxTimeout)
		defer cancel()
		return s.fetch(fctx, owner, st, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		v := res.Val.(View)
		v.Records = cloneRecords(v.Records)
		return &v, nil
	case <-ctx.Done():
		return nil, &Error{Kind: KindCanceled, Op: "refresh", Owner: owner, Err: ctx.Err()}
	}
}

// Resync drops the owner's cache entry and refreshes from the remote.
func (s *Synchronizer) Resync(ctx context.Context, owner OwnerKey) (*View, error) {
	s.invalidate(owner)
	return s.Refresh(ctx, owner)
}

// RefreshAll refreshes several owners concurrently. The first error cancels
// the waiting of the others; fetches already started still complete.
func (s *Synchronizer) RefreshAll(ctx context.Context, owners []OwnerKey) (map[OwnerKey]*View, error) {
	views := make([]*View, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, owner := range owners {
		g.Go(func() error {
			v, err := s.Refresh(gctx, owner)
			if err != nil {
				return err
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[OwnerKey]*View, len(owners))
	for i, owner := range owners {
		out[owner] = views[i]
	}
	return out, nil
}

func (s *Synchronizer) fetch(ctx context.Context, owner OwnerKey, st *ownerState, gen uint64) (View, error) {
	remote, err := s.remote.ListRecords(ctx, owner)
	if err != nil {
		s.logger.Warn("remote fetch failed", "owner", owner, "error", err)
		return s.fallback(ctx, owner, err)
	}
	remote = adoptRemote(owner, remote)

	st.mu.Lock()
	if st.generation != gen {
		// A write was confirmed or the owner was reset while fetching; the
		// remote answer may predate it, so serve the local view instead.
		st.mu.Unlock()
		recs, err := s.store.List(ctx, owner, s.opts.Ordering)
		if err != nil {
			return View{}, fmt.Errorf("listing records: %w", err)
		}
		s.logger.Debug("discarded outdated fetch", "owner", owner)
		return View{Owner: owner, Records: recs, FetchedAt: s.clock.Now()}, nil
	}
	if err := s.store.Replace(ctx, owner, remote); err != nil {
		st.mu.Unlock()
		return View{}, fmt.Errorf("replacing records: %w", err)
	}
	recs, err := s.store.List(ctx, owner, s.opts.Ordering)
	if err != nil {
		st.mu.Unlock()
		return View{}, fmt.Errorf("listing records: %w", err)
	}
	entry := s.cache.Put(owner, recs)
	st.mu.Unlock()

	s.saveSnapshot(ctx, owner, entry)
	s.logger.Info("records refreshed", "owner", owner, "count", len(entry.Records))
	s.bus.Publish(Event{Kind: EventRefreshed, Owner: owner, At: s.clock.Now(), Count: len(entry.Records), FetchedAt: entry.FetchedAt})

	return View{Owner: owner, Records: entry.Records, FetchedAt: entry.FetchedAt}, nil
}

func (s *Synchronizer) saveSnapshot(ctx context.Context, owner OwnerKey, entry CacheEntry) {
	if s.persistence == nil {
		return
	}
	snap := Snapshot{Owner: owner, Records: entry.Records, SavedAt: entry.FetchedAt}
	if err := s.persistence.Save(ctx, owner, snap); err != nil {
		s.logger.Warn("saving snapshot failed", "owner", owner, "error", err)
	}
}

func (s *Synchronizer) fallback(ctx context.Context, owner OwnerKey, cause error) (View, error) {
	now := s.clock.Now()
	warning := &Error{Kind: KindStaleDataServed, Op: "refresh", Owner: owner, Err: cause}

	if e, ok := s.cache.Get(owner); ok && e.Age(now) <= s.opts.HardCeiling {
		s.logger.Warn("serving cached records", "owner", owner, "age", e.Age(now))
		return View{Owner: owner, Records: e.Records, FetchedAt: e.FetchedAt, Stale: true, Warning: warning}, nil
	}

	if s.persistence != nil {
		snap, err := s.persistence.Load(ctx, owner)
		switch {
		case err != nil:
			s.logger.Warn("loading snapshot failed", "owner", owner, "error", err)
		case snap != nil && now.Sub(snap.SavedAt) <= s.opts.HardCeiling:
			recs := cloneRecords(snap.Records)
			SortRecords(recs, s.opts.Ordering)
			s.logger.Warn("serving snapshot records", "owner", owner, "age", now.Sub(snap.SavedAt))
			return View{Owner: owner, Records: recs, FetchedAt: snap.SavedAt, Stale: true, Warning: warning}, nil
		}
	}

	return View{}, &Error{Kind: KindRemoteUnavailable, Op: "refresh", Owner: owner, Err: cause}
}

// adoptRemote scopes remote records to owner and gives id-less records a
// surrogate id derived from their content, suffixed on collision.
func adoptRemote(owner OwnerKey, recs []Record) []Record {
	out := make([]Record, 0, len(recs))
	seen := make(map[string]int, len(recs))
	for _, r := range recs {
		r = Normalize(r)
		r.Owner = owner
		if r.ID == "" {
			r.ID = r.NaturalKey()
		}
		if n := seen[r.ID]; n > 0 {
			seen[r.ID] = n + 1
			r.ID = fmt.Sprintf("%s-%d", r.ID, n+1)
		} else {
			seen[r.ID] = 1
		}
		out = append(out, r)
	}
	return out
}

// Submit validates rec and starts writing it to the remote for owner.
//
// Submit returns once the remote has accepted the write (the handle is then
// AwaitingConfirmation) or the write has failed. Confirmation is awaited in
// the background; use the handle to wait for it. When the write fails before
// being accepted, the handle is returned together with the error. Validation
// errors and AlreadyInFlight return a nil handle and leave the lifecycle
// untouched.
func (s *Synchronizer) Submit(ctx context.Context, owner OwnerKey, rec Record) (*Handle, error) {
	rec.Owner = owner
	rec = Normalize(rec)
	if err := Validate(rec, s.clock.Now()); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = s.idgen.New()
	}

	st := s.state(owner)
	h, err := st.lifecycle.Begin(rec)
	if err != nil {
		return nil, err
	}
	deadline := s.clock.After(s.opts.TxTimeout)
	s.logger.Info("submitting record", "owner", owner, "id", rec.ID, "country", rec.Country, "city", rec.City, "date", rec.Date())

	type submitted struct {
		ref ExternalRef
		err error
	}
	accepted := make(chan submitted, 1)
	go func() {
		ref, err := s.remote.SubmitRecord(context.WithoutCancel(ctx), owner, rec)
		accepted <- submitted{ref: ref, err: err}
	}()

	var ref ExternalRef
	select {
	case res := <-accepted:
		if res.err != nil {
			kind := KindRemoteRejected
			if KindOf(res.err) == KindRemoteUnavailable {
				kind = KindRemoteUnavailable
			}
			e := &Error{Kind: kind, Op: "submit", Owner: owner, Err: res.err}
			s.logger.Warn("submission failed", "owner", owner, "id", rec.ID, "error", res.err)
			st.lifecycle.Fail(h, e)
			return h, e
		}
		ref = res.ref
	case <-deadline:
		e := &Error{Kind: KindTimeout, Op: "submit", Owner: owner, Err: fmt.Errorf("not accepted within %s", s.opts.TxTimeout)}
		s.logger.Warn("submission timed out", "owner", owner, "id", rec.ID)
		st.lifecycle.Fail(h, e)
		return h, e
	case <-ctx.Done():
		e := &Error{Kind: KindCanceled, Op: "submit", Owner: owner, Err: ctx.Err()}
		s.logger.Warn("submission canceled", "owner", owner, "id", rec.ID)
		st.lifecycle.Fail(h, e)
		return h, e
	}

	if !st.lifecycle.Accept(h, ref) {
		// Abandoned while the remote was deciding.
		return h, h.Err()
	}
	s.logger.Info("submission accepted", "owner", owner, "id", rec.ID, "ref", ref)

	go s.awaitConfirmation(st, h, ref, deadline)
	return h, nil
}

func (s *Synchronizer) awaitConfirmation(st *ownerState, h *Handle, ref ExternalRef, deadline <-chan time.Time) {
	owner := h.Owner()
	watch := s.remote.Watch(ref)

	select {
	case c, ok := <-watch:
		if !ok {
			c = Confirmation{Ref: ref, Err: errors.New("confirmation stream closed")}
		}
		if c.Err != nil {
			s.logger.Warn("confirmation failed", "owner", owner, "ref", ref, "error", c.Err)
			st.lifecycle.Fail(h, &Error{Kind: KindRemoteRejected, Op: "confirm", Owner: owner, Err: c.Err})
			return
		}
		ok = st.lifecycle.Confirm(h, func(rec Record) (Record, error) {
			st.mu.Lock()
			defer st.mu.Unlock()

			stored, err := s.store.Append(context.Background(), rec)
			if err != nil {
				return Record{}, fmt.Errorf("appending confirmed record: %w", err)
			}
			s.cache.Invalidate(owner)
			st.generation++
			return stored, nil
		})
		if ok {
			s.logger.Info("record confirmed", "owner", owner, "ref", ref, "block", c.Block)
		}
	case <-deadline:
		s.logger.Warn("confirmation timed out", "owner", owner, "ref", ref)
		st.lifecycle.Fail(h, &Error{Kind: KindTimeout, Op: "confirm", Owner: owner,
			Err: fmt.Errorf("not confirmed within %s", s.opts.TxTimeout)})
	}
}

// Remove deletes a record from the local view of owner. The remote keeps
// it, so the next fetch brings it back.
func (s *Synchronizer) Remove(ctx context.Context, owner OwnerKey, id string) (bool, error) {
	st := s.state(owner)
	st.mu.Lock()
	defer st.mu.Unlock()

	removed, err := s.store.Remove(ctx, owner, id)
	if err != nil {
		return false, fmt.Errorf("removing record: %w", err)
	}
	if removed {
		s.cache.removeRecord(owner, id)
	}
	return removed, nil
}

// Count returns the owner's record count from the remote, or from the
// local store when the remote cannot be reached.
func (s *Synchronizer) Count(ctx context.Context, owner OwnerKey) (int, error) {
	n, err := s.remote.Count(ctx, owner)
	if err == nil {
		return n, nil
	}
	s.logger.Warn("remote count failed", "owner", owner, "error", err)

	n, lerr := s.store.Count(ctx, owner)
	if lerr != nil {
		return 0, fmt.Errorf("counting records: %w", lerr)
	}
	return n, nil
}

// List returns the local view of owner without contacting the remote.
func (s *Synchronizer) List(ctx context.Context, owner OwnerKey, order Ordering) ([]Record, error) {
	if order == "" {
		order = s.opts.Ordering
	}
	recs, err := s.store.List(ctx, owner, order)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return recs, nil
}

// OnOwnerChanged switches the active owner. The previous owner's cache entry
// is dropped and its pending write abandoned. Switching to the empty owner
// also clears the previous owner's local records.
func (s *Synchronizer) OnOwnerChanged(ctx context.Context, owner OwnerKey) error {
	s.mu.Lock()
	prev := s.current
	s.current = owner
	s.mu.Unlock()

	if !prev.IsZero() && prev != owner {
		s.invalidate(prev)
		s.state(prev).lifecycle.Abandon(&Error{Kind: KindCanceled, Op: "owner changed", Owner: prev,
			Err: errors.New("owner changed")})

		if owner.IsZero() {
			if err := s.store.Clear(ctx, prev); err != nil {
				return fmt.Errorf("clearing records: %w", err)
			}
		}
	}

	s.logger.Info("owner changed", "previous", prev, "owner", owner)
	s.bus.Publish(Event{Kind: EventOwnerChanged, Owner: owner, Previous: prev, At: s.clock.Now()})
	return nil
}

func (s *Synchronizer) invalidate(owner OwnerKey) {
	st := s.state(owner)
	st.mu.Lock()
	defer st.mu.Unlock()
	s.cache.Invalidate(owner)
	st.generation++
}

package travellog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travellog/internal/testutil"
	"travellog/internal/travellog"
)

func newLifecycle(t *testing.T) (*travellog.Lifecycle, *recorder) {
	t.Helper()
	obs := &recorder{}
	return travellog.NewLifecycle(alice, testutil.FixedClock(), obs.Notify), obs
}

func lome(t *testing.T) travellog.Record {
	return travellog.NewRecord(alice, "Togo", "Lomé", date(t, "2024-01-01"))
}

func TestLifecycle_HappyPath(t *testing.T) {
	l, obs := newLifecycle(t)

	h, err := l.Begin(lome(t))
	require.NoError(t, err)
	assert.Equal(t, travellog.StateSubmitting, l.State())

	require.True(t, l.Accept(h, "0xfeed"))
	assert.Equal(t, travellog.StateAwaitingConfirmation, l.State())

	committed := false
	ok := l.Confirm(h, func(rec travellog.Record) (travellog.Record, error) {
		committed = true
		rec.Sequence = 7
		return rec, nil
	})
	require.True(t, ok)
	assert.True(t, committed)
	assert.Equal(t, travellog.StateIdle, l.State())
	assert.Equal(t, int64(7), h.Record().Sequence)
	assert.Equal(t, travellog.ExternalRef("0xfeed"), h.Ref())
	assert.NoError(t, h.Err())

	assert.Equal(t, []travellog.State{
		travellog.StateSubmitting,
		travellog.StateAwaitingConfirmation,
		travellog.StateConfirmed,
		travellog.StateIdle,
	}, obs.states())
}

func TestLifecycle_CommitFailure(t *testing.T) {
	l, _ := newLifecycle(t)
	h, err := l.Begin(lome(t))
	require.NoError(t, err)
	require.True(t, l.Accept(h, "0xfeed"))

	ok := l.Confirm(h, func(travellog.Record) (travellog.Record, error) {
		return travellog.Record{}, errors.New("disk full")
	})
	assert.False(t, ok)
	assert.Equal(t, travellog.StateFailed, h.State())
	assert.EqualError(t, h.Err(), "disk full")
}

func TestLifecycle_StaleHandle(t *testing.T) {
	l, _ := newLifecycle(t)
	h, err := l.Begin(lome(t))
	require.NoError(t, err)

	require.True(t, l.Fail(h, errors.New("boom")))
	assert.False(t, l.Accept(h, "0xfeed"), "accept after failure")
	assert.False(t, l.Fail(h, errors.New("again")))
	assert.False(t, l.Confirm(h, func(r travellog.Record) (travellog.Record, error) {
		t.Fatal("commit must not run for a settled handle")
		return r, nil
	}))

	next, err := l.Begin(lome(t))
	require.NoError(t, err)
	assert.False(t, l.Accept(h, "0xfeed"), "old handle cannot move the new write")
	assert.True(t, l.Accept(next, "0xbeef"))
}

func TestLifecycle_ConfirmRequiresAcceptance(t *testing.T) {
	l, _ := newLifecycle(t)
	h, err := l.Begin(lome(t))
	require.NoError(t, err)

	assert.False(t, l.Confirm(h, func(r travellog.Record) (travellog.Record, error) { return r, nil }))
	assert.Equal(t, travellog.StateSubmitting, l.State())
}

func TestLifecycle_Abandon(t *testing.T) {
	l, obs := newLifecycle(t)
	l.Abandon(errors.New("nothing pending"))
	assert.Empty(t, obs.states())

	h, err := l.Begin(lome(t))
	require.NoError(t, err)
	require.True(t, l.Accept(h, "0xfeed"))

	l.Abandon(errors.New("logged out"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = h.Wait(ctx)
	assert.EqualError(t, err, "logged out")

	_, ok := l.Pending()
	assert.False(t, ok)
}

func TestLifecycle_Pending(t *testing.T) {
	l, _ := newLifecycle(t)
	_, ok := l.Pending()
	assert.False(t, ok)

	h, err := l.Begin(lome(t))
	require.NoError(t, err)
	require.True(t, l.Accept(h, "0xfeed"))

	p, ok := l.Pending()
	require.True(t, ok)
	assert.Equal(t, travellog.StateAwaitingConfirmation, p.State)
	assert.Equal(t, travellog.ExternalRef("0xfeed"), p.Ref)
	assert.Equal(t, h.SubmittedAt(), p.SubmittedAt)
	assert.Equal(t, "Lomé", p.Record.City)
}

func TestLifecycle_WaitCanceled(t *testing.T) {
	l, _ := newLifecycle(t)
	h, err := l.Begin(lome(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, travellog.StateSubmitting, l.State(), "abandoning the wait leaves the write alone")
}

// An observer that starts a new write while the previous one is finishing
// sees its notifications after the previous Idle.
func TestLifecycle_ReentrantObserverKeepsOrder(t *testing.T) {
	var l *travellog.Lifecycle
	var states []travellog.State
	began := false
	l = travellog.NewLifecycle(alice, testutil.FixedClock(), func(n travellog.Notification) {
		states = append(states, n.State)
		if n.State == travellog.StateFailed && !began {
			began = true
			_, err := l.Begin(n.Record)
			require.NoError(t, err)
		}
	})

	h, err := l.Begin(lome(t))
	require.NoError(t, err)
	l.Fail(h, errors.New("boom"))

	assert.Equal(t, []travellog.State{
		travellog.StateSubmitting,
		travellog.StateFailed,
		travellog.StateIdle,
		travellog.StateSubmitting,
	}, states)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    travellog.State
		want     string
		terminal bool
	}{
		{travellog.StateIdle, "idle", false},
		{travellog.StateSubmitting, "submitting", false},
		{travellog.StateAwaitingConfirmation, "awaiting-confirmation", false},
		{travellog.StateConfirmed, "confirmed", true},
		{travellog.StateFailed, "failed", true},
		{travellog.State(42), "state(42)", false},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("State(%d).Terminal() = %v, want %v", int(tt.state), got, tt.terminal)
		}
	}
}

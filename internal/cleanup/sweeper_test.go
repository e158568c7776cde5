package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type recordingReaper struct {
	mu           sync.Mutex
	markCutoffs  []time.Time
	purgeCutoffs []time.Time
	orphanCalls  int
	markErr      error
	purgeErr     error
	orphanErr    error
	swept        chan struct{}
}

func newRecordingReaper() *recordingReaper {
	return &recordingReaper{swept: make(chan struct{}, 16)}
}

func (r *recordingReaper) MarkOverdueExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markCutoffs = append(r.markCutoffs, cutoff)
	return 1, r.markErr
}

func (r *recordingReaper) PurgeDeadSessions(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeCutoffs = append(r.purgeCutoffs, cutoff)
	return 1, r.purgeErr
}

func (r *recordingReaper) PurgeOrphanedArtifacts(_ context.Context) (int64, error) {
	r.mu.Lock()
	r.orphanCalls++
	r.mu.Unlock()
	r.swept <- struct{}{}
	return 0, r.orphanErr
}

func (r *recordingReaper) snapshot() ([]time.Time, []time.Time, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.markCutoffs...), append([]time.Time(nil), r.purgeCutoffs...), r.orphanCalls
}

func TestSweepMarksThenPurgesWithGrace(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0).UTC())
	reaper := newRecordingReaper()
	sweeper := NewSweeper(reaper, clock, nil, time.Hour, 30*time.Minute)

	sweeper.Sweep(context.Background())

	marks, purges, orphans := reaper.snapshot()
	require.Len(t, marks, 1)
	require.Len(t, purges, 1)
	require.Equal(t, 1, orphans)
	require.Equal(t, clock.Now(), marks[0])
	require.Equal(t, clock.Now().Add(-30*time.Minute), purges[0])
}

func TestSweepContinuesPastMarkFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0).UTC())
	reaper := newRecordingReaper()
	reaper.markErr = errors.New("db unavailable")
	sweeper := NewSweeper(reaper, clock, nil, time.Hour, 30*time.Minute)

	sweeper.Sweep(context.Background())

	_, purges, orphans := reaper.snapshot()
	require.Len(t, purges, 1, "purge should still run after a mark failure")
	require.Equal(t, 1, orphans, "orphan pass should still run after a mark failure")
}

func TestSweepContinuesPastPurgeFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0).UTC())
	reaper := newRecordingReaper()
	reaper.purgeErr = errors.New("db unavailable")
	sweeper := NewSweeper(reaper, clock, nil, time.Hour, 30*time.Minute)

	sweeper.Sweep(context.Background())

	_, _, orphans := reaper.snapshot()
	require.Equal(t, 1, orphans, "orphan pass should still run after a purge failure")
}

func TestStartSweepsOnEachTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0).UTC())
	reaper := newRecordingReaper()
	sweeper := NewSweeper(reaper, clock, nil, time.Hour, 30*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	select {
	case <-reaper.swept:
	case <-time.After(time.Second):
		t.Fatal("expected a sweep after the first tick")
	}

	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	select {
	case <-reaper.swept:
	case <-time.After(time.Second):
		t.Fatal("expected a sweep after the second tick")
	}

	sweeper.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0).UTC())
	reaper := newRecordingReaper()
	sweeper := NewSweeper(reaper, clock, nil, time.Hour, 30*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}

package typing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/broadcast"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

func recv(t *testing.T, w *Watcher) []string {
	t.Helper()
	select {
	case v, ok := <-w.C():
		require.True(t, ok, "watcher ended: %v", w.Err())
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing set")
	}
	return nil
}

func TestActiveExcludesViewerAndStale(t *testing.T) {
	clock := timeutil.NewManualClock(time.Unix(1_700_000_000, 0))
	defer timeutil.SetClock(clock.Now)()

	r := New(3 * time.Second)
	defer r.Close()

	r.SetTyping("c", "S")
	r.SetTyping("c", "T")
	assert.Equal(t, []string{"T"}, r.Active("c", "S", clock.Now()))
	assert.Equal(t, []string{"S", "T"}, r.Active("c", "X", clock.Now()))

	clock.Advance(2 * time.Second)
	r.SetTyping("c", "T") // refresh
	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"T"}, r.Active("c", "X", clock.Now()), "S went stale, T was refreshed")

	clock.Advance(2 * time.Second)
	assert.Empty(t, r.Active("c", "X", clock.Now()))
}

func TestClearTyping(t *testing.T) {
	r := New(time.Minute)
	defer r.Close()

	r.SetTyping("c", "S")
	r.ClearTyping("c", "S")
	r.ClearTyping("c", "S")
	r.ClearTyping("missing", "S")
	assert.Empty(t, r.Active("c", "T", timeutil.Now()))
}

func TestSweepRemovesOnlyStale(t *testing.T) {
	clock := timeutil.NewManualClock(time.Unix(1_700_000_000, 0))
	defer timeutil.SetClock(clock.Now)()

	r := New(3 * time.Second)
	defer r.Close()
	r.SetTyping("c1", "S")
	clock.Advance(2 * time.Second)
	r.SetTyping("c2", "T")
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, r.Sweep(clock.Now()))
	assert.Equal(t, []string{"T"}, r.Active("c2", "S", clock.Now()))
	assert.Equal(t, 0, r.Sweep(clock.Now()))
}

func TestWatcherSeesChangesAndExpiry(t *testing.T) {
	r := New(150 * time.Millisecond)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := r.Subscribe(ctx, "c", "S")
	assert.Empty(t, recv(t, w))

	r.SetTyping("c", "S") // own record never shows
	r.SetTyping("c", "T")
	assert.Equal(t, []string{"T"}, recv(t, w))

	// not refreshed: drops out once stale without any further calls
	start := time.Now()
	assert.Empty(t, recv(t, w))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	r.SetTyping("c", "T")
	assert.Equal(t, []string{"T"}, recv(t, w))
	r.ClearTyping("c", "T")
	assert.Empty(t, recv(t, w))
}

func TestWatcherSnapshotIncludesExisting(t *testing.T) {
	r := New(time.Minute)
	defer r.Close()
	r.SetTyping("c", "T")

	w := r.Subscribe(context.Background(), "c", "S")
	defer w.Close()
	assert.Equal(t, []string{"T"}, recv(t, w))
}

func TestWatcherEndsOnCancelAndClose(t *testing.T) {
	r := New(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	w := r.Subscribe(ctx, "c", "S")
	recv(t, w)
	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not released")
	}
	assert.NoError(t, w.Err())

	w2 := r.Subscribe(context.Background(), "c", "S")
	recv(t, w2)
	r.Close()
	select {
	case <-w2.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not ended by Close")
	}
	assert.ErrorIs(t, w2.Err(), broadcast.ErrClosed)
}

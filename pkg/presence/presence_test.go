package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/store"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

func newRegister(t *testing.T) *Register {
	t.Helper()
	r := New(nil, 16)
	t.Cleanup(r.Close)
	return r
}

func recv(t *testing.T, s *Subscription) []models.Presence {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok, "stream ended: %v", s.Err())
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence")
	}
	return nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestGoOnlineGoOffline(t *testing.T) {
	clock := timeutil.NewManualClock(time.UnixMilli(1_000))
	defer timeutil.SetClock(clock.Now)()
	r := newRegister(t)

	assert.False(t, r.Get("u").Online)

	r.GoOnline("u")
	p := r.Get("u")
	assert.True(t, p.Online)
	assert.Equal(t, int64(1_000), p.LastSeen)

	clock.Advance(time.Second)
	r.GoOffline("u")
	p = r.Get("u")
	assert.False(t, p.Online)
	assert.Equal(t, int64(2_000), p.LastSeen)
}

func TestBindGoesOfflineWhenConnectionEnds(t *testing.T) {
	r := newRegister(t)
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind(ctx, "u")
	assert.True(t, r.Get("u").Online)

	// unclean disconnect: only the connection context ends
	cancel()
	eventually(t, func() bool { return !r.Get("u").Online })
}

func TestTwoConnectionsStayOnlineUntilBothEnd(t *testing.T) {
	r := newRegister(t)
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	r.Bind(ctx1, "u")
	release2 := r.Bind(ctx2, "u")

	cancel1()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, r.Get("u").Online)

	release2()
	release2()
	assert.False(t, r.Get("u").Online)
	assert.Equal(t, 0, r.Online())
}

func TestGoOfflineInvalidatesLeases(t *testing.T) {
	r := newRegister(t)
	l := r.GoOnline("u")
	r.GoOffline("u")
	assert.False(t, r.Get("u").Online)

	l2 := r.GoOnline("u")
	l.Release()
	assert.True(t, r.Get("u").Online, "stale lease must not flip a newer session")
	l2.Release()
	assert.False(t, r.Get("u").Online)
}

func TestSubscribeSnapshotAndFlips(t *testing.T) {
	r := newRegister(t)
	r.GoOnline("a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := r.Subscribe(ctx, []string{"b", "a", "a"})

	snap := recv(t, sub)
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].UserID)
	assert.True(t, snap[0].Online)
	assert.Equal(t, "b", snap[1].UserID)
	assert.False(t, snap[1].Online)

	r.GoOnline("other")
	lb := r.GoOnline("b")
	flip := recv(t, sub)
	require.Len(t, flip, 1)
	assert.Equal(t, models.Presence{UserID: "b", Online: true, LastSeen: flip[0].LastSeen}, flip[0])

	lb.Release()
	flip = recv(t, sub)
	assert.False(t, flip[0].Online)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not released")
	}
	assert.NoError(t, sub.Err())
}

func TestLastSeenPersisted(t *testing.T) {
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	clock := timeutil.NewManualClock(time.UnixMilli(5_000))
	defer timeutil.SetClock(clock.Now)()

	r := New(st, 16)
	r.GoOnline("u").Release()
	r.Close()

	// a fresh register (process restart) still knows lastSeen
	r2 := New(st, 16)
	defer r2.Close()
	p := r2.Get("u")
	assert.False(t, p.Online)
	assert.Equal(t, int64(5_000), p.LastSeen)

	sub := r2.Subscribe(context.Background(), []string{"u"})
	defer sub.Close()
	snap := recv(t, sub)
	assert.Equal(t, int64(5_000), snap[0].LastSeen)
}

func TestConcurrentBindRelease(t *testing.T) {
	r := newRegister(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			release := r.Bind(ctx, "u")
			cancel()
			release()
		}()
	}
	wg.Wait()
	eventually(t, func() bool { return !r.Get("u").Online })
}

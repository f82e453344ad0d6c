// Package typing holds ephemeral "is typing" records per conversation.
// A record older than the staleness window counts as absent everywhere it
// is read; Sweep only reclaims memory.
package typing

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/broadcast"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/telemetry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

const DefaultWindow = 3 * time.Second

// Record is one typing marker. Cleared records only travel on streams.
type Record struct {
	UserID  string
	Since   time.Time
	Cleared bool
}

type Register struct {
	window time.Duration

	mu     sync.Mutex
	convs  map[string]map[string]time.Time
	topics *broadcast.Registry[[]Record]
}

func New(window time.Duration) *Register {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Register{
		window: window,
		convs:  make(map[string]map[string]time.Time),
		topics: broadcast.NewRegistry[[]Record]("typing"),
	}
}

func (r *Register) Window() time.Duration { return r.window }

// SetTyping upserts the record of userID in convID to now.
func (r *Register) SetTyping(convID, userID string) {
	now := timeutil.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.convs[convID]
	if !ok {
		users = make(map[string]time.Time)
		r.convs[convID] = users
	}
	if _, exists := users[userID]; !exists {
		telemetry.TypingRecords.Inc()
	}
	users[userID] = now
	r.topics.Publish(convID, []Record{{UserID: userID, Since: now}})
}

// ClearTyping deletes the record. Clearing an absent record is a no-op.
func (r *Register) ClearTyping(convID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.convs[convID]
	if !ok {
		return
	}
	if _, exists := users[userID]; !exists {
		return
	}
	r.deleteLocked(convID, users, userID)
	r.topics.Publish(convID, []Record{{UserID: userID, Cleared: true}})
}

func (r *Register) deleteLocked(convID string, users map[string]time.Time, userID string) {
	delete(users, userID)
	telemetry.TypingRecords.Dec()
	if len(users) == 0 {
		delete(r.convs, convID)
	}
}

// Active returns the sorted ids of users other than viewerID whose record
// in convID is fresh at now.
func (r *Register) Active(convID, viewerID string, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, _ := evaluate(r.convs[convID], viewerID, now, r.window)
	return active
}

// Sweep drops records that are stale at now and returns how many it
// removed.
func (r *Register) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for convID, users := range r.convs {
		for uid, since := range users {
			if now.Sub(since) >= r.window {
				r.deleteLocked(convID, users, uid)
				n++
			}
		}
	}
	if n > 0 {
		logger.Debug("typing_swept", "removed", n)
	}
	return n
}

// Prune stops streams of conversations nobody watches.
func (r *Register) Prune() int {
	return r.topics.Prune()
}

func (r *Register) Close() {
	r.topics.Close()
}

// evaluate returns the fresh records other than viewer's and the earliest
// time one of them goes stale (zero when none are fresh).
func evaluate(users map[string]time.Time, viewer string, now time.Time, window time.Duration) ([]string, time.Time) {
	active := []string{}
	var next time.Time
	for uid, since := range users {
		if uid == viewer {
			continue
		}
		expires := since.Add(window)
		if !now.Before(expires) {
			continue
		}
		active = append(active, uid)
		if next.IsZero() || expires.Before(next) {
			next = expires
		}
	}
	sort.Strings(active)
	return active, next
}

// Watcher streams the set of other users typing in one conversation. C
// always holds the latest set; intermediate sets may be skipped.
type Watcher struct {
	inner  *broadcast.Subscription[[]Record]
	viewer string
	window time.Duration
	out    chan []string
	done   chan struct{}
	err    error
}

func (w *Watcher) C() <-chan []string { return w.out }

func (w *Watcher) Done() <-chan struct{} { return w.done }

// Err reports why the stream ended on its own (broadcast.ErrClosed or
// broadcast.ErrLagged); nil after cancellation.
func (w *Watcher) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (w *Watcher) Close() { w.inner.Close() }

// Subscribe watches convID on behalf of viewerID until ctx is done. The
// first value is the current set; later values are sent whenever the set
// changes, including when a record goes stale.
func (r *Register) Subscribe(ctx context.Context, convID, viewerID string) *Watcher {
	r.mu.Lock()
	snap := make([]Record, 0, len(r.convs[convID]))
	for uid, since := range r.convs[convID] {
		snap = append(snap, Record{UserID: uid, Since: since})
	}
	// the stream only carries single records after the snapshot, so a
	// small buffer is enough to absorb bursts of keystrokes
	inner := r.topics.Subscribe(convID, snap, 256)
	r.mu.Unlock()

	w := &Watcher{
		inner:  inner,
		viewer: viewerID,
		window: r.window,
		out:    make(chan []string, 1),
		done:   make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *Watcher) run(ctx context.Context) {
	defer func() {
		w.err = w.inner.Err()
		close(w.out)
		close(w.done)
	}()

	records := make(map[string]time.Time)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var last []string
	first := true
	for {
		select {
		case <-ctx.Done():
			w.inner.Close()
			for range w.inner.C() {
			}
			return
		case batch, ok := <-w.inner.C():
			if !ok {
				return
			}
			for _, rec := range batch {
				if rec.Cleared {
					delete(records, rec.UserID)
				} else {
					records[rec.UserID] = rec.Since
				}
			}
		case <-timer.C:
		}

		now := timeutil.Now()
		active, next := evaluate(records, w.viewer, now, w.window)
		for uid, since := range records {
			if !now.Before(since.Add(w.window)) {
				delete(records, uid)
			}
		}
		timer.Stop()
		if !next.IsZero() {
			timer.Reset(next.Sub(now))
		}
		if !first && slices.Equal(active, last) {
			continue
		}
		first = false
		last = active
		w.publish(active)
	}
}

// publish replaces whatever the consumer has not read yet.
func (w *Watcher) publish(active []string) {
	select {
	case w.out <- active:
		return
	default:
	}
	select {
	case <-w.out:
	default:
	}
	w.out <- active
}

// Package presence tracks which users have a live connection.
//
// A user is online while at least one lease is held. Leases are normally
// tied to a connection through Bind, so a dropped connection releases its
// lease without any heartbeat.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/broadcast"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/telemetry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

// LastSeenStore persists lastSeen so it survives restarts. Optional.
type LastSeenStore interface {
	SaveLastSeen(userID string, ts int64) error
	LoadLastSeen(userID string) (int64, bool, error)
}

type entry struct {
	leases   map[*Lease]struct{}
	lastSeen int64
}

type Register struct {
	persist LastSeenStore
	buffer  int

	mu    sync.Mutex
	users map[string]*entry
	topic *broadcast.Topic[[]models.Presence]
}

func New(persist LastSeenStore, buffer int) *Register {
	if buffer <= 0 {
		buffer = 64
	}
	return &Register{
		persist: persist,
		buffer:  buffer,
		users:   make(map[string]*entry),
		topic:   broadcast.NewTopic[[]models.Presence]("presence"),
	}
}

// Lease keeps its user online until released.
type Lease struct {
	r    *Register
	user string
	once sync.Once
}

// Release drops the lease; the user goes offline when it was the last one.
func (l *Lease) Release() {
	l.once.Do(func() { l.r.release(l) })
}

func (r *Register) entryLocked(user string) *entry {
	e, ok := r.users[user]
	if !ok {
		e = &entry{leases: make(map[*Lease]struct{})}
		r.users[user] = e
	}
	return e
}

// GoOnline marks user online and returns the lease that keeps it so.
func (r *Register) GoOnline(user string) *Lease {
	l := &Lease{r: r, user: user}
	now := timeutil.Now().UnixMilli()

	r.mu.Lock()
	e := r.entryLocked(user)
	wasOnline := len(e.leases) > 0
	e.leases[l] = struct{}{}
	e.lastSeen = now
	if !wasOnline {
		telemetry.OnlineUsers.Inc()
		r.topic.Publish([]models.Presence{{UserID: user, Online: true, LastSeen: now}})
	}
	r.mu.Unlock()

	r.save(user, now)
	if !wasOnline {
		logger.Info("presence_online", "user", user)
	}
	return l
}

// Bind keeps user online for the lifetime of ctx, normally a connection's
// context. The returned func releases early and is safe to call twice.
func (r *Register) Bind(ctx context.Context, user string) (release func()) {
	l := r.GoOnline(user)
	go func() {
		<-ctx.Done()
		l.Release()
	}()
	return l.Release
}

// GoOffline forces user offline, invalidating every outstanding lease.
func (r *Register) GoOffline(user string) {
	now := timeutil.Now().UnixMilli()
	r.mu.Lock()
	e := r.entryLocked(user)
	wasOnline := len(e.leases) > 0
	e.lastSeen = now
	if wasOnline {
		e.leases = make(map[*Lease]struct{})
		r.offlineLocked(user, e, now)
	}
	r.mu.Unlock()

	r.save(user, now)
	if wasOnline {
		logger.Info("presence_offline", "user", user, "forced", true)
	}
}

func (r *Register) release(l *Lease) {
	now := timeutil.Now().UnixMilli()
	r.mu.Lock()
	e, ok := r.users[l.user]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, held := e.leases[l]; !held {
		r.mu.Unlock()
		return
	}
	delete(e.leases, l)
	e.lastSeen = now
	offline := len(e.leases) == 0
	if offline {
		r.offlineLocked(l.user, e, now)
	}
	r.mu.Unlock()

	r.save(l.user, now)
	if offline {
		logger.Info("presence_offline", "user", l.user)
	}
}

func (r *Register) offlineLocked(user string, e *entry, now int64) {
	e.lastSeen = now
	telemetry.OnlineUsers.Dec()
	r.topic.Publish([]models.Presence{{UserID: user, Online: false, LastSeen: now}})
}

func (r *Register) save(user string, ts int64) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveLastSeen(user, ts); err != nil {
		logger.Warn("presence_save_failed", "user", user, "error", err)
	}
}

// Get returns the current state of user. Unknown users are offline with
// the persisted lastSeen, if any.
func (r *Register) Get(user string) models.Presence {
	r.mu.Lock()
	e, ok := r.users[user]
	if ok {
		p := models.Presence{UserID: user, Online: len(e.leases) > 0, LastSeen: e.lastSeen}
		r.mu.Unlock()
		return p
	}
	r.mu.Unlock()

	p := models.Presence{UserID: user}
	if r.persist != nil {
		ts, found, err := r.persist.LoadLastSeen(user)
		if err != nil {
			logger.Warn("presence_load_failed", "user", user, "error", err)
		} else if found {
			p.LastSeen = ts
		}
	}
	return p
}

// GetMany returns the state of each user, sorted by user id.
func (r *Register) GetMany(users []string) []models.Presence {
	ids := dedupe(users)
	out := make([]models.Presence, 0, len(ids))
	for _, u := range ids {
		out = append(out, r.Get(u))
	}
	return out
}

// Subscription delivers the state of every watched user first, then each
// flip of a watched user.
type Subscription struct {
	inner *broadcast.Subscription[[]models.Presence]
	want  map[string]bool
	out   chan []models.Presence
	done  chan struct{}
	err   error
}

func (s *Subscription) C() <-chan []models.Presence { return s.out }

// Done is closed once C has been closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports broadcast.ErrLagged or broadcast.ErrClosed after the stream
// ended on its own, nil after cancellation.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) Close() { s.inner.Close() }

// Subscribe watches users until ctx is done.
func (r *Register) Subscribe(ctx context.Context, users []string) *Subscription {
	ids := dedupe(users)
	want := make(map[string]bool, len(ids))
	for _, u := range ids {
		want[u] = true
	}

	// lastSeen of unknown users may need a store read; do it before locking
	persisted := make(map[string]int64)
	if r.persist != nil {
		for _, u := range ids {
			if ts, ok, err := r.persist.LoadLastSeen(u); err == nil && ok {
				persisted[u] = ts
			}
		}
	}

	r.mu.Lock()
	snap := make([]models.Presence, 0, len(ids))
	for _, u := range ids {
		if e, ok := r.users[u]; ok {
			snap = append(snap, models.Presence{UserID: u, Online: len(e.leases) > 0, LastSeen: e.lastSeen})
		} else {
			snap = append(snap, models.Presence{UserID: u, LastSeen: persisted[u]})
		}
	}
	inner := r.topic.Subscribe(snap, r.buffer)
	r.mu.Unlock()

	s := &Subscription{
		inner: inner,
		want:  want,
		out:   make(chan []models.Presence, r.buffer),
		done:  make(chan struct{}),
	}
	go s.forward(ctx)
	return s
}

func (s *Subscription) forward(ctx context.Context) {
	lagged := false
	defer func() {
		s.err = s.inner.Err()
		if lagged {
			s.err = broadcast.ErrLagged
		}
		close(s.out)
		close(s.done)
	}()
	first := true
	for {
		select {
		case <-ctx.Done():
			s.inner.Close()
			// drain so the topic can finish the subscription
			for range s.inner.C() {
			}
			return
		case batch, ok := <-s.inner.C():
			if !ok {
				return
			}
			var mine []models.Presence
			if first {
				mine = batch
				first = false
			} else {
				for _, p := range batch {
					if s.want[p.UserID] {
						mine = append(mine, p)
					}
				}
				if len(mine) == 0 {
					continue
				}
			}
			select {
			case s.out <- mine:
			default:
				// consumer is not keeping up
				s.inner.Close()
				for range s.inner.C() {
				}
				lagged = true
				return
			}
		}
	}
}

// Online returns the number of users currently online.
func (r *Register) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.users {
		if len(e.leases) > 0 {
			n++
		}
	}
	return n
}

// Close ends every presence subscription.
func (r *Register) Close() {
	r.topic.Stop()
}

func dedupe(users []string) []string {
	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

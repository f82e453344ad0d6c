package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// LimiterPool holds one token bucket per user and forgets users idle for
// longer than ttl.
type LimiterPool struct {
	rps   float64
	burst int
	ttl   time.Duration

	mu sync.Mutex
	m  map[string]*limiterEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLimiterPool starts the cleanup loop; call Stop to end it.
func NewLimiterPool(rps float64, burst int, ttl time.Duration) *LimiterPool {
	if burst < 1 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	p := &LimiterPool{
		rps:    rps,
		burst:  burst,
		ttl:    ttl,
		m:      make(map[string]*limiterEntry),
		stopCh: make(chan struct{}),
	}
	go p.cleanupLoop(ttl / 2)
	return p
}

// Allow reports whether key may perform one more request now. A pool with
// rps <= 0 allows everything.
func (p *LimiterPool) Allow(key string) bool {
	if p.rps <= 0 {
		return true
	}
	now := timeutil.Now()
	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	p.mu.Unlock()
	return e.l.AllowN(now, 1)
}

// Evict drops limiters unused since before cutoff and returns how many.
func (p *LimiterPool) Evict(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

func (p *LimiterPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *LimiterPool) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Evict(timeutil.Now().Add(-p.ttl))
		case <-p.stopCh:
			return
		}
	}
}

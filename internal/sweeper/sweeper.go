// Package sweeper runs the cron-scheduled housekeeping job: stale typing
// records are dropped and broadcast topics nobody listens to are stopped.
// Nothing depends on it for correctness.
package sweeper

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/adhocore/gronx"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/config"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

// DefaultCron runs the job every minute.
const DefaultCron = "* * * * *"

// Pruner stops idle broadcast topics and returns how many it stopped.
type Pruner interface {
	Prune() int
}

// StaleSweeper drops records that expired before now.
type StaleSweeper interface {
	Sweep(now time.Time) int
}

// Evictor forgets per-key state unused since cutoff.
type Evictor interface {
	Evict(cutoff time.Time) int
}

// Job is one housekeeping pass. Nil fields are skipped.
type Job struct {
	Typing StaleSweeper
	// Topics maps a stream name (used in logs) to its registry.
	Topics map[string]Pruner

	Limiter    Evictor
	LimiterTTL time.Duration
}

// Result counts what one pass removed.
type Result struct {
	TypingRecords int
	Topics        map[string]int
	Limiters      int
}

// RunOnce performs a single pass at now.
func (j *Job) RunOnce(now time.Time) Result {
	res := Result{Topics: make(map[string]int, len(j.Topics))}
	if j.Typing != nil {
		res.TypingRecords = j.Typing.Sweep(now)
	}
	names := make([]string, 0, len(j.Topics))
	for name := range j.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res.Topics[name] = j.Topics[name].Prune()
	}
	if j.Limiter != nil && j.LimiterTTL > 0 {
		res.Limiters = j.Limiter.Evict(now.Add(-j.LimiterTTL))
	}
	logger.Debug("sweep_done",
		"typing_records", res.TypingRecords,
		"topics", res.Topics,
		"limiters", res.Limiters,
	)
	return res
}

// Start launches the scheduler when enabled and returns a cancel func.
// An invalid cron expression is an error; a disabled sweeper returns a
// no-op cancel.
func Start(ctx context.Context, cfg config.SweeperConfig, job *Job) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("sweeper_disabled")
		return func() {}, nil
	}
	expr := cfg.Cron
	if expr == "" {
		expr = DefaultCron
	}
	if !gronx.IsValid(expr) {
		logger.Error("sweeper_invalid_cron", "cron", expr)
		return nil, fmt.Errorf("invalid sweeper cron expression: %s", expr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go job.schedule(ctx2, expr)
	logger.Info("sweeper_started", "cron", expr)
	return cancel, nil
}

// schedule sleeps until each next cron tick and runs the job inline, so
// passes never overlap.
func (j *Job) schedule(ctx context.Context, expr string) {
	for {
		next, err := gronx.NextTickAfter(expr, timeutil.Now().UTC(), false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", expr, "error", err)
			next = time.Now().Add(30 * time.Second)
		}
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("sweeper_stopping")
			return
		case <-timer.C:
			j.RunOnce(timeutil.Now())
		}
	}
}

// Package retry re-runs store writes that failed with a transient error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/telemetry"
)

type Policy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

var DefaultPolicy = Policy{InitialInterval: 50 * time.Millisecond, MaxElapsed: 5 * time.Second}

// Do runs fn until it succeeds, fails with a non-transient error, the policy
// gives up, or ctx is done.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxElapsed > 0 {
		eb.MaxElapsedTime = p.MaxElapsed
	}
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !chaterr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		telemetry.WriteRetries.WithLabelValues(op).Inc()
		logger.Warn("write_retry", "op", op, "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(eb, ctx), notify)
}

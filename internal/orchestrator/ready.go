package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Warmup pings the session and knowledge stores with exponential backoff
// and warms the NLU engine, then opens the readiness gate. A store that
// stays unreachable for maxWait fails readiness. An NLU warm-up failure is
// logged; the engine classifies in degraded mode and retries on its own.
func (o *Orchestrator) Warmup(ctx context.Context, maxWait time.Duration) error {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxWait

	attempt := 0
	ping := func() error {
		attempt++
		return errors.Join(o.sessions.Ping(ctx), o.retriever.Ping(ctx))
	}
	notify := func(err error, next time.Duration) {
		o.logger.Warn("storage not reachable, retrying", "attempt", attempt, "retry_in", next, "error", err)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}

	if err := o.nlu.Warmup(ctx); err != nil {
		o.logger.Warn("nlu warm-up failed, classifying degraded", "error", err)
	}

	o.readyOnce.Do(func() { close(o.ready) })
	o.logger.Info("orchestrator ready", "attempts", attempt)
	return nil
}

// Ready reports whether Warmup has completed.
func (o *Orchestrator) Ready() bool {
	select {
	case <-o.ready:
		return true
	default:
		return false
	}
}

// waitReady blocks for up to the ready wait budget.
func (o *Orchestrator) waitReady(ctx context.Context) error {
	if o.Ready() {
		return nil
	}
	timer := time.NewTimer(o.opts.ReadyWait)
	defer timer.Stop()
	select {
	case <-o.ready:
		return nil
	case <-timer.C:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package services fans out to optional external capabilities (weather,
// translation, generative fallback). Every call is time-bounded and guarded
// by a per-capability circuit breaker; failures surface as degraded
// outcomes, never as errors.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/wayfarer/internal/llm"
	"github.com/raphaelgruber/wayfarer/internal/metrics"
)

// Capability names.
const (
	Weather   = "weather"
	Translate = "translate"
	Generate  = "generate"
)

// Sentinel errors carried in degraded outcomes.
var (
	ErrUnknownCapability = errors.New("unknown capability")
	ErrTimeout           = errors.New("capability timed out")
	ErrBadArgs           = errors.New("invalid capability arguments")
)

// Args are capability-specific call arguments.
type Args map[string]any

// Capability is one external service. Call must honor ctx.
type Capability interface {
	Name() string
	Call(ctx context.Context, args Args) (any, error)
}

// Outcome is the result of one invocation. Value holds the capability's
// own response type when not degraded.
type Outcome struct {
	Capability string
	Value      any
	Degraded   bool
	Err        error
	Elapsed    time.Duration
}

// Call is one entry of an InvokeAll fan-out.
type Call struct {
	// Key names the outcome; defaults to Capability.
	Key        string
	Capability string
	Args       Args
	Timeout    time.Duration
}

// BreakerSettings tunes the circuit breakers.
type BreakerSettings struct {
	// Failures is the consecutive failure count that opens a breaker.
	Failures uint32
	// OpenFor is how long an open breaker rejects calls before probing.
	OpenFor time.Duration
	// Interval resets closed-state counts; zero never resets.
	Interval time.Duration
}

// DefaultBreakerSettings opens after three consecutive failures for 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{Failures: 3, OpenFor: 30 * time.Second, Interval: time.Minute}
}

type entry struct {
	cap     Capability
	breaker *gobreaker.CircuitBreaker
	fatal   atomic.Bool
}

// Dispatcher invokes registered capabilities.
type Dispatcher struct {
	entries        map[string]*entry
	defaultTimeout time.Duration
	metrics        *metrics.Collector
	logger         *slog.Logger
}

// NewDispatcher builds a dispatcher over caps. Each capability gets its own
// breaker; a fatal provider error (bad credentials, quota) opens it at once.
func NewDispatcher(caps []Capability, defaultTimeout time.Duration, bs BreakerSettings, collector *metrics.Collector, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 1500 * time.Millisecond
	}
	if bs.Failures == 0 {
		bs = DefaultBreakerSettings()
	}
	d := &Dispatcher{
		entries:        make(map[string]*entry, len(caps)),
		defaultTimeout: defaultTimeout,
		metrics:        collector,
		logger:         logger,
	}
	for _, c := range caps {
		e := &entry{cap: c}
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        c.Name(),
			MaxRequests: 1,
			Interval:    bs.Interval,
			Timeout:     bs.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return e.fatal.Swap(false) || counts.ConsecutiveFailures >= bs.Failures
			},
			IsSuccessful: func(err error) bool {
				// Caller cancellation says nothing about the service.
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrBadArgs)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("capability breaker state change", "capability", name, "from", from.String(), "to", to.String())
			},
		})
		d.entries[c.Name()] = e
	}
	return d
}

// Has reports whether a capability is registered.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.entries[name]
	return ok
}

// Invoke calls one capability within timeout (the dispatcher default when
// zero). It returns when the call finishes or the timeout or ctx expires,
// whichever comes first.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args Args, timeout time.Duration) Outcome {
	start := time.Now()
	out := Outcome{Capability: name}
	defer func() {
		out.Elapsed = time.Since(start)
		d.metrics.RecordTiming(metrics.OpCapability+":"+name, out.Elapsed)
	}()

	e, ok := d.entries[name]
	if !ok {
		out.Degraded, out.Err = true, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
		return out
	}
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("capability panicked", "capability", name, "panic", p, "stack", string(debug.Stack()))
				r = result{err: fmt.Errorf("capability %s panicked: %v", name, p)}
			}
			ch <- r
		}()
		r.v, r.err = e.breaker.Execute(func() (any, error) {
			v, err := e.cap.Call(cctx, args)
			if llm.IsFatal(err) {
				e.fatal.Store(true)
			}
			if err == nil && cctx.Err() != nil {
				err = cctx.Err()
			}
			return v, err
		})
	}()

	select {
	case r := <-ch:
		out.Value, out.Err = r.v, r.err
	case <-cctx.Done():
		out.Err = cctx.Err()
	}
	if errors.Is(out.Err, context.DeadlineExceeded) {
		out.Err = fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, out.Err)
	}
	if out.Err != nil {
		out.Value, out.Degraded = nil, true
		d.logger.Warn("capability degraded", "capability", name, "error", out.Err)
	}
	return out
}

// InvokeAll runs calls concurrently and joins them at deadline. A call
// still pending at the deadline is cancelled and reported degraded.
func (d *Dispatcher) InvokeAll(ctx context.Context, calls []Call, deadline time.Duration) map[string]Outcome {
	out := make(map[string]Outcome, len(calls))
	if len(calls) == 0 {
		return out
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	results := make([]Outcome, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			results[i] = d.Invoke(ctx, c.Capability, c.Args, c.Timeout)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range calls {
		key := c.Key
		if key == "" {
			key = c.Capability
		}
		out[key] = results[i]
	}
	return out
}

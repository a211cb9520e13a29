// Package limiter bounds in-flight and per-window call counts per endpoint.
// Each endpoint gets a token bucket for rate and a weighted semaphore for
// concurrency; semaphore waiters are served FIFO, so a saturated endpoint
// cannot starve early arrivals.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/relaycall/relaycall/internal/core"
)

// ErrLimiterTimeout is returned when the call deadline elapses while waiting
// for a slot or a rate token.
var ErrLimiterTimeout = errors.New("limiter: wait deadline exceeded")

// CooldownStore persists throttle cool-downs so Retry-After windows survive
// restarts. Implemented by the libsql store; nil disables persistence. The
// write methods are single atomic upserts, so concurrent callers against the
// same endpoint never lose increments or throttle stamps.
type CooldownStore interface {
	GetCooldown(ctx context.Context, endpoint string) (*core.CooldownState, error)
	MarkThrottled(ctx context.Context, endpoint string, at time.Time, until *time.Time) error
	IncrementRequestCount(ctx context.Context, endpoint string, windowStart time.Time) error
}

// Pool holds one limiter per configured endpoint.
type Pool struct {
	Store CooldownStore
	Clock func() time.Time

	mu       sync.RWMutex
	limiters map[string]*endpointLimiter
}

type endpointLimiter struct {
	bucket   *rate.Limiter
	slots    *semaphore.Weighted
	maxSlots int64
	inFlight atomic.Int64

	// cooldownUntil is an in-memory mirror of the persisted cool-down,
	// stored as UnixNano (0 = none).
	cooldownUntil atomic.Int64
}

// Token is a held permit representing one in-flight slot against an
// endpoint's budget. Release is idempotent and must run on every exit path.
type Token struct {
	once sync.Once
	l    *endpointLimiter
}

// Release returns the concurrency slot to the endpoint.
func (t *Token) Release() {
	if t == nil || t.l == nil {
		return
	}
	t.once.Do(func() {
		t.l.inFlight.Add(-1)
		t.l.slots.Release(1)
	})
}

// NewPool builds limiters for every supplied endpoint configuration.
func NewPool(endpoints []core.EndpointConfig, store CooldownStore) *Pool {
	p := &Pool{
		Store:    store,
		limiters: make(map[string]*endpointLimiter, len(endpoints)),
	}

	for _, cfg := range endpoints {
		p.limiters[cfg.Name] = &endpointLimiter{
			bucket:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
			slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
			maxSlots: int64(cfg.MaxConcurrency),
		}
	}

	return p
}

// Acquire blocks until the endpoint grants both a concurrency slot and a
// rate token, or the context ends. A deadline expiry surfaces as
// ErrLimiterTimeout; caller cancellation surfaces as the context error.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	l, err := p.get(endpoint)
	if err != nil {
		return nil, err
	}

	if err := p.waitCooldown(ctx, endpoint, l); err != nil {
		return nil, err
	}

	if err := l.slots.Acquire(ctx, 1); err != nil {
		return nil, mapWaitError(ctx, err)
	}

	if err := l.bucket.Wait(ctx); err != nil {
		l.slots.Release(1)
		return nil, mapWaitError(ctx, err)
	}

	l.inFlight.Add(1)
	return &Token{l: l}, nil
}

// RecordThrottle notes a throttled response and opens a cool-down window for
// retryAfter. The window is persisted when a store is configured.
func (p *Pool) RecordThrottle(ctx context.Context, endpoint string, retryAfter time.Duration) error {
	l, err := p.get(endpoint)
	if err != nil {
		return err
	}

	now := p.now()
	if retryAfter > 0 {
		l.cooldownUntil.Store(now.Add(retryAfter).UnixNano())
	}

	if p.Store == nil {
		return nil
	}

	var until *time.Time
	if retryAfter > 0 {
		u := now.Add(retryAfter)
		until = &u
	}
	return p.Store.MarkThrottled(ctx, endpoint, now, until)
}

// RecordRequest increments the persisted request count for an endpoint.
func (p *Pool) RecordRequest(ctx context.Context, endpoint string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.IncrementRequestCount(ctx, endpoint, p.now())
}

// Status is a point-in-time view of one endpoint's limiter.
type Status struct {
	Endpoint       string    `json:"endpoint"`
	InFlight       int64     `json:"in_flight"`
	MaxConcurrency int64     `json:"max_concurrency"`
	CoolingDown    bool      `json:"cooling_down"`
	CooldownUntil  time.Time `json:"cooldown_until,omitempty"`
}

// Snapshot returns the current limiter state for every endpoint.
func (p *Pool) Snapshot() []Status {
	if p == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.now()
	out := make([]Status, 0, len(p.limiters))
	for name, l := range p.limiters {
		status := Status{
			Endpoint:       name,
			InFlight:       l.inFlight.Load(),
			MaxConcurrency: l.maxSlots,
		}
		if until := l.cooldownUntil.Load(); until > 0 {
			at := time.Unix(0, until)
			if at.After(now) {
				status.CoolingDown = true
				status.CooldownUntil = at.UTC()
			}
		}
		out = append(out, status)
	}
	return out
}

func (p *Pool) get(endpoint string) (*endpointLimiter, error) {
	if p == nil {
		return nil, fmt.Errorf("limiter: pool is not initialized")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	l, ok := p.limiters[endpoint]
	if !ok {
		return nil, fmt.Errorf("limiter: no limiter for endpoint %q", endpoint)
	}
	return l, nil
}

// waitCooldown sleeps out any active cool-down window, loading the persisted
// window on first use after a restart.
func (p *Pool) waitCooldown(ctx context.Context, endpoint string, l *endpointLimiter) error {
	until := l.cooldownUntil.Load()
	if until == 0 && p.Store != nil {
		state, err := p.Store.GetCooldown(ctx, endpoint)
		if err == nil && state != nil && state.CooldownUntil != nil {
			until = state.CooldownUntil.UnixNano()
			l.cooldownUntil.Store(until)
		}
	}
	if until == 0 {
		return nil
	}

	wait := time.Unix(0, until).Sub(p.now())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return mapWaitError(ctx, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (p *Pool) now() time.Time {
	if p != nil && p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}

// mapWaitError converts deadline expiry into ErrLimiterTimeout while letting
// caller cancellation pass through unchanged.
func mapWaitError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLimiterTimeout, err)
	}
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrLimiterTimeout, err)
}

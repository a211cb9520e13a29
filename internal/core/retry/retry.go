// Package retry classifies transport failures and schedules retries with
// jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/transport"
)

// Policy is one endpoint's retry class.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// PolicyFor extracts the retry class from an endpoint configuration.
func PolicyFor(cfg core.EndpointConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}
}

// Engine decides retry eligibility and computes backoff delays.
type Engine struct {
	// Rand supplies jitter; nil uses the shared package source. Tests inject
	// a seeded source for determinism.
	Rand *rand.Rand

	mu sync.Mutex
}

// Classify maps any attempt error to a transport error kind. Errors that are
// not tagged transport failures default to retryable, except context
// deadline expiry which is a timeout.
func Classify(err error) transport.ErrorKind {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transport.KindTimeout
	}
	return transport.KindRetryable
}

// Decision is the engine's verdict after a failed attempt: either retry, or
// stop with the given terminal outcome.
type Decision struct {
	Retry   bool
	Outcome core.Outcome
	Reason  string
}

// Decide maps a failed attempt to a retry decision. attempts is the number of
// attempts already made. Non-idempotent calls without an idempotency key
// never retry: a duplicate side effect is worse than a surfaced failure.
func (e *Engine) Decide(spec core.CallSpec, cfg core.EndpointConfig, kind transport.ErrorKind, attempts int, reason string) Decision {
	switch kind {
	case transport.KindFatal:
		return Decision{Outcome: core.OutcomeFatalFailure, Reason: reason}
	case transport.KindTimeout:
		return Decision{Outcome: core.OutcomeTimedOut, Reason: reason}
	}

	if !cfg.Idempotent && spec.IdempotencyKey == "" {
		return Decision{
			Outcome: core.OutcomeFatalFailure,
			Reason:  "non-idempotent call without idempotency key is not retried: " + reason,
		}
	}

	if attempts >= PolicyFor(cfg).MaxAttempts {
		return Decision{Outcome: core.OutcomeRetryableFailure, Reason: reason}
	}

	return Decision{Retry: true, Reason: reason}
}

// Delay computes the jittered exponential backoff before the given attempt
// number (1 = delay before the second attempt):
//
//	delay = min(cap, base * 2^attempt) * rand(0.5, 1.0)
//
// The result is additionally clipped to remaining so a backoff never
// outlives the call deadline.
func (e *Engine) Delay(policy Policy, attempt int, remaining time.Duration) time.Duration {
	if policy.BackoffBase <= 0 || remaining <= 0 {
		return 0
	}

	exp := math.Pow(2, float64(attempt))
	raw := float64(policy.BackoffBase) * exp
	if cap := float64(policy.BackoffCap); policy.BackoffCap > 0 && raw > cap {
		raw = cap
	}

	jittered := time.Duration(raw * (0.5 + e.random()*0.5))
	if jittered > remaining {
		jittered = remaining
	}
	return jittered
}

func (e *Engine) random() float64 {
	if e == nil || e.Rand == nil {
		return rand.Float64() // nolint:gosec // jitter does not need crypto randomness
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Rand.Float64()
}

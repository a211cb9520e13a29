package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/transport"
)

func TestClassify(t *testing.T) {
	require.Equal(t, transport.KindThrottled, Classify(&transport.Error{Kind: transport.KindThrottled}))
	require.Equal(t, transport.KindFatal, Classify(&transport.Error{Kind: transport.KindFatal}))

	wrapped := errors.New("wrapped: " + (&transport.Error{Kind: transport.KindTimeout}).Error())
	require.Equal(t, transport.KindRetryable, Classify(wrapped))

	require.Equal(t, transport.KindTimeout, Classify(context.DeadlineExceeded))
	require.Equal(t, transport.KindRetryable, Classify(errors.New("connection reset")))
}

func TestDecideFatalAndTimeoutNeverRetry(t *testing.T) {
	engine := &Engine{}
	spec := core.CallSpec{Endpoint: "web"}
	cfg := core.EndpointConfig{Name: "web", MaxAttempts: 5, Idempotent: true}

	dec := engine.Decide(spec, cfg, transport.KindFatal, 1, "status 404")
	require.False(t, dec.Retry)
	require.Equal(t, core.OutcomeFatalFailure, dec.Outcome)

	dec = engine.Decide(spec, cfg, transport.KindTimeout, 1, "deadline exceeded")
	require.False(t, dec.Retry)
	require.Equal(t, core.OutcomeTimedOut, dec.Outcome)
}

func TestDecideNonIdempotentWithoutKey(t *testing.T) {
	engine := &Engine{}
	spec := core.CallSpec{Endpoint: "charges"}
	cfg := core.EndpointConfig{Name: "charges", MaxAttempts: 4, Idempotent: false}

	dec := engine.Decide(spec, cfg, transport.KindRetryable, 1, "status 503")
	require.False(t, dec.Retry)
	require.Equal(t, core.OutcomeFatalFailure, dec.Outcome)
	require.Contains(t, dec.Reason, "idempotency key")

	// The same failure retries once a key makes the call safe to replay.
	spec.IdempotencyKey = "charge-42"
	dec = engine.Decide(spec, cfg, transport.KindRetryable, 1, "status 503")
	require.True(t, dec.Retry)
}

func TestDecideExhaustsAttempts(t *testing.T) {
	engine := &Engine{}
	spec := core.CallSpec{Endpoint: "web"}
	cfg := core.EndpointConfig{Name: "web", MaxAttempts: 3, Idempotent: true}

	dec := engine.Decide(spec, cfg, transport.KindRetryable, 2, "status 502")
	require.True(t, dec.Retry)

	dec = engine.Decide(spec, cfg, transport.KindRetryable, 3, "status 502")
	require.False(t, dec.Retry)
	require.Equal(t, core.OutcomeRetryableFailure, dec.Outcome)

	dec = engine.Decide(spec, cfg, transport.KindThrottled, 2, "status 429")
	require.True(t, dec.Retry)
}

func TestDelayBoundsAndGrowth(t *testing.T) {
	engine := &Engine{Rand: rand.New(rand.NewSource(7))} // nolint:gosec // deterministic jitter
	policy := Policy{BackoffBase: 100 * time.Millisecond, BackoffCap: 5 * time.Second}

	for attempt := 1; attempt <= 6; attempt++ {
		expected := float64(policy.BackoffBase) * float64(int(1)<<attempt)
		if expected > float64(policy.BackoffCap) {
			expected = float64(policy.BackoffCap)
		}

		delay := engine.Delay(policy, attempt, time.Minute)
		require.GreaterOrEqual(t, delay, time.Duration(expected*0.5), "attempt %d", attempt)
		require.LessOrEqual(t, delay, time.Duration(expected), "attempt %d", attempt)
	}
}

func TestDelayClipsToRemaining(t *testing.T) {
	engine := &Engine{Rand: rand.New(rand.NewSource(1))} // nolint:gosec // deterministic jitter
	policy := Policy{BackoffBase: time.Second, BackoffCap: 30 * time.Second}

	delay := engine.Delay(policy, 4, 50*time.Millisecond)
	require.Equal(t, 50*time.Millisecond, delay)

	require.Zero(t, engine.Delay(policy, 1, 0))
	require.Zero(t, engine.Delay(Policy{}, 1, time.Minute))
}

func TestPolicyFor(t *testing.T) {
	cfg := core.EndpointConfig{
		MaxAttempts: 4,
		BackoffBase: 200 * time.Millisecond,
		BackoffCap:  2 * time.Second,
	}

	policy := PolicyFor(cfg)
	require.Equal(t, 4, policy.MaxAttempts)
	require.Equal(t, 200*time.Millisecond, policy.BackoffBase)
	require.Equal(t, 2*time.Second, policy.BackoffCap)
}

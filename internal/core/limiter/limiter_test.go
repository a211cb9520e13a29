package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycall/relaycall/internal/core"
)

func testEndpoint(name string, concurrency int) core.EndpointConfig {
	return core.EndpointConfig{
		Name:           name,
		Protocol:       core.ProtocolSDK,
		MaxConcurrency: concurrency,
		RatePerSecond:  1000,
		Burst:          1000,
	}
}

type memoryCooldownStore struct {
	mu     sync.Mutex
	states map[string]*core.CooldownState
}

func newMemoryCooldownStore() *memoryCooldownStore {
	return &memoryCooldownStore{states: make(map[string]*core.CooldownState)}
}

func (s *memoryCooldownStore) GetCooldown(_ context.Context, endpoint string) (*core.CooldownState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[endpoint]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (s *memoryCooldownStore) MarkThrottled(_ context.Context, endpoint string, at time.Time, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[endpoint]
	if !ok {
		state = &core.CooldownState{WindowStart: at}
		s.states[endpoint] = state
	}
	stamp := at
	state.LastThrottled = &stamp
	if until != nil {
		u := *until
		state.CooldownUntil = &u
	}
	return nil
}

func (s *memoryCooldownStore) IncrementRequestCount(_ context.Context, endpoint string, windowStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[endpoint]
	if !ok {
		state = &core.CooldownState{WindowStart: windowStart}
		s.states[endpoint] = state
	}
	state.RequestCount++
	return nil
}

func TestAcquireRelease(t *testing.T) {
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 2)}, nil)

	token, err := pool.Acquire(context.Background(), "web")
	require.NoError(t, err)
	require.NotNil(t, token)

	statuses := pool.Snapshot()
	require.Len(t, statuses, 1)
	require.Equal(t, int64(1), statuses[0].InFlight)
	require.Equal(t, int64(2), statuses[0].MaxConcurrency)

	token.Release()
	token.Release() // idempotent

	statuses = pool.Snapshot()
	require.Equal(t, int64(0), statuses[0].InFlight)
}

func TestAcquireUnknownEndpoint(t *testing.T) {
	pool := NewPool(nil, nil)

	_, err := pool.Acquire(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no limiter for endpoint")
}

func TestAcquireBlocksAtConcurrencyCap(t *testing.T) {
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 1)}, nil)

	held, err := pool.Acquire(context.Background(), "web")
	require.NoError(t, err)

	acquired := make(chan *Token, 1)
	go func() {
		token, err := pool.Acquire(context.Background(), "web")
		if err == nil {
			acquired <- token
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	held.Release()

	select {
	case token := <-acquired:
		token.Release()
	case <-time.After(time.Second):
		t.Fatal("second acquire should proceed after release")
	}
}

func TestAcquireDeadlineBecomesLimiterTimeout(t *testing.T) {
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 1)}, nil)

	held, err := pool.Acquire(context.Background(), "web")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx, "web")
	require.ErrorIs(t, err, ErrLimiterTimeout)
}

func TestAcquireCancellationPassesThrough(t *testing.T) {
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 1)}, nil)

	held, err := pool.Acquire(context.Background(), "web")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = pool.Acquire(ctx, "web")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRecordThrottleOpensCooldown(t *testing.T) {
	store := newMemoryCooldownStore()
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 4)}, store)

	require.NoError(t, pool.RecordThrottle(context.Background(), "web", 80*time.Millisecond))

	statuses := pool.Snapshot()
	require.Len(t, statuses, 1)
	require.True(t, statuses[0].CoolingDown)
	require.False(t, statuses[0].CooldownUntil.IsZero())

	state, err := store.GetCooldown(context.Background(), "web")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.NotNil(t, state.CooldownUntil)
	require.NotNil(t, state.LastThrottled)

	started := time.Now()
	token, err := pool.Acquire(context.Background(), "web")
	require.NoError(t, err)
	token.Release()
	require.GreaterOrEqual(t, time.Since(started), 60*time.Millisecond)
}

func TestCooldownLoadedFromStoreAfterRestart(t *testing.T) {
	store := newMemoryCooldownStore()
	until := time.Now().Add(70 * time.Millisecond)
	require.NoError(t, store.MarkThrottled(context.Background(), "web", time.Now(), &until))

	// A fresh pool simulates a process restart; the persisted window applies.
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 4)}, store)

	started := time.Now()
	token, err := pool.Acquire(context.Background(), "web")
	require.NoError(t, err)
	token.Release()
	require.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
}

func TestRecordRequestCounts(t *testing.T) {
	store := newMemoryCooldownStore()
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 4)}, store)

	require.NoError(t, pool.RecordRequest(context.Background(), "web"))
	require.NoError(t, pool.RecordRequest(context.Background(), "web"))

	state, err := store.GetCooldown(context.Background(), "web")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, 2, state.RequestCount)
	require.False(t, state.WindowStart.IsZero())
}

func TestRecordRequestConcurrentIncrements(t *testing.T) {
	store := newMemoryCooldownStore()
	pool := NewPool([]core.EndpointConfig{testEndpoint("web", 4)}, store)

	const calls = 32
	errs := make(chan error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pool.RecordRequest(context.Background(), "web")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state, err := store.GetCooldown(context.Background(), "web")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, calls, state.RequestCount)

	// A throttle stamp never clobbers concurrently written counts.
	require.NoError(t, pool.RecordThrottle(context.Background(), "web", 0))
	state, err = store.GetCooldown(context.Background(), "web")
	require.NoError(t, err)
	require.Equal(t, calls, state.RequestCount)
	require.NotNil(t, state.LastThrottled)
}

func TestNilReceivers(t *testing.T) {
	var pool *Pool
	require.Nil(t, pool.Snapshot())
	require.NoError(t, pool.RecordRequest(context.Background(), "web"))

	var token *Token
	token.Release()
}

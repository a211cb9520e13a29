package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaycall/relaycall/internal/core"
)

// GetCooldown returns persisted throttle state for an endpoint, or nil when
// the endpoint has never been throttled.
func (s *Store) GetCooldown(ctx context.Context, endpoint string) (*core.CooldownState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	var (
		requestCount  int
		windowStart   int64
		cooldownUntil sql.NullInt64
		lastThrottled sql.NullInt64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT request_count, window_start, cooldown_until, last_throttled_at
		FROM endpoint_cooldowns
		WHERE endpoint = ?
	`, endpoint)

	if err := row.Scan(&requestCount, &windowStart, &cooldownUntil, &lastThrottled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cooldown: %w", err)
	}

	state := &core.CooldownState{
		RequestCount: requestCount,
		WindowStart:  time.Unix(windowStart, 0).UTC(),
	}

	if cooldownUntil.Valid {
		value := time.Unix(cooldownUntil.Int64, 0).UTC()
		state.CooldownUntil = &value
	}
	if lastThrottled.Valid {
		value := time.Unix(lastThrottled.Int64, 0).UTC()
		state.LastThrottled = &value
	}

	return state, nil
}

// MarkThrottled stamps a throttled response for an endpoint in one upsert.
// A nil until leaves any open cool-down window in place; the request count is
// never touched, so concurrent increments are preserved.
func (s *Store) MarkThrottled(ctx context.Context, endpoint string, at time.Time, until *time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	var cooldownUntil sql.NullInt64
	if until != nil {
		cooldownUntil = sql.NullInt64{Int64: until.UTC().Unix(), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO endpoint_cooldowns (endpoint, request_count, window_start, cooldown_until, last_throttled_at)
		VALUES (?, 0, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			cooldown_until = COALESCE(excluded.cooldown_until, endpoint_cooldowns.cooldown_until),
			last_throttled_at = excluded.last_throttled_at
	`, endpoint, at.UTC().Unix(), cooldownUntil, at.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store throttle stamp: %w", err)
	}

	return nil
}

// IncrementRequestCount bumps the persisted request count for an endpoint in
// one upsert. The window start is only written on first insert.
func (s *Store) IncrementRequestCount(ctx context.Context, endpoint string, windowStart time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO endpoint_cooldowns (endpoint, request_count, window_start)
		VALUES (?, 1, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			request_count = endpoint_cooldowns.request_count + 1
	`, endpoint, windowStart.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store request count: %w", err)
	}

	return nil
}

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

// CallRecord is one row of the call audit log.
type CallRecord struct {
	CallID      string        `json:"call_id"`
	Endpoint    string        `json:"endpoint"`
	Operation   string        `json:"operation,omitempty"`
	Outcome     string        `json:"outcome"`
	StatusCode  int           `json:"status_code,omitempty"`
	Attempts    int           `json:"attempts"`
	Reason      string        `json:"reason,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	RequestedAt time.Time     `json:"requested_at"`
	ResolvedAt  time.Time     `json:"resolved_at"`
}

// RecordCall appends a resolved call to the audit log. Duplicate call IDs are
// ignored so at-least-once recording never produces double rows.
func (s *Store) RecordCall(ctx context.Context, spec core.CallSpec, result *core.CallResult) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if result == nil {
		return errors.New("call result is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	prov := result.Provenance
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO call_log (call_id, endpoint, operation, outcome, status_code, attempts, reason, elapsed_ms, requested_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO NOTHING
	`,
		prov.CallID,
		prov.Endpoint,
		spec.Operation,
		result.Outcome.String(),
		result.StatusCode,
		result.Attempts,
		result.Reason,
		result.Elapsed.Milliseconds(),
		prov.RequestedAt.UTC().Unix(),
		prov.ResolvedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}

	return nil
}

// RecentCalls returns the latest audit log entries, newest first. An empty
// endpoint returns entries across all endpoints.
func (s *Store) RecentCalls(ctx context.Context, endpoint string, limit int) ([]CallRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT call_id, endpoint, operation, outcome, status_code, attempts, reason, elapsed_ms, requested_at, resolved_at
		FROM call_log
	`
	args := []any{}
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		query += " WHERE endpoint = ?"
		args = append(args, endpoint)
	}
	query += " ORDER BY resolved_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch call log: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var records []CallRecord
	for rows.Next() {
		var (
			rec         CallRecord
			operation   sql.NullString
			statusCode  sql.NullInt64
			reason      sql.NullString
			elapsedMS   int64
			requestedAt int64
			resolvedAt  int64
		)
		if err := rows.Scan(&rec.CallID, &rec.Endpoint, &operation, &rec.Outcome, &statusCode, &rec.Attempts, &reason, &elapsedMS, &requestedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}

		rec.Operation = operation.String
		rec.StatusCode = int(statusCode.Int64)
		rec.Reason = reason.String
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		rec.RequestedAt = time.Unix(requestedAt, 0).UTC()
		rec.ResolvedAt = time.Unix(resolvedAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch call log: %w", err)
	}

	return records, nil
}

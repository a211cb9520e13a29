package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertDocument stores one document body under a collection. The id must be
// unique; reusing an id is a conflict, which lets idempotency keys double as
// document ids.
func (s *Store) InsertDocument(ctx context.Context, id, collection string, body []byte) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	collection = strings.TrimSpace(collection)
	if id == "" || collection == "" {
		return errors.New("document id and collection are required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO documents (id, collection, body, created_at)
		VALUES (?, ?, ?, ?)
	`, id, collection, string(body), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	return nil
}

// PublishMessage appends one message body to a topic's log.
func (s *Store) PublishMessage(ctx context.Context, topic string, body []byte) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return 0, errors.New("topic is required")
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO broker_messages (topic, body, published_at)
		VALUES (?, ?, ?)
	`, topic, string(body), time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("publish message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// CountCalls returns call_log row counts grouped by outcome, optionally
// filtered to one endpoint.
func (s *Store) CountCalls(ctx context.Context, endpoint string) (map[string]int64, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT outcome, COUNT(*) FROM call_log`
	args := []any{}
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		query += " WHERE endpoint = ?"
		args = append(args, endpoint)
	}
	query += " GROUP BY outcome"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("count calls: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}

	return counts, nil
}

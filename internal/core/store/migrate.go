package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS endpoint_cooldowns (
		endpoint TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL,
		cooldown_until INTEGER,
		last_throttled_at INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS call_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id TEXT NOT NULL UNIQUE,
		endpoint TEXT NOT NULL,
		operation TEXT,
		outcome TEXT NOT NULL,
		status_code INTEGER,
		attempts INTEGER NOT NULL,
		reason TEXT,
		elapsed_ms INTEGER NOT NULL,
		requested_at INTEGER NOT NULL,
		resolved_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_call_log_endpoint ON call_log(endpoint, resolved_at);`,
	`CREATE INDEX IF NOT EXISTS idx_call_log_outcome ON call_log(outcome);`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, created_at);`,
	`CREATE TABLE IF NOT EXISTS broker_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		body TEXT NOT NULL,
		published_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_broker_messages_topic ON broker_messages(topic, published_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}

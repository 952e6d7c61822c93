// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package store persists the interaction log in DuckDB. The log is the
// only durable source of truth: every derived structure (affinity,
// similarity, trending, feeds) can be recomputed from it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/feed"
)

// Config controls the interaction store.
type Config struct {
	// Path is the DuckDB database file, or ":memory:".
	Path string `koanf:"path"`

	// Threads caps DuckDB worker threads; 0 means NumCPU.
	Threads int `koanf:"threads"`

	// MaxMemory is DuckDB's memory ceiling (e.g. "512MB").
	MaxMemory string `koanf:"max_memory"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:      "data/interactions.db",
		MaxMemory: "512MB",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id               VARCHAR PRIMARY KEY,
	user_id          VARCHAR NOT NULL,
	content_type     VARCHAR NOT NULL,
	content_id       VARCHAR NOT NULL,
	interaction_type VARCHAR NOT NULL,
	time_spent       INTEGER NOT NULL DEFAULT 0,
	scroll_depth     DOUBLE NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_user_time ON interactions (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_interactions_time ON interactions (created_at);
`

// InteractionStore is the DuckDB-backed interaction log. Appends are
// idempotent on interaction ID. Implements feed.InteractionReader.
type InteractionStore struct {
	conn   *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the interaction database and initializes the
// schema.
//
//nolint:gocritic // hugeParam: config copied for immutability
func Open(config Config, logger zerolog.Logger) (*InteractionStore, error) {
	if config.Path != ":memory:" {
		dbDir := filepath.Dir(config.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	threads := config.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	// Auto-install/auto-load disabled: no extension is needed and the
	// probes hang in restricted network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&autoinstall_known_extensions=false&autoload_known_extensions=false",
		config.Path, threads)
	if config.MaxMemory != "" {
		connStr += "&max_memory=" + config.MaxMemory
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open interaction database: %w", err)
	}

	// DuckDB is embedded; a single writer connection avoids write-write
	// conflicts while readers multiplex over it.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize interaction schema: %w", err)
	}

	return &InteractionStore{
		conn:   conn,
		logger: logger.With().Str("component", "interaction_store").Logger(),
	}, nil
}

// Append writes an interaction. Re-appending an existing ID is a no-op,
// so at-least-once delivery upstream stays safe.
func (s *InteractionStore) Append(ctx context.Context, in feed.Interaction) error {
	if in.ID == "" {
		return fmt.Errorf("interaction missing id")
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO interactions (id, user_id, content_type, content_id, interaction_type, time_spent, scroll_depth, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		in.ID, in.UserID, string(in.Content.Type), in.Content.ID,
		string(in.Type), in.TimeSpentSeconds, in.ScrollDepth, in.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append interaction %s: %w", in.ID, err)
	}
	return nil
}

// ListByUserSince implements feed.InteractionReader.
func (s *InteractionStore) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]feed.Interaction, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, user_id, content_type, content_id, interaction_type, time_spent, scroll_depth, created_at
		FROM interactions
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id`,
		userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list interactions for user %s: %w", userID, err)
	}
	return scanInteractions(rows)
}

// ListByUsersSince implements feed.InteractionReader.
func (s *InteractionStore) ListByUsersSince(ctx context.Context, userIDs []string, since time.Time) ([]feed.Interaction, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(userIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(userIDs)+1)
	for _, id := range userIDs {
		args = append(args, id)
	}
	args = append(args, since.UTC())

	//nolint:gosec // G201: placeholders are generated, values are bound
	query := fmt.Sprintf(`
		SELECT id, user_id, content_type, content_id, interaction_type, time_spent, scroll_depth, created_at
		FROM interactions
		WHERE user_id IN (%s) AND created_at >= ?
		ORDER BY created_at DESC, id`, placeholders)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions for %d users: %w", len(userIDs), err)
	}
	return scanInteractions(rows)
}

// ListSince implements feed.InteractionReader.
func (s *InteractionStore) ListSince(ctx context.Context, since time.Time) ([]feed.Interaction, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, user_id, content_type, content_id, interaction_type, time_spent, scroll_depth, created_at
		FROM interactions
		WHERE created_at >= ?
		ORDER BY created_at DESC, id`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list interactions since %s: %w", since, err)
	}
	return scanInteractions(rows)
}

// Count returns the total number of stored interactions.
func (s *InteractionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *InteractionStore) Close() error {
	return s.conn.Close()
}

func scanInteractions(rows *sql.Rows) ([]feed.Interaction, error) {
	defer func() { _ = rows.Close() }()

	var out []feed.Interaction
	for rows.Next() {
		var (
			in          feed.Interaction
			contentType string
			eventType   string
		)
		if err := rows.Scan(&in.ID, &in.UserID, &contentType, &in.Content.ID,
			&eventType, &in.TimeSpentSeconds, &in.ScrollDepth, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Content.Type = feed.ContentType(contentType)
		in.Type = feed.InteractionType(eventType)
		in.CreatedAt = in.CreatedAt.UTC()
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return out, nil
}

var _ feed.InteractionReader = (*InteractionStore)(nil)

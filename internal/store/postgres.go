// Package store provides storage backends for widget session state.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/embedbot/widgetcore/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSessionID(ctx context.Context, namespace string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM sessions WHERE namespace = $1`, namespace).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSessionID failed", "error", err, "namespace", namespace)
		return "", fmt.Errorf("failed to query session for %s: %w", namespace, err)
	}
	return id, nil
}

func (s *PostgresStore) SaveSessionID(ctx context.Context, namespace, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (namespace, session_id, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (namespace) DO UPDATE SET session_id = EXCLUDED.session_id, updated_at = NOW()`,
		namespace, sessionID)
	if err != nil {
		slog.Error("PostgresStore SaveSessionID failed", "error", err, "namespace", namespace)
		return fmt.Errorf("failed to save session for %s: %w", namespace, err)
	}
	slog.Debug("PostgresStore SaveSessionID succeeded", "namespace", namespace)
	return nil
}

func (s *PostgresStore) DeleteSessionID(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE namespace = $1`, namespace)
	if err != nil {
		slog.Error("PostgresStore DeleteSessionID failed", "error", err, "namespace", namespace)
		return fmt.Errorf("failed to delete session for %s: %w", namespace, err)
	}
	return nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, sessionID string, messages []models.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (session_id, messages, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET messages = EXCLUDED.messages, updated_at = NOW()`,
		sessionID, string(payload))
	if err != nil {
		slog.Error("PostgresStore SaveTranscript failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save transcript for %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore SaveTranscript succeeded", "sessionID", sessionID, "messages", len(messages))
	return nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, sessionID string) ([]models.Message, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM transcripts WHERE session_id = $1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTranscript failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", sessionID, err)
	}
	var messages []models.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode transcript for %s: %w", sessionID, err)
	}
	return messages, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Package store provides storage backends for widget session state.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/embedbot/widgetcore/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSessionID(ctx context.Context, namespace string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM sessions WHERE namespace = ?`, namespace).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSessionID failed", "error", err, "namespace", namespace)
		return "", fmt.Errorf("failed to query session for %s: %w", namespace, err)
	}
	return id, nil
}

func (s *SQLiteStore) SaveSessionID(ctx context.Context, namespace, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (namespace, session_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace) DO UPDATE SET session_id = excluded.session_id, updated_at = CURRENT_TIMESTAMP`,
		namespace, sessionID)
	if err != nil {
		slog.Error("SQLiteStore SaveSessionID failed", "error", err, "namespace", namespace)
		return fmt.Errorf("failed to save session for %s: %w", namespace, err)
	}
	slog.Debug("SQLiteStore SaveSessionID succeeded", "namespace", namespace)
	return nil
}

func (s *SQLiteStore) DeleteSessionID(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE namespace = ?`, namespace)
	if err != nil {
		slog.Error("SQLiteStore DeleteSessionID failed", "error", err, "namespace", namespace)
		return fmt.Errorf("failed to delete session for %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, sessionID string, messages []models.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (session_id, messages, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET messages = excluded.messages, updated_at = CURRENT_TIMESTAMP`,
		sessionID, string(payload))
	if err != nil {
		slog.Error("SQLiteStore SaveTranscript failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save transcript for %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore SaveTranscript succeeded", "sessionID", sessionID, "messages", len(messages))
	return nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string) ([]models.Message, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM transcripts WHERE session_id = ?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTranscript failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", sessionID, err)
	}
	var messages []models.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode transcript for %s: %w", sessionID, err)
	}
	return messages, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

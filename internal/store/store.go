// Package store provides storage backends for widget session state.
//
// It persists the durable session id per chatbot namespace and an optional
// conversation transcript, with SQLite, Postgres, Redis, and in-memory
// implementations behind a common interface.
package store

import (
	"context"
	"sync"

	"github.com/embedbot/widgetcore/internal/models"
)

// Store is the persistence interface for widget session state. A missing
// session or transcript is reported as an empty value, not an error.
type Store interface {
	GetSessionID(ctx context.Context, namespace string) (string, error)
	SaveSessionID(ctx context.Context, namespace, sessionID string) error
	DeleteSessionID(ctx context.Context, namespace string) error
	SaveTranscript(ctx context.Context, sessionID string, messages []models.Message) error
	GetTranscript(ctx context.Context, sessionID string) ([]models.Message, error)
	Close() error
}

// Opts holds configuration options for store constructors.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// InMemoryStore keeps session state in process memory. Used in tests and as
// the fallback when no persistence is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]string
	transcripts map[string][]models.Message
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]string),
		transcripts: make(map[string][]models.Message),
	}
}

func (s *InMemoryStore) GetSessionID(_ context.Context, namespace string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[namespace], nil
}

func (s *InMemoryStore) SaveSessionID(_ context.Context, namespace, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[namespace] = sessionID
	return nil
}

func (s *InMemoryStore) DeleteSessionID(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, namespace)
	return nil
}

func (s *InMemoryStore) SaveTranscript(_ context.Context, sessionID string, messages []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]models.Message, len(messages))
	copy(cp, messages)
	s.transcripts[sessionID] = cp
	return nil
}

func (s *InMemoryStore) GetTranscript(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.transcripts[sessionID]
	cp := make([]models.Message, len(msgs))
	copy(cp, msgs)
	return cp, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// Package session manages the durable per-chatbot visitor session id.
//
// The session id is the only conversation state that survives page reloads;
// everything else is rebuilt in memory on each mount.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Storage persists session ids keyed by namespace.
type Storage interface {
	GetSessionID(ctx context.Context, namespace string) (string, error)
	SaveSessionID(ctx context.Context, namespace, sessionID string) error
}

// Manager resolves the durable session id for a chatbot. Ids are namespaced
// per chatbot so two widgets on the same page never share a session.
type Manager struct {
	store Storage
}

// NewManager creates a session manager backed by store.
func NewManager(store Storage) *Manager {
	return &Manager{store: store}
}

// namespace builds the storage key for one chatbot's session.
func namespace(chatbotID string) string {
	return "widgetcore:session:" + chatbotID
}

// Resolve returns the existing session id for chatbotID, or generates,
// persists, and returns a fresh one. Stored values that are not canonical
// UUIDv4 are discarded and regenerated.
func (m *Manager) Resolve(ctx context.Context, chatbotID string) (string, error) {
	ns := namespace(chatbotID)

	existing, err := m.store.GetSessionID(ctx, ns)
	if err != nil {
		return "", fmt.Errorf("failed to load session id: %w", err)
	}
	if existing != "" {
		if IsValidSessionID(existing) {
			slog.Debug("session Resolve: reusing session", "chatbotID", chatbotID)
			return existing, nil
		}
		slog.Warn("session Resolve: discarding malformed stored session id", "chatbotID", chatbotID)
	}

	fresh := uuid.NewString()
	if err := m.store.SaveSessionID(ctx, ns, fresh); err != nil {
		return "", fmt.Errorf("failed to persist session id: %w", err)
	}
	slog.Debug("session Resolve: new session created", "chatbotID", chatbotID)
	return fresh, nil
}

// IsValidSessionID reports whether s is a canonical lowercase UUIDv4 string.
// Non-canonical encodings (urn prefixes, braces, uppercase) are rejected even
// when they parse, so stored ids stay byte-comparable.
func IsValidSessionID(s string) bool {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return parsed.Version() == 4 && parsed.String() == s
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/embedbot/widgetcore/internal/models"
)

// exerciseStore runs the shared contract against any Store implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	// Missing session is empty, not an error.
	id, err := s.GetSessionID(ctx, "widgetcore:session:bot-1")
	if err != nil {
		t.Fatalf("GetSessionID failed: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty session, got %q", id)
	}

	if err := s.SaveSessionID(ctx, "widgetcore:session:bot-1", "sess-a"); err != nil {
		t.Fatalf("SaveSessionID failed: %v", err)
	}
	id, err = s.GetSessionID(ctx, "widgetcore:session:bot-1")
	if err != nil || id != "sess-a" {
		t.Fatalf("expected sess-a, got %q (err %v)", id, err)
	}

	// Upsert replaces.
	if err := s.SaveSessionID(ctx, "widgetcore:session:bot-1", "sess-b"); err != nil {
		t.Fatalf("SaveSessionID upsert failed: %v", err)
	}
	id, _ = s.GetSessionID(ctx, "widgetcore:session:bot-1")
	if id != "sess-b" {
		t.Errorf("upsert should replace, got %q", id)
	}

	// Namespaces are independent.
	id, _ = s.GetSessionID(ctx, "widgetcore:session:bot-2")
	if id != "" {
		t.Errorf("other namespace should be empty, got %q", id)
	}

	if err := s.DeleteSessionID(ctx, "widgetcore:session:bot-1"); err != nil {
		t.Fatalf("DeleteSessionID failed: %v", err)
	}
	id, _ = s.GetSessionID(ctx, "widgetcore:session:bot-1")
	if id != "" {
		t.Errorf("deleted session should be empty, got %q", id)
	}

	// Transcripts round-trip.
	msgs := []models.Message{
		{ID: "1", Sender: models.SenderUser, Text: "hi", Timestamp: time.Unix(100, 0).UTC()},
		{ID: "2", Sender: models.SenderBot, Text: "hello", Timestamp: time.Unix(101, 0).UTC(), IntentID: "greet"},
	}
	if err := s.SaveTranscript(ctx, "sess-b", msgs); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}
	got, err := s.GetTranscript(ctx, "sess-b")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if len(got) != 2 || got[0].Text != "hi" || got[1].IntentID != "greet" {
		t.Errorf("transcript mismatch: %+v", got)
	}

	missing, err := s.GetTranscript(ctx, "nope")
	if err != nil {
		t.Fatalf("GetTranscript for missing session failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("missing transcript should be empty, got %+v", missing)
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "widgetcore.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error without DSN")
	}
}

func TestSQLiteStoreCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "deep", "widgetcore.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("store should create missing directories: %v", err)
	}
	s.Close()
}

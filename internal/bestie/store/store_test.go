package store_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/bestie/common/crypto"
	"github.com/bdobrica/bestie/internal/bestie/session"
	"github.com/bdobrica/bestie/internal/bestie/store"
)

func newTestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "bestie-test.db"), opts...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"users", "auth_tokens", "emotions", "messages", "matrix_sync_state"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	var version int
	if err := s.DB().QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bestie.db")
	s1, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.RecordEmotion(context.Background(), session.Authenticated("a@b.c"), "felice", time.Now()); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	var n int
	if err := s2.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected each migration recorded once, got %d rows", n)
	}
	got, err := s2.Emotions(context.Background(), "a@b.c", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("Emotions after reopen = %v, %v", got, err)
	}
}

func TestRecordEmotion_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := session.Authenticated("alice@example.com")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	labels := []string{"triste", "ansioso", "felice"}
	for i, l := range labels {
		if err := s.RecordEmotion(ctx, id, l, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordEmotion: %v", err)
		}
	}
	// Another identity must not leak into alice's history.
	if err := s.RecordEmotion(ctx, session.Authenticated("bob@example.com"), "solo", base); err != nil {
		t.Fatal(err)
	}

	got, err := s.Emotions(ctx, "alice@example.com", 2)
	if err != nil {
		t.Fatalf("Emotions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Label != "felice" || got[1].Label != "ansioso" {
		t.Errorf("unexpected order: %+v", got)
	}
	if !got[0].RecordedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("RecordedAt = %v", got[0].RecordedAt)
	}
}

func TestRecordEmotion_SubSecondOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := session.Authenticated("alice")
	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

	if err := s.RecordEmotion(ctx, id, "first", base); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordEmotion(ctx, id, "second", base.Add(500*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Emotions(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Label != "second" {
		t.Errorf("expected newest first, got %+v", got)
	}
}

func TestRecordMessage_Plain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordMessage(ctx, session.Authenticated("alice"), "ciao", time.Now()); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	got, err := s.Messages(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 1 || got[0].Text != "ciao" {
		t.Errorf("Messages = %+v", got)
	}
}

func TestRecordMessage_EncryptedAtRest(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, store.WithSealer(sealer))
	ctx := context.Background()

	if err := s.RecordMessage(ctx, session.Authenticated("alice"), "segreto", time.Now()); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}

	var body string
	var encrypted int
	if err := s.DB().QueryRow("SELECT body, encrypted FROM messages").Scan(&body, &encrypted); err != nil {
		t.Fatal(err)
	}
	if encrypted != 1 || body == "segreto" {
		t.Errorf("message stored in clear: body=%q encrypted=%d", body, encrypted)
	}

	got, err := s.Messages(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 1 || got[0].Text != "segreto" {
		t.Errorf("decrypted Messages = %+v", got)
	}
}

func TestRecordEmotion_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.RecordEmotion(ctx, session.Authenticated("alice"), "felice", time.Now()); err == nil {
		t.Error("expected error for canceled context")
	}
}

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteUserAndIdentity(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	user := newTestUser("alice")
	user.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	got, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.PasswordHash != user.PasswordHash {
		t.Errorf("password hash not persisted")
	}
	if err := store.CreateUser(ctx, newTestUser("alice")); err != ErrAlreadyExists {
		t.Errorf("duplicate username = %v, want ErrAlreadyExists", err)
	}

	ident := &Identity{Provider: "api_token", ProviderID: "tok-1", UserID: user.ID, Label: "laptop", CreatedAt: time.Now().UTC()}
	if err := store.CreateIdentity(ctx, ident); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := store.CreateIdentity(ctx, ident); err != ErrAlreadyExists {
		t.Errorf("duplicate identity = %v, want ErrAlreadyExists", err)
	}
	found, err := store.GetIdentity(ctx, "api_token", "tok-1")
	if err != nil || found.UserID != user.ID || found.Label != "laptop" {
		t.Errorf("GetIdentity = %+v, %v", found, err)
	}
}

func TestSQLiteSessionLookup(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	user := newTestUser("bob")
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	old := newTestSession(user.ID, "telegram", time.Now().Add(-2*time.Hour).UTC())
	fresh := newTestSession(user.ID, "telegram", time.Now().UTC())
	for _, sess := range []*Session{old, fresh} {
		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	found, err := store.FindSession(ctx, user.ID, "telegram", "per-sender")
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if found.ID != fresh.ID {
		t.Errorf("FindSession = %s, want %s", found.ID, fresh.ID)
	}

	if _, err := store.FindSession(ctx, user.ID, "discord", "per-sender"); err != ErrNotFound {
		t.Errorf("FindSession on empty channel = %v, want ErrNotFound", err)
	}

	sessions, total, err := store.ListSessions(ctx, user.ID, 10, 0)
	if err != nil || total != 2 || len(sessions) != 2 {
		t.Errorf("ListSessions = %d items, total %d, %v", len(sessions), total, err)
	}
}

func TestSQLiteMessageWindow(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	user := newTestUser("carol")
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sess := newTestSession(user.ID, "web", time.Now().UTC())
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := &Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Role:      "user",
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	msgs, err := store.GetMessages(ctx, sess.ID, 3)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("window size = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "c" || msgs[2].Content != "e" {
		t.Errorf("window not chronological tail: %q..%q", msgs[0].Content, msgs[2].Content)
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetMessage(ctx, msgs[0].ID); err != ErrNotFound {
		t.Errorf("message survived session delete: %v", err)
	}
}

package pairing

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rustyclaw/rustyclaw/internal/storage"
)

var codePattern = regexp.MustCompile(`^[A-Z2-9]{8}$`)

func TestSetupCodeGeneratedOnceUntilConsumed(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore(), nil)

	code, err := m.CheckAndStartSetup(ctx)
	if err != nil {
		t.Fatalf("CheckAndStartSetup: %v", err)
	}
	if !codePattern.MatchString(code) {
		t.Errorf("setup code %q does not match expected shape", code)
	}

	again, err := m.CheckAndStartSetup(ctx)
	if err != nil || again != code {
		t.Errorf("second call = %q, %v; want same code", again, err)
	}
}

func TestSetupSkippedWhenUsersExist(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.CreateUser(ctx, &storage.User{ID: "u1", Username: "root", Role: "admin", CreatedAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	m := NewManager(store, nil)
	code, err := m.CheckAndStartSetup(ctx)
	if err != nil || code != "" {
		t.Errorf("CheckAndStartSetup with users = %q, %v; want empty", code, err)
	}
}

func TestClaimAdmin(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := NewManager(store, nil)
	code, _ := m.CheckAndStartSetup(ctx)

	if _, err := m.ClaimAdmin(ctx, "WRONGCOD", "root"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("wrong code error = %v, want ErrInvalidCode", err)
	}

	user, err := m.ClaimAdmin(ctx, code, "root")
	if err != nil {
		t.Fatalf("ClaimAdmin: %v", err)
	}
	if user.Role != "admin" || user.Username != "root" {
		t.Errorf("claimed user = %+v", user)
	}
	if m.SetupActive() {
		t.Error("setup still active after claim")
	}

	// Second claim fails: the code is gone and a user exists.
	if _, err := m.ClaimAdmin(ctx, code, "other"); err == nil {
		t.Error("second claim succeeded")
	}
}

func TestClaimAdminRaceSafety(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := NewManager(store, nil)
	code, _ := m.CheckAndStartSetup(ctx)

	var wg sync.WaitGroup
	wins := make(chan *storage.User, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if user, err := m.ClaimAdmin(ctx, code, "root"); err == nil {
				wins <- user
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("claim winners = %d, want exactly 1", winners)
	}
	count, _ := store.UserCount(ctx)
	if count != 1 {
		t.Errorf("user count = %d, want 1", count)
	}
}

func TestInviteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := NewManager(store, nil)

	invite, err := m.CreateInvite("admin-1")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if !codePattern.MatchString(invite.Code) {
		t.Errorf("invite code %q malformed", invite.Code)
	}
	if until := time.Until(invite.ExpiresAt); until < 9*time.Minute || until > 11*time.Minute {
		t.Errorf("invite expiry %v not ~10m away", until)
	}

	user, err := m.RedeemInvite(ctx, invite.Code, "alice-laptop")
	if err != nil {
		t.Fatalf("RedeemInvite: %v", err)
	}
	ident, err := store.GetIdentity(ctx, "device", user.ID)
	if err != nil || ident.Label != "alice-laptop" {
		t.Errorf("identity = %+v, %v", ident, err)
	}

	// Single use.
	if _, err := m.RedeemInvite(ctx, invite.Code, "again"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("second redeem error = %v, want ErrInvalidCode", err)
	}
}

func TestExpiredInviteRejected(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore(), nil)
	invite, _ := m.CreateInvite("admin-1")

	m.mu.Lock()
	m.invites[invite.Code].ExpiresAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	if _, err := m.RedeemInvite(ctx, invite.Code, "late"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expired redeem error = %v, want ErrInvalidCode", err)
	}
}

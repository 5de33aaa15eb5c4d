package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyclaw/rustyclaw/internal/storage"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !IsHashed(hash) {
		t.Errorf("hash %q not recognized as hashed", hash)
	}
	if !CheckPassword(hash, "hunter2!") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("wrong password accepted")
	}
	if IsHashed("plaintext") {
		t.Error("plaintext recognized as hashed")
	}
}

func TestResolveAllowListToken(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService([]string{"web-user-alice", "static-token"}, "secret", store)

	userID, err := svc.ResolveToken(ctx, "web-user-alice")
	if err != nil || userID != "alice" {
		t.Errorf("ResolveToken(allow-list) = %q, %v", userID, err)
	}
	userID, err = svc.ResolveToken(ctx, "static-token")
	if err != nil || userID != "static-token" {
		t.Errorf("ResolveToken(opaque) = %q, %v", userID, err)
	}
}

func TestMintAndResolveToken(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.CreateUser(ctx, &storage.User{ID: "u1", Username: "alice", Role: "user", CreatedAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	svc := NewService(nil, "secret", store)

	token, err := svc.MintToken(ctx, "u1", "laptop")
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if !svc.VerifySignature(token) {
		t.Error("minted token has invalid signature")
	}

	userID, err := svc.ResolveBearer(ctx, "Bearer "+token)
	if err != nil || userID != "u1" {
		t.Errorf("ResolveBearer = %q, %v", userID, err)
	}
}

func TestResolveRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc := NewService([]string{"good"}, "secret", storage.NewMemoryStore())

	for label, header := range map[string]string{
		"missing bearer": "good",
		"empty token":    "Bearer ",
		"unknown token":  "Bearer nope",
	} {
		if _, err := svc.ResolveBearer(ctx, header); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: error = %v, want ErrUnauthorized", label, err)
		}
	}
}

func TestVerifySignatureRejectsForeignToken(t *testing.T) {
	store := storage.NewMemoryStore()
	svcA := NewService(nil, "secret-a", store)
	svcB := NewService(nil, "secret-b", store)

	token, err := svcA.MintToken(context.Background(), "u1", "x")
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if svcB.VerifySignature(token) {
		t.Error("token signed with another secret verified")
	}
}

// Package pairing handles bootstrap of the first admin account and
// invite codes for enrolling additional devices.
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyclaw/rustyclaw/internal/storage"
)

const (
	// CodeLength is the length of setup and invite codes.
	CodeLength = 8
	// CodeAlphabet contains unambiguous characters (no 0O1I).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// InviteTTL is how long an invite code stays redeemable.
	InviteTTL = 10 * time.Minute
)

var (
	// ErrSetupInactive indicates no setup is in progress.
	ErrSetupInactive = errors.New("setup mode is not active")
	// ErrInvalidCode indicates a wrong or expired code.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrAlreadyClaimed indicates the admin account already exists.
	ErrAlreadyClaimed = errors.New("admin account already exists")
)

// Invite is a pending device-enrollment code.
type Invite struct {
	Code      string    `json:"code"`
	CreatedBy string    `json:"created_by"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager owns the setup code and outstanding invites.
type Manager struct {
	store storage.Store

	mu        sync.Mutex
	setupCode string
	invites   map[string]*Invite

	logger *slog.Logger
}

// NewManager creates a pairing manager.
func NewManager(store storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		invites: make(map[string]*Invite),
		logger:  logger.With("component", "pairing"),
	}
}

// CheckAndStartSetup enters setup mode when no users exist: it
// generates (once) a setup code and returns it. Returns empty when the
// system already has users. Idempotent until the code is consumed.
func (m *Manager) CheckAndStartSetup(ctx context.Context) (string, error) {
	count, err := m.store.UserCount(ctx)
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setupCode != "" {
		return m.setupCode, nil
	}
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate setup code: %w", err)
	}
	m.setupCode = code

	m.logger.Warn("INITIAL SETUP REQUIRED")
	m.logger.Warn("use this code to create the admin account", "code", code)
	return code, nil
}

// ClaimAdmin creates the admin account from a valid setup code. The
// user count is re-checked under the claim so exactly one claim wins.
func (m *Manager) ClaimAdmin(ctx context.Context, code, username string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setupCode == "" {
		return nil, ErrSetupInactive
	}
	if code != m.setupCode {
		return nil, ErrInvalidCode
	}

	// Guard against a racing claim that already created a user.
	count, err := m.store.UserCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil, ErrAlreadyClaimed
	}

	now := time.Now().UTC()
	user := &storage.User{
		ID:        uuid.NewString(),
		Username:  username,
		Role:      "admin",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	m.setupCode = ""

	m.logger.Info("admin account created", "username", username)
	return user, nil
}

// SetupActive reports whether a setup code is outstanding.
func (m *Manager) SetupActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setupCode != ""
}

// CreateInvite issues a single-use invite code with a 10-minute expiry.
func (m *Manager) CreateInvite(userID string) (*Invite, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate invite code: %w", err)
	}
	invite := &Invite{
		Code:      code,
		CreatedBy: userID,
		ExpiresAt: time.Now().UTC().Add(InviteTTL),
	}
	m.mu.Lock()
	m.invites[code] = invite
	m.mu.Unlock()

	m.logger.Info("invite created", "by", userID, "expires_at", invite.ExpiresAt)
	return invite, nil
}

// RedeemInvite consumes an invite atomically, creating a new user with
// an identity carrying the device label.
func (m *Manager) RedeemInvite(ctx context.Context, code, deviceLabel string) (*storage.User, error) {
	m.mu.Lock()
	invite, ok := m.invites[code]
	if ok {
		delete(m.invites, code) // single-use, consumed even on later failure
	}
	m.mu.Unlock()

	if !ok || time.Now().After(invite.ExpiresAt) {
		return nil, ErrInvalidCode
	}

	now := time.Now().UTC()
	user := &storage.User{
		ID:        uuid.NewString(),
		Username:  fmt.Sprintf("device-%s", user8()),
		Role:      "user",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := m.store.CreateIdentity(ctx, &storage.Identity{
		Provider:   "device",
		ProviderID: user.ID,
		UserID:     user.ID,
		Label:      deviceLabel,
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	m.logger.Info("invite redeemed", "user", user.ID, "label", deviceLabel)
	return user, nil
}

func generateCode() (string, error) {
	raw := make([]byte, CodeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	code := make([]byte, CodeLength)
	for i := range raw {
		code[i] = CodeAlphabet[int(raw[i])%len(CodeAlphabet)]
	}
	return string(code), nil
}

func user8() string {
	return uuid.NewString()[:8]
}

// Package storage persists users, identities, sessions and messages.
//
// Two implementations ship: a SQLite store for the gateway and an
// in-memory store used by tests.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// User is an account known to the gateway.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity maps an external credential onto a User.
// (Provider, ProviderID) is unique.
type Identity struct {
	Provider   string    `json:"provider"`
	ProviderID string    `json:"provider_id"`
	UserID     string    `json:"user_id"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is a conversation container for one user on one channel.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Channel   string    `json:"channel"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one transcript entry. Messages are append-only.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	Tokens    int       `json:"tokens,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence contract the gateway core consumes.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UserCount(ctx context.Context) (int, error)
	DeleteUser(ctx context.Context, id string) error

	// Identities
	CreateIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, provider, providerID string) (*Identity, error)
	DeleteIdentities(ctx context.Context, userID string) error

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	// FindSession returns the most recently updated session for
	// (userID, channel, scope), or ErrNotFound.
	FindSession(ctx context.Context, userID, channel, scope string) (*Session, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*Session, int, error)
	DeleteSession(ctx context.Context, id string) error

	// Messages
	AddMessage(ctx context.Context, message *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// GetMessages returns the most recent messages in chronological order.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
	ListMessages(ctx context.Context, limit, offset int) ([]*Message, int, error)
	DeleteSessionMessages(ctx context.Context, sessionID string) error

	Close() error
}

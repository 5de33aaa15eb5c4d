package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation for tests and
// ephemeral deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*User
	identities map[string]*Identity // provider + "\x00" + providerID
	sessions   map[string]*Session
	messages   map[string]*Message
	msgOrder   []string // insertion order of message ids
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*User),
		identities: make(map[string]*Identity),
		sessions:   make(map[string]*Session),
		messages:   make(map[string]*Message),
	}
}

func identityKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return ErrAlreadyExists
	}
	for _, u := range s.users {
		if u.Username == user.Username {
			return ErrAlreadyExists
		}
	}
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UserCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// DeleteUser removes a user and cascades through identities, sessions
// and messages.
func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for key, ident := range s.identities {
		if ident.UserID == id {
			delete(s.identities, key)
		}
	}
	for sid, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, sid)
			s.deleteMessagesLocked(sid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identityKey(identity.Provider, identity.ProviderID)
	if _, ok := s.identities[key]; ok {
		return ErrAlreadyExists
	}
	clone := *identity
	s.identities[key] = &clone
	return nil
}

func (s *MemoryStore) GetIdentity(ctx context.Context, provider, providerID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[identityKey(provider, providerID)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ident
	return &clone, nil
}

func (s *MemoryStore) DeleteIdentities(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ident := range s.identities {
		if ident.UserID == userID {
			delete(s.identities, key)
		}
	}
	return nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *MemoryStore) FindSession(ctx context.Context, userID, channel, scope string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Channel != channel || sess.Scope != scope {
			continue
		}
		if newest == nil || sess.UpdatedAt.After(newest.UpdatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	clone := *newest
	return &clone, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Session
	for _, sess := range s.sessions {
		if userID == "" || sess.UserID == userID {
			clone := *sess
			all = append(all, &clone)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	total := len(all)
	return paginate(all, limit, offset), total, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	s.deleteMessagesLocked(id)
	return nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, message *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[message.SessionID]; !ok {
		return ErrNotFound
	}
	clone := *message
	s.messages[message.ID] = &clone
	s.msgOrder = append(s.msgOrder, message.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var msgs []*Message
	for _, id := range s.msgOrder {
		msg, ok := s.messages[id]
		if !ok || msg.SessionID != sessionID {
			continue
		}
		clone := *msg
		msgs = append(msgs, &clone)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, limit, offset int) ([]*Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Message
	for _, id := range s.msgOrder {
		if msg, ok := s.messages[id]; ok {
			clone := *msg
			all = append(all, &clone)
		}
	}
	total := len(all)
	return paginate(all, limit, offset), total, nil
}

func (s *MemoryStore) DeleteSessionMessages(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteMessagesLocked(sessionID)
	return nil
}

func (s *MemoryStore) deleteMessagesLocked(sessionID string) {
	kept := s.msgOrder[:0]
	for _, id := range s.msgOrder {
		msg, ok := s.messages[id]
		if ok && msg.SessionID == sessionID {
			delete(s.messages, id)
			continue
		}
		kept = append(kept, id)
	}
	s.msgOrder = kept
}

func (s *MemoryStore) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

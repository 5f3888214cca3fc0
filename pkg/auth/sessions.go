package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/jadenk/mailux/pkg/email"
	"github.com/patrickmn/go-cache"
)

// SessionStore holds the credentials of logged-in users under an opaque
// id. Entries expire after the session TTL and are lost on restart.
type SessionStore struct {
	entries *cache.Cache
}

// NewSessionStore creates a store whose sessions live for ttl
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		entries: cache.New(ttl, 10*time.Minute),
	}
}

// Open stores creds and returns the new session id
func (s *SessionStore) Open(creds email.Credentials) string {
	id := uuid.NewString()
	s.entries.SetDefault(id, creds)
	return id
}

// Lookup returns the credentials of a live session
func (s *SessionStore) Lookup(id string) (email.Credentials, bool) {
	v, ok := s.entries.Get(id)
	if !ok {
		return email.Credentials{}, false
	}
	creds, ok := v.(email.Credentials)
	return creds, ok
}

// Close ends a session
func (s *SessionStore) Close(id string) {
	s.entries.Delete(id)
}

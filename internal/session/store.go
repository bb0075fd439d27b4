package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const tokenBytes = 32

// Store is the process-wide table of opaque bearer session tokens. Expiry is
// lazy: an expired entry is evicted on its first failed validation.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]time.Time
	now      func() time.Time
}

// New creates a Store whose tokens expire ttl after issuance.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Issue mints a new cryptographically random token and records its creation
// time.
func (s *Store) Issue() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(raw)

	s.mu.Lock()
	s.sessions[token] = s.now()
	s.mu.Unlock()
	return token, nil
}

// Validate reports whether token currently names a live session. It fails
// closed on empty or unknown input and evicts entries past their TTL.
func (s *Store) Validate(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt, ok := s.sessions[token]
	if !ok {
		return false
	}
	if s.now().Sub(createdAt) > s.ttl {
		delete(s.sessions, token)
		return false
	}
	return true
}

// Revoke removes token if present. Revoking an unknown token is a no-op.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Len reports the number of live entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

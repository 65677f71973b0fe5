// Package otp holds short-lived, single-use password reset codes keyed by
// email. It is its own component with explicit expiry rather than ambient
// process state.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 10 * time.Minute

type entry struct {
	code      string
	expiresAt time.Time
}

// Store issues and verifies single-use codes. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewStore returns a Store with the given TTL (DefaultTTL when <= 0).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Issue generates a fresh 6-digit code for the email, replacing any
// previous one.
func (s *Store) Issue(email string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[email] = entry{code: code, expiresAt: s.now().Add(s.ttl)}
	return code, nil
}

// Verify consumes the code for the email. A code verifies at most once;
// expired or mismatched codes return false and unexpired mismatches stay
// stored so a typo doesn't burn the code.
func (s *Store) Verify(email, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[email]
	if !ok {
		return false
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, email)
		return false
	}
	if e.code != code {
		return false
	}
	delete(s.entries, email)
	return true
}

// sweepLocked drops expired entries. Called with mu held.
func (s *Store) sweepLocked() {
	now := s.now()
	for email, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, email)
		}
	}
}

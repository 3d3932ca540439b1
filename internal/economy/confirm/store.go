// Package confirm holds the short-lived confirmation tokens minted
// when a player's input needs disambiguation before a mutating
// operation may proceed. One process-wide store serves every
// operation, so the TTL, ownership and single-use rules live in one
// place.
package confirm

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaironbot/economy/internal/economy/catalog"
)

var (
	// ErrExpired covers both a genuinely expired token and one that
	// never existed or was already consumed; callers cannot tell the
	// difference and should not be able to.
	ErrExpired = errors.New("confirmation expired")

	// ErrForbidden is returned when the redeemer is not the owner.
	// The token stays redeemable by its owner.
	ErrForbidden = errors.New("confirmation not owned by redeemer")
)

// Payload carries the context collected before the suggestion was
// issued, enough to resume the operation as if the player had typed
// the suggested name exactly.
type Payload struct {
	Operation string
	GuildID   string
	TargetRef string
	Quantity  int
	Entry     catalog.Entry
}

type Token struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	ExpiresAt time.Time
	Payload   Payload
}

type Store struct {
	mu        sync.Mutex
	tokens    map[string]Token
	lastPrune time.Time
}

func NewStore() *Store {
	return &Store{tokens: map[string]Token{}}
}

// Create mints a fresh token bound to ownerID. IDs are generated per
// token; reusing any caller-side conversation id would let concurrent
// operations collide.
func (s *Store) Create(ownerID string, ttl time.Duration, p Payload, now time.Time) Token {
	t := Token{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Payload:   p,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.tokens[t.ID] = t
	return t
}

// Redeem consumes the token. Checks run in order: existence/expiry
// first, then ownership. A successful redemption removes the token,
// so a second attempt, concurrent or later, observes ErrExpired.
func (s *Store) Redeem(tokenID, redeemerID string, now time.Time) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	t, ok := s.tokens[tokenID]
	if !ok || !now.Before(t.ExpiresAt) {
		delete(s.tokens, tokenID)
		return Payload{}, ErrExpired
	}
	if t.OwnerID != redeemerID {
		return Payload{}, ErrForbidden
	}
	delete(s.tokens, tokenID)
	return t.Payload, nil
}

// Len reports live (possibly expired but unswept) tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) pruneLocked(now time.Time) {
	if now.Sub(s.lastPrune) < time.Minute && len(s.tokens) < 4096 {
		return
	}
	for id, t := range s.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(s.tokens, id)
		}
	}
	s.lastPrune = now
}

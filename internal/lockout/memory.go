package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with per-key atomic updates; used by
// tests and local runs.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (s *MemoryStore) Get(ctx context.Context, identityKey string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[identityKey]
	if !ok {
		return State{IdentityKey: identityKey}, nil
	}
	return state, nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, identityKey string, threshold int, lockFor time.Duration, now time.Time) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.states[identityKey]
	state.IdentityKey = identityKey

	if state.LockedUntil != nil {
		if now.Before(*state.LockedUntil) {
			return state, nil
		}
		state.FailedAttempts = 0
		state.LockedUntil = nil
	}

	state.FailedAttempts++
	if state.FailedAttempts >= threshold {
		until := now.UTC().Add(lockFor)
		state.LockedUntil = &until
	}

	s.states[identityKey] = state
	return state, nil
}

func (s *MemoryStore) Reset(ctx context.Context, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[identityKey] = State{IdentityKey: identityKey}
	return nil
}

package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]Identity
	byLoginID map[string]string
	byPhone   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]Identity),
		byLoginID: make(map[string]string),
		byPhone:   make(map[string]string),
	}
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return account, nil
}

func (s *MemoryStore) GetFacilityByLoginID(ctx context.Context, loginID string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLoginID[loginID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) GetGuardianByPhone(ctx context.Context, phone string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) CreateFacility(ctx context.Context, account Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account.Kind = KindFacility
	s.byID[account.ID] = account
	s.byLoginID[account.LoginID] = account.ID
	return nil
}

func (s *MemoryStore) CreateGuardian(ctx context.Context, account Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account.Kind = KindGuardian
	s.byID[account.ID] = account
	s.byPhone[account.PhoneNumber] = account.ID
	return nil
}

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local runs. One lock
// covers all mutations, which makes rotation trivially linearizable.
type MemoryStore struct {
	mu       sync.Mutex
	byHash   map[string]*Record
	byFamily map[string][]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:   make(map[string]*Record),
		byFamily: make(map[string][]*Record),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(record)
	return nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, tokenHash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byHash[tokenHash]
	if !ok {
		return Record{}, ErrInvalidToken
	}
	return *record, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, presentedHash string, next Record, now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byHash[presentedHash]
	if !ok {
		return Record{}, ErrInvalidToken
	}
	if prev.Revoked() {
		return *prev, ErrTokenReused
	}
	if !now.Before(prev.ExpiresAt) {
		return Record{}, ErrInvalidToken
	}

	revokedAt := now.UTC()
	prev.RevokedAt = &revokedAt
	prev.ReplacedBy = next.ID
	s.insertLocked(next)

	return *prev, nil
}

func (s *MemoryStore) RevokeFamily(ctx context.Context, familyID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	revokedAt := now.UTC()
	for _, record := range s.byFamily[familyID] {
		if record.RevokedAt == nil {
			record.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (s *MemoryStore) insertLocked(record Record) {
	stored := record
	s.byHash[record.TokenHash] = &stored
	s.byFamily[record.FamilyID] = append(s.byFamily[record.FamilyID], &stored)
}

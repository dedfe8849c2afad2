package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local runs. All
// mutations happen under one lock, which gives the same per-row atomicity
// the Postgres store gets from transactions.
type MemoryStore struct {
	mu          sync.Mutex
	credentials map[string]Credential
	challenges  map[string]*Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]Credential),
		challenges:  make(map[string]*Challenge),
	}
}

func (s *MemoryStore) GetCredential(ctx context.Context, identityID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[identityID]
	if !ok || cred.PasswordHash == "" {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (s *MemoryStore) SetPassword(ctx context.Context, identityID, passwordHash string, cost int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[identityID] = Credential{
		IdentityID:   identityID,
		PasswordHash: passwordHash,
		Cost:         cost,
		UpdatedAt:    time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) CreateChallenge(ctx context.Context, challenge Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.challenges {
		if existing.PhoneNumber == challenge.PhoneNumber && !existing.Used {
			existing.Superseded = true
		}
	}

	stored := challenge
	s.challenges[challenge.ID] = &stored
	return nil
}

func (s *MemoryStore) FindActiveChallenge(ctx context.Context, phone string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*Challenge, 0, 1)
	for _, challenge := range s.challenges {
		if challenge.PhoneNumber == phone && !challenge.Superseded {
			candidates = append(candidates, challenge)
		}
	}
	if len(candidates) == 0 {
		return Challenge{}, ErrChallengeNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return *candidates[0], nil
}

func (s *MemoryStore) BumpChallengeAttempts(ctx context.Context, challengeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[challengeID]
	if !ok {
		return 0, ErrChallengeNotFound
	}
	challenge.AttemptCount++
	return challenge.AttemptCount, nil
}

func (s *MemoryStore) ConsumeChallenge(ctx context.Context, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[challengeID]
	if !ok {
		return false, ErrChallengeNotFound
	}
	if challenge.Used {
		return false, nil
	}
	challenge.Used = true
	return true, nil
}

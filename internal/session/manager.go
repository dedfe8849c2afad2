package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kimken5/nursery-auth/internal/token"
)

const DefaultRefreshTTL = 14 * 24 * time.Hour

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	FamilyID        string
}

// Manager pairs refresh token records with access tokens and drives the
// rotation protocol on top of a Store.
type Manager struct {
	store      Store
	issuer     *token.Issuer
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(store Store, issuer *token.Issuer, refreshTTL time.Duration) *Manager {
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Manager{
		store:      store,
		issuer:     issuer,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the manager clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateSession starts a new token family for an authenticated principal.
func (m *Manager) CreateSession(ctx context.Context, owner Owner, meta Metadata) (Pair, error) {
	familyID := uuid.NewString()
	record, pair, err := m.mintGeneration(owner, familyID, meta)
	if err != nil {
		return Pair{}, err
	}

	if err := m.store.Insert(ctx, record); err != nil {
		return Pair{}, err
	}

	return pair, nil
}

// Rotate exchanges a presented refresh token for a fresh pair. The presented
// value is single-use: a second rotation of the same value fails, and a
// revoked value being presented again is treated as replay, revoking every
// session in the family before the error is returned.
func (m *Manager) Rotate(ctx context.Context, presented string, meta Metadata) (Pair, error) {
	presentedHash := HashValue(presented)
	now := m.now()

	prev, err := m.store.FindByHash(ctx, presentedHash)
	if err != nil {
		return Pair{}, err
	}
	if prev.Revoked() {
		return Pair{}, m.containReuse(ctx, prev, now)
	}
	if !now.Before(prev.ExpiresAt) {
		return Pair{}, ErrInvalidToken
	}

	owner := Owner{IdentityID: prev.OwnerIdentityID, Kind: prev.OwnerKind, TenantID: prev.TenantID}
	next, pair, err := m.mintGeneration(owner, prev.FamilyID, meta)
	if err != nil {
		return Pair{}, err
	}

	if _, err := m.store.Rotate(ctx, presentedHash, next, now); err != nil {
		if errors.Is(err, ErrTokenReused) {
			return Pair{}, m.containReuse(ctx, prev, now)
		}
		return Pair{}, err
	}

	return pair, nil
}

// Logout revokes the whole family the presented token belongs to.
func (m *Manager) Logout(ctx context.Context, presented string) error {
	record, err := m.store.FindByHash(ctx, HashValue(presented))
	if err != nil {
		return err
	}
	return m.store.RevokeFamily(ctx, record.FamilyID, m.now())
}

func (m *Manager) RevokeFamily(ctx context.Context, familyID string) error {
	return m.store.RevokeFamily(ctx, familyID, m.now())
}

// containReuse revokes the compromised family and reports the replay.
func (m *Manager) containReuse(ctx context.Context, record Record, now time.Time) error {
	if err := m.store.RevokeFamily(ctx, record.FamilyID, now); err != nil {
		return err
	}
	return ErrTokenReused
}

func (m *Manager) mintGeneration(owner Owner, familyID string, meta Metadata) (Record, Pair, error) {
	access, err := m.issuer.IssueAccessToken(owner.IdentityID, owner.Kind, owner.TenantID)
	if err != nil {
		return Record{}, Pair{}, err
	}

	refreshValue, err := token.NewRefreshValue()
	if err != nil {
		return Record{}, Pair{}, err
	}

	now := m.now()
	record := Record{
		ID:              uuid.NewString(),
		TokenHash:       HashValue(refreshValue),
		FamilyID:        familyID,
		OwnerIdentityID: owner.IdentityID,
		OwnerKind:       owner.Kind,
		TenantID:        owner.TenantID,
		AccessJTI:       access.JTI,
		ClientIP:        meta.ClientIP,
		UserAgent:       meta.UserAgent,
		IssuedAt:        now,
		ExpiresAt:       now.Add(m.refreshTTL),
	}

	pair := Pair{
		AccessToken:     access.Value,
		AccessExpiresAt: access.ExpiresAt,
		RefreshToken:    refreshValue,
		FamilyID:        familyID,
	}

	return record, pair, nil
}

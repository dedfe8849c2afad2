package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimken5/nursery-auth/internal/identity"
	"github.com/kimken5/nursery-auth/internal/token"
)

var testOwner = Owner{IdentityID: "ident-1", Kind: identity.KindGuardian, TenantID: "tenant-a"}

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore()
	issuer := token.NewIssuer("test-signing-key", "", 15*time.Minute).WithClock(clock)
	manager := NewManager(store, issuer, 14*24*time.Hour).WithClock(clock)
	return manager, store, &now
}

func TestCreateSessionAndRotate(t *testing.T) {
	ctx := context.Background()
	manager, store, _ := newTestManager(t)

	pair, err := manager.CreateSession(ctx, testOwner, Metadata{ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEmpty(t, pair.FamilyID)

	next, err := manager.Rotate(ctx, pair.RefreshToken, Metadata{})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.Equal(t, pair.FamilyID, next.FamilyID, "rotation stays inside the family")

	record, err := store.FindByHash(ctx, HashValue(next.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, testOwner.IdentityID, record.OwnerIdentityID)
	assert.Equal(t, testOwner.Kind, record.OwnerKind)
	assert.False(t, record.Revoked())
}

func TestRotateUnknownToken(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	_, err := manager.Rotate(ctx, "never-issued", Metadata{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRotateExpiredToken(t *testing.T) {
	ctx := context.Background()
	manager, _, now := newTestManager(t)

	pair, err := manager.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)

	*now = now.Add(15 * 24 * time.Hour)
	_, err = manager.Rotate(ctx, pair.RefreshToken, Metadata{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestReuseRevokesWholeFamily(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	pair, err := manager.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)

	next, err := manager.Rotate(ctx, pair.RefreshToken, Metadata{})
	require.NoError(t, err)

	// Presenting the already-rotated value is replay.
	_, err = manager.Rotate(ctx, pair.RefreshToken, Metadata{})
	assert.ErrorIs(t, err, ErrTokenReused)

	// Containment kills the live descendant too.
	_, err = manager.Rotate(ctx, next.RefreshToken, Metadata{})
	assert.ErrorIs(t, err, ErrTokenReused)
}

func TestConcurrentRotationHasOneWinner(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	pair, err := manager.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = manager.Rotate(ctx, pair.RefreshToken, Metadata{})
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrTokenReused, "racer %d", i)
	}
	assert.Equal(t, 1, wins, "a refresh token is single-use")
}

func TestLogoutRevokesFamily(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	pair, err := manager.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)
	next, err := manager.Rotate(ctx, pair.RefreshToken, Metadata{})
	require.NoError(t, err)

	require.NoError(t, manager.Logout(ctx, next.RefreshToken))

	_, err = manager.Rotate(ctx, next.RefreshToken, Metadata{})
	assert.ErrorIs(t, err, ErrTokenReused)
}

func TestFamiliesAreIndependent(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t)

	first, err := manager.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)
	second, err := manager.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)
	require.NotEqual(t, first.FamilyID, second.FamilyID)

	require.NoError(t, manager.RevokeFamily(ctx, first.FamilyID))

	_, err = manager.Rotate(ctx, second.RefreshToken, Metadata{})
	assert.NoError(t, err, "revoking one device must not touch the other")
}

func TestRotateKeepsSingleLiveRecordPerFamily(t *testing.T) {
	ctx := context.Background()
	manager, store, _ := newTestManager(t)

	pair, err := manager.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)

	current := pair.RefreshToken
	for i := 0; i < 3; i++ {
		next, err := manager.Rotate(ctx, current, Metadata{})
		require.NoError(t, err)

		prev, err := store.FindByHash(ctx, HashValue(current))
		require.NoError(t, err)
		assert.True(t, prev.Revoked(), "generation %d must be revoked after rotation", i)
		current = next.RefreshToken
	}
}

func TestRotateRaceLoserAfterStoreLookup(t *testing.T) {
	// Two managers over one store model two server instances handling the
	// same presented token; the store is the arbiter.
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore()
	issuer := token.NewIssuer("test-signing-key", "", 15*time.Minute).WithClock(clock)
	a := NewManager(store, issuer, 14*24*time.Hour).WithClock(clock)
	b := NewManager(store, issuer, 14*24*time.Hour).WithClock(clock)

	pair, err := a.CreateSession(ctx, testOwner, Metadata{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errA := errors.New("unset")
	errB := errors.New("unset")
	wg.Add(2)
	go func() { defer wg.Done(); _, errA = a.Rotate(ctx, pair.RefreshToken, Metadata{}) }()
	go func() { defer wg.Done(); _, errB = b.Rotate(ctx, pair.RefreshToken, Metadata{}) }()
	wg.Wait()

	if errA == nil {
		assert.ErrorIs(t, errB, ErrTokenReused)
	} else {
		assert.ErrorIs(t, errA, ErrTokenReused)
		assert.NoError(t, errB)
	}
}

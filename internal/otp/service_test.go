package otp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kimken5/nursery-auth/internal/credential"
	"github.com/kimken5/nursery-auth/internal/identity"
)

const testPhone = "+819012345678"

type captureSender struct {
	mu    sync.Mutex
	sends []string
}

func (s *captureSender) Send(ctx context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, phone+":"+code)
	return nil
}

func pinned(code string) func(int) (string, error) {
	return func(int) (string, error) { return code, nil }
}

func newTestService(t *testing.T) (*Service, *identity.MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	identities := identity.NewMemoryStore()
	svc := NewService(credential.NewMemoryStore(), identities, &captureSender{}, zap.NewNop().Sugar(), 5*time.Minute, 5).
		WithClock(func() time.Time { return now }).
		WithCodeGenerator(pinned("482913"))
	return svc, identities, &now
}

func seedGuardian(t *testing.T, identities *identity.MemoryStore) identity.Identity {
	t.Helper()
	account := identity.Identity{
		ID:          "guardian-1",
		Kind:        identity.KindGuardian,
		TenantID:    "tenant-a",
		PhoneNumber: testPhone,
	}
	require.NoError(t, identities.CreateGuardian(context.Background(), account))
	return account
}

func TestRequestAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, identities, _ := newTestService(t)
	account := seedGuardian(t, identities)

	_, err := svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	result, err := svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, result.Outcome)
	assert.Equal(t, account.ID, result.OwnerIdentityID)
}

func TestVerifyWrongCode(t *testing.T) {
	ctx := context.Background()
	svc, identities, _ := newTestService(t)
	seedGuardian(t, identities)

	_, err := svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	result, err := svc.VerifyCode(ctx, testPhone, "000000")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, result.Outcome)

	// The challenge stays live for further attempts.
	result, err = svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, result.Outcome)
}

func TestVerifyExhaustsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	svc, identities, _ := newTestService(t)
	seedGuardian(t, identities)

	_, err := svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		result, err := svc.VerifyCode(ctx, testPhone, "000000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeInvalid, result.Outcome, "attempt %d", i+1)
	}

	// Even the correct code is rejected once the cap is hit.
	result, err := svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, result.Outcome)
}

func TestVerifyExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	svc, identities, now := newTestService(t)
	seedGuardian(t, identities)

	_, err := svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)
	result, err := svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, result.Outcome)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	result, err := svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, result.Outcome)
}

func TestChallengeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc, identities, _ := newTestService(t)
	seedGuardian(t, identities)

	_, err := svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	result, err := svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	require.Equal(t, OutcomeVerified, result.Outcome)

	result, err = svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, result.Outcome)
}

func TestNewRequestSupersedesOldCode(t *testing.T) {
	ctx := context.Background()
	svc, identities, _ := newTestService(t)
	seedGuardian(t, identities)

	_, err := svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	svc.WithCodeGenerator(pinned("771020"))
	_, err = svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	result, err := svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.NotEqual(t, OutcomeVerified, result.Outcome, "old code must not verify")

	result, err = svc.VerifyCode(ctx, testPhone, "771020")
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, result.Outcome)
}

func TestRequestForUnknownPhone(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	// No guardian account exists; the challenge is still issued so the
	// response does not leak enrollment status.
	_, err := svc.RequestCode(ctx, testPhone)
	require.NoError(t, err)

	result, err := svc.VerifyCode(ctx, testPhone, "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, result.Outcome)
	assert.Empty(t, result.OwnerIdentityID)
}

func TestRandomCodeShape(t *testing.T) {
	code, err := randomCode(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}

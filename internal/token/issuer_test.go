package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimken5/nursery-auth/internal/identity"
)

const testKey = "test-signing-key-0123456789abcdef"

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer(testKey, "", 15*time.Minute)

	access, err := issuer.IssueAccessToken("ident-1", identity.KindGuardian, "tenant-a")
	require.NoError(t, err)
	assert.NotEmpty(t, access.JTI)

	claims, err := issuer.VerifyAccessToken(access.Value)
	require.NoError(t, err)
	assert.Equal(t, "ident-1", claims.Subject)
	assert.Equal(t, identity.KindGuardian, claims.Kind)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.Equal(t, access.JTI, claims.ID)
}

func TestVerifyExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewIssuer(testKey, "", 15*time.Minute).WithClock(func() time.Time { return now })

	access, err := issuer.IssueAccessToken("ident-1", identity.KindFacility, "tenant-a")
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = issuer.VerifyAccessToken(access.Value)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	issuer := NewIssuer(testKey, "", 15*time.Minute)
	other := NewIssuer("another-key-entirely", "", 15*time.Minute)

	access, err := other.IssueAccessToken("ident-1", identity.KindFacility, "tenant-a")
	require.NoError(t, err)

	_, err = issuer.VerifyAccessToken(access.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAcceptsPreviousKeyDuringRollover(t *testing.T) {
	old := NewIssuer("previous-key", "", 15*time.Minute)
	access, err := old.IssueAccessToken("ident-1", identity.KindFacility, "tenant-a")
	require.NoError(t, err)

	rolled := NewIssuer(testKey, "previous-key", 15*time.Minute)
	claims, err := rolled.VerifyAccessToken(access.Value)
	require.NoError(t, err)
	assert.Equal(t, "ident-1", claims.Subject)

	dropped := NewIssuer(testKey, "", 15*time.Minute)
	_, err = dropped.VerifyAccessToken(access.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsNonAccessType(t *testing.T) {
	issuer := NewIssuer(testKey, "", 15*time.Minute)

	claims := Claims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ident-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	require.NoError(t, err)

	_, err = issuer.VerifyAccessToken(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer(testKey, "", 15*time.Minute)

	_, err := issuer.VerifyAccessToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNewRefreshValue(t *testing.T) {
	a, err := NewRefreshValue()
	require.NoError(t, err)
	b, err := NewRefreshValue()
	require.NoError(t, err)

	assert.Len(t, a, refreshValueBytes*2)
	assert.NotEqual(t, a, b)
}

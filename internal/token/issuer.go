package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kimken5/nursery-auth/internal/identity"
)

const (
	DefaultAccessTTL = 15 * time.Minute

	// refreshValueBytes gives 384 bits of entropy per refresh token value.
	refreshValueBytes = 48
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
)

// Claims is the access-token claim set. The identity id travels as the
// registered subject; kind and tenant are private claims the request
// authorizer hands to downstream collaborators.
type Claims struct {
	Kind      identity.Kind `json:"knd"`
	TenantID  string        `json:"tid"`
	TokenType string        `json:"typ"`
	jwt.RegisteredClaims
}

// AccessToken is a freshly signed access token together with the identifiers
// the session layer records.
type AccessToken struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

// Issuer signs short-lived access tokens and generates opaque refresh token
// values. Verification accepts the signing key and one optional previous key
// so key rollover does not invalidate in-flight tokens.
type Issuer struct {
	signingKey  []byte
	previousKey []byte
	accessTTL   time.Duration
	now         func() time.Time
}

func NewIssuer(signingKey, previousKey string, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	issuer := &Issuer{
		signingKey: []byte(signingKey),
		accessTTL:  accessTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if previousKey != "" {
		issuer.previousKey = []byte(previousKey)
	}
	return issuer
}

// WithClock overrides the issuer clock, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

func (i *Issuer) IssueAccessToken(identityID string, kind identity.Kind, tenantID string) (AccessToken, error) {
	now := i.now()
	jti := uuid.NewString()
	expiresAt := now.Add(i.accessTTL)

	claims := Claims{
		Kind:      kind,
		TenantID:  tenantID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign access token: %w", err)
	}

	return AccessToken{Value: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// VerifyAccessToken validates signature, expiry, and token type. Expired
// tokens are reported distinctly so callers can trigger a refresh instead of
// a re-login.
func (i *Issuer) VerifyAccessToken(value string) (Claims, error) {
	claims, err := i.parse(value, i.signingKey)
	if err != nil && i.previousKey != nil && !errors.Is(err, ErrTokenExpired) {
		claims, err = i.parse(value, i.previousKey)
	}
	if err != nil {
		return Claims{}, err
	}

	if claims.TokenType != "access" || claims.Subject == "" {
		return Claims{}, ErrTokenInvalid
	}

	return claims, nil
}

func (i *Issuer) parse(value string, key []byte) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(value, &claims, func(token *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}

	return claims, nil
}

// NewRefreshValue returns a fresh opaque refresh token value. Only its
// sha256 is ever persisted.
func NewRefreshValue() (string, error) {
	b := make([]byte, refreshValueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token value: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kimken5/nursery-auth/internal/identity"
)

var (
	// ErrInvalidToken means the presented refresh token is unknown or
	// expired; the caller must re-authenticate.
	ErrInvalidToken = errors.New("refresh token is invalid")
	// ErrTokenReused means the presented refresh token was already rotated
	// once: a replay signal. The whole family gets revoked.
	ErrTokenReused = errors.New("refresh token reuse detected")
)

// Record is one refresh token generation. TokenHash is the sha256 of the
// opaque value; the value itself is never persisted. FamilyID is stable
// across rotations of one login session, and at most one record per family
// is unrevoked at any time.
type Record struct {
	ID              string
	TokenHash       string
	FamilyID        string
	OwnerIdentityID string
	OwnerKind       identity.Kind
	TenantID        string
	AccessJTI       string
	ClientIP        string
	UserAgent       string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	RevokedAt       *time.Time
	ReplacedBy      string
}

func (r Record) Revoked() bool {
	return r.RevokedAt != nil
}

// Owner identifies the authenticated principal a session belongs to.
type Owner struct {
	IdentityID string
	Kind       identity.Kind
	TenantID   string
}

// Metadata is best-effort client context recorded on each generation; it is
// never used for authorization decisions.
type Metadata struct {
	ClientIP  string
	UserAgent string
}

// Store persists refresh token records. Rotate is the concurrency-critical
// operation: implementations must guarantee that no two rotations of the
// same presented hash both succeed.
type Store interface {
	Insert(ctx context.Context, record Record) error
	FindByHash(ctx context.Context, tokenHash string) (Record, error)

	// Rotate atomically revokes the record matching presentedHash and
	// inserts next in its place. It returns the revoked record, or
	// ErrTokenReused when the record was already revoked, or
	// ErrInvalidToken when it is unknown or expired.
	Rotate(ctx context.Context, presentedHash string, next Record, now time.Time) (Record, error)

	RevokeFamily(ctx context.Context, familyID string, now time.Time) error
}

// HashValue is the lookup hash for an opaque refresh token value.
func HashValue(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kimken5/nursery-auth/internal/identity"
)

// Repository is the Postgres-backed Store. Rotation takes a row lock on the
// presented record, so concurrent rotations of the same token serialize and
// exactly one succeeds.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `
	id, token_hash, family_id, owner_identity_id, owner_kind, tenant_id,
	access_jti, client_ip, user_agent, issued_at, expires_at, revoked_at, replaced_by
`

func (r *Repository) Insert(ctx context.Context, record Record) error {
	if err := insertRecord(ctx, r.db, record); err != nil {
		return err
	}
	return nil
}

func (r *Repository) FindByHash(ctx context.Context, tokenHash string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM auth_refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	record, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrInvalidToken
		}
		return Record{}, fmt.Errorf("query refresh token: %w", err)
	}

	return record, nil
}

func (r *Repository) Rotate(ctx context.Context, presentedHash string, next Record, now time.Time) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM auth_refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, presentedHash)

	prev, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrInvalidToken
		}
		return Record{}, fmt.Errorf("lock refresh token row: %w", err)
	}

	if prev.Revoked() {
		return prev, ErrTokenReused
	}
	if !now.Before(prev.ExpiresAt) {
		return Record{}, ErrInvalidToken
	}

	if err := insertRecord(ctx, tx, next); err != nil {
		return Record{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1
	`, prev.ID, now.UTC(), next.ID); err != nil {
		return Record{}, fmt.Errorf("revoke rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit rotation tx: %w", err)
	}

	return prev, nil
}

func (r *Repository) RevokeFamily(ctx context.Context, familyID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE family_id = $1
	`, familyID, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}

	return nil
}

// SweepStale deletes expired records and records revoked before the cutoff,
// in batches; used by the retention sweep.
func (r *Repository) SweepStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < NOW() OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY issued_at ASC
			LIMIT $2
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, record Record) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens
			(id, token_hash, family_id, owner_identity_id, owner_kind, tenant_id,
			 access_jti, client_ip, user_agent, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, record.ID, record.TokenHash, record.FamilyID, record.OwnerIdentityID, string(record.OwnerKind),
		record.TenantID, record.AccessJTI, record.ClientIP, record.UserAgent,
		record.IssuedAt.UTC(), record.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var record Record
	var kind string
	var revokedAt sql.NullTime
	var replacedBy sql.NullString

	err := scan(
		&record.ID, &record.TokenHash, &record.FamilyID, &record.OwnerIdentityID, &kind,
		&record.TenantID, &record.AccessJTI, &record.ClientIP, &record.UserAgent,
		&record.IssuedAt, &record.ExpiresAt, &revokedAt, &replacedBy,
	)
	if err != nil {
		return Record{}, err
	}

	record.OwnerKind = identity.Kind(kind)
	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		record.RevokedAt = &value
	}
	if replacedBy.Valid {
		record.ReplacedBy = replacedBy.String
	}

	return record, nil
}

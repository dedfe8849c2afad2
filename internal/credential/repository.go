package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetCredential(ctx context.Context, identityID string) (Credential, error) {
	var cred Credential
	cred.IdentityID = identityID

	err := r.db.QueryRowContext(ctx, `
		SELECT password_hash, password_cost, updated_at
		FROM facility_accounts
		WHERE id = $1
	`, identityID).Scan(&cred.PasswordHash, &cred.Cost, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("query credential: %w", err)
	}
	if cred.PasswordHash == "" {
		return Credential{}, ErrNotFound
	}

	return cred, nil
}

func (r *Repository) SetPassword(ctx context.Context, identityID, passwordHash string, cost int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE facility_accounts
		SET password_hash = $2, password_cost = $3, updated_at = $4
		WHERE id = $1
	`, identityID, passwordHash, cost, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("password update rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) CreateChallenge(ctx context.Context, challenge Challenge) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin challenge tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE otp_challenges
		SET superseded = TRUE
		WHERE phone_number = $1 AND NOT used AND NOT superseded
	`, challenge.PhoneNumber); err != nil {
		return fmt.Errorf("supersede prior challenges: %w", err)
	}

	var owner any
	if challenge.OwnerIdentityID != "" {
		owner = challenge.OwnerIdentityID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO otp_challenges (id, phone_number, code_hash, code_salt, attempt_count, used, superseded, owner_identity_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, 0, FALSE, FALSE, $5, $6, $7)
	`, challenge.ID, challenge.PhoneNumber, challenge.CodeHash, challenge.CodeSalt, owner, challenge.CreatedAt.UTC(), challenge.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("insert otp challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit challenge tx: %w", err)
	}

	return nil
}

func (r *Repository) FindActiveChallenge(ctx context.Context, phone string) (Challenge, error) {
	var challenge Challenge
	var owner sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, phone_number, code_hash, code_salt, attempt_count, used, superseded, owner_identity_id, created_at, expires_at
		FROM otp_challenges
		WHERE phone_number = $1 AND NOT superseded
		ORDER BY created_at DESC
		LIMIT 1
	`, phone).Scan(
		&challenge.ID, &challenge.PhoneNumber, &challenge.CodeHash, &challenge.CodeSalt,
		&challenge.AttemptCount, &challenge.Used, &challenge.Superseded, &owner,
		&challenge.CreatedAt, &challenge.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Challenge{}, ErrChallengeNotFound
		}
		return Challenge{}, fmt.Errorf("query active challenge: %w", err)
	}
	if owner.Valid {
		challenge.OwnerIdentityID = owner.String
	}

	return challenge, nil
}

func (r *Repository) BumpChallengeAttempts(ctx context.Context, challengeID string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_challenges
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`, challengeID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrChallengeNotFound
		}
		return 0, fmt.Errorf("bump challenge attempts: %w", err)
	}

	return attempts, nil
}

func (r *Repository) ConsumeChallenge(ctx context.Context, challengeID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges
		SET used = TRUE
		WHERE id = $1 AND NOT used
	`, challengeID)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume challenge rows affected: %w", err)
	}

	return affected == 1, nil
}

// SweepDeadChallenges deletes used, superseded, and long-expired challenge
// rows in batches; used by the retention sweep.
func (r *Repository) SweepDeadChallenges(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM otp_challenges
			WHERE used OR superseded OR expires_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM otp_challenges t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete dead otp challenges: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dead otp challenges rows affected: %w", err)
	}

	return affected, nil
}

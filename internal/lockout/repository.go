package lockout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the Postgres-backed Store. Failure counting locks the row
// so concurrent attempts for the same identity serialize instead of
// read-modify-writing past each other.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, identityKey string) (State, error) {
	state := State{IdentityKey: identityKey}

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_lockouts
		WHERE identity_key = $1
	`, identityKey).Scan(&state.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, nil
		}
		return State{}, fmt.Errorf("query lockout state: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		state.LockedUntil = &value
	}

	return state, nil
}

func (r *Repository) RecordFailure(ctx context.Context, identityKey string, threshold int, lockFor time.Duration, now time.Time) (State, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return State{}, fmt.Errorf("begin lockout tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_lockouts
		WHERE identity_key = $1
		FOR UPDATE
	`, identityKey).Scan(&failed, &lockedUntil)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return State{}, fmt.Errorf("lock lockout row: %w", err)
	}

	// An active lock is left untouched: retried failures do not stack.
	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		if err := tx.Commit(); err != nil {
			return State{}, fmt.Errorf("commit lockout tx: %w", err)
		}
		until := lockedUntil.Time.UTC()
		return State{IdentityKey: identityKey, FailedAttempts: failed, LockedUntil: &until}, nil
	}

	// An expired lock counts as a fresh start.
	if lockedUntil.Valid {
		failed = 0
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any
	if failed >= threshold {
		until := now.UTC().Add(lockFor)
		nextLock = &until
		nextLockValue = until
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO auth_lockouts (identity_key, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_key)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`, identityKey, failed, nextLockValue, now.UTC()); err != nil {
		return State{}, fmt.Errorf("upsert lockout state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return State{}, fmt.Errorf("commit lockout tx: %w", err)
	}

	return State{IdentityKey: identityKey, FailedAttempts: failed, LockedUntil: nextLock}, nil
}

func (r *Repository) Reset(ctx context.Context, identityKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_lockouts
		SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE identity_key = $1
	`, identityKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset lockout state: %w", err)
	}

	return nil
}

// SweepStale deletes rows that have been idle past the cutoff and are not
// currently locked; used by the retention sweep.
func (r *Repository) SweepStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT identity_key
			FROM auth_lockouts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_lockouts t
		USING stale
		WHERE t.identity_key = stale.identity_key
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale lockout rows: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale lockout rows affected: %w", err)
	}

	return affected, nil
}

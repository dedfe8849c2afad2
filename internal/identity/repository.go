package identity

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

func (r *Repository) GetByID(ctx context.Context, id string) (Identity, error) {
	account, err := r.scanFacility(r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, login_id, display_name, created_at, updated_at
		FROM facility_accounts
		WHERE id = $1
	`, id))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Identity{}, err
	}

	return r.scanGuardian(r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, phone_number, display_name, created_at, updated_at
		FROM guardian_accounts
		WHERE id = $1
	`, id))
}

func (r *Repository) GetFacilityByLoginID(ctx context.Context, loginID string) (Identity, error) {
	return r.scanFacility(r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, login_id, display_name, created_at, updated_at
		FROM facility_accounts
		WHERE login_id = $1
	`, loginID))
}

func (r *Repository) GetGuardianByPhone(ctx context.Context, phone string) (Identity, error) {
	return r.scanGuardian(r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, phone_number, display_name, created_at, updated_at
		FROM guardian_accounts
		WHERE phone_number = $1
	`, phone))
}

func (r *Repository) CreateFacility(ctx context.Context, account Identity) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO facility_accounts (id, tenant_id, login_id, password_hash, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, $5, $5)
	`, account.ID, account.TenantID, account.LoginID, account.DisplayName, now)
	if err != nil {
		return fmt.Errorf("insert facility account: %w", err)
	}
	return nil
}

func (r *Repository) CreateGuardian(ctx context.Context, account Identity) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO guardian_accounts (id, tenant_id, phone_number, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, account.ID, account.TenantID, account.PhoneNumber, account.DisplayName, now)
	if err != nil {
		return fmt.Errorf("insert guardian account: %w", err)
	}
	return nil
}

func (r *Repository) scanFacility(row *sql.Row) (Identity, error) {
	account := Identity{Kind: KindFacility}
	err := row.Scan(&account.ID, &account.TenantID, &account.LoginID, &account.DisplayName, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("query facility account: %w", err)
	}
	return account, nil
}

func (r *Repository) scanGuardian(row *sql.Row) (Identity, error) {
	account := Identity{Kind: KindGuardian}
	err := row.Scan(&account.ID, &account.TenantID, &account.PhoneNumber, &account.DisplayName, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("query guardian account: %w", err)
	}
	return account, nil
}

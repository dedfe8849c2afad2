package identity

import "context"

// Store resolves identities by id or natural key. Lookups expect canonical
// keys (see NormalizeLoginID / NormalizePhone); absence is ErrNotFound.
type Store interface {
	GetByID(ctx context.Context, id string) (Identity, error)
	GetFacilityByLoginID(ctx context.Context, loginID string) (Identity, error)
	GetGuardianByPhone(ctx context.Context, phone string) (Identity, error)
	CreateFacility(ctx context.Context, account Identity) error
	CreateGuardian(ctx context.Context, account Identity) error
}

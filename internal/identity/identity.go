package identity

import (
	"errors"
	"time"
)

// Kind separates the two principal variants that can authenticate.
// A phone number may back a guardian account and, independently, a facility
// login; those are different identities sharing a contact channel.
type Kind string

const (
	KindFacility Kind = "facility"
	KindGuardian Kind = "guardian"
)

// Identity is a principal capable of authenticating. LoginID is set for
// facility accounts, PhoneNumber for guardian accounts; both are stored in
// canonical form.
type Identity struct {
	ID          string
	Kind        Kind
	TenantID    string
	LoginID     string
	PhoneNumber string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var ErrNotFound = errors.New("identity not found")

package credential

import (
	"errors"
	"time"
)

// Credential is the stored password material for a facility account.
// Guardian accounts have no persistent credential; they authenticate with a
// fresh one-time code every login.
type Credential struct {
	IdentityID   string
	PasswordHash string
	Cost         int
	UpdatedAt    time.Time
}

// Challenge is a single one-time-code challenge. Only the salted hash of the
// code is stored. A newer challenge for the same phone supersedes older
// unused ones; superseded rows stay around until the retention sweep.
type Challenge struct {
	ID              string
	PhoneNumber     string
	CodeHash        string
	CodeSalt        string
	AttemptCount    int
	Used            bool
	Superseded      bool
	OwnerIdentityID string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

var (
	ErrNotFound          = errors.New("credential not found")
	ErrChallengeNotFound = errors.New("otp challenge not found")
)

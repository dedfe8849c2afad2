package credential

import "context"

// Store persists password hashes and one-time-code challenges. It carries no
// business rules; callers decide what a missing or expired row means.
type Store interface {
	GetCredential(ctx context.Context, identityID string) (Credential, error)
	SetPassword(ctx context.Context, identityID, passwordHash string, cost int) error

	// CreateChallenge inserts the challenge and atomically marks any prior
	// unused challenge for the same phone number as superseded.
	CreateChallenge(ctx context.Context, challenge Challenge) error

	// FindActiveChallenge returns the newest non-superseded challenge for a
	// phone number, whatever its used/expired state.
	FindActiveChallenge(ctx context.Context, phone string) (Challenge, error)

	// BumpChallengeAttempts atomically increments the attempt counter and
	// returns the new value.
	BumpChallengeAttempts(ctx context.Context, challengeID string) (int, error)

	// ConsumeChallenge marks the challenge used. It reports false when the
	// challenge was already consumed, so exactly one racing caller wins.
	ConsumeChallenge(ctx context.Context, challengeID string) (bool, error)
}

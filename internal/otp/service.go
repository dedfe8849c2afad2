package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kimken5/nursery-auth/internal/credential"
	"github.com/kimken5/nursery-auth/internal/identity"
)

const (
	DefaultCodeDigits  = 6
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5

	dispatchTimeout = 15 * time.Second
)

// VerifyOutcome classifies a code verification.
type VerifyOutcome int

const (
	// OutcomeInvalid is a live challenge with the wrong code.
	OutcomeInvalid VerifyOutcome = iota
	// OutcomeVerified consumed the challenge.
	OutcomeVerified
	// OutcomeExpired covers absent, superseded, already-used, and timed-out
	// challenges alike.
	OutcomeExpired
	// OutcomeExhausted is a challenge that hit its attempt cap.
	OutcomeExhausted
)

// VerifyResult carries the outcome and, when verified, the guardian identity
// the challenge was issued for (empty when the phone had no account at
// request time).
type VerifyResult struct {
	Outcome         VerifyOutcome
	OwnerIdentityID string
}

// Service issues and verifies one-time codes. Codes are never stored; only
// a salted hash is, and the comparison is constant-time.
type Service struct {
	creds       credential.Store
	identities  identity.Store
	sender      Sender
	logger      *zap.SugaredLogger
	codeDigits  int
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time

	// generateCode is swappable in tests to pin a known code.
	generateCode func(digits int) (string, error)
}

func NewService(creds credential.Store, identities identity.Store, sender Sender, logger *zap.SugaredLogger, ttl time.Duration, maxAttempts int) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		creds:        creds,
		identities:   identities,
		sender:       sender,
		logger:       logger,
		codeDigits:   DefaultCodeDigits,
		ttl:          ttl,
		maxAttempts:  maxAttempts,
		now:          func() time.Time { return time.Now().UTC() },
		generateCode: randomCode,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithCodeGenerator pins code generation, for tests.
func (s *Service) WithCodeGenerator(gen func(digits int) (string, error)) *Service {
	s.generateCode = gen
	return s
}

// RequestCode creates a fresh challenge for the phone number, superseding
// any prior unused one, and dispatches delivery without waiting on it.
// The phone number must already be normalized.
func (s *Service) RequestCode(ctx context.Context, phone string) (string, error) {
	code, err := s.generateCode(s.codeDigits)
	if err != nil {
		return "", err
	}

	salt, err := randomSalt()
	if err != nil {
		return "", err
	}

	now := s.now()
	challenge := credential.Challenge{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		CodeHash:    hashCode(salt, code),
		CodeSalt:    salt,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	owner, err := s.identities.GetGuardianByPhone(ctx, phone)
	if err == nil {
		challenge.OwnerIdentityID = owner.ID
	} else if !errors.Is(err, identity.ErrNotFound) {
		return "", err
	}

	if err := s.creds.CreateChallenge(ctx, challenge); err != nil {
		return "", err
	}

	s.dispatch(phone, code)
	return challenge.ID, nil
}

// VerifyCode checks a submitted code against the authoritative challenge.
// A consumed challenge can never verify again; attempt counting is atomic in
// the store.
func (s *Service) VerifyCode(ctx context.Context, phone, submitted string) (VerifyResult, error) {
	submitted = strings.TrimSpace(submitted)

	challenge, err := s.creds.FindActiveChallenge(ctx, phone)
	if err != nil {
		if errors.Is(err, credential.ErrChallengeNotFound) {
			return VerifyResult{Outcome: OutcomeExpired}, nil
		}
		return VerifyResult{}, err
	}

	now := s.now()
	if challenge.Used || !now.Before(challenge.ExpiresAt) {
		return VerifyResult{Outcome: OutcomeExpired}, nil
	}
	if challenge.AttemptCount >= s.maxAttempts {
		return VerifyResult{Outcome: OutcomeExhausted}, nil
	}

	if !codeMatches(challenge.CodeSalt, submitted, challenge.CodeHash) {
		if _, err := s.creds.BumpChallengeAttempts(ctx, challenge.ID); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Outcome: OutcomeInvalid}, nil
	}

	consumed, err := s.creds.ConsumeChallenge(ctx, challenge.ID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !consumed {
		// A concurrent verify won the consumption race.
		return VerifyResult{Outcome: OutcomeExpired}, nil
	}

	return VerifyResult{Outcome: OutcomeVerified, OwnerIdentityID: challenge.OwnerIdentityID}, nil
}

// dispatch fires delivery on its own goroutine; the login flow never waits
// on the gateway, and delivery failures only get logged.
func (s *Service) dispatch(phone, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := s.sender.Send(ctx, phone, code); err != nil {
			s.logger.Warnw("sms_dispatch_failed", "phone", phone, "error", err.Error())
		}
	}()
}

func randomCode(digits int) (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func randomSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate otp salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + ":" + code))
	return hex.EncodeToString(sum[:])
}

func codeMatches(salt, submitted, storedHash string) bool {
	computed := hashCode(salt, submitted)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

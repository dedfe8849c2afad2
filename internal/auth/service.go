package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kimken5/nursery-auth/internal/credential"
	"github.com/kimken5/nursery-auth/internal/identity"
	"github.com/kimken5/nursery-auth/internal/lockout"
	"github.com/kimken5/nursery-auth/internal/otp"
	"github.com/kimken5/nursery-auth/internal/ratelimit"
	"github.com/kimken5/nursery-auth/internal/session"
)

// Service orchestrates the two login flows, refresh, and logout. It owns the
// interplay between rate limiting, lockout, credentials, and sessions;
// stores and collaborators stay policy-free.
type Service struct {
	identities identity.Store
	creds      credential.Store
	lockouts   *lockout.Tracker
	codes      *otp.Service
	limiter    ratelimit.Limiter
	sessions   *session.Manager
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewService(
	identities identity.Store,
	creds credential.Store,
	lockouts *lockout.Tracker,
	codes *otp.Service,
	limiter ratelimit.Limiter,
	sessions *session.Manager,
	logger *zap.SugaredLogger,
) *Service {
	return &Service{
		identities: identities,
		creds:      creds,
		lockouts:   lockouts,
		codes:      codes,
		limiter:    limiter,
		sessions:   sessions,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LoginFacility authenticates a staff or administrator account. A locked
// account fails before any credential work, and credential failures stay
// generic: callers never learn whether the login id exists.
func (s *Service) LoginFacility(ctx context.Context, rawLoginID, password string, meta session.Metadata) (Tokens, error) {
	loginID, err := identity.NormalizeLoginID(rawLoginID)
	if err != nil {
		return Tokens{}, ErrInvalidCredential
	}
	if password == "" {
		return Tokens{}, ErrInvalidCredential
	}

	if err := s.admit(ctx, ratelimit.CategoryLogin, meta.ClientIP); err != nil {
		return Tokens{}, err
	}

	account, err := s.identities.GetFacilityByLoginID(ctx, loginID)
	lockKey := "unknown:" + loginID
	known := err == nil
	if known {
		lockKey = account.ID
	} else if !errors.Is(err, identity.ErrNotFound) {
		return Tokens{}, err
	}

	status, err := s.lockouts.Check(ctx, lockKey)
	if err != nil {
		return Tokens{}, err
	}
	if status.Locked {
		return Tokens{}, LockedError{Until: s.now().Add(status.Remaining)}
	}

	if !known {
		return Tokens{}, s.credentialFailure(ctx, lockKey)
	}

	cred, err := s.creds.GetCredential(ctx, account.ID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return Tokens{}, s.credentialFailure(ctx, lockKey)
		}
		// Infrastructure failure: never counted against the account.
		return Tokens{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return Tokens{}, s.credentialFailure(ctx, lockKey)
	}

	if err := s.lockouts.RecordSuccess(ctx, lockKey); err != nil {
		return Tokens{}, err
	}

	pair, err := s.sessions.CreateSession(ctx, session.Owner{
		IdentityID: account.ID,
		Kind:       identity.KindFacility,
		TenantID:   account.TenantID,
	}, meta)
	if err != nil {
		return Tokens{}, err
	}

	s.logger.Infow("facility_login", "identity_id", account.ID, "tenant_id", account.TenantID)
	return s.tokens(pair), nil
}

// RequestGuardianCode issues a one-time code for the phone number. The
// caller always gets an acceptance (no phone-number enumeration); only rate
// limiting and malformed input are surfaced.
func (s *Service) RequestGuardianCode(ctx context.Context, rawPhone string, meta session.Metadata) error {
	phone, err := identity.NormalizePhone(rawPhone)
	if err != nil {
		return err
	}

	if err := s.admit(ctx, ratelimit.CategoryOTPSend, phone); err != nil {
		return err
	}

	challengeID, err := s.codes.RequestCode(ctx, phone)
	if err != nil {
		return err
	}

	s.logger.Infow("otp_requested", "challenge_id", challengeID)
	return nil
}

// VerifyGuardianCode verifies a submitted code and opens a session for the
// owning guardian account. The three code-failure modes are surfaced
// distinctly; codes are single-use and short-lived, so that disclosure is
// acceptable where password detail is not.
func (s *Service) VerifyGuardianCode(ctx context.Context, rawPhone, code string, meta session.Metadata) (Tokens, error) {
	phone, err := identity.NormalizePhone(rawPhone)
	if err != nil {
		return Tokens{}, ErrCodeInvalid
	}

	if err := s.admit(ctx, ratelimit.CategoryOTPVerify, phone); err != nil {
		return Tokens{}, err
	}

	result, err := s.codes.VerifyCode(ctx, phone, code)
	if err != nil {
		return Tokens{}, err
	}

	switch result.Outcome {
	case otp.OutcomeVerified:
	case otp.OutcomeInvalid:
		return Tokens{}, ErrCodeInvalid
	case otp.OutcomeExpired:
		return Tokens{}, ErrCodeExpired
	case otp.OutcomeExhausted:
		return Tokens{}, ErrCodeExhausted
	default:
		return Tokens{}, ErrCodeInvalid
	}

	account, err := s.resolveGuardian(ctx, result.OwnerIdentityID, phone)
	if err != nil {
		return Tokens{}, err
	}

	pair, err := s.sessions.CreateSession(ctx, session.Owner{
		IdentityID: account.ID,
		Kind:       identity.KindGuardian,
		TenantID:   account.TenantID,
	}, meta)
	if err != nil {
		return Tokens{}, err
	}

	s.logger.Infow("guardian_login", "identity_id", account.ID, "tenant_id", account.TenantID)
	return s.tokens(pair), nil
}

// Refresh rotates the presented refresh token. Any invalid or replayed
// token surfaces as a session expiry; the caller must re-login.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta session.Metadata) (Tokens, error) {
	pair, err := s.sessions.Rotate(ctx, refreshToken, meta)
	if err != nil {
		if errors.Is(err, session.ErrTokenReused) {
			s.logger.Warnw("refresh_token_reuse_detected", "client_ip", meta.ClientIP)
			return Tokens{}, ErrSessionExpired
		}
		if errors.Is(err, session.ErrInvalidToken) {
			return Tokens{}, ErrSessionExpired
		}
		return Tokens{}, err
	}

	return s.tokens(pair), nil
}

// Logout revokes the session family. Failures are logged and swallowed;
// client-side teardown proceeds regardless.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if err := s.sessions.Logout(ctx, refreshToken); err != nil && !errors.Is(err, session.ErrInvalidToken) {
		s.logger.Warnw("logout_revoke_failed", "error", err.Error())
	}
}

// AdminUnlock force-resets the lockout state for an identity; operator use.
func (s *Service) AdminUnlock(ctx context.Context, identityID string) error {
	if err := s.lockouts.AdminUnlock(ctx, identityID); err != nil {
		return err
	}
	s.logger.Infow("admin_unlock", "identity_id", identityID)
	return nil
}

// BootstrapFacilityAccount seeds or resets a facility login from
// configuration at startup; a no-op when both values are empty.
func (s *Service) BootstrapFacilityAccount(ctx context.Context, tenantID, rawLoginID, password string) error {
	rawLoginID = strings.TrimSpace(rawLoginID)
	password = strings.TrimSpace(password)
	if rawLoginID == "" && password == "" {
		return nil
	}
	if rawLoginID == "" || password == "" {
		return errors.New("bootstrap login id and password are required together")
	}

	loginID, err := identity.NormalizeLoginID(rawLoginID)
	if err != nil {
		return err
	}

	account, err := s.identities.GetFacilityByLoginID(ctx, loginID)
	if errors.Is(err, identity.ErrNotFound) {
		account = identity.Identity{
			ID:       uuid.NewString(),
			Kind:     identity.KindFacility,
			TenantID: tenantID,
			LoginID:  loginID,
		}
		if err := s.identities.CreateFacility(ctx, account); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}

	return s.creds.SetPassword(ctx, account.ID, string(hash), bcrypt.DefaultCost)
}

func (s *Service) admit(ctx context.Context, category ratelimit.Category, key string) error {
	decision, err := s.limiter.TryAdmit(ctx, category, key)
	if err != nil {
		return err
	}
	if !decision.Admitted {
		return RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

func (s *Service) credentialFailure(ctx context.Context, lockKey string) error {
	status, err := s.lockouts.RecordFailure(ctx, lockKey)
	if err != nil {
		return err
	}
	if status.Locked {
		return LockedError{Until: s.now().Add(status.Remaining)}
	}
	return ErrInvalidCredential
}

func (s *Service) resolveGuardian(ctx context.Context, ownerID, phone string) (identity.Identity, error) {
	if ownerID != "" {
		account, err := s.identities.GetByID(ctx, ownerID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, err
		}
	}

	// The account may have been enrolled after the challenge was issued.
	account, err := s.identities.GetGuardianByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, ErrInvalidCredential
		}
		return identity.Identity{}, err
	}
	return account, nil
}

func (s *Service) tokens(pair session.Pair) Tokens {
	expiresIn := int64(pair.AccessExpiresAt.Sub(s.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return Tokens{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}
}

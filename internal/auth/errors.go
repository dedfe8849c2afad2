package auth

import (
	"errors"
	"time"
)

// Caller-facing error codes. These are deliberately coarse: attempt counts,
// hash details, and "unknown login id vs wrong password" are never exposed.
const (
	CodeInvalidCredential = "InvalidCredential"
	CodeAccountLocked     = "AccountLocked"
	CodeRateLimited       = "RateLimited"
	CodeCodeInvalid       = "CodeInvalid"
	CodeCodeExpired       = "CodeExpired"
	CodeCodeExhausted     = "CodeExhausted"
	CodeSessionExpired    = "SessionExpired"
)

var (
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrCodeInvalid       = errors.New("verification code is incorrect")
	ErrCodeExpired       = errors.New("verification code is expired")
	ErrCodeExhausted     = errors.New("verification code attempts exhausted")
	ErrSessionExpired    = errors.New("session is no longer valid")
)

// LockedError reports an account lockout with the remaining duration.
type LockedError struct {
	Until time.Time
}

func (e LockedError) Error() string {
	return "account temporarily locked"
}

// RateLimitedError reports admission rejection with a retry hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return "too many requests"
}

package ratelimit

import (
	"context"
	"time"
)

// Category groups endpoints that share one window configuration.
type Category string

const (
	CategoryLogin     Category = "login"
	CategoryOTPSend   Category = "otp-send"
	CategoryOTPVerify Category = "otp-verify"
)

// Config is one fixed-window policy. QueueLimit bounds how many excess
// requests per key may be held for the next window before hard rejection.
type Config struct {
	Limit      int
	Window     time.Duration
	QueueLimit int
}

// DefaultConfigs carries the shipped per-category policies. OTP sending is
// deliberately tight: every admitted request costs an SMS.
func DefaultConfigs() map[Category]Config {
	return map[Category]Config{
		CategoryLogin:     {Limit: 10, Window: time.Minute, QueueLimit: 5},
		CategoryOTPSend:   {Limit: 3, Window: time.Hour, QueueLimit: 1},
		CategoryOTPVerify: {Limit: 5, Window: 5 * time.Minute, QueueLimit: 2},
	}
}

// Decision is the outcome of an admission attempt. RetryAfter is only set on
// rejection.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for a (category, key) pair. Keys are
// caller-chosen: client IP for logins, normalized phone number for OTP
// traffic. Windows are a coarse abuse defense, not exact accounting; bursts
// up to 2x the nominal rate at window edges are accepted behavior.
type Limiter interface {
	TryAdmit(ctx context.Context, category Category, key string) (Decision, error)
}

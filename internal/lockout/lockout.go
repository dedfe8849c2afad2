package lockout

import (
	"context"
	"time"
)

// State is the persisted per-identity counter. LockedUntil is only ever set
// once FailedAttempts has reached the configured threshold.
type State struct {
	IdentityKey    string
	FailedAttempts int
	LockedUntil    *time.Time
}

// Status is the answer to a lock check.
type Status struct {
	Locked         bool
	Remaining      time.Duration
	FailedAttempts int
}

// Store persists lockout state. RecordFailure must be atomic per key; rows
// are created lazily on first failure and reset rather than deleted.
type Store interface {
	Get(ctx context.Context, identityKey string) (State, error)
	RecordFailure(ctx context.Context, identityKey string, threshold int, lockFor time.Duration, now time.Time) (State, error)
	Reset(ctx context.Context, identityKey string) error
}

const (
	DefaultThreshold    = 5
	DefaultLockDuration = 30 * time.Minute
)

// Tracker applies the lockout policy on top of a Store.
type Tracker struct {
	store     Store
	threshold int
	lockFor   time.Duration
	now       func() time.Time
}

func NewTracker(store Store, threshold int, lockFor time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if lockFor <= 0 {
		lockFor = DefaultLockDuration
	}
	return &Tracker{store: store, threshold: threshold, lockFor: lockFor, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the tracker clock, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// RecordFailure counts a failed authentication attempt. Reaching the
// threshold arms the lock; further failures while locked neither extend nor
// shorten it.
func (t *Tracker) RecordFailure(ctx context.Context, identityKey string) (Status, error) {
	state, err := t.store.RecordFailure(ctx, identityKey, t.threshold, t.lockFor, t.now())
	if err != nil {
		return Status{}, err
	}
	return t.statusOf(state), nil
}

// RecordSuccess clears the counter and any lock after a successful
// authentication.
func (t *Tracker) RecordSuccess(ctx context.Context, identityKey string) error {
	return t.store.Reset(ctx, identityKey)
}

// Check reports whether the identity is currently locked. An expired lock is
// lazily reset as a side effect; there is no background sweep.
func (t *Tracker) Check(ctx context.Context, identityKey string) (Status, error) {
	state, err := t.store.Get(ctx, identityKey)
	if err != nil {
		return Status{}, err
	}

	if state.LockedUntil != nil && !t.now().Before(*state.LockedUntil) {
		if err := t.store.Reset(ctx, identityKey); err != nil {
			return Status{}, err
		}
		return Status{}, nil
	}

	return t.statusOf(state), nil
}

// AdminUnlock forces the identity back to the unlocked state regardless of
// the current counter; exposed to operator tooling.
func (t *Tracker) AdminUnlock(ctx context.Context, identityKey string) error {
	return t.store.Reset(ctx, identityKey)
}

func (t *Tracker) statusOf(state State) Status {
	status := Status{FailedAttempts: state.FailedAttempts}
	if state.LockedUntil != nil {
		remaining := state.LockedUntil.Sub(t.now())
		if remaining > 0 {
			status.Locked = true
			status.Remaining = remaining
		}
	}
	return status
}

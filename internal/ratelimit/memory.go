package ratelimit

import (
	"context"
	"sync"
	"time"
)

// maxTrackedKeys caps limiter memory; when exceeded, idle entries are
// dropped during the next admission.
const maxTrackedKeys = 5000

type windowState struct {
	windowStart time.Time
	// charged counts admissions against the current window plus any slots
	// reserved by queued waiters for upcoming windows.
	charged  int
	lastSeen time.Time
}

// MemoryLimiter is a fixed-window limiter with a small per-key hold queue:
// requests beyond the window limit wait for the next window and are released
// in arrival order; beyond the queue cap they are rejected immediately.
type MemoryLimiter struct {
	mu      sync.Mutex
	configs map[Category]Config
	entries map[string]*windowState
	now     func() time.Time
}

func NewMemoryLimiter(configs map[Category]Config) *MemoryLimiter {
	if configs == nil {
		configs = DefaultConfigs()
	}
	return &MemoryLimiter{
		configs: configs,
		entries: make(map[string]*windowState),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the limiter clock, for tests. Queued waits still use
// real timers.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) TryAdmit(ctx context.Context, category Category, key string) (Decision, error) {
	cfg, ok := l.configs[category]
	if !ok || cfg.Limit <= 0 {
		return Decision{Admitted: true}, nil
	}

	now := l.now()
	entryKey := string(category) + ":" + key

	l.mu.Lock()
	entry, exists := l.entries[entryKey]
	if !exists {
		entry = &windowState{windowStart: now}
		l.entries[entryKey] = entry
		l.evictIdleLocked(now)
	}
	l.rollLocked(entry, cfg, now)
	entry.lastSeen = now

	if entry.charged < cfg.Limit {
		entry.charged++
		l.mu.Unlock()
		return Decision{Admitted: true}, nil
	}

	queued := entry.charged - cfg.Limit
	if queued >= cfg.QueueLimit {
		retryAfter := entry.windowStart.Add(cfg.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.mu.Unlock()
		return Decision{RetryAfter: retryAfter}, nil
	}

	// Reserve a slot in an upcoming window and wait for it. Earlier
	// arrivals reserved earlier slots, so release order is arrival order.
	position := entry.charged
	entry.charged++
	releaseAt := entry.windowStart.Add(cfg.Window * time.Duration(position/cfg.Limit))
	l.mu.Unlock()

	timer := time.NewTimer(releaseAt.Sub(now))
	defer timer.Stop()

	select {
	case <-timer.C:
		return Decision{Admitted: true}, nil
	case <-ctx.Done():
		l.mu.Lock()
		entry.charged--
		l.mu.Unlock()
		return Decision{}, ctx.Err()
	}
}

func (l *MemoryLimiter) rollLocked(entry *windowState, cfg Config, now time.Time) {
	for !now.Before(entry.windowStart.Add(cfg.Window)) {
		entry.windowStart = entry.windowStart.Add(cfg.Window)
		entry.charged -= cfg.Limit
		if entry.charged < 0 {
			entry.charged = 0
		}
		if entry.charged == 0 && !now.Before(entry.windowStart.Add(cfg.Window)) {
			entry.windowStart = now
			break
		}
	}
}

func (l *MemoryLimiter) evictIdleLocked(now time.Time) {
	if len(l.entries) <= maxTrackedKeys {
		return
	}
	for key, entry := range l.entries {
		if entry.charged == 0 && now.Sub(entry.lastSeen) > time.Hour {
			delete(l.entries, key)
		}
	}
}

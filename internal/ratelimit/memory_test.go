package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAdmitsUpToLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(map[Category]Config{
		CategoryLogin: {Limit: 3, Window: time.Hour, QueueLimit: 0},
	})

	for i := 0; i < 3; i++ {
		decision, err := limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, decision.Admitted, "request %d", i+1)
	}

	decision, err := limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.GreaterOrEqual(t, decision.RetryAfter, time.Second)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(map[Category]Config{
		CategoryLogin: {Limit: 1, Window: time.Hour, QueueLimit: 0},
	})

	decision, err := limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	decision, err = limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestMemoryLimiterUnknownCategoryAdmits(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(map[Category]Config{})

	decision, err := limiter.TryAdmit(ctx, CategoryOTPSend, "+819012345678")
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestMemoryLimiterQueuedRequestReleasesNextWindow(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(map[Category]Config{
		CategoryLogin: {Limit: 1, Window: 50 * time.Millisecond, QueueLimit: 1},
	})

	decision, err := limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	start := time.Now()
	decision, err = limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, decision.Admitted, "queued request admits once the window turns")
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestMemoryLimiterRejectsBeyondQueue(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(map[Category]Config{
		CategoryOTPSend: {Limit: 1, Window: time.Hour, QueueLimit: 1},
	})

	decision, err := limiter.TryAdmit(ctx, CategoryOTPSend, "+819012345678")
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	// One waiter occupies the queue slot.
	var wg sync.WaitGroup
	waiterCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		limiter.TryAdmit(waiterCtx, CategoryOTPSend, "+819012345678")
	}()

	require.Eventually(t, func() bool {
		decision, err := limiter.TryAdmit(ctx, CategoryOTPSend, "+819012345678")
		return err == nil && !decision.Admitted && decision.RetryAfter > 0
	}, time.Second, 5*time.Millisecond, "request beyond the queue cap is rejected immediately")

	cancel()
	wg.Wait()
}

func TestMemoryLimiterCancelledWaiterFreesSlot(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(map[Category]Config{
		CategoryLogin: {Limit: 1, Window: time.Hour, QueueLimit: 1},
	})

	decision, err := limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	waiterCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = limiter.TryAdmit(waiterCtx, CategoryLogin, "10.0.0.1")
	assert.ErrorIs(t, err, context.Canceled)

	// The abandoned reservation is free for the next arrival to queue on.
	done := make(chan struct{})
	queuedCtx, stop := context.WithCancel(ctx)
	go func() {
		defer close(done)
		limiter.TryAdmit(queuedCtx, CategoryLogin, "10.0.0.1")
	}()

	select {
	case <-done:
		t.Fatal("second waiter should be queued, not rejected")
	case <-time.After(20 * time.Millisecond):
	}
	stop()
	<-done
}

func TestMemoryLimiterWindowRollsOver(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(map[Category]Config{
		CategoryLogin: {Limit: 2, Window: time.Minute, QueueLimit: 0},
	}).WithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, decision.Admitted)
	}
	decision, err := limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, decision.Admitted)

	now = now.Add(61 * time.Second)
	decision, err = limiter.TryAdmit(ctx, CategoryLogin, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, decision.Admitted, "fresh window admits again")
}

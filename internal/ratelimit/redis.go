package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter over a shared redis counter, for
// deployments with more than one instance. It does not queue; counters are
// approximate by design (abuse mitigation, not exact accounting).
type RedisLimiter struct {
	client  *redis.Client
	configs map[Category]Config
	prefix  string
}

func NewRedisLimiter(client *redis.Client, configs map[Category]Config) *RedisLimiter {
	if configs == nil {
		configs = DefaultConfigs()
	}
	return &RedisLimiter{client: client, configs: configs, prefix: "ratelimit"}
}

func (l *RedisLimiter) TryAdmit(ctx context.Context, category Category, key string) (Decision, error) {
	cfg, ok := l.configs[category]
	if !ok || cfg.Limit <= 0 {
		return Decision{Admitted: true}, nil
	}

	redisKey := fmt.Sprintf("%s:%s:%s", l.prefix, category, key)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis rate limit incr: %w", err)
	}

	if incr.Val() <= int64(cfg.Limit) {
		return Decision{Admitted: true}, nil
	}

	retryAfter, err := l.client.TTL(ctx, redisKey).Result()
	if err != nil || retryAfter <= 0 {
		retryAfter = cfg.Window
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return Decision{RetryAfter: retryAfter}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRegistry backs the limiter with Redis so horizontally scaled
// workers share one budget per sender profile. Tokens are counted in
// per-second buckets with an atomic INCR; the bucket key expires on its
// own.
type RedisRegistry struct {
	client *redis.Client
	burst  int

	mu       sync.Mutex
	limiters map[uuid.UUID]*redisLimiter
}

func NewRedisRegistry(client *redis.Client, burst int) *RedisRegistry {
	return &RedisRegistry{
		client:   client,
		burst:    burst,
		limiters: make(map[uuid.UUID]*redisLimiter),
	}
}

func (r *RedisRegistry) For(profileID uuid.UUID, perSecond int) Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[profileID]; ok {
		return l
	}
	burst := r.burst
	if burst <= 0 {
		burst = perSecond / 5
		if burst < 1 {
			burst = 1
		}
	}
	l := &redisLimiter{
		client:    r.client,
		key:       "ratelimit:" + profileID.String(),
		perSecond: perSecond,
		burst:     burst,
	}
	r.limiters[profileID] = l
	return l
}

type redisLimiter struct {
	client    *redis.Client
	key       string
	perSecond int
	burst     int
}

// Allow consumes from the current one-second bucket. The carried burst
// slack lets a bucket briefly exceed the sustained rate without ever
// exceeding rate+burst in any window.
func (l *redisLimiter) Allow() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bucket := fmt.Sprintf("%s:%d", l.key, time.Now().Unix())
	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		// On Redis failure err on the safe side and refuse the token;
		// the caller backs off and retries.
		return false
	}
	if count.Val() <= int64(l.perSecond+l.burst) {
		return true
	}
	// Over budget: give the token back so the counter reflects actual
	// sends.
	l.client.Decr(ctx, bucket)
	return false
}

func (l *redisLimiter) Wait(ctx context.Context) error {
	// Poll at a fraction of the refill interval. Cheap against Redis
	// and bounded by the per-second bucket granularity.
	interval := time.Second / time.Duration(l.perSecond)
	if interval > 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Package ratelimit gates outbound transport calls per sender profile.
// The limiter is one shared resource across every run using a profile:
// the registry hands out the same limiter for the same profile id, and
// Wait suspends fairly across concurrent callers.
package ratelimit

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limiter is the token acquisition contract. A single-process
// implementation and a distributed one are interchangeable behind it.
type Limiter interface {
	// Wait blocks until a token is available or the context ends.
	Wait(ctx context.Context) error
	// Allow takes a token without blocking if one is available.
	Allow() bool
}

// Registry resolves the shared limiter for a sender profile.
type Registry interface {
	For(profileID uuid.UUID, perSecond int) Limiter
}

// LocalRegistry keeps one token bucket per sender profile in process.
type LocalRegistry struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*localLimiter
	burst    int
}

// NewLocalRegistry creates a registry whose buckets hold at most burst
// tokens. Zero burst sizes each bucket at one fifth of the sustained
// rate, minimum one.
func NewLocalRegistry(burst int) *LocalRegistry {
	return &LocalRegistry{
		limiters: make(map[uuid.UUID]*localLimiter),
		burst:    burst,
	}
}

func (r *LocalRegistry) For(profileID uuid.UUID, perSecond int) Limiter {
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
	l := &localLimiter{rl: rate.NewLimiter(rate.Limit(perSecond), burst)}
	r.limiters[profileID] = l
	return l
}

type localLimiter struct {
	rl *rate.Limiter
}

func (l *localLimiter) Wait(ctx context.Context) error { return l.rl.Wait(ctx) }
func (l *localLimiter) Allow() bool                    { return l.rl.Allow() }

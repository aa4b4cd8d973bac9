package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRegistrySharesLimiterPerProfile(t *testing.T) {
	reg := NewLocalRegistry(0)
	id := uuid.New()

	a := reg.For(id, 10)
	b := reg.For(id, 10)
	assert.Same(t, a, b, "one profile maps to one bucket")

	other := reg.For(uuid.New(), 10)
	assert.NotSame(t, a, other)
}

func TestLocalRegistryRateIsStickyPerProfile(t *testing.T) {
	reg := NewLocalRegistry(1)
	id := uuid.New()

	a := reg.For(id, 1)
	// The second rate is ignored: the bucket was sized on first use.
	b := reg.For(id, 1000)
	assert.Same(t, a, b)
}

func TestLocalLimiterAllowRespectsBurst(t *testing.T) {
	reg := NewLocalRegistry(2)
	l := reg.For(uuid.New(), 1)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst exhausted, refill is 1/s")
}

func TestLocalLimiterZeroRateClampsToOne(t *testing.T) {
	reg := NewLocalRegistry(1)
	l := reg.For(uuid.New(), 0)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLocalLimiterWaitBlocksAtSustainedRate(t *testing.T) {
	reg := NewLocalRegistry(1)
	l := reg.For(uuid.New(), 10)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	elapsed := time.Since(start)

	// One token from the bucket, three refilled at 10/s.
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestLocalLimiterWaitHonorsContext(t *testing.T) {
	reg := NewLocalRegistry(1)
	l := reg.For(uuid.New(), 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.Error(t, err, "empty bucket plus expired context fails the wait")
}

func TestDefaultBurstIsFifthOfRate(t *testing.T) {
	reg := NewLocalRegistry(0)
	l := reg.For(uuid.New(), 50)

	granted := 0
	for l.Allow() {
		granted++
	}
	// 50/5 = 10 tokens, with slack for a refill during the drain.
	assert.GreaterOrEqual(t, granted, 10)
	assert.LessOrEqual(t, granted, 11)
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSiteLimiterEnforcesMinInterval(t *testing.T) {
	r := NewSiteLimiter()
	ctx := context.Background()

	start := time.Now()
	assert.NoError(t, r.Wait(ctx, "s1", 50*time.Millisecond))
	assert.NoError(t, r.Wait(ctx, "s1", 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSiteLimiterBacksOffAfterErrors(t *testing.T) {
	r := NewSiteLimiter()
	ctx := context.Background()
	require := assert.New(t)

	require.NoError(r.Wait(ctx, "s1", 0))
	for i := 0; i < 4; i++ {
		r.RecordError("s1")
	}

	r.mu.Lock()
	backingOff := time.Now().Before(r.states["s1"].backoffUntil)
	r.mu.Unlock()
	require.True(backingOff)
}

func TestSiteLimiterIndependentPerSite(t *testing.T) {
	r := NewSiteLimiter()
	ctx := context.Background()
	assert.NoError(t, r.Wait(ctx, "s1", time.Hour))
	// s2 must not be blocked by s1's long interval
	done := make(chan struct{})
	go func() {
		_ = r.Wait(ctx, "s2", 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("site limiter incorrectly serialized unrelated sites")
	}
}

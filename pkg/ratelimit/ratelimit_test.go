package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Burst(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 0.1)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestTokenBucket_Unlimited(t *testing.T) {
	tb := NewTokenBucket(1, 0)
	for i := 0; i < 100; i++ {
		require.True(t, tb.Allow())
	}
	var u Unlimited
	assert.NoError(t, u.Wait(context.Background()))
}

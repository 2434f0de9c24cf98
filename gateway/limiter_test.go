package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter(t *testing.T) {
	l := NewTokenBucketLimiter(100, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	// 首个令牌立即可用，其余 5 个约 50ms
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestTokenBucketLimiterCancel(t *testing.T) {
	l := NewTokenBucketLimiter(0.5, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffForGrowsAndClamps(t *testing.T) {
	p := RetryPolicy{InitialInterval: 100 * time.Millisecond, Multiplier: 2.0, MaxInterval: time.Second, MaxRetries: 5}

	require.Equal(t, 100*time.Millisecond, p.BackoffFor(0))
	require.Equal(t, 200*time.Millisecond, p.BackoffFor(1))
	require.Equal(t, 400*time.Millisecond, p.BackoffFor(2))
	require.Equal(t, time.Second, p.BackoffFor(10))
}

func TestExhaustedRespectsMaxRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	require.False(t, p.Exhausted(0))
	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))

	unlimited := RetryPolicy{MaxRetries: 0}
	require.False(t, unlimited.Exhausted(1000))
}

package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRandomBetween(t *testing.T) {
	require.Equal(t, time.Second, RandomBetween(time.Second, time.Second))
	require.Equal(t, time.Second, RandomBetween(time.Second, time.Millisecond))
	for i := 0; i < 50; i++ {
		d := RandomBetween(10*time.Millisecond, 20*time.Millisecond)
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.Less(t, d, 20*time.Millisecond)
	}
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, 0), context.Canceled)

	start := time.Now()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestPause_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, Pause(ctx, time.Hour, 2*time.Hour), context.DeadlineExceeded)
	require.NoError(t, Pause(context.Background(), time.Millisecond, 2*time.Millisecond))
}

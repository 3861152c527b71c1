package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_BlocksAfterMaxFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute, 3, 10*time.Minute)
	m.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := m.Failure(ctx, subject, ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	ok, _, err := m.Allow(ctx, subject, ip)
	require.NoError(t, err)
	require.True(t, ok)

	blocked, dur, err := m.Failure(ctx, subject, ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)

	ok, retry, err := m.Allow(ctx, subject, ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Minute, retry)

	// Other addresses are unaffected.
	ok, _, err = m.Allow(ctx, subject, HashIP("10.0.0.2"))
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(10 * time.Minute)
	ok, _, err = m.Allow(ctx, subject, ip)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemory_WindowResetsAndSuccessClears(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute, 2, time.Hour)
	m.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	_, _, _ = m.Failure(ctx, subject, ip)
	now = now.Add(2 * time.Minute)
	blocked, _, err := m.Failure(ctx, subject, ip)
	require.NoError(t, err)
	require.False(t, blocked, "failure outside the window starts a new count")

	require.NoError(t, m.Success(ctx, subject, ip))
	blocked, _, err = m.Failure(ctx, subject, ip)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestMemory_SweepsLapsedCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute, 2, 5*time.Minute)
	m.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	for _, s := range []string{"a", "b", "c"} {
		_, _, err := m.Failure(ctx, s, ip)
		require.NoError(t, err)
	}
	blocked, _, err := m.Failure(ctx, "c", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 3, m.Len())

	// Past the window: "a" and "b" lapse, "c" is still blocked.
	now = now.Add(2 * time.Minute)
	_, _, err = m.Failure(ctx, "d", ip)
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	ok, _, err := m.Allow(ctx, "c", ip)
	require.NoError(t, err)
	require.False(t, ok)

	// Past the block as well.
	now = now.Add(10 * time.Minute)
	_, _, err = m.Failure(ctx, "e", ip)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client), mr
}

func TestAcquireUserLock(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := c.AcquireUserLock(ctx, 42, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquisition for the same user fails while the lock is held
	ok, err = c.AcquireUserLock(ctx, 42, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different user is unaffected
	ok, err = c.AcquireUserLock(ctx, 43, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.ReleaseUserLock(ctx, 42))

	ok, err = c.AcquireUserLock(ctx, 42, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimSubmission(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	base := time.Now()
	gap := 2 * time.Second

	ok, err := c.ClaimSubmission(ctx, 42, base, gap, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// 1s later is inside the gap
	ok, err = c.ClaimSubmission(ctx, 42, base.Add(time.Second), gap, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 2s later is allowed again
	ok, err = c.ClaimSubmission(ctx, 42, base.Add(2*time.Second), gap, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLastSubmissionRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	got, err := c.GetLastSubmission(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	at := time.Now().Truncate(time.Millisecond)
	require.NoError(t, c.SetLastSubmission(ctx, 7, at, time.Minute))

	got, err = c.GetLastSubmission(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, at.UnixMilli(), got.UnixMilli())
}

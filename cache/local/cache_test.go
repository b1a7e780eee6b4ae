package local

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestKV_SessionLifecycle(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:abc", "7", time.Hour))
	v, err := c.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	ok, err := c.Exists(ctx, "session:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Del(ctx, "session:abc", "never-set"))
	_, err = c.Get(ctx, "session:abc")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, _ = c.Exists(ctx, "session:abc")
	assert.False(t, ok)
}

func TestKV_Expiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, c.sweep(time.Now()))
	assert.Zero(t, c.sweep(time.Now().Add(24*time.Hour)))

	_, err = c.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestKV_Expire(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Expire(ctx, "missing", time.Minute), ErrNotFound)

	require.NoError(t, c.Set(ctx, "banned:3", "1", 0))
	require.NoError(t, c.Expire(ctx, "banned:3", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	ok, _ := c.Exists(ctx, "banned:3")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "banned:4", "1", 0))
	require.NoError(t, c.Expire(ctx, "banned:4", 0))
	ok, _ = c.Exists(ctx, "banned:4")
	assert.False(t, ok)
}

func TestKV_SetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "owner", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.SetNX(ctx, "lock", "other", time.Minute)
	assert.False(t, ok)

	// An expired holder no longer blocks.
	time.Sleep(20 * time.Millisecond)
	ok, _ = c.SetNX(ctx, "lock", "other", time.Minute)
	assert.True(t, ok)
	v, _ := c.Get(ctx, "lock")
	assert.Equal(t, "other", v)
}

func TestZSet_LeaderboardOrder(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for id, pts := range map[string]float64{"1": 50, "2": 120, "3": 50, "4": 0} {
		require.NoError(t, c.ZAdd(ctx, "lb", pts, id))
	}

	all, err := c.ZRevRange(ctx, "lb", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "1", "4"}, all)

	rank, err := c.ZRevRank(ctx, "lb", "1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rank)

	// Completing another quest moves user 1 to the top.
	require.NoError(t, c.ZAdd(ctx, "lb", 170, "1"))
	rank, _ = c.ZRevRank(ctx, "lb", "1")
	assert.EqualValues(t, 0, rank)
	score, err := c.ZScore(ctx, "lb", "1")
	require.NoError(t, err)
	assert.Equal(t, 170.0, score)

	n, _ := c.ZCard(ctx, "lb")
	assert.EqualValues(t, 4, n)
}

func TestZSet_RevRangeBounds(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, c.ZAdd(ctx, "z", float64(i), strconv.Itoa(i)))
	}

	cases := []struct {
		start, stop int64
		want        []string
	}{
		{0, 2, []string{"5", "4", "3"}},
		{3, 100, []string{"2", "1"}},
		{-2, -1, []string{"2", "1"}},
		{-100, 0, []string{"5"}},
		{4, 2, nil},
		{5, 10, nil},
	}
	for _, tc := range cases {
		got, err := c.ZRevRange(ctx, "z", tc.start, tc.stop)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "range %d..%d", tc.start, tc.stop)
	}

	got, err := c.ZRevRange(ctx, "nope", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestZSet_RemoveAndDel(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, c.ZAdd(ctx, "z", 2, "b"))
	require.NoError(t, c.ZRem(ctx, "z", "a", "ghost"))

	_, err := c.ZRevRank(ctx, "z", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.ZScore(ctx, "z", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, _ := c.Exists(ctx, "z")
	assert.True(t, ok)
	require.NoError(t, c.Del(ctx, "z"))
	n, err := c.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Zero(t, n)
	ok, _ = c.Exists(ctx, "z")
	assert.False(t, ok)
}

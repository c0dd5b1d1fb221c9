package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/captioner/internal/cache"
)

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	_, found, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, c.Set(ctx, "k", buf, 0))
	buf[0] = 'X'

	val, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "original", string(val))
}

func TestMemoryCache_LazyExpiry(t *testing.T) {
	clk := newClock()
	c := cache.NewMemoryCache().WithClock(clk.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	clk.advance(999 * time.Millisecond)
	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found)

	clk.advance(time.Millisecond)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found, "entry is absent at its expiry instant")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Sweep(t *testing.T) {
	clk := newClock()
	c := cache.NewMemoryCache().WithClock(clk.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "forever", []byte("3"), 0))

	clk.advance(time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Delete(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "never-existed"))

	_, found, _ := c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryCache_JobStatus(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	id := uuid.New()

	_, found, err := c.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetJobStatus(ctx, id, "completed", time.Minute))
	status, found, err := c.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "completed", status)
}

func TestMemoryCache_IncrWithExpiry(t *testing.T) {
	clk := newClock()
	c := cache.NewMemoryCache().WithClock(clk.now)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrWithExpiry(ctx, "counter", time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	clk.advance(2 * time.Second)
	got, err := c.IncrWithExpiry(ctx, "counter", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "counter restarts after expiry")
}

func TestMemoryCache_IncrWithExpiryKeepsFirstWindow(t *testing.T) {
	clk := newClock()
	c := cache.NewMemoryCache().WithClock(clk.now)
	ctx := context.Background()

	_, err := c.IncrWithExpiry(ctx, "window", time.Minute)
	require.NoError(t, err)
	clk.advance(50 * time.Second)
	got, err := c.IncrWithExpiry(ctx, "window", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	clk.advance(11 * time.Second)
	got, err = c.IncrWithExpiry(ctx, "window", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "later hits do not extend the window")
}

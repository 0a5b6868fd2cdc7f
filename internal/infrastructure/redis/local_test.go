package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClient_SetNX(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewLocalClient().WithClock(func() time.Time { return now })

	ok, err := c.SetNX(ctx, "idempotent:webhook:TX1", "1", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "idempotent:webhook:TX1", "1", 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(24 * time.Hour)
	ok, err = c.SetNX(ctx, "idempotent:webhook:TX1", "1", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "key must be settable again once the window passed")
}

func TestLocalClient_GetDel(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, c.Set(ctx, "k", 42, 0))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "42", val)

	require.NoError(t, c.Del(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLocalClient_ConcurrentSetNX(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.SetNX(ctx, "lock", "1", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

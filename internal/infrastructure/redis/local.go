package redis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalClient is an in-process RedisClient used when the service runs on
// the memory storage driver. Expired keys are dropped lazily on access.
type LocalClient struct {
	mu    sync.Mutex
	items map[string]localItem
	now   func() time.Time
}

type localItem struct {
	value     string
	expiresAt time.Time
}

func NewLocalClient() *LocalClient {
	return &LocalClient{items: make(map[string]localItem), now: time.Now}
}

// WithClock replaces the time source, for tests exercising expiry.
func (c *LocalClient) WithClock(now func() time.Time) *LocalClient {
	c.now = now
	return c
}

func (c *LocalClient) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return item.value, nil
}

func (c *LocalClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, expiration)
	return nil
}

func (c *LocalClient) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.store(key, value, expiration)
	return true, nil
}

func (c *LocalClient) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *LocalClient) Close() error { return nil }

func (c *LocalClient) lookup(key string) (localItem, bool) {
	item, ok := c.items[key]
	if !ok {
		return localItem{}, false
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return localItem{}, false
	}
	return item, true
}

func (c *LocalClient) store(key string, value interface{}, expiration time.Duration) {
	item := localItem{value: fmt.Sprint(value)}
	if expiration > 0 {
		item.expiresAt = c.now().Add(expiration)
	}
	c.items[key] = item
}

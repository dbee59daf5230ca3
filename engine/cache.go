package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// buildCache holds structures that are built once per key. Concurrent first
// requests for a key share a single build; failed builds are not stored, so
// a later request retries.
type buildCache[V any] struct {
	mu    sync.RWMutex
	ready map[string]V
	group singleflight.Group
}

func newBuildCache[V any]() *buildCache[V] {
	return &buildCache[V]{ready: make(map[string]V)}
}

// get returns the cached value for key, building it when missing. The build
// runs detached from ctx; ctx only bounds how long this caller waits.
func (c *buildCache[V]) get(ctx context.Context, key string, build func(ctx context.Context) (V, error)) (V, error) {
	c.mu.RLock()
	v, ok := c.ready[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	buildCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.RLock()
		v, ok := c.ready[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := build(buildCtx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		c.ready[key] = v
		c.mu.Unlock()
		return v, nil
	})
	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// has reports whether key has been built.
func (c *buildCache[V]) has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ready[key]
	return ok
}

// len returns the number of built entries.
func (c *buildCache[V]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ready)
}

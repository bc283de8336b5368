package cache

import (
	"context"
	"sync"
	"time"
)

// State is the coarse polling state of a task.
type State string

const (
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateUnknown  State = "unknown"
	StateError    State = "error"
)

type Result struct {
	At     time.Time
	Labels map[string]string

	State     State
	JobStatus string
	Rt        int
	Polls     int
	Err       error
}

// Cache is the interface used by scheduler/metrics.
type Cache interface {
	Set(key string, r Result)
	Get(key string) (Result, bool)
	Delete(key string)
	Snapshot() map[string]Result
}

// MemCache is an in-memory implementation of Cache.
type MemCache struct {
	mu   sync.RWMutex
	data map[string]Result
}

func NewMemCache() *MemCache {
	return &MemCache{
		data: make(map[string]Result),
	}
}

func (c *MemCache) Set(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = r
}

func (c *MemCache) Get(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.data[key]
	return r, ok
}

func (c *MemCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

func (c *MemCache) Snapshot() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Result, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// ExpireFinished drops finished results written before now-ttl and returns
// how many were removed.
func (c *MemCache) ExpireFinished(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, r := range c.data {
		if r.State == StateFinished && r.At.Before(cutoff) {
			delete(c.data, k)
			n++
		}
	}
	return n
}

// RunExpiry calls ExpireFinished every interval until ctx is done.
func (c *MemCache) RunExpiry(ctx context.Context, every, ttl time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.ExpireFinished(now, ttl)
		}
	}
}

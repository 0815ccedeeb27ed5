package postchain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/eringen/postchain/chain"
)

// TimelineCache keeps recently read blog timelines. It is a chain.Sink: any
// committed event for a blog evicts that blog's timeline.
type TimelineCache struct {
	engine  *chain.Engine
	lru     *expirable.LRU[chain.Address, []chain.Entry]
	maxWalk int
	// gen changes on every invalidation so a load that raced a commit is
	// not stored.
	gen atomic.Uint64
}

// NewTimelineCache creates a cache holding up to size timelines for ttl.
func NewTimelineCache(e *chain.Engine, size int, ttl time.Duration, maxWalk int) *TimelineCache {
	if size <= 0 {
		size = 256
	}
	return &TimelineCache{
		engine:  e,
		lru:     expirable.NewLRU[chain.Address, []chain.Entry](size, nil, ttl),
		maxWalk: maxWalk,
	}
}

// Timeline returns the blog's posts, newest first, loading them on a miss.
// Callers must not modify the returned slice.
func (c *TimelineCache) Timeline(ctx context.Context, blog chain.Address) ([]chain.Entry, error) {
	if entries, ok := c.lru.Get(blog); ok {
		return entries, nil
	}
	gen := c.gen.Load()
	entries, err := c.engine.Timeline(ctx, blog, c.maxWalk)
	if err != nil {
		return nil, err
	}
	if c.gen.Load() == gen {
		c.lru.Add(blog, entries)
	}
	return entries, nil
}

// Invalidate drops the cached timeline for blog.
func (c *TimelineCache) Invalidate(blog chain.Address) {
	c.gen.Add(1)
	c.lru.Remove(blog)
}

// Len returns the number of cached timelines.
func (c *TimelineCache) Len() int {
	return c.lru.Len()
}

func (c *TimelineCache) Emit(_ context.Context, ev chain.PostEvent) error {
	c.Invalidate(ev.Blog)
	return nil
}

package postchain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/postchain/chain"
)

func TestTimelineCacheInvalidatedByEvents(t *testing.T) {
	ctx := context.Background()
	engine := chain.NewEngine(chain.NewMemStore())
	cache := NewTimelineCache(engine, 8, time.Hour, 0)
	engine.Notifier().Subscribe(cache)

	admin, author := chain.SignedBy(mustAddress(t)), chain.SignedBy(mustAddress(t))
	blog, err := engine.InitBlog(ctx, admin)
	require.NoError(t, err)
	profile, err := engine.SignupUser(ctx, author, "bob", "")
	require.NoError(t, err)

	entries, err := cache.Timeline(ctx, blog)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, cache.Len())

	p1, err := engine.CreatePost(ctx, author, chain.CreatePostParams{Blog: blog, Profile: profile, Title: "t", Content: "c"})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Len())

	entries, err = cache.Timeline(ctx, blog)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, p1, entries[0].Address)

	require.NoError(t, engine.UpdatePost(ctx, author, p1, "t2", "c2"))
	entries, err = cache.Timeline(ctx, blog)
	require.NoError(t, err)
	assert.Equal(t, "t2", entries[0].Post.Title)
}

func TestTimelineCacheExpires(t *testing.T) {
	ctx := context.Background()
	engine := chain.NewEngine(chain.NewMemStore())
	cache := NewTimelineCache(engine, 8, 20*time.Millisecond, 0)

	blog, err := engine.InitBlog(ctx, chain.SignedBy(mustAddress(t)))
	require.NoError(t, err)
	_, err = cache.Timeline(ctx, blog)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	assert.Eventually(t, func() bool { return cache.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestTimelineCacheDoesNotStoreErrors(t *testing.T) {
	ctx := context.Background()
	cache := NewTimelineCache(chain.NewEngine(chain.NewMemStore()), 8, time.Hour, 0)

	_, err := cache.Timeline(ctx, mustAddress(t))
	assert.ErrorIs(t, err, chain.ErrNotFound)
	assert.Equal(t, 0, cache.Len())
}

func mustAddress(t *testing.T) chain.Address {
	t.Helper()
	a, err := chain.NewAddress()
	require.NoError(t, err)
	return a
}

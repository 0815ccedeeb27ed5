package postchain

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/postchain/chain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStoreRecordsSchemaVersion(t *testing.T) {
	s := setupTestStore(t)

	v, err := s.GetSetting("schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	missing, err := s.GetSetting("nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestNewStoreRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SetSetting("schema_version", "99"))
	require.NoError(t, s.Close())

	_, err = NewStore(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestStoreAllocateWriteRead(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	var addr chain.Address
	err := s.Update(ctx, func(tx chain.Tx) error {
		var err error
		addr, err = tx.Allocate(chain.KindProfile, 16)
		if err != nil {
			return err
		}
		return tx.Write(addr, chain.KindProfile, []byte("hello"))
	})
	require.NoError(t, err)
	require.False(t, addr.IsNone())

	err = s.View(ctx, func(tx chain.Tx) error {
		kind, data, err := tx.Read(addr)
		require.NoError(t, err)
		assert.Equal(t, chain.KindProfile, kind)
		assert.Equal(t, []byte("hello"), data)

		addrs, err := tx.Addresses(chain.KindProfile)
		require.NoError(t, err)
		assert.Equal(t, []chain.Address{addr}, addrs)
		return nil
	})
	require.NoError(t, err)
}

func TestStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx chain.Tx) error {
		addr, err := tx.Allocate(chain.KindBlog, 8)
		if err != nil {
			return err
		}
		if err := tx.Write(addr, chain.KindBlog, []byte{1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx chain.Tx) error {
		addrs, err := tx.Addresses(chain.KindBlog)
		require.NoError(t, err)
		assert.Empty(t, addrs)
		return nil
	})
	require.NoError(t, err)
}

func TestStoreDestroyRetiresAddress(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	var addr chain.Address
	require.NoError(t, s.Update(ctx, func(tx chain.Tx) error {
		var err error
		if addr, err = tx.Allocate(chain.KindPost, 8); err != nil {
			return err
		}
		return tx.Write(addr, chain.KindPost, []byte{1})
	}))
	require.NoError(t, s.Update(ctx, func(tx chain.Tx) error {
		return tx.Destroy(addr)
	}))

	err := s.Update(ctx, func(tx chain.Tx) error {
		_, _, err := tx.Read(addr)
		assert.ErrorIs(t, err, chain.ErrAddressRetired)
		assert.ErrorIs(t, tx.Write(addr, chain.KindPost, []byte{2}), chain.ErrAddressRetired)
		assert.ErrorIs(t, tx.Destroy(addr), chain.ErrAddressRetired)

		_, _, err = tx.Read(chain.Address{7})
		assert.ErrorIs(t, err, chain.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStoreSpaceAndKind(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	err := s.Update(ctx, func(tx chain.Tx) error {
		addr, err := tx.Allocate(chain.KindProfile, 4)
		if err != nil {
			return err
		}
		assert.ErrorIs(t, tx.Write(addr, chain.KindPost, []byte{1}), chain.ErrKindMismatch)
		assert.ErrorIs(t, tx.Write(addr, chain.KindProfile, []byte{1, 2, 3, 4, 5}), chain.ErrSpaceExceeded)
		return tx.Write(addr, chain.KindProfile, []byte{1, 2, 3, 4})
	})
	require.NoError(t, err)
}

func TestStoreUninitializedRecordIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	var addr chain.Address
	require.NoError(t, s.Update(ctx, func(tx chain.Tx) error {
		var err error
		addr, err = tx.Allocate(chain.KindPost, 8)
		return err
	}))
	err := s.View(ctx, func(tx chain.Tx) error {
		_, _, err := tx.Read(addr)
		assert.ErrorIs(t, err, chain.ErrNotFound)
		addrs, err := tx.Addresses(chain.KindPost)
		require.NoError(t, err)
		assert.Empty(t, addrs)
		return nil
	})
	require.NoError(t, err)
}

func TestStoreViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	err := s.View(ctx, func(tx chain.Tx) error {
		_, err := tx.Allocate(chain.KindBlog, 8)
		return err
	})
	assert.Error(t, err)
}

func newSQLiteEngine(t *testing.T, s chain.Store) *chain.Engine {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return chain.NewEngine(s,
		chain.WithClock(clk),
		chain.WithNotifier(chain.NewNotifier(zerolog.Nop())),
	)
}

func TestEngineOnSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	log := NewEventLog(s)
	e := newSQLiteEngine(t, s)

	admin, err := chain.NewAddress()
	require.NoError(t, err)
	author, err := chain.NewAddress()
	require.NoError(t, err)

	blog, err := e.InitBlog(ctx, chain.SignedBy(admin))
	require.NoError(t, err)
	profile, err := e.SignupUser(ctx, chain.SignedBy(author), "alice", "")
	require.NoError(t, err)

	create := func(title string) chain.Address {
		addr, err := e.CreatePost(ctx, chain.SignedBy(author), chain.CreatePostParams{
			Blog: blog, Profile: profile, Title: title, Content: "body of " + title,
		})
		require.NoError(t, err)
		return addr
	}
	p1 := create("one")
	p2 := create("two")
	p3 := create("three")

	require.NoError(t, e.UpdatePost(ctx, chain.SignedBy(author), p2, "two edited", "new body"))
	require.NoError(t, e.DeletePost(ctx, chain.SignedBy(author), p2, p3))
	require.NoError(t, e.DeleteLatestPost(ctx, chain.SignedBy(author), blog, p3))

	entries, err := e.Timeline(ctx, blog, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, p1, entries[0].Address)
	assert.True(t, entries[0].Post.Predecessor.IsNone())

	b, err := e.Blog(ctx, blog)
	require.NoError(t, err)
	assert.Equal(t, p1, b.Head)

	_, err = e.Post(ctx, p2)
	assert.ErrorIs(t, err, chain.ErrAddressRetired)
	require.NoError(t, chain.Audit(ctx, s, 0))

	logged, err := log.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, logged, 6)
	want := []chain.PostEvent{
		{Label: chain.LabelCreate, Blog: blog, PostID: p1},
		{Label: chain.LabelCreate, Blog: blog, PostID: p2},
		{Label: chain.LabelCreate, Blog: blog, PostID: p3},
		{Label: chain.LabelUpdate, Blog: blog, PostID: p2},
		{Label: chain.LabelDelete, Blog: blog, PostID: p2, NextPostID: &p3},
		{Label: chain.LabelDelete, Blog: blog, PostID: p3},
	}
	for i, ev := range logged {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, want[i], ev.PostEvent, "event %d", i)
	}
}

func TestEventLogPaging(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	log := NewEventLog(s)

	blog := chain.Address{1}
	for i := 0; i < 5; i++ {
		err := s.Update(ctx, func(tx chain.Tx) error {
			return tx.(chain.Journal).Append(chain.PostEvent{Label: chain.LabelCreate, Blog: blog, PostID: chain.Address{byte(10 + i)}})
		})
		require.NoError(t, err)
	}

	page, err := log.Events(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, chain.Address{12}, page[0].PostID)
	assert.Nil(t, page[0].NextPostID)
	assert.Equal(t, int64(4), page[1].Seq)

	rest, err := log.Events(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestEventLogDropsRolledBackEvents(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	errAbort := errors.New("abort")
	err := s.Update(ctx, func(tx chain.Tx) error {
		require.NoError(t, tx.(chain.Journal).Append(chain.PostEvent{Label: chain.LabelCreate, PostID: chain.Address{1}}))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = s.View(ctx, func(tx chain.Tx) error {
		return tx.(chain.Journal).Append(chain.PostEvent{Label: chain.LabelCreate, PostID: chain.Address{2}})
	})
	assert.Error(t, err)

	logged, err := NewEventLog(s).Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, logged)
}

// cancelAfterCommit cancels the caller's context once a unit of work has
// committed, the way a dropped HTTP client does.
type cancelAfterCommit struct {
	*Store
	cancel context.CancelFunc
}

func (s *cancelAfterCommit) Update(ctx context.Context, fn func(chain.Tx) error) error {
	err := s.Store.Update(ctx, fn)
	s.cancel()
	return err
}

func TestEventLogKeepsEventsOfCancelledCallers(t *testing.T) {
	s := setupTestStore(t)
	setup := newSQLiteEngine(t, s)
	author, err := chain.NewAddress()
	require.NoError(t, err)
	blog, err := setup.InitBlog(context.Background(), chain.SignedBy(author))
	require.NoError(t, err)
	profile, err := setup.SignupUser(context.Background(), chain.SignedBy(author), "alice", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newSQLiteEngine(t, &cancelAfterCommit{Store: s, cancel: cancel})
	post, err := e.CreatePost(ctx, chain.SignedBy(author), chain.CreatePostParams{
		Blog: blog, Profile: profile, Title: "t", Content: "c",
	})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	logged, err := NewEventLog(s).Events(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, chain.PostEvent{Label: chain.LabelCreate, Blog: blog, PostID: post}, logged[0].PostEvent)
}

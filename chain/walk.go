package chain

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DefaultMaxWalk bounds traversals when the caller passes no limit.
const DefaultMaxWalk = 100_000

// Entry is a post together with its address.
type Entry struct {
	Address Address `json:"address"`
	Post    *Post   `json:"post"`
}

// Walk follows predecessor links from head until None, calling fn for each
// post, newest first. A repeated address or a chain longer than max is a
// ConsistencyError.
func Walk(tx Tx, head Address, max int, fn func(Address, *Post) error) error {
	if max <= 0 {
		max = DefaultMaxWalk
	}
	seen := make(map[Address]struct{})
	for cur := head; !cur.IsNone(); {
		if _, ok := seen[cur]; ok {
			return &ConsistencyError{Reason: fmt.Sprintf("cycle at post %s", cur)}
		}
		if len(seen) == max {
			return &ConsistencyError{Reason: fmt.Sprintf("chain longer than %d posts", max)}
		}
		seen[cur] = struct{}{}
		var p Post
		if err := Load(tx, cur, &p); err != nil {
			return err
		}
		if err := fn(cur, &p); err != nil {
			return err
		}
		cur = p.Predecessor
	}
	return nil
}

// Timeline returns the blog's posts from head to genesis.
func (e *Engine) Timeline(ctx context.Context, blog Address, max int) ([]Entry, error) {
	var out []Entry
	err := e.store.View(ctx, func(tx Tx) error {
		var b Blog
		if err := Load(tx, blog, &b); err != nil {
			return err
		}
		return Walk(tx, b.Head, max, func(addr Address, p *Post) error {
			out = append(out, Entry{Address: addr, Post: p})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Blogs lists every blog address in the store.
func (e *Engine) Blogs(ctx context.Context) ([]Address, error) {
	var out []Address
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Addresses(KindBlog)
		return err
	})
	return out, err
}

// Audit checks that every blog's chain reaches None without cycles and that
// every live post is reachable from its blog's head. All violations are
// returned together.
func Audit(ctx context.Context, store Store, max int) error {
	var result *multierror.Error
	err := store.View(ctx, func(tx Tx) error {
		blogs, err := tx.Addresses(KindBlog)
		if err != nil {
			return err
		}
		reached := make(map[Address]Address)
		for _, addr := range blogs {
			var b Blog
			if err := Load(tx, addr, &b); err != nil {
				result = multierror.Append(result, fmt.Errorf("blog %s: %w", addr, err))
				continue
			}
			err := Walk(tx, b.Head, max, func(post Address, p *Post) error {
				if p.Blog != addr {
					return &ConsistencyError{Reason: fmt.Sprintf("post %s belongs to blog %s", post, p.Blog)}
				}
				reached[post] = addr
				return nil
			})
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("blog %s: %w", addr, err))
			}
		}
		posts, err := tx.Addresses(KindPost)
		if err != nil {
			return err
		}
		for _, addr := range posts {
			if _, ok := reached[addr]; !ok {
				result = multierror.Append(result, &ConsistencyError{Reason: fmt.Sprintf("post %s is not reachable from any head", addr)})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return result.ErrorOrNil()
}

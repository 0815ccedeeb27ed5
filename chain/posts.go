package chain

import (
	"context"
	"fmt"
)

// CreatePostParams names every record CreatePost touches.
type CreatePostParams struct {
	Blog    Address
	Profile Address
	Title   string
	Content string
}

// CreatePost appends a post to the blog's chain. The new post's predecessor
// is the head at commit time and the head moves to the new post.
func (e *Engine) CreatePost(ctx context.Context, c Caller, p CreatePostParams) (Address, error) {
	if err := e.limits.checkPost(p.Title, p.Content); err != nil {
		return None, err
	}
	var addr Address
	err := e.commit(ctx, "create_post", func(tx Tx) error {
		var profile Profile
		if err := Load(tx, p.Profile, &profile); err != nil {
			return err
		}
		if err := e.authorize(c, profile.Authority, "profile authority"); err != nil {
			return err
		}
		var blog Blog
		if err := Load(tx, p.Blog, &blog); err != nil {
			return err
		}
		var err error
		addr, err = tx.Allocate(KindPost, e.limits.PostSpace())
		if err != nil {
			return asStorage("allocate post", None, err)
		}
		post := &Post{
			Title:       p.Title,
			Content:     p.Content,
			Owner:       c.Authority,
			Profile:     p.Profile,
			Blog:        p.Blog,
			CreatedAt:   e.clock.Now().Unix(),
			Predecessor: blog.Head,
		}
		if err := Save(tx, addr, post); err != nil {
			return err
		}
		blog.Head = addr
		return Save(tx, p.Blog, &blog)
	}, func() PostEvent { return createEvent(p.Blog, addr) })
	if err != nil {
		return None, err
	}
	return addr, nil
}

// UpdatePost overwrites a post's title and content in place.
func (e *Engine) UpdatePost(ctx context.Context, c Caller, post Address, title, content string) error {
	if err := e.limits.checkPost(title, content); err != nil {
		return err
	}
	var blog Address
	return e.commit(ctx, "update_post", func(tx Tx) error {
		var p Post
		if err := Load(tx, post, &p); err != nil {
			return err
		}
		if err := e.authorize(c, p.Owner, "post owner"); err != nil {
			return err
		}
		blog = p.Blog
		p.Title = title
		p.Content = content
		return Save(tx, post, &p)
	}, func() PostEvent { return updateEvent(blog, post) })
}

// DeletePost unlinks a post that is not the head. next must be the post
// whose predecessor is post; it is spliced onto post's predecessor and post is
// destroyed.
func (e *Engine) DeletePost(ctx context.Context, c Caller, post, next Address) error {
	if post == next {
		return &ConsistencyError{Reason: "post and next post are the same record"}
	}
	var blog Address
	return e.commit(ctx, "delete_post", func(tx Tx) error {
		var x Post
		if err := Load(tx, post, &x); err != nil {
			return err
		}
		if err := e.authorize(c, x.Owner, "post owner"); err != nil {
			return err
		}
		var y Post
		if err := Load(tx, next, &y); err != nil {
			return err
		}
		if y.Predecessor != post {
			return &ConsistencyError{Reason: fmt.Sprintf("post %s does not link to %s", next, post)}
		}
		if y.Blog != x.Blog {
			return &ConsistencyError{Reason: fmt.Sprintf("posts %s and %s belong to different blogs", post, next)}
		}
		blog = x.Blog
		y.Predecessor = x.Predecessor
		if err := Save(tx, next, &y); err != nil {
			return err
		}
		return asStorage("destroy post", post, tx.Destroy(post))
	}, func() PostEvent {
		n := next
		return deleteEvent(blog, post, &n)
	})
}

// DeleteLatestPost unlinks the blog's head post and moves the head to its
// predecessor.
func (e *Engine) DeleteLatestPost(ctx context.Context, c Caller, blog, post Address) error {
	return e.commit(ctx, "delete_latest_post", func(tx Tx) error {
		var x Post
		if err := Load(tx, post, &x); err != nil {
			return err
		}
		if err := e.authorize(c, x.Owner, "post owner"); err != nil {
			return err
		}
		var b Blog
		if err := Load(tx, blog, &b); err != nil {
			return err
		}
		if b.Head != post {
			return &ConsistencyError{Reason: fmt.Sprintf("post %s is not the head of blog %s", post, blog)}
		}
		b.Head = x.Predecessor
		if err := Save(tx, blog, &b); err != nil {
			return err
		}
		return asStorage("destroy post", post, tx.Destroy(post))
	}, func() PostEvent { return deleteEvent(blog, post, nil) })
}

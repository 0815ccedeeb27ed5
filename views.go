package postchain

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/eringen/postchain/chain"
	"github.com/eringen/postchain/markdown"
)

// PostView is a post prepared for rendering.
type PostView struct {
	Address     chain.Address
	Title       string
	Content     string
	Owner       chain.Address
	Profile     chain.Address
	Blog        chain.Address
	Created     time.Time
	Predecessor chain.Address
	Link        string
	BlogLink    string
}

// BlogView is a blog and, when rendered as a timeline, its posts newest first.
type BlogView struct {
	Address       chain.Address
	Administrator chain.Address
	Head          chain.Address
	Link          string
	FeedLink      string
	Posts         []PostView
}

// ProfileView is an author's profile prepared for rendering.
type ProfileView struct {
	Address chain.Address
	Name    string
	Avatar  string
}

// ViewFuncs holds the templ components the App calls when rendering pages.
// Replace them with WithViews to customize every page.
type ViewFuncs struct {
	Home        func(blogs []BlogView) templ.Component
	Timeline    func(blog BlogView) templ.Component
	Post        func(post PostView, author ProfileView) templ.Component
	NotFound    func() templ.Component
	ServerError func() templ.Component
}

// DefaultViews returns minimal HTML views for cfg.
func DefaultViews(cfg SiteConfig) ViewFuncs {
	return ViewFuncs{
		Home: func(blogs []BlogView) templ.Component {
			return page(cfg, cfg.Name, func(b *strings.Builder) {
				if cfg.Description != "" {
					fmt.Fprintf(b, "<p>%s</p>", templ.EscapeString(cfg.Description))
				}
				if len(blogs) == 0 {
					b.WriteString("<p>No blogs yet.</p>")
					return
				}
				b.WriteString("<ul>")
				for _, bl := range blogs {
					fmt.Fprintf(b, `<li><a href="%s">%s</a> <span class="meta">%d posts</span></li>`,
						templ.EscapeString(bl.Link), templ.EscapeString(bl.Address.String()), len(bl.Posts))
				}
				b.WriteString("</ul>")
			})
		},
		Timeline: func(blog BlogView) templ.Component {
			return page(cfg, "Blog "+blog.Address.Short(), func(b *strings.Builder) {
				fmt.Fprintf(b, `<p class="meta">administrator %s · <a href="%s">RSS</a></p>`,
					templ.EscapeString(blog.Administrator.Short()), templ.EscapeString(blog.FeedLink))
				if len(blog.Posts) == 0 {
					b.WriteString("<p>No posts yet.</p>")
				}
				for _, p := range blog.Posts {
					fmt.Fprintf(b, `<article><h2><a href="%s">%s</a></h2><p class="meta">%s by %s</p></article>`,
						templ.EscapeString(p.Link), templ.EscapeString(p.Title),
						p.Created.Format("2006-01-02 15:04"), templ.EscapeString(p.Owner.Short()))
				}
			})
		},
		Post: func(post PostView, author ProfileView) templ.Component {
			return page(cfg, post.Title, func(b *strings.Builder) {
				b.WriteString(`<p class="meta">`)
				if author.Avatar != "" {
					fmt.Fprintf(b, `<img class="avatar" src="%s" alt=""> `, templ.EscapeString(string(templ.URL(author.Avatar))))
				}
				fmt.Fprintf(b, `%s · %s · <a href="%s">blog</a></p>`,
					templ.EscapeString(author.Name), post.Created.Format("2006-01-02 15:04"), templ.EscapeString(post.BlogLink))
				fmt.Fprintf(b, `<div class="content">%s</div>`, markdown.HTML(post.Content))
			})
		},
		NotFound: func() templ.Component {
			return page(cfg, "Not found", func(b *strings.Builder) {
				b.WriteString("<p>Nothing lives at this address.</p>")
			})
		},
		ServerError: func() templ.Component {
			return page(cfg, "Server error", func(b *strings.Builder) {
				b.WriteString("<p>Something went wrong. Try again later.</p>")
			})
		},
	}
}

func page(cfg SiteConfig, title string, body func(*strings.Builder)) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		fmt.Fprintf(&b, "<title>%s · %s</title>", templ.EscapeString(title), templ.EscapeString(cfg.Name))
		b.WriteString(`<link rel="stylesheet" href="/public/postchain.css"></head><body>`)
		fmt.Fprintf(&b, `<header><a href="/">%s</a></header><main><h1>%s</h1>`,
			templ.EscapeString(cfg.Name), templ.EscapeString(title))
		body(&b)
		b.WriteString("</main></body></html>")
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func newPostView(base string, e chain.Entry) PostView {
	return PostView{
		Address:     e.Address,
		Title:       e.Post.Title,
		Content:     e.Post.Content,
		Owner:       e.Post.Owner,
		Profile:     e.Post.Profile,
		Blog:        e.Post.Blog,
		Created:     e.Post.Created(),
		Predecessor: e.Post.Predecessor,
		Link:        BuildURL(base, "posts", e.Address.String()),
		BlogLink:    BuildURL(base, "blogs", e.Post.Blog.String()),
	}
}

func newBlogView(base string, addr chain.Address, b *chain.Blog, entries []chain.Entry) BlogView {
	v := BlogView{
		Address:       addr,
		Administrator: b.Administrator,
		Head:          b.Head,
		Link:          BuildURL(base, "blogs", addr.String()),
		FeedLink:      strings.TrimSuffix(BuildURL(base, "blogs", addr.String()), "/") + "/feed.xml",
		Posts:         make([]PostView, 0, len(entries)),
	}
	for _, e := range entries {
		v.Posts = append(v.Posts, newPostView(base, e))
	}
	return v
}

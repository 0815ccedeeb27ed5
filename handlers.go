package postchain

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/postchain/chain"
)

func (a *App) handleHome(c echo.Context) error {
	ctx := c.Request().Context()
	addrs, err := a.Engine.Blogs(ctx)
	if err != nil {
		return err
	}
	blogs := make([]BlogView, 0, len(addrs))
	for _, addr := range addrs {
		b, err := a.Engine.Blog(ctx, addr)
		if err != nil {
			// Closed between listing and loading.
			if errors.Is(err, chain.ErrNotFound) || errors.Is(err, chain.ErrAddressRetired) {
				continue
			}
			return err
		}
		entries, err := a.Cache.Timeline(ctx, addr)
		if err != nil {
			a.Log.Warn().Err(err).Str("blog", addr.String()).Msg("skipping blog with unreadable timeline")
			continue
		}
		blogs = append(blogs, newBlogView(a.Config.URL, addr, b, entries))
	}
	return Render(c, a.Views.Home(blogs))
}

func (a *App) handleTimeline(c echo.Context) error {
	view, err := a.loadBlogView(c)
	if err != nil {
		return err
	}
	return Render(c, a.Views.Timeline(view))
}

func (a *App) handlePost(c echo.Context) error {
	ctx := c.Request().Context()
	addr, err := addressParam(c, "post")
	if err != nil {
		return err
	}
	p, err := a.Engine.Post(ctx, addr)
	if err != nil {
		return readError(err)
	}
	author := ProfileView{Address: p.Profile, Name: p.Owner.Short()}
	if prof, err := a.Engine.Profile(ctx, p.Profile); err == nil {
		author.Name = prof.Name
		author.Avatar = prof.Avatar
	}
	return Render(c, a.Views.Post(newPostView(a.Config.URL, chain.Entry{Address: addr, Post: p}), author))
}

func (a *App) handleFeed(c echo.Context) error {
	view, err := a.loadBlogView(c)
	if err != nil {
		return err
	}
	return a.renderRSS(c, view)
}

func (a *App) handleSitemap(c echo.Context) error {
	ctx := c.Request().Context()
	addrs, err := a.Engine.Blogs(ctx)
	if err != nil {
		return err
	}
	var blogs []BlogView
	for _, addr := range addrs {
		entries, err := a.Cache.Timeline(ctx, addr)
		if err != nil {
			continue
		}
		blogs = append(blogs, newBlogView(a.Config.URL, addr, &chain.Blog{}, entries))
	}
	return a.renderSitemap(c, blogs)
}

func (a *App) loadBlogView(c echo.Context) (BlogView, error) {
	ctx := c.Request().Context()
	addr, err := addressParam(c, "blog")
	if err != nil {
		return BlogView{}, err
	}
	b, err := a.Engine.Blog(ctx, addr)
	if err != nil {
		return BlogView{}, readError(err)
	}
	entries, err := a.Cache.Timeline(ctx, addr)
	if err != nil {
		return BlogView{}, readError(err)
	}
	return newBlogView(a.Config.URL, addr, b, entries), nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		a.Log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("server error")
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if s, ok := he.Message.(string); ok {
				msg = s
			}
		}
		if code >= http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
		_ = c.JSON(code, errorResponse{Error: msg, Kind: outcome(err)})
		return
	}

	switch {
	case code == http.StatusNotFound:
		_ = RenderStatus(c, code, a.Views.NotFound())
	case code >= http.StatusInternalServerError:
		_ = RenderStatus(c, code, a.Views.ServerError())
	default:
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = echo.NewHTTPError(code, err.Error())
		}
		a.Echo.DefaultHTTPErrorHandler(he, c)
	}
}

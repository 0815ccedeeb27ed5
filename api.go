package postchain

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/postchain/chain"
)

type addressResponse struct {
	Address chain.Address `json:"address"`
}

type blogResponse struct {
	Address       chain.Address `json:"address"`
	Administrator chain.Address `json:"administrator"`
	Head          chain.Address `json:"head"`
}

type postResponse struct {
	Address     chain.Address `json:"address"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	Owner       chain.Address `json:"owner"`
	Profile     chain.Address `json:"profile"`
	Blog        chain.Address `json:"blog"`
	CreatedAt   time.Time     `json:"created_at"`
	Predecessor chain.Address `json:"predecessor"`
}

type timelineResponse struct {
	Blog  chain.Address  `json:"blog"`
	Posts []postResponse `json:"posts"`
}

type profileResponse struct {
	Address   chain.Address `json:"address"`
	Name      string        `json:"name"`
	Avatar    string        `json:"avatar"`
	Authority chain.Address `json:"authority"`
}

type createPostRequest struct {
	Profile chain.Address `json:"profile"`
	Title   string        `json:"title"`
	Content string        `json:"content"`
}

type updatePostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// deletePostRequest names the successor of a non-head post, or the blog
// when the post is the head. Exactly one must be set.
type deletePostRequest struct {
	NextPost *chain.Address `json:"next_post"`
	Blog     *chain.Address `json:"blog"`
}

type profileRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func newPostResponse(addr chain.Address, p *chain.Post) postResponse {
	return postResponse{
		Address:     addr,
		Title:       p.Title,
		Content:     p.Content,
		Owner:       p.Owner,
		Profile:     p.Profile,
		Blog:        p.Blog,
		CreatedAt:   p.Created(),
		Predecessor: p.Predecessor,
	}
}

func addressParam(c echo.Context, name string) (chain.Address, error) {
	addr, err := chain.ParseAddress(c.Param(name))
	if err != nil {
		return chain.None, echo.NewHTTPError(http.StatusNotFound, "invalid address: "+err.Error())
	}
	return addr, nil
}

// readError turns a missing record on a read path into 404.
func readError(err error) error {
	if errors.Is(err, chain.ErrNotFound) || errors.Is(err, chain.ErrAddressRetired) || errors.Is(err, chain.ErrKindMismatch) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	}
	return err
}

func (a *App) apiInitBlog(c echo.Context) error {
	addr, err := a.Engine.InitBlog(c.Request().Context(), callerFrom(c))
	a.Metrics.Observe("init_blog", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, addressResponse{Address: addr})
}

func (a *App) apiGetBlog(c echo.Context) error {
	addr, err := addressParam(c, "blog")
	if err != nil {
		return err
	}
	b, err := a.Engine.Blog(c.Request().Context(), addr)
	if err != nil {
		return readError(err)
	}
	return c.JSON(http.StatusOK, blogResponse{Address: addr, Administrator: b.Administrator, Head: b.Head})
}

func (a *App) apiCloseBlog(c echo.Context) error {
	addr, err := addressParam(c, "blog")
	if err != nil {
		return err
	}
	err = a.Engine.CloseBlog(c.Request().Context(), callerFrom(c), addr)
	a.Metrics.Observe("close_blog", err)
	if err != nil {
		return err
	}
	a.Cache.Invalidate(addr)
	return c.NoContent(http.StatusNoContent)
}

func (a *App) apiTimeline(c echo.Context) error {
	addr, err := addressParam(c, "blog")
	if err != nil {
		return err
	}
	entries, err := a.Cache.Timeline(c.Request().Context(), addr)
	if err != nil {
		return readError(err)
	}
	resp := timelineResponse{Blog: addr, Posts: make([]postResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Posts = append(resp.Posts, newPostResponse(e.Address, e.Post))
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *App) apiCreatePost(c echo.Context) error {
	blog, err := addressParam(c, "blog")
	if err != nil {
		return err
	}
	var req createPostRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	addr, err := a.Engine.CreatePost(c.Request().Context(), callerFrom(c), chain.CreatePostParams{
		Blog:    blog,
		Profile: req.Profile,
		Title:   req.Title,
		Content: req.Content,
	})
	a.Metrics.Observe("create_post", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, addressResponse{Address: addr})
}

func (a *App) apiGetPost(c echo.Context) error {
	addr, err := addressParam(c, "post")
	if err != nil {
		return err
	}
	p, err := a.Engine.Post(c.Request().Context(), addr)
	if err != nil {
		return readError(err)
	}
	return c.JSON(http.StatusOK, newPostResponse(addr, p))
}

func (a *App) apiUpdatePost(c echo.Context) error {
	addr, err := addressParam(c, "post")
	if err != nil {
		return err
	}
	var req updatePostRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	err = a.Engine.UpdatePost(c.Request().Context(), callerFrom(c), addr, req.Title, req.Content)
	a.Metrics.Observe("update_post", err)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) apiDeletePost(c echo.Context) error {
	addr, err := addressParam(c, "post")
	if err != nil {
		return err
	}
	var req deletePostRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	switch {
	case req.NextPost != nil && req.Blog == nil:
		err = a.Engine.DeletePost(ctx, callerFrom(c), addr, *req.NextPost)
		a.Metrics.Observe("delete_post", err)
	case req.Blog != nil && req.NextPost == nil:
		err = a.Engine.DeleteLatestPost(ctx, callerFrom(c), *req.Blog, addr)
		a.Metrics.Observe("delete_latest_post", err)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of next_post or blog is required")
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) apiSignup(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	addr, err := a.Engine.SignupUser(c.Request().Context(), callerFrom(c), req.Name, req.Avatar)
	a.Metrics.Observe("signup_user", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, addressResponse{Address: addr})
}

func (a *App) apiGetProfile(c echo.Context) error {
	addr, err := addressParam(c, "profile")
	if err != nil {
		return err
	}
	p, err := a.Engine.Profile(c.Request().Context(), addr)
	if err != nil {
		return readError(err)
	}
	return c.JSON(http.StatusOK, profileResponse{Address: addr, Name: p.Name, Avatar: p.Avatar, Authority: p.Authority})
}

func (a *App) apiUpdateProfile(c echo.Context) error {
	addr, err := addressParam(c, "profile")
	if err != nil {
		return err
	}
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	err = a.Engine.UpdateUser(c.Request().Context(), callerFrom(c), addr, req.Name, req.Avatar)
	a.Metrics.Observe("update_user", err)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) apiEvents(c echo.Context) error {
	if a.Events == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event log is not enabled")
	}
	var (
		after int64
		limit = 100
		err   error
	)
	if v := c.QueryParam("after"); v != "" {
		if after, err = strconv.ParseInt(v, 10, 64); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "after must be an integer")
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	limit = min(limit, 1000)
	events, err := a.Events.Events(c.Request().Context(), after, limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []LoggedEvent{}
	}
	return c.JSON(http.StatusOK, events)
}

// statusOf maps an error to an HTTP status.
func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case chain.IsValidation(err):
		return http.StatusBadRequest
	case chain.IsAuthorization(err):
		return http.StatusForbidden
	case chain.IsConsistency(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

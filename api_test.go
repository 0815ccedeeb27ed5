package postchain

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/postchain/chain"
)

type testServer struct {
	t     *testing.T
	app   *App
	clock *clock.Mock
}

func newTestServer(t *testing.T, mutate func(*SiteConfig), opts ...Option) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := SiteConfig{
		URL:          "https://blog.example.com",
		DatabasePath: filepath.Join(dir, "postchain.db"),
		UploadDir:    filepath.Join(dir, "uploads"),
		StaticDir:    filepath.Join(dir, "public"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clk), WithLogger(zerolog.Nop())}, opts...)
	app := New(cfg, opts...)
	require.NoError(t, app.Init())
	t.Cleanup(func() { app.Close() })
	return &testServer{t: t, app: app, clock: clk}
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func identity(k ed25519.PrivateKey) chain.Address {
	return chain.IdentityOf(k.Public().(ed25519.PublicKey))
}

func (s *testServer) do(method, path string, body any, keys ...ed25519.PrivateKey) *httptest.ResponseRecorder {
	s.t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(s.t, err)
	}
	return s.doRaw(method, path, echo.MIMEApplicationJSON, data, keys...)
}

func (s *testServer) doRaw(method, path, contentType string, data []byte, keys ...ed25519.PrivateKey) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, contentType)
	if len(keys) > 0 {
		SignRequest(req, data, s.clock.Now(), keys...)
	}
	rec := httptest.NewRecorder()
	s.app.Echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) created(rec *httptest.ResponseRecorder) chain.Address {
	s.t.Helper()
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp addressResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(s.t, resp.Address.IsNone())
	return resp.Address
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type seeded struct {
	admin, author ed25519.PrivateKey
	blog, profile chain.Address
}

func (s *testServer) seed() seeded {
	s.t.Helper()
	sd := seeded{admin: newKey(s.t), author: newKey(s.t)}
	sd.blog = s.created(s.do(http.MethodPost, "/api/blogs", nil, sd.admin))
	sd.profile = s.created(s.do(http.MethodPost, "/api/profiles", profileRequest{Name: "alice"}, sd.author))
	return sd
}

func (s *testServer) post(sd seeded, title string) chain.Address {
	s.t.Helper()
	return s.created(s.do(http.MethodPost, "/api/blogs/"+sd.blog.String()+"/posts",
		createPostRequest{Profile: sd.profile, Title: title, Content: "body of " + title}, sd.author))
}

func TestAPIScenario(t *testing.T) {
	s := newTestServer(t, nil)
	sd := s.seed()

	p1 := s.post(sd, "one")
	p2 := s.post(sd, "two")
	p3 := s.post(sd, "three")

	tl := decode[timelineResponse](t, s.do(http.MethodGet, "/api/blogs/"+sd.blog.String()+"/posts", nil))
	require.Len(t, tl.Posts, 3)
	assert.Equal(t, []chain.Address{p3, p2, p1}, []chain.Address{tl.Posts[0].Address, tl.Posts[1].Address, tl.Posts[2].Address})
	assert.Equal(t, identity(sd.author), tl.Posts[0].Owner)
	assert.Equal(t, sd.profile, tl.Posts[0].Profile)

	rec := s.do(http.MethodPut, "/api/posts/"+p2.String(), updatePostRequest{Title: "two!", Content: "edited"}, sd.author)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	got := decode[postResponse](t, s.do(http.MethodGet, "/api/posts/"+p2.String(), nil))
	assert.Equal(t, "two!", got.Title)
	assert.Equal(t, p1, got.Predecessor)

	rec = s.do(http.MethodDelete, "/api/posts/"+p2.String(), deletePostRequest{NextPost: &p3}, sd.author)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = s.do(http.MethodDelete, "/api/posts/"+p3.String(), deletePostRequest{Blog: &sd.blog}, sd.author)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	tl = decode[timelineResponse](t, s.do(http.MethodGet, "/api/blogs/"+sd.blog.String()+"/posts", nil))
	require.Len(t, tl.Posts, 1)
	assert.Equal(t, p1, tl.Posts[0].Address)

	blog := decode[blogResponse](t, s.do(http.MethodGet, "/api/blogs/"+sd.blog.String(), nil))
	assert.Equal(t, p1, blog.Head)
	assert.Equal(t, identity(sd.admin), blog.Administrator)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/posts/"+p2.String(), nil).Code)

	events := decode[[]LoggedEvent](t, s.do(http.MethodGet, "/api/events", nil))
	require.Len(t, events, 6)
	labels := make([]chain.Label, len(events))
	for i, ev := range events {
		labels[i] = ev.Label
	}
	assert.Equal(t, []chain.Label{
		chain.LabelCreate, chain.LabelCreate, chain.LabelCreate,
		chain.LabelUpdate, chain.LabelDelete, chain.LabelDelete,
	}, labels)
	require.NotNil(t, events[4].NextPostID)
	assert.Equal(t, p3, *events[4].NextPostID)
	assert.Nil(t, events[5].NextPostID)

	page := decode[[]LoggedEvent](t, s.do(http.MethodGet, "/api/events?after=4&limit=1", nil))
	require.Len(t, page, 1)
	assert.Equal(t, int64(5), page[0].Seq)
}

func TestAPIRejectsBadSignatures(t *testing.T) {
	s := newTestServer(t, nil)
	key := newKey(t)

	rec := s.do(http.MethodPost, "/api/blogs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Body changed after signing.
	req := httptest.NewRequest(http.MethodPost, "/api/profiles", strings.NewReader(`{"name":"mallory"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	SignRequest(req, []byte(`{"name":"alice"}`), s.clock.Now(), key)
	rec = httptest.NewRecorder()
	s.app.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Signed too long ago.
	req = httptest.NewRequest(http.MethodPost, "/api/blogs", nil)
	SignRequest(req, nil, s.clock.Now().Add(-time.Hour), key)
	rec = httptest.NewRecorder()
	s.app.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIRateLimitsSignatureFailures(t *testing.T) {
	s := newTestServer(t, func(c *SiteConfig) { c.AuthFailures = 2 })

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/blogs", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/blogs", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/api/blogs", nil, newKey(t)).Code)
}

func TestAPIAuthorityHeader(t *testing.T) {
	s := newTestServer(t, nil)
	sd := s.seed()
	p1 := s.post(sd, "one")
	other := newKey(t)

	// Claiming the author's identity without the author's signature.
	body, err := json.Marshal(updatePostRequest{Title: "x", Content: "y"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/posts/"+p1.String(), bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderAuthority, identity(sd.author).String())
	SignRequest(req, body, s.clock.Now(), other)
	rec := httptest.NewRecorder()
	s.app.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The author as a second signer with an explicit authority is accepted.
	req = httptest.NewRequest(http.MethodPut, "/api/posts/"+p1.String(), bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderAuthority, identity(sd.author).String())
	SignRequest(req, body, s.clock.Now(), other, sd.author)
	rec = httptest.NewRecorder()
	s.app.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestAPIErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	sd := s.seed()
	p1 := s.post(sd, "one")
	p2 := s.post(sd, "two")
	p3 := s.post(sd, "three")
	mallory := newKey(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		key    ed25519.PrivateKey
		status int
		kind   string
	}{
		{"empty title", http.MethodPost, "/api/blogs/" + sd.blog.String() + "/posts",
			createPostRequest{Profile: sd.profile, Title: "", Content: "c"}, sd.author, http.StatusBadRequest, "validation"},
		{"non-owner update", http.MethodPut, "/api/posts/" + p1.String(),
			updatePostRequest{Title: "t", Content: "c"}, mallory, http.StatusForbidden, "authorization"},
		{"non-owner delete", http.MethodDelete, "/api/posts/" + p1.String(),
			deletePostRequest{NextPost: &p2}, mallory, http.StatusForbidden, "authorization"},
		{"mismatched successor", http.MethodDelete, "/api/posts/" + p1.String(),
			deletePostRequest{NextPost: &p3}, sd.author, http.StatusConflict, "consistency"},
		{"delete non-head as head", http.MethodDelete, "/api/posts/" + p1.String(),
			deletePostRequest{Blog: &sd.blog}, sd.author, http.StatusConflict, "consistency"},
		{"close non-empty blog", http.MethodDelete, "/api/blogs/" + sd.blog.String(),
			nil, sd.admin, http.StatusConflict, "consistency"},
		{"close by non-admin", http.MethodDelete, "/api/blogs/" + sd.blog.String(),
			nil, sd.author, http.StatusForbidden, "authorization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body, tt.key)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}

	rec := s.do(http.MethodDelete, "/api/posts/"+p1.String(), deletePostRequest{}, sd.author)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Nothing above changed the chain.
	tl := decode[timelineResponse](t, s.do(http.MethodGet, "/api/blogs/"+sd.blog.String()+"/posts", nil))
	require.Len(t, tl.Posts, 3)
	assert.Equal(t, "one", tl.Posts[2].Title)
}

func TestAPICloseBlog(t *testing.T) {
	s := newTestServer(t, nil)
	sd := s.seed()
	p1 := s.post(sd, "only")

	rec := s.do(http.MethodDelete, "/api/posts/"+p1.String(), deletePostRequest{Blog: &sd.blog}, sd.author)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = s.do(http.MethodDelete, "/api/blogs/"+sd.blog.String(), nil, sd.admin)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/blogs/"+sd.blog.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/blogs/"+sd.blog.String()+"/posts", nil).Code)
}

func TestAPIProfiles(t *testing.T) {
	s := newTestServer(t, nil)
	sd := s.seed()

	got := decode[profileResponse](t, s.do(http.MethodGet, "/api/profiles/"+sd.profile.String(), nil))
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, identity(sd.author), got.Authority)

	rec := s.do(http.MethodPut, "/api/profiles/"+sd.profile.String(), profileRequest{Name: "alice b", Avatar: "https://example.com/a.png"}, sd.author)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	got = decode[profileResponse](t, s.do(http.MethodGet, "/api/profiles/"+sd.profile.String(), nil))
	assert.Equal(t, "alice b", got.Name)
	assert.Equal(t, "https://example.com/a.png", got.Avatar)

	rec = s.do(http.MethodPut, "/api/profiles/"+sd.profile.String(), profileRequest{Name: "x"}, sd.admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/profiles", profileRequest{Name: strings.Repeat("n", 41)}, sd.author)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/profiles/"+sd.blog.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/profiles/not-base58-0OIl", nil).Code)
}

func TestEventsDisabledWithoutEventLog(t *testing.T) {
	s := newTestServer(t, nil, WithStore(chain.NewMemStore()))
	assert.Nil(t, s.app.Events)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/events", nil).Code)
}

func TestExtraSinkSeesCommittedEvents(t *testing.T) {
	rec := &chain.Recorder{}
	s := newTestServer(t, nil, WithStore(chain.NewMemStore()), WithSink(rec))
	sd := s.seed()
	p1 := s.post(sd, "one")

	assert.Equal(t, []chain.PostEvent{{Label: chain.LabelCreate, Blog: sd.blog, PostID: p1}}, rec.Events())
}

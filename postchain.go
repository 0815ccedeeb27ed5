// Package postchain serves a multi-author blog whose posts form a
// backward-linked chain per blog. It wires the chain engine to a SQLite
// store, a signed JSON API, HTML pages, feeds, and an event stream.
//
// Users may provide their own templ components via ViewFuncs; everything
// else is handled by the App.
package postchain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eringen/postchain/chain"
)

// App is the central postchain application. It wires together the store,
// engine, cache, event sinks, handlers, and middleware.
type App struct {
	Config  SiteConfig
	Echo    *echo.Echo
	Engine  *chain.Engine
	Cache   *TimelineCache
	Events  *EventLog // nil unless the store is a *Store
	Hub     *Hub
	Metrics *Metrics
	Views   ViewFuncs
	Log     zerolog.Logger

	store        chain.Store
	db           *Store // opened by Init and closed by Close
	clock        clock.Clock
	sinks        []chain.Sink
	limiter      *SignatureLimiter
	customRoutes []func(*App)
	customLogger bool
	ready        bool
}

// New creates an App with the given configuration. Nothing is opened until
// Init or Start is called.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Views:  DefaultViews(cfg),
		clock:  clock.New(),
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}
	if !a.customLogger {
		a.Log = NewLogger(a.Config, nil)
	}
	return a
}

// Init opens the store, builds the engine and its event sinks, and registers
// middleware and routes. It is safe to call more than once.
func (a *App) Init() error {
	if a.ready {
		return nil
	}

	if a.store == nil {
		db, err := NewStore(a.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("postchain: init store: %w", err)
		}
		a.db = db
		a.store = db
	}
	if db, ok := a.store.(*Store); ok {
		a.Events = NewEventLog(db)
	}

	a.Metrics = NewMetrics()
	a.Hub = NewHub(a.Log.With().Str("component", "hub").Logger(), a.Config.URL)

	notifier := chain.NewNotifier(a.Log.With().Str("component", "notifier").Logger())
	a.Engine = chain.NewEngine(a.store,
		chain.WithClock(a.clock),
		chain.WithLimits(a.Config.Limits),
		chain.WithNotifier(notifier),
		chain.WithLogger(a.Log.With().Str("component", "engine").Logger()),
	)
	a.Cache = NewTimelineCache(a.Engine, a.Config.TimelineCacheSize, a.Config.TimelineCacheTTL.Duration, a.Config.MaxWalk)

	notifier.Subscribe(a.Cache)
	notifier.Subscribe(a.Metrics)
	notifier.Subscribe(a.Hub)
	for _, s := range a.sinks {
		notifier.Subscribe(s)
	}

	a.limiter = NewSignatureLimiter(a.Config.AuthFailures, a.Config.AuthWindow.Duration, a.clock)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	a.ready = true
	return nil
}

// Start initializes the App and serves HTTP until the server is shut down.
func (a *App) Start() error {
	if err := a.Init(); err != nil {
		return err
	}
	a.Log.Info().Str("addr", a.Config.Addr).Str("url", a.Config.URL).Msg("postchain listening")
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Echo.Shutdown(ctx)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) setupRoutes() {
	e := a.Echo

	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	e.GET("/public/postchain.css", echo.WrapHandler(http.StripPrefix("/public/", http.FileServer(http.FS(embeddedFS)))))
	e.Static("/public", a.Config.StaticDir)
	e.Static("/uploads", a.Config.UploadDir)

	e.GET("/", a.handleHome)
	e.GET("/blogs/:blog/", a.handleTimeline)
	e.GET("/blogs/:blog/feed.xml", a.handleFeed)
	e.GET("/posts/:post/", a.handlePost)
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/metrics", a.Metrics.handler())

	api := e.Group("/api")
	signed := a.requireSignature

	api.POST("/blogs", a.apiInitBlog, signed)
	api.GET("/blogs/:blog", a.apiGetBlog)
	api.DELETE("/blogs/:blog", a.apiCloseBlog, signed)
	api.GET("/blogs/:blog/posts", a.apiTimeline)
	api.POST("/blogs/:blog/posts", a.apiCreatePost, signed)

	api.GET("/posts/:post", a.apiGetPost)
	api.PUT("/posts/:post", a.apiUpdatePost, signed)
	api.DELETE("/posts/:post", a.apiDeletePost, signed)

	api.POST("/profiles", a.apiSignup, signed)
	api.GET("/profiles/:profile", a.apiGetProfile)
	api.PUT("/profiles/:profile", a.apiUpdateProfile, signed)
	api.POST("/profiles/:profile/avatar", a.apiUploadAvatar, signed)

	api.GET("/events", a.apiEvents)
	api.GET("/events/ws", a.Hub.handleWS)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// ensureDir creates dir if it does not exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

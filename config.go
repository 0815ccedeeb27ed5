package postchain

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/eringen/postchain/chain"
)

// Duration is a time.Duration that decodes from TOML strings such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// SiteConfig holds all configuration for a postchain site.
type SiteConfig struct {
	Name        string `toml:"name"`        // Site name (default "Postchain")
	URL         string `toml:"url"`         // Canonical URL (default "http://localhost:3000")
	Description string `toml:"description"` // Site description for RSS

	Addr         string `toml:"addr"`          // Listen address (default ":3000")
	DatabasePath string `toml:"database_path"` // SQLite path (default "data/postchain.db")
	UploadDir    string `toml:"upload_dir"`    // Avatar uploads (default "public/uploads")
	StaticDir    string `toml:"static_dir"`    // User static assets (default "public")

	LogLevel  string `toml:"log_level"`  // zerolog level (default "info")
	LogFormat string `toml:"log_format"` // "console" or "json" (default "console")

	TimelineCacheTTL  Duration `toml:"timeline_cache_ttl"`  // default 5m
	TimelineCacheSize int      `toml:"timeline_cache_size"` // blogs kept in cache (default 256)
	MaxWalk           int      `toml:"max_walk"`            // traversal bound (default chain.DefaultMaxWalk)

	SignatureMaxSkew Duration `toml:"signature_max_skew"` // accepted clock skew for signed requests (default 5m)
	AuthFailures     int      `toml:"auth_failures"`      // failed signatures per IP per window (default 10)
	AuthWindow       Duration `toml:"auth_window"`        // default 1m

	Limits chain.Limits `toml:"limits"`
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Postchain"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/postchain.db"
	}
	if c.StaticDir == "" {
		c.StaticDir = "public"
	}
	if c.UploadDir == "" {
		c.UploadDir = c.StaticDir + "/uploads"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.TimelineCacheTTL.Duration == 0 {
		c.TimelineCacheTTL.Duration = 5 * time.Minute
	}
	if c.TimelineCacheSize == 0 {
		c.TimelineCacheSize = 256
	}
	if c.MaxWalk == 0 {
		c.MaxWalk = chain.DefaultMaxWalk
	}
	if c.SignatureMaxSkew.Duration == 0 {
		c.SignatureMaxSkew.Duration = 5 * time.Minute
	}
	if c.AuthFailures == 0 {
		c.AuthFailures = 10
	}
	if c.AuthWindow.Duration == 0 {
		c.AuthWindow.Duration = time.Minute
	}
	if c.Limits == (chain.Limits{}) {
		c.Limits = chain.DefaultLimits()
	}
}

// LoadConfig reads a TOML config file when path is non-empty, then applies
// POSTCHAIN_* environment overrides and defaults.
func LoadConfig(path string) (SiteConfig, error) {
	var cfg SiteConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("postchain: read config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *SiteConfig) applyEnv() error {
	c.Name = EnvOr("POSTCHAIN_NAME", c.Name)
	c.URL = EnvOr("POSTCHAIN_URL", c.URL)
	c.Description = EnvOr("POSTCHAIN_DESCRIPTION", c.Description)
	c.Addr = EnvOr("POSTCHAIN_ADDR", c.Addr)
	c.DatabasePath = EnvOr("POSTCHAIN_DATABASE_PATH", c.DatabasePath)
	c.UploadDir = EnvOr("POSTCHAIN_UPLOAD_DIR", c.UploadDir)
	c.StaticDir = EnvOr("POSTCHAIN_STATIC_DIR", c.StaticDir)
	c.LogLevel = EnvOr("POSTCHAIN_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvOr("POSTCHAIN_LOG_FORMAT", c.LogFormat)
	if v := os.Getenv("POSTCHAIN_MAX_WALK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("postchain: POSTCHAIN_MAX_WALK: %w", err)
		}
		c.MaxWalk = n
	}
	if v := os.Getenv("POSTCHAIN_TIMELINE_CACHE_TTL"); v != "" {
		if err := c.TimelineCacheTTL.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("postchain: POSTCHAIN_TIMELINE_CACHE_TTL: %w", err)
		}
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Option configures additional App behavior.
type Option func(*App)

// WithViews replaces the default HTML views.
func WithViews(v ViewFuncs) Option {
	return func(a *App) {
		a.Views = v
	}
}

// WithStore uses an existing chain.Store instead of opening DatabasePath.
// The event log is disabled unless the store is a *Store.
func WithStore(s chain.Store) Option {
	return func(a *App) {
		a.store = s
	}
}

// WithClock sets the clock used for post timestamps and signature checks.
func WithClock(c clock.Clock) Option {
	return func(a *App) {
		a.clock = c
	}
}

// WithLogger replaces the logger built from LogLevel and LogFormat.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) {
		a.Log = l
		a.customLogger = true
	}
}

// WithSink registers an additional event sink.
func WithSink(s chain.Sink) Option {
	return func(a *App) {
		a.sinks = append(a.sinks, s)
	}
}

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

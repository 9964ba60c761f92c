package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/memoranda/internal/cache"
	"github.com/starford/memoranda/internal/search"
	"github.com/starford/memoranda/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Store   StoreConfig       `yaml:"store"`
	Cache   CacheConfig       `yaml:"cache"`
	Search  SearchConfig      `yaml:"search"`
	Retry   RetryConfig       `yaml:"retry"`
	Catalog CatalogConfig     `yaml:"catalog"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.Store, &c.Cache, &c.Search, &c.Retry} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	Transport string     `yaml:"transport"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Transport, validation.In(TransportStdio, TransportHTTP)),
	); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig controls where memos are discovered.
//
// StartDir is where the repository root search begins; empty means the
// working directory. Watch turns on reindexing of external file changes.
type StoreConfig struct {
	StartDir     string `yaml:"start_dir"`
	DirName      string `yaml:"dir_name"`
	MaxScanDepth int    `yaml:"max_scan_depth"`
	Watch        bool   `yaml:"watch"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.DirName, validation.Required, validation.By(plainName)),
		validation.Field(&c.MaxScanDepth, validation.Min(0), validation.Max(64)),
	)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func plainName(v any) error {
	s, _ := v.(string)
	if s != filepath.Base(s) || s == "." || s == ".." {
		return fmt.Errorf("must be a single directory name")
	}
	return nil
}

// ScopeOptions converts the store section to discovery options.
func (c *StoreConfig) ScopeOptions() storage.ScopeOptions {
	return storage.ScopeOptions{DirName: c.DirName, MaxDepth: c.MaxScanDepth}
}

// CacheConfig sizes the memo cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// SearchConfig tunes ranking.
type SearchConfig struct {
	TitleBoost      float64       `yaml:"title_boost"`
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	SnippetLength   int           `yaml:"snippet_length"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.TitleBoost, validation.Min(1.0)),
		validation.Field(&c.RecencyHalfLife, validation.Min(time.Hour)),
		validation.Field(&c.RecencyWeight, validation.Min(0.0)),
		validation.Field(&c.SnippetLength, validation.Min(16)),
	)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return nil
}

// Index returns the index configuration.
func (c *SearchConfig) Index() search.Config {
	return search.Config{
		TitleBoost:      c.TitleBoost,
		RecencyHalfLife: c.RecencyHalfLife,
		RecencyWeight:   c.RecencyWeight,
		SnippetLength:   c.SnippetLength,
	}
}

// RetryConfig bounds retries of transient file-system errors.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&c.InitialInterval, validation.Required),
		validation.Field(&c.MaxInterval, validation.Required, validation.Min(c.InitialInterval)),
	)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// Policy returns the storage retry policy.
func (c *RetryConfig) Policy() storage.RetryPolicy {
	return storage.RetryPolicy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
	}
}

// CatalogConfig controls the SQLite ledger. An empty Path puts the database
// inside the primary memo directory.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DatabasePath resolves the catalog location for a primary memo directory.
func (c *CatalogConfig) DatabasePath(primary string) string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(primary, ".catalog.db")
}

// AuthConfig holds authentication configuration for the HTTP transport.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	ranking := search.DefaultConfig()
	retry := storage.DefaultRetryPolicy()
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			Transport: TransportStdio,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			DirName:      storage.DefaultDirName,
			MaxScanDepth: storage.DefaultMaxDepth,
		},
		Cache: CacheConfig{
			Capacity: cache.DefaultCapacity,
		},
		Search: SearchConfig{
			TitleBoost:      ranking.TitleBoost,
			RecencyHalfLife: ranking.RecencyHalfLife,
			RecencyWeight:   ranking.RecencyWeight,
			SnippetLength:   ranking.SnippetLength,
		},
		Retry: RetryConfig{
			MaxAttempts:     retry.MaxAttempts,
			InitialInterval: retry.InitialInterval,
			MaxInterval:     retry.MaxInterval,
		},
		Catalog: CatalogConfig{
			Enabled: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

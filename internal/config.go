package internal

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Graph  GraphConfig       `yaml:"graph"`
	Loader LoaderConfig      `yaml:"loader"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Watch  WatchConfig       `yaml:"watch"`
}

// Validate validates every section. Errors are keyed by section name.
func (c *Config) Validate() error {
	return validation.Errors{
		"app":    c.App.Validate(),
		"graph":  c.Graph.Validate(),
		"loader": c.Loader.Validate(),
		"sqlite": c.SQLite.Validate(),
		"auth":   c.Auth.Validate(),
		"watch":  c.Watch.Validate(),
	}.Filter()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.Errors{"http": c.HTTP.Validate()}.Filter()
}

// HTTPConfig holds HTTP server configuration. An empty Host listens on
// every interface.
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Duration(0))),
	)
}

// GraphConfig describes the site the graph is built from.
//
// Root is a directory whose files become file: assets. CanonicalRoot is
// the public URL the site is served from; absolute hrefs under it are
// treated as references into Root. Entry lists the paths loaded at
// startup; empty loads every file.
type GraphConfig struct {
	Root              string   `yaml:"root"`
	CanonicalRoot     string   `yaml:"canonical_root"`
	Entry             []string `yaml:"entry"`
	FollowSchemes     []string `yaml:"follow_schemes"`
	FollowCrossorigin bool     `yaml:"follow_crossorigin"`
	WriteBack         bool     `yaml:"write_back"`
}

// Validate validates the graph configuration.
func (c *GraphConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.CanonicalRoot, validation.By(absoluteHTTPURL)),
		validation.Field(&c.FollowSchemes, validation.Each(validation.In("file", "http", "https"))),
	)
}

// absoluteHTTPURL accepts an empty string or an absolute http(s) URL.
func absoluteHTTPURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http or https URL")
	}
	return nil
}

// LoaderConfig bounds resource loading.
type LoaderConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	BlockPrivate bool          `yaml:"block_private"`
}

// Validate validates the loader configuration.
func (c *LoaderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Min(1), validation.Max(256)),
		validation.Field(&c.HTTPTimeout, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration. An empty mode becomes
// "disabled".
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.Token, validation.When(c.Mode == AuthModeToken,
			validation.Required.Error("token is empty while mode is token"))),
	)
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// WatchConfig toggles the site watcher. Debounce is how long changes to
// one file are collected before the graph is updated.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:            8080,
				ShutdownTimeout: 10 * time.Second,
			},
		},
		Graph: GraphConfig{
			Root:          "./site",
			FollowSchemes: []string{"file"},
		},
		Loader: LoaderConfig{
			Concurrency:  8,
			HTTPTimeout:  30 * time.Second,
			BlockPrivate: true,
		},
		SQLite: SQLiteConfig{
			Path: "./assetgraph.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 50 * time.Millisecond,
		},
	}
}

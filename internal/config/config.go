// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/buck3t-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are path prefixes owned by the gateway's own handlers.
var reservedRoutes = []string{"/api", "/healthz", "/gateway/status", "/static"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='UI_HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='UI_PORT'"`
	Backend  string `kong:"help='Backend base URL (overrides config).',env='BACKEND_BASE'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Auth    AuthConfig    `toml:"auth"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port" validate:"gte=0,lte=65535"` // 0 means "use default" (8085)
	BodyMaxBytes int64           `toml:"body_max_bytes" validate:"gte=0"` // non-upload request bodies
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig holds upstream connection settings.
type BackendConfig struct {
	BaseURL         string `toml:"base_url" validate:"required,url"`
	TimeoutSeconds  int    `toml:"timeout_seconds" validate:"gte=0"`
	IdleConnections int    `toml:"idle_connections" validate:"gte=0"`
	MaxUploadSize   string `toml:"max_upload_size"` // human size, e.g. "64MiB"

	maxUploadBytes int64
}

// AuthConfig holds settings for the credential cookie.
type AuthConfig struct {
	CookieName   string `toml:"cookie_name"`
	CookieSecure bool   `toml:"cookie_secure"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=json text"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/buck3t-gateway/config.toml then configs/config.toml and falls back to
// built-in defaults if neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Backend != "" {
		c.Backend.BaseURL = cli.Backend
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q check; got %v", fieldName(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https; got %q", c.Backend.BaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("backend.base_url must not carry a query or fragment; got %q", c.Backend.BaseURL)
	}

	size, err := humanize.ParseBytes(c.Backend.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("backend.max_upload_size %q: %w", c.Backend.MaxUploadSize, err)
	}
	if size == 0 || size > 1<<50 {
		return fmt.Errorf("backend.max_upload_size must be between 1B and 1PiB; got %q", c.Backend.MaxUploadSize)
	}
	c.Backend.maxUploadBytes = int64(size)

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if strings.ContainsAny(c.Auth.CookieName, " \t;,=\"") {
		return fmt.Errorf("auth.cookie_name contains invalid characters; got %q", c.Auth.CookieName)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// fieldName maps a validator namespace such as "Config.Backend.BaseURL" to
// the TOML key it came from.
func fieldName(ns string) string {
	switch ns {
	case "Config.Server.Port":
		return "server.port"
	case "Config.Server.BodyMaxBytes":
		return "server.body_max_bytes"
	case "Config.Backend.BaseURL":
		return "backend.base_url"
	case "Config.Backend.TimeoutSeconds":
		return "backend.timeout_seconds"
	case "Config.Backend.IdleConnections":
		return "backend.idle_connections"
	case "Config.Log.Level":
		return "log.level"
	case "Config.Log.Format":
		return "log.format"
	}
	return ns
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8085
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 << 20 // 1 MiB
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://127.0.0.1:8080"
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 120
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Backend.MaxUploadSize == "" {
		c.Backend.MaxUploadSize = "64MiB"
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "rb_token"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Join appends a backend-relative path to the base URL. The base may or may
// not end in '/'; path must already be escaped.
func (c *BackendConfig) Join(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	return base + "/" + strings.TrimLeft(path, "/")
}

// MaxUploadBytes returns the parsed upload limit. It is only set on configs
// returned by Load; a zero value means "no limit configured".
func (c *BackendConfig) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

// SetMaxUploadBytes overrides the parsed upload limit. Intended for tests
// that build a Config without Load.
func (c *BackendConfig) SetMaxUploadBytes(n int64) {
	c.maxUploadBytes = n
	c.MaxUploadSize = humanize.IBytes(uint64(max(n, 0)))
}

// FilePath returns the config file the values were read from, if any.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// Package config handles configuration loading: environment variables and
// CLI flags layered over an optional TOML file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/proxy-bridge/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong. The env bindings carry
// the conventional proxy environment variables, so a deployment that sets
// only HTTP_PROXY/NO_PROXY needs no config file at all.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file (optional).',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	HTTPProxy  string `kong:"name='http-proxy',help='Corporate proxy URL for plain-HTTP upstream legs.',env='HTTP_PROXY'"`
	HTTPSProxy string `kong:"name='https-proxy',help='Corporate proxy URL for HTTPS upstream legs.',env='HTTPS_PROXY'"`
	NoProxy    string `kong:"name='no-proxy',help='Comma-separated hosts/domains that bypass the corporate proxy.',env='NO_PROXY'"`
	VerifySSL  string `kong:"name='verify-ssl',help='true|false; TLS certificate verification on upstream legs.',env='PROXY_VERIFY_SSL'"`
	CABundle   string `kong:"name='ca-bundle',help='Path to an additional trusted CA bundle.',env='PROXY_CA_BUNDLE'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	TLS      TLSConfig      `toml:"tls"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 means "use default" (8666); TOML cannot distinguish 0 from unset
}

// ProxyConfig holds the corporate (second-hop) proxy routing settings.
type ProxyConfig struct {
	HTTPProxy  string `toml:"http_proxy"`
	HTTPSProxy string `toml:"https_proxy"`
	NoProxy    string `toml:"no_proxy"`
}

// TLSConfig controls certificate verification on upstream legs.
type TLSConfig struct {
	Verify   bool   `toml:"verify"`
	CABundle string `toml:"ca_bundle"`
}

// UpstreamConfig holds forwarding-leg connection settings.
type UpstreamConfig struct {
	// DefaultScheme is the scheme used for rebuilt upstream URLs.
	// The target host embedded in the path never carries a scheme, so
	// deployments fronting TLS-only origins set this to https.
	DefaultScheme   string `toml:"default_scheme"`
	IdleConnections int    `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `toml:"path"`
}

// Load reads the optional TOML config file and applies CLI/env overrides.
// When no explicit path is given (via --config or CONFIG_PATH) and none of
// the search paths exist, configuration comes from the environment alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
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

	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags and env values.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.HTTPProxy != "" {
		c.Proxy.HTTPProxy = cli.HTTPProxy
	}
	if cli.HTTPSProxy != "" {
		c.Proxy.HTTPSProxy = cli.HTTPSProxy
	}
	if cli.NoProxy != "" {
		c.Proxy.NoProxy = cli.NoProxy
	}
	if cli.VerifySSL != "" {
		v, err := strconv.ParseBool(strings.ToLower(cli.VerifySSL))
		if err != nil {
			return fmt.Errorf("PROXY_VERIFY_SSL must be true or false; got %q", cli.VerifySSL)
		}
		c.TLS.Verify = v
	}
	if cli.CABundle != "" {
		c.TLS.CABundle = cli.CABundle
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	return nil
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Corporate proxy URLs must parse with a host when set.
	for name, raw := range map[string]string{
		"proxy.http_proxy":  c.Proxy.HTTPProxy,
		"proxy.https_proxy": c.Proxy.HTTPSProxy,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", name, err)
		}
		if u.Host == "" {
			return fmt.Errorf("%s must include a host; got %q", name, raw)
		}
	}

	// The CA bundle path must exist when set; the forwarding client loads
	// it exactly once at startup.
	if c.TLS.CABundle != "" {
		if _, err := os.Stat(c.TLS.CABundle); err != nil {
			return fmt.Errorf("tls.ca_bundle: %w", err)
		}
	}

	switch strings.ToLower(c.Upstream.DefaultScheme) {
	case "http", "https", "":
		// valid
	default:
		return fmt.Errorf("upstream.default_scheme must be http or https; got %q", c.Upstream.DefaultScheme)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation.
	if c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. Setting port=0 in the config
// file therefore results in the default port (8666).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8666
	}
	if c.Upstream.DefaultScheme == "" {
		c.Upstream.DefaultScheme = "http"
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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

// NoProxyHosts returns the parsed NO_PROXY entries, whitespace trimmed and
// empty entries dropped.
func (p *ProxyConfig) NoProxyHosts() []string {
	if p.NoProxy == "" {
		return nil
	}
	var hosts []string
	for _, entry := range strings.Split(p.NoProxy, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			hosts = append(hosts, entry)
		}
	}
	return hosts
}

// ProxyConfigured reports whether any corporate proxy is set.
func (c *Config) ProxyConfigured() bool {
	return c.Proxy.HTTPProxy != "" || c.Proxy.HTTPSProxy != ""
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

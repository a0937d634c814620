// ABOUTME: Configuration loading and parsing for taskbot
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete taskbot configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Bot       BotConfig       `yaml:"bot" toml:"bot"`
	Frontends FrontendsConfig `yaml:"frontends" toml:"frontends"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional gRPC health endpoint
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// BotConfig tunes the conversation engine and its worker pool
type BotConfig struct {
	Workers          int  `yaml:"workers" toml:"workers"`
	QueueSize        int  `yaml:"queue_size" toml:"queue_size"`
	DedupeMaxEntries int  `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`
	AllowUserPicker  bool `yaml:"allow_user_picker" toml:"allow_user_picker"`

	DedupeTTL   time.Duration `yaml:"-" toml:"-"`
	SendTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DedupeTTLRaw   string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	SendTimeoutRaw string `yaml:"send_timeout" toml:"send_timeout"`
}

// FrontendsConfig holds configuration for all chat frontends
type FrontendsConfig struct {
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
}

// TelegramConfig holds Telegram Bot API configuration
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Token   string `yaml:"token" toml:"token"`
	APIURL  string `yaml:"api_url" toml:"api_url"`

	PollTimeout    time.Duration `yaml:"-" toml:"-"`
	PollTimeoutRaw string        `yaml:"poll_timeout" toml:"poll_timeout"`
}

// MatrixConfig holds Matrix integration configuration.
// Either AccessToken or Username+Password must be set.
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	Username     string   `yaml:"username" toml:"username"`
	Password     string   `yaml:"password" toml:"password"`
	RecoveryKey  string   `yaml:"recovery_key" toml:"recovery_key"`
	CryptoDir    string   `yaml:"crypto_dir" toml:"crypto_dir"` // enables E2EE when set
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults applied by Load when a value is left empty.
const (
	DefaultHTTPAddr         = "127.0.0.1:8080"
	DefaultWorkers          = 8
	DefaultQueueSize        = 256
	DefaultDedupeTTL        = 5 * time.Minute
	DefaultDedupeMaxEntries = 100000
	DefaultSendTimeout      = 15 * time.Second
	DefaultTelegramAPIURL   = "https://api.telegram.org"
	DefaultPollTimeout      = 30 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(string(data), formatFor(path))
}

// Format selects the decoder used by Parse.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes configuration text, applies defaults and validates it.
func Parse(text string, format Format) (*Config, error) {
	expanded := expandEnvVars(text)

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Bot.Workers == 0 {
		c.Bot.Workers = DefaultWorkers
	}
	if c.Bot.QueueSize == 0 {
		c.Bot.QueueSize = DefaultQueueSize
	}
	if c.Bot.DedupeTTL == 0 {
		c.Bot.DedupeTTL = DefaultDedupeTTL
	}
	if c.Bot.DedupeMaxEntries == 0 {
		c.Bot.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	if c.Bot.SendTimeout == 0 {
		c.Bot.SendTimeout = DefaultSendTimeout
	}
	if c.Frontends.Telegram.APIURL == "" {
		c.Frontends.Telegram.APIURL = DefaultTelegramAPIURL
	}
	if c.Frontends.Telegram.PollTimeout == 0 {
		c.Frontends.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Bot.Workers < 1 {
		return errors.New("bot.workers must be at least 1")
	}
	if c.Bot.QueueSize < 1 {
		return errors.New("bot.queue_size must be at least 1")
	}

	if err := c.Frontends.Telegram.validate(); err != nil {
		return err
	}
	if err := c.Frontends.Matrix.validate(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// RequireFrontend returns an error when no chat frontend is enabled.
func (c *Config) RequireFrontend() error {
	if !c.Frontends.Telegram.Enabled && !c.Frontends.Matrix.Enabled {
		return errors.New("at least one of frontends.telegram or frontends.matrix must be enabled")
	}
	return nil
}

func (t TelegramConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Token == "" {
		return errors.New("frontends.telegram.token is required when telegram is enabled")
	}
	if _, err := url.Parse(t.APIURL); err != nil {
		return fmt.Errorf("frontends.telegram.api_url is not a valid URL: %w", err)
	}
	return nil
}

func (m MatrixConfig) validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Homeserver == "" {
		return errors.New("frontends.matrix.homeserver is required when matrix is enabled")
	}
	if _, err := url.Parse(m.Homeserver); err != nil {
		return fmt.Errorf("frontends.matrix.homeserver is not a valid URL: %w", err)
	}
	if m.AccessToken != "" {
		if m.UserID == "" {
			return errors.New("frontends.matrix.user_id is required with access_token")
		}
		return nil
	}
	if m.Username == "" || m.Password == "" {
		return errors.New("frontends.matrix needs access_token or username and password")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"bot.dedupe_ttl", cfg.Bot.DedupeTTLRaw, &cfg.Bot.DedupeTTL},
		{"bot.send_timeout", cfg.Bot.SendTimeoutRaw, &cfg.Bot.SendTimeout},
		{"frontends.telegram.poll_timeout", cfg.Frontends.Telegram.PollTimeoutRaw, &cfg.Frontends.Telegram.PollTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}

// ExpandPath resolves a leading ~/ against the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

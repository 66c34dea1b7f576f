// Package config loads jarvis settings from an optional TOML file and the
// environment. Environment variables take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/teemow/jarvis/internal/google"
	"github.com/teemow/jarvis/internal/logging"
	"github.com/teemow/jarvis/internal/tokenstore"
)

// Defaults
const (
	DefaultCredentialsFile = "credentials.json"
	DefaultMetricsAddr     = "127.0.0.1:9090"
)

// Duration is a time.Duration written as a Go duration string ("5m", "30s")
// in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all runtime settings.
type Config struct {
	// CredentialsFile is the Google OAuth client secrets JSON.
	CredentialsFile string `toml:"credentials_file"`

	// Account is the local account name (default, work, personal).
	Account string `toml:"account"`

	TokenStore TokenStoreConfig `toml:"token_store"`

	RefreshMargin  Duration `toml:"refresh_margin"`
	RefreshTimeout Duration `toml:"refresh_timeout"`
	ConsentTimeout Duration `toml:"consent_timeout"`

	// CallbackAddr is the loopback listen address for the consent redirect.
	CallbackAddr string `toml:"callback_addr"`

	Log   LogConfig   `toml:"log"`
	Serve ServeConfig `toml:"serve"`
}

// TokenStoreConfig selects where token records are kept.
type TokenStoreConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
	// EncryptionKey is a base64 encoded 32-byte key. Empty disables encryption.
	EncryptionKey string `toml:"encryption_key"`
}

// LogConfig controls log output.
type LogConfig struct {
	Debug  bool   `toml:"debug"`
	Format string `toml:"format"`
}

// ServeConfig configures the long-running serve command.
type ServeConfig struct {
	MetricsAddr    string   `toml:"metrics_addr"`
	KeeperInterval Duration `toml:"keeper_interval"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		CredentialsFile: DefaultCredentialsFile,
		Account:         google.DefaultAccount,
		TokenStore: TokenStoreConfig{
			Backend: tokenstore.BackendFile,
		},
		RefreshMargin:  Duration(google.DefaultRefreshMargin),
		RefreshTimeout: Duration(google.DefaultRefreshTimeout),
		ConsentTimeout: Duration(google.DefaultConsentTimeout),
		CallbackAddr:   google.DefaultCallbackAddr,
		Log: LogConfig{
			Format: logging.FormatText,
		},
		Serve: ServeConfig{
			MetricsAddr:    DefaultMetricsAddr,
			KeeperInterval: Duration(google.DefaultKeeperInterval),
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/jarvis/config.toml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return filepath.Join(dir, "jarvis", "config.toml"), nil
}

// Load reads the TOML file at path on top of the defaults, then applies
// environment overrides and validates the result. A missing file is only an
// error when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.CredentialsFile = getEnvOrDefault("GOOGLE_CREDENTIALS_FILE", c.CredentialsFile)
	c.Account = getEnvOrDefault("JARVIS_ACCOUNT", c.Account)
	c.TokenStore.Backend = getEnvOrDefault("JARVIS_TOKEN_STORE", c.TokenStore.Backend)
	c.TokenStore.Dir = getEnvOrDefault("JARVIS_TOKEN_DIR", c.TokenStore.Dir)
	c.TokenStore.EncryptionKey = getEnvOrDefault("JARVIS_TOKEN_ENCRYPTION_KEY", c.TokenStore.EncryptionKey)
	c.CallbackAddr = getEnvOrDefault("JARVIS_CALLBACK_ADDR", c.CallbackAddr)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
	c.Serve.MetricsAddr = getEnvOrDefault("JARVIS_METRICS_ADDR", c.Serve.MetricsAddr)

	debug, err := getEnvBoolOrDefault("DEBUG_MODE", c.Log.Debug)
	if err != nil {
		return err
	}
	c.Log.Debug = debug

	durations := []struct {
		key string
		dst *Duration
	}{
		{"JARVIS_REFRESH_MARGIN", &c.RefreshMargin},
		{"JARVIS_REFRESH_TIMEOUT", &c.RefreshTimeout},
		{"JARVIS_CONSENT_TIMEOUT", &c.ConsentTimeout},
		{"JARVIS_KEEPER_INTERVAL", &c.Serve.KeeperInterval},
	}
	for _, d := range durations {
		if err := getEnvDuration(d.key, d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.CredentialsFile == "" {
		return fmt.Errorf("credentials file must be set")
	}
	if err := google.ValidateAccountName(c.Account); err != nil {
		return err
	}

	switch c.TokenStore.Backend {
	case tokenstore.BackendFile, tokenstore.BackendSQLite, tokenstore.BackendMemory:
	default:
		return fmt.Errorf("invalid token store %q, must be one of: file, sqlite, memory", c.TokenStore.Backend)
	}
	if _, err := tokenstore.KeyFromBase64(c.TokenStore.EncryptionKey); err != nil {
		return fmt.Errorf("invalid token encryption key: %w", err)
	}

	if c.RefreshMargin < 0 {
		return fmt.Errorf("refresh margin must not be negative, got %s", c.RefreshMargin.Std())
	}
	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh timeout must be positive, got %s", c.RefreshTimeout.Std())
	}
	if c.ConsentTimeout <= 0 {
		return fmt.Errorf("consent timeout must be positive, got %s", c.ConsentTimeout.Std())
	}
	if c.Serve.KeeperInterval <= 0 {
		return fmt.Errorf("keeper interval must be positive, got %s", c.Serve.KeeperInterval.Std())
	}

	switch c.Log.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid log format %q, must be one of: text, json", c.Log.Format)
	}
	return nil
}

// StoreOptions returns the token store settings for tokenstore.Open.
func (c *Config) StoreOptions() (tokenstore.Options, error) {
	key, err := tokenstore.KeyFromBase64(c.TokenStore.EncryptionKey)
	if err != nil {
		return tokenstore.Options{}, err
	}
	return tokenstore.Options{
		Backend:       c.TokenStore.Backend,
		Dir:           c.TokenStore.Dir,
		EncryptionKey: key,
	}, nil
}

// ManagerOptions returns the credential manager timing options.
func (c *Config) ManagerOptions() []google.ManagerOption {
	return []google.ManagerOption{
		google.WithRefreshMargin(c.RefreshMargin.Std()),
		google.WithRefreshTimeout(c.RefreshTimeout.Std()),
		google.WithConsentTimeout(c.ConsentTimeout.Std()),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, dst *Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	if err := dst.UnmarshalText([]byte(value)); err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return nil
}

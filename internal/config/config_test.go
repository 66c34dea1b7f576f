package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/jarvis/internal/tokenstore"
)

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_CREDENTIALS_FILE", "JARVIS_ACCOUNT", "JARVIS_TOKEN_STORE", "JARVIS_TOKEN_DIR",
		"JARVIS_TOKEN_ENCRYPTION_KEY", "JARVIS_REFRESH_MARGIN", "JARVIS_REFRESH_TIMEOUT",
		"JARVIS_CONSENT_TIMEOUT", "JARVIS_CALLBACK_ADDR", "JARVIS_METRICS_ADDR",
		"JARVIS_KEEPER_INTERVAL", "DEBUG_MODE", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5*time.Minute, cfg.RefreshMargin.Std())
	assert.Equal(t, 30*time.Second, cfg.RefreshTimeout.Std())
	assert.Equal(t, 5*time.Minute, cfg.ConsentTimeout.Std())
	assert.Equal(t, "default", cfg.Account)
	assert.Equal(t, tokenstore.BackendFile, cfg.TokenStore.Backend)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), true)
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
credentials_file = "/etc/jarvis/credentials.json"
account = "work"
refresh_margin = "10m"
consent_timeout = "2m"

[token_store]
backend = "sqlite"
dir = "/var/lib/jarvis"

[log]
debug = true
format = "json"

[serve]
metrics_addr = ":9100"
keeper_interval = "30s"
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "/etc/jarvis/credentials.json", cfg.CredentialsFile)
	assert.Equal(t, "work", cfg.Account)
	assert.Equal(t, 10*time.Minute, cfg.RefreshMargin.Std())
	assert.Equal(t, 30*time.Second, cfg.RefreshTimeout.Std(), "unset keys keep defaults")
	assert.Equal(t, 2*time.Minute, cfg.ConsentTimeout.Std())
	assert.Equal(t, "sqlite", cfg.TokenStore.Backend)
	assert.Equal(t, "/var/lib/jarvis", cfg.TokenStore.Dir)
	assert.True(t, cfg.Log.Debug)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9100", cfg.Serve.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.Serve.KeeperInterval.Std())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
account = "work"
refresh_margin = "10m"
`)
	key, err := tokenstore.GenerateKey()
	require.NoError(t, err)

	t.Setenv("JARVIS_ACCOUNT", "personal")
	t.Setenv("JARVIS_REFRESH_MARGIN", "90s")
	t.Setenv("JARVIS_TOKEN_STORE", "memory")
	t.Setenv("JARVIS_TOKEN_ENCRYPTION_KEY", key)
	t.Setenv("GOOGLE_CREDENTIALS_FILE", "/tmp/creds.json")
	t.Setenv("DEBUG_MODE", "true")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "personal", cfg.Account)
	assert.Equal(t, 90*time.Second, cfg.RefreshMargin.Std())
	assert.Equal(t, "memory", cfg.TokenStore.Backend)
	assert.Equal(t, "/tmp/creds.json", cfg.CredentialsFile)
	assert.True(t, cfg.Log.Debug)

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	assert.Len(t, opts.EncryptionKey, 32)
	assert.Equal(t, "memory", opts.Backend)
	assert.Len(t, cfg.ManagerOptions(), 3)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "bad toml", file: `account = `},
		{name: "bad duration in file", file: `refresh_margin = "soon"`},
		{name: "bad duration in env", env: map[string]string{"JARVIS_REFRESH_TIMEOUT": "forever"}},
		{name: "bad bool", env: map[string]string{"DEBUG_MODE": "maybe"}},
		{name: "bad account", env: map[string]string{"JARVIS_ACCOUNT": "../root"}},
		{name: "bad backend", env: map[string]string{"JARVIS_TOKEN_STORE": "s3"}},
		{name: "bad key", env: map[string]string{"JARVIS_TOKEN_ENCRYPTION_KEY": "c2hvcnQ="}},
		{name: "negative margin", env: map[string]string{"JARVIS_REFRESH_MARGIN": "-1m"}},
		{name: "zero timeout", env: map[string]string{"JARVIS_CONSENT_TIMEOUT": "0s"}},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			_, err := Load(path, false)
			assert.Error(t, err)
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", string(text))
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
manifest:
  url: "https://example.com/pack/manifest.json"
  base_url: "https://example.com/pack/"
  mods_path: "files/"

sync:
  dir: "/games/minecraft/mods"
  prune: false

http:
  user_agent: "modsync-test"
  timeout: 30s

log:
  file: "/var/log/modsync.log"
  max_backups: 5

serve:
  listen_addr: "0.0.0.0:9000"
  github_webhook_secret_file: "/etc/modsync/secret"
  allowed_event_types: ["push"]
  allowed_refs: ["refs/heads/main"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/pack/manifest.json", cfg.Manifest.URL)
	assert.Equal(t, "files/", cfg.Manifest.ModsPath)
	assert.False(t, cfg.Sync.Prune, "prune should be disabled")
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 5, cfg.Log.MaxBackups)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB, "max_size_mb keeps its default")
	assert.Equal(t, []string{"refs/heads/main"}, cfg.Serve.AllowedRefs)
}

func TestLoad_DefaultsForOmittedKeys(t *testing.T) {
	path := writeConfig(t, `
sync:
  dir: "/games/mods"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Sync.Prune, "prune should default to true when omitted")
	assert.Equal(t, DefaultManifestURL, cfg.Manifest.URL)
	assert.Equal(t, DefaultBaseURL, cfg.Manifest.BaseURL)
	assert.Equal(t, DefaultModsPath, cfg.Manifest.ModsPath)
	assert.Zero(t, cfg.HTTP.Timeout, "no timeout by default")
	assert.Equal(t, DefaultListenAddr, cfg.Serve.ListenAddr)
}

func TestLoad_ExpandsEnvAndHome(t *testing.T) {
	t.Setenv("MODSYNC_TEST_HOST", "mirror.example.com")

	path := writeConfig(t, `
manifest:
  url: "https://${MODSYNC_TEST_HOST}/manifest.json"
sync:
  dir: "~/mods"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://mirror.example.com/manifest.json", cfg.Manifest.URL)
	assert.False(t, strings.HasPrefix(cfg.Sync.Dir, "~"), "home dir not expanded: %s", cfg.Sync.Dir)
	assert.True(t, filepath.IsAbs(cfg.Sync.Dir))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "manifest: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate(), "default config should be valid")
	assert.True(t, cfg.Sync.Prune, "prune should be enabled by default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "absolute dir",
			mutate:  func(c *Config) { c.Sync.Dir = "/games/mods" },
			wantErr: false,
		},
		{
			name:    "relative dir",
			mutate:  func(c *Config) { c.Sync.Dir = "games/mods" },
			wantErr: true,
		},
		{
			name:    "missing manifest url",
			mutate:  func(c *Config) { c.Manifest.URL = "" },
			wantErr: true,
		},
		{
			name:    "non-http manifest url",
			mutate:  func(c *Config) { c.Manifest.URL = "ftp://example.com/manifest.json" },
			wantErr: true,
		},
		{
			name:    "base url without host",
			mutate:  func(c *Config) { c.Manifest.BaseURL = "https:///pack/" },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.HTTP.Timeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "relative log file",
			mutate:  func(c *Config) { c.Log.File = "modsync.log" },
			wantErr: true,
		},
		{
			name:    "negative rotation",
			mutate:  func(c *Config) { c.Log.MaxBackups = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateServe(), "webhook secret file is required")

	cfg.Serve.GitHubWebhookSecretFile = "/etc/modsync/secret"
	assert.NoError(t, cfg.ValidateServe())

	cfg.Serve.ListenAddr = ""
	assert.Error(t, cfg.ValidateServe(), "listen addr is required")
}

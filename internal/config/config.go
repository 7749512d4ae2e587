package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultManifestURL is the published manifest describing the mod set.
	DefaultManifestURL = "https://raw.githubusercontent.com/you-cant-run/minecraft-modpack-updater/main/manifest.json"

	// DefaultBaseURL is the prefix for entries that use "file" or no locator.
	DefaultBaseURL = "https://raw.githubusercontent.com/you-cant-run/minecraft-modpack-updater/main/"

	// DefaultModsPath is joined to the base URL for entries without "url" or "file".
	DefaultModsPath = "mods/"

	// DefaultConfigPath is where the CLI looks for a config file when none is given.
	DefaultConfigPath = "~/.config/modsync/config.yaml"

	// DefaultListenAddr is the webhook listen address.
	DefaultListenAddr = "127.0.0.1:8787"
)

// Config represents the complete modsync configuration
type Config struct {
	Manifest ManifestConfig `yaml:"manifest"`
	Sync     SyncConfig     `yaml:"sync"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Serve    ServeConfig    `yaml:"serve"`
}

// ManifestConfig configures where the manifest and its files live
type ManifestConfig struct {
	URL      string `yaml:"url"`
	BaseURL  string `yaml:"base_url"`
	ModsPath string `yaml:"mods_path"`
}

// SyncConfig configures reconciliation behavior
type SyncConfig struct {
	Dir   string `yaml:"dir"`
	Prune bool   `yaml:"prune"`
}

// HTTPConfig configures outgoing requests
type HTTPConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"` // zero means no timeout
}

// LogConfig configures the structured log destination
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Sync: SyncConfig{Prune: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal over the defaults so that omitted keys keep their default
	// value (notably sync.prune, whose zero value is false).
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ExpandPath expands environment variables and a leading ~ in path.
func ExpandPath(path string) (string, error) {
	return homedir.Expand(os.ExpandEnv(path))
}

// expandPaths expands environment variables and ~ in all path and URL fields
func (c *Config) expandPaths() error {
	c.Manifest.URL = os.ExpandEnv(c.Manifest.URL)
	c.Manifest.BaseURL = os.ExpandEnv(c.Manifest.BaseURL)
	c.HTTP.UserAgent = os.ExpandEnv(c.HTTP.UserAgent)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)

	for _, p := range []*string{&c.Sync.Dir, &c.Log.File, &c.Serve.GitHubWebhookSecretFile} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Manifest.URL == "" {
		c.Manifest.URL = DefaultManifestURL
	}
	if c.Manifest.BaseURL == "" {
		c.Manifest.BaseURL = DefaultBaseURL
	}
	if c.Manifest.ModsPath == "" {
		c.Manifest.ModsPath = DefaultModsPath
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := validateHTTPURL("manifest.url", c.Manifest.URL); err != nil {
		return err
	}
	if err := validateHTTPURL("manifest.base_url", c.Manifest.BaseURL); err != nil {
		return err
	}

	if c.Sync.Dir != "" && !filepath.IsAbs(c.Sync.Dir) {
		return fmt.Errorf("sync.dir must be an absolute path: %s", c.Sync.Dir)
	}

	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative: %s", c.HTTP.Timeout)
	}

	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		return fmt.Errorf("log.file must be an absolute path: %s", c.Log.File)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must not be negative")
	}

	return nil
}

// ValidateServe checks the settings required by the webhook server
func (c *Config) ValidateServe() error {
	if c.Serve.ListenAddr == "" {
		return fmt.Errorf("serve.listen_addr is required")
	}
	if c.Serve.GitHubWebhookSecretFile == "" {
		return fmt.Errorf("serve.github_webhook_secret_file is required")
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https: %s", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %s", field, raw)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// DefaultBranch is the canonical branch the engine synchronizes.
const DefaultBranch = "main"

const (
	defaultQuietPeriod  = 3 * time.Second
	defaultPollInterval = 60 * time.Second
)

// Duration wraps time.Duration with YAML support for strings like "3s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete gitsyncd configuration
type Config struct {
	Repo  RepoConfig  `yaml:"repo"`
	Local LocalConfig `yaml:"local"`
	Sync  SyncConfig  `yaml:"sync"`
	Auth  AuthConfig  `yaml:"auth"`
}

// RepoConfig identifies the remote repository
type RepoConfig struct {
	Name   string `yaml:"name"`
	Owner  string `yaml:"owner"`
	Branch string `yaml:"branch"`
}

// LocalConfig configures the tracked local directory
type LocalConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig configures engine timing and thresholds
type SyncConfig struct {
	QuietPeriod  Duration `yaml:"quiet_period"`
	PollInterval Duration `yaml:"poll_interval"`
	LFSThreshold int64    `yaml:"lfs_threshold_bytes"`
}

// AuthConfig configures credential storage
type AuthConfig struct {
	TokenFile string `yaml:"token_file"`
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "gitsyncd", "config.yaml")
}

// DefaultTokenPath returns the standard token file location.
func DefaultTokenPath() string {
	return filepath.Join(xdg.ConfigHome, "gitsyncd", "token")
}

// DefaultJournalPath returns the standard journal database location.
func DefaultJournalPath() string {
	return filepath.Join(xdg.DataHome, "gitsyncd", "journal.db")
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.Name = os.ExpandEnv(c.Repo.Name)
	c.Repo.Owner = os.ExpandEnv(c.Repo.Owner)
	c.Repo.Branch = os.ExpandEnv(c.Repo.Branch)
	c.Local.Path = os.ExpandEnv(c.Local.Path)
	c.Auth.TokenFile = os.ExpandEnv(c.Auth.TokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Repo.Branch == "" {
		c.Repo.Branch = DefaultBranch
	}
	if c.Sync.QuietPeriod <= 0 {
		c.Sync.QuietPeriod = Duration(defaultQuietPeriod)
	}
	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = Duration(defaultPollInterval)
	}
	if c.Auth.TokenFile == "" {
		c.Auth.TokenFile = DefaultTokenPath()
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Repo.Name == "" {
		return fmt.Errorf("repo.name is required")
	}
	if c.Repo.Owner == "" {
		return fmt.Errorf("repo.owner is required")
	}
	if c.Local.Path == "" {
		return fmt.Errorf("local.path is required")
	}
	if !filepath.IsAbs(c.Local.Path) {
		return fmt.Errorf("local.path must be an absolute path: %s", c.Local.Path)
	}
	return nil
}

// LoadToken reads the credential token from the configured file.
func (c *Config) LoadToken() (string, error) {
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", c.Auth.TokenFile)
	}
	return token, nil
}

// SaveToken writes the credential token to path with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

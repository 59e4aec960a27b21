package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/zenportal/zenportal/internal/logging"
)

var configLog = logging.ForComponent(logging.CompConfig)

// Defaults applied when neither the user config nor per-session features
// specify a value.
const (
	DefaultSessionPrefix = "zp-"
	DefaultMaxSessions   = 10
	DefaultModel         = "sonnet"
	DefaultFromBranch    = "main"
)

// WorktreeSettings controls workspace creation policy.
type WorktreeSettings struct {
	Enabled           bool     `toml:"enabled"`
	BaseDir           string   `toml:"base_dir"`
	DefaultFromBranch string   `toml:"default_from_branch"`
	EnvFiles          []string `toml:"env_files"`
	AutoCleanup       bool     `toml:"auto_cleanup"`
}

// ProxySettings configures an optional billing proxy for AI sessions.
type ProxySettings struct {
	Enabled      bool   `toml:"enabled"`
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	DefaultModel string `toml:"default_model"`
}

// LoggingSettings is the [logging] section.
type LoggingSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// UserConfig is the on-disk TOML configuration.
type UserConfig struct {
	SessionPrefix string           `toml:"session_prefix"`
	MaxSessions   int              `toml:"max_sessions"`
	WorkingDir    string           `toml:"working_dir"`
	Model         string           `toml:"model"`
	Worktree      WorktreeSettings `toml:"worktree"`
	Proxy         ProxySettings    `toml:"proxy"`
	Logging       LoggingSettings  `toml:"logging"`
}

// DefaultConfig returns built-in defaults.
func DefaultConfig() *UserConfig {
	home, _ := os.UserHomeDir()
	return &UserConfig{
		SessionPrefix: DefaultSessionPrefix,
		MaxSessions:   DefaultMaxSessions,
		WorkingDir:    home,
		Model:         DefaultModel,
		Worktree: WorktreeSettings{
			DefaultFromBranch: DefaultFromBranch,
		},
		Logging: LoggingSettings{Level: "info", Format: "json"},
	}
}

// ConfigPath returns the user config file location.
func ConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "zenportal", "config.toml"), nil
}

// LoadConfig reads the user config, returning defaults when the file is
// missing. A malformed file is an error; silently ignoring a typo'd config
// is worse than refusing to start.
func LoadConfig() (*UserConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom reads a config file at an explicit path, layering it over
// defaults.
func LoadConfigFrom(path string) (*UserConfig, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = DefaultSessionPrefix
	}
	if cfg.Worktree.DefaultFromBranch == "" {
		cfg.Worktree.DefaultFromBranch = DefaultFromBranch
	}
	return cfg, nil
}

// Save writes the config. The file may carry an API key, so it is written
// 0600.
func (c *UserConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	configLog.Info("config_saved", "path", path)
	return nil
}

// Resolved is the effective configuration for one session after layering
// per-session features over the user config over defaults.
type Resolved struct {
	WorkingDir                 string
	Model                      string
	UseWorktree                bool
	WorktreeBranch             string
	DangerouslySkipPermissions bool
	UsesProxy                  bool
	Worktree                   WorktreeSettings
	Proxy                      ProxySettings
}

// Resolve computes the effective settings for a session. Explicit features
// win over user config, which wins over defaults.
func (c *UserConfig) Resolve(features Features) Resolved {
	r := Resolved{
		WorkingDir:                 c.WorkingDir,
		Model:                      c.Model,
		UseWorktree:                c.Worktree.Enabled,
		DangerouslySkipPermissions: features.DangerouslySkipPermissions,
		UsesProxy:                  c.Proxy.Enabled,
		Worktree:                   c.Worktree,
		Proxy:                      c.Proxy,
	}
	if features.WorkingDir != "" {
		r.WorkingDir = features.WorkingDir
	}
	if features.Model != "" {
		r.Model = features.Model
	}
	if features.UseWorktree != nil {
		r.UseWorktree = *features.UseWorktree
	}
	if features.WorktreeBranch != "" {
		r.WorktreeBranch = features.WorktreeBranch
	}
	if r.Model == "" {
		r.Model = DefaultModel
	}
	return r
}

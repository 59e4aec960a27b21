package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFrom(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "config.toml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultSessionPrefix, cfg.SessionPrefix)
		assert.Equal(t, DefaultMaxSessions, cfg.MaxSessions)
		assert.Equal(t, DefaultFromBranch, cfg.Worktree.DefaultFromBranch)
	})

	t.Run("file layers over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
max_sessions = 4
model = "opus"

[worktree]
enabled = true
env_files = [".env", ".env.local"]

[proxy]
enabled = true
base_url = "http://localhost:4000"
`), 0o600))

		cfg, err := LoadConfigFrom(path)
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.MaxSessions)
		assert.Equal(t, "opus", cfg.Model)
		assert.True(t, cfg.Worktree.Enabled)
		assert.Equal(t, []string{".env", ".env.local"}, cfg.Worktree.EnvFiles)
		assert.True(t, cfg.Proxy.Enabled)
		// Unset keys keep defaults.
		assert.Equal(t, DefaultSessionPrefix, cfg.SessionPrefix)
		assert.Equal(t, DefaultFromBranch, cfg.Worktree.DefaultFromBranch)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("max_sessions = [[["), 0o600))

		_, err := LoadConfigFrom(path)
		assert.Error(t, err)
	})

	t.Run("nonpositive max_sessions falls back", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("max_sessions = 0"), 0o600))

		cfg, err := LoadConfigFrom(path)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxSessions, cfg.MaxSessions)
	})
}

func TestConfigSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := DefaultConfig()
	cfg.Proxy.APIKey = "sk-or-secret"

	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "config may hold secrets")

	loaded, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-secret", loaded.Proxy.APIKey)
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkingDir = "/srv/work"
	cfg.Model = "sonnet"
	cfg.Worktree.Enabled = true

	t.Run("config values apply when features are empty", func(t *testing.T) {
		r := cfg.Resolve(Features{})
		assert.Equal(t, "/srv/work", r.WorkingDir)
		assert.Equal(t, "sonnet", r.Model)
		assert.True(t, r.UseWorktree)
	})

	t.Run("features win over config", func(t *testing.T) {
		no := false
		r := cfg.Resolve(Features{
			WorkingDir:     "/tmp/elsewhere",
			Model:          "opus",
			UseWorktree:    &no,
			WorktreeBranch: "feature/x",
		})
		assert.Equal(t, "/tmp/elsewhere", r.WorkingDir)
		assert.Equal(t, "opus", r.Model)
		assert.False(t, r.UseWorktree)
		assert.Equal(t, "feature/x", r.WorktreeBranch)
	})

	t.Run("unset pointer keeps config policy", func(t *testing.T) {
		r := cfg.Resolve(Features{UseWorktree: nil})
		assert.True(t, r.UseWorktree)
	})
}

package session

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenportal/zenportal/internal/errs"
	"github.com/zenportal/zenportal/internal/tmux"
)

func testManager(t *testing.T, fake *fakeTmuxRunner, mutate func(*UserConfig)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkingDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	store := NewStateStore(t.TempDir())
	m := NewManager(cfg, store, tmux.NewClient(tmux.WithRunner(fake)))
	m.pipeline.lookPath = func(bin string) (string, error) { return "/usr/bin/" + bin, nil }
	return m
}

func shellReq(name string) CreateRequest {
	return CreateRequest{Name: name, Kind: KindShell}
}

func TestManagerCreate(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)

	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)
	assert.Equal(t, StateRunning, s.State)
	assert.Len(t, m.Sessions(), 1)

	// The record survives a persistence roundtrip.
	loaded := m.store.Load()
	require.Len(t, loaded, 1)
	assert.Equal(t, s.ID, loaded[0].ID)
}

func TestManagerGet(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)

	t.Run("by full id", func(t *testing.T) {
		got, err := m.Get(s.ID)
		require.NoError(t, err)
		assert.Same(t, s, got)
	})

	t.Run("by id prefix", func(t *testing.T) {
		got, err := m.Get(s.ID[:8])
		require.NoError(t, err)
		assert.Same(t, s, got)
	})

	t.Run("by name", func(t *testing.T) {
		got, err := m.Get("demo")
		require.NoError(t, err)
		assert.Same(t, s, got)
	})

	t.Run("unknown ref", func(t *testing.T) {
		_, err := m.Get("nope")
		assert.True(t, errs.Is(err, errs.CodeSessionNotFound))
	})
}

func TestManagerPause(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)

	paused, err := m.Pause(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, paused.State)
	assert.Equal(t, 1, fake.callCount("kill-session"))

	_, err = m.Pause(s.ID)
	assert.True(t, errs.Is(err, errs.CodeInvalidState), "pausing twice must fail")
}

func TestManagerKillRemovesWorktreeViaSourceRoot(t *testing.T) {
	repo := initRepo(t)
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, func(c *UserConfig) {
		c.WorkingDir = repo
		c.Worktree.Enabled = true
	})

	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)
	require.True(t, s.HasWorktree())
	wtPath := s.WorktreePath

	// Config has moved on; the stored source root must still win.
	m.config.WorkingDir = t.TempDir()
	m.config.Worktree.BaseDir = t.TempDir()

	killed, err := m.Kill(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateKilled, killed.State)
	_, statErr := os.Stat(wtPath)
	assert.True(t, os.IsNotExist(statErr), "worktree must be removed from its real repository")
}

func TestManagerRevive(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)

	t.Run("running session cannot be revived", func(t *testing.T) {
		_, err := m.Revive(s.ID)
		assert.True(t, errs.Is(err, errs.CodeInvalidState))
	})

	t.Run("failed session comes back running with grace marker", func(t *testing.T) {
		m.mu.Lock()
		s.MarkFailed("Process exited with code 1")
		m.mu.Unlock()

		revived, err := m.Revive(s.ID)
		require.NoError(t, err)
		assert.Equal(t, StateRunning, revived.State)
		assert.Nil(t, revived.EndedAt)
		assert.Empty(t, revived.ErrorMessage)
		require.NotNil(t, revived.RevivedAt)
		assert.True(t, revived.InReviveGrace(5*time.Second))
	})
}

func TestManagerClean(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)

	t.Run("running session refuses clean", func(t *testing.T) {
		err := m.Clean(s.ID)
		assert.True(t, errs.Is(err, errs.CodeInvalidState))
	})

	t.Run("killed session is removed", func(t *testing.T) {
		_, err := m.Kill(s.ID)
		require.NoError(t, err)

		require.NoError(t, m.Clean(s.ID))
		assert.Empty(t, m.Sessions())
		assert.Empty(t, m.store.Load(), "removal must be persisted")
	})
}

func TestManagerRename(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)

	renamed, err := m.Rename(s.ID, "better name")
	require.NoError(t, err)
	assert.Equal(t, "better name", renamed.Name)

	_, err = m.Rename(s.ID, "   ")
	assert.Error(t, err)
}

func TestManagerAdoptExternalTmux(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)

	t.Run("adopts a foreign session", func(t *testing.T) {
		s, err := m.AdoptExternalTmux("scratch", "my scratchpad")
		require.NoError(t, err)
		assert.Equal(t, "scratch", s.ExternalTmuxName)
		assert.Equal(t, KindShell, s.Kind)
		assert.Equal(t, "scratch", m.TmuxName(s), "adopted name wins over derived name")
	})

	t.Run("double adoption rejected", func(t *testing.T) {
		_, err := m.AdoptExternalTmux("scratch", "")
		assert.True(t, errs.Is(err, errs.CodeInvalidState))
	})

	t.Run("own prefix rejected", func(t *testing.T) {
		_, err := m.AdoptExternalTmux("zp-12345678", "")
		assert.True(t, errs.Is(err, errs.CodeInvalidState))
	})

	t.Run("missing tmux session rejected", func(t *testing.T) {
		fake.reply("has-session", tmux.Result{Err: "can't find session"})
		defer fake.reply("has-session", tmux.Result{Success: true})
		_, err := m.AdoptExternalTmux("ghost", "")
		assert.True(t, errs.Is(err, errs.CodeSessionNotFound))
	})
}

func TestManagerExternalSessions(t *testing.T) {
	fake := newFakeTmuxRunner()
	fake.reply("list-sessions", tmux.Result{Success: true, Output: "zp-abcd1234\nvim\nscratch\n"})
	m := testManager(t, fake, nil)

	t.Run("excludes managed prefix", func(t *testing.T) {
		infos := m.ExternalSessions()
		require.Len(t, infos, 2)
		assert.Equal(t, "vim", infos[0].Name)
		assert.Equal(t, "scratch", infos[1].Name)
	})

	t.Run("excludes adopted sessions", func(t *testing.T) {
		_, err := m.AdoptExternalTmux("vim", "")
		require.NoError(t, err)

		infos := m.ExternalSessions()
		require.Len(t, infos, 1)
		assert.Equal(t, "scratch", infos[0].Name)
	})
}

func TestManagerKillAll(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	_, err := m.Create(shellReq("a"))
	require.NoError(t, err)
	_, err = m.Create(shellReq("b"))
	require.NoError(t, err)

	n := m.KillAll()
	assert.Equal(t, 2, n)
	counts := m.CountByState()
	assert.Equal(t, 2, counts[StateKilled])
	assert.Zero(t, counts[StateRunning])
}

func TestManagerRestore(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)
	m.Watcher().Stop() // no background pass may clobber the snapshot below
	paused := NewSession("paused", "", KindShell, "")
	paused.SetState(StatePaused)
	require.NoError(t, m.store.Save([]*Session{s, paused}))

	// New manager over the same store, with every tmux session gone.
	fake.reply("has-session", tmux.Result{Err: "can't find session"})
	m2 := NewManager(m.config, m.store, tmux.NewClient(tmux.WithRunner(fake)))
	m2.Restore()

	sessions := m2.Sessions()
	require.Len(t, sessions, 1, "only the paused session survives")
	assert.Equal(t, "paused", sessions[0].Name)
}

func TestManagerSend(t *testing.T) {
	fake := newFakeTmuxRunner()
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)

	t.Run("text lands as literal keys plus enter", func(t *testing.T) {
		require.NoError(t, m.Send(s.ID, "make test"))

		fake.mu.Lock()
		var sent [][]string
		for _, call := range fake.calls {
			if call[0] == "send-keys" {
				sent = append(sent, call)
			}
		}
		fake.mu.Unlock()

		require.Len(t, sent, 2)
		assert.Equal(t, []string{"send-keys", "-t", m.TmuxName(s), "-l", "make test"}, sent[0])
		assert.Equal(t, "Enter", sent[1][len(sent[1])-1])
	})

	t.Run("interrupt sends ctrl-c", func(t *testing.T) {
		require.NoError(t, m.Interrupt(s.ID))

		fake.mu.Lock()
		last := fake.calls[len(fake.calls)-1]
		fake.mu.Unlock()
		assert.Equal(t, []string{"send-keys", "-t", m.TmuxName(s), "C-c"}, last)
	})

	t.Run("refused for non-running session", func(t *testing.T) {
		_, err := m.Pause(s.ID)
		require.NoError(t, err)
		err = m.Send(s.ID, "hello")
		assert.True(t, errs.Is(err, errs.CodeInvalidState))
	})
}

func TestManagerOutput(t *testing.T) {
	fake := newFakeTmuxRunner()
	fake.reply("capture-pane", tmux.Result{Success: true, Output: "$ ls\nREADME.md\n"})
	m := testManager(t, fake, nil)
	s, err := m.Create(shellReq("demo"))
	require.NoError(t, err)

	out, err := m.Output(s.ID, 50)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "README.md"))
}

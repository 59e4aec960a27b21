package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingNotifier struct {
	mu      sync.Mutex
	batches [][]*Session
}

func (c *capturingNotifier) SessionsChanged(changed []*Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]*Session, len(changed))
	copy(batch, changed)
	c.batches = append(c.batches, batch)
}

func (c *capturingNotifier) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

const testPrefix = "zp-"

func testWatcher(t *testing.T, insp *fakeInspector, sessions []*Session, opts ...WatcherOption) (*Watcher, *StateStore) {
	t.Helper()
	store := NewStateStore(t.TempDir())
	w := NewWatcher(insp, testPrefix, store, func() []*Session { return sessions }, opts...)
	return w, store
}

func TestWatcherPoll(t *testing.T) {
	t.Run("vanished process transitions to completed", func(t *testing.T) {
		insp := newFakeInspector()
		s := NewSession("demo", "", KindShell, "")
		notifier := &capturingNotifier{}
		w, store := testWatcher(t, insp, []*Session{s}, WithNotifier(notifier))

		changed := w.RefreshNow()

		require.Len(t, changed, 1)
		assert.Same(t, s, changed[0])
		assert.Equal(t, StateCompleted, s.State)
		assert.NotNil(t, s.EndedAt)

		require.Equal(t, 1, notifier.batchCount())
		assert.Len(t, notifier.batches[0], 1)

		// One snapshot was persisted for the pass.
		loaded := store.Load()
		require.Len(t, loaded, 1)
		assert.Equal(t, StateCompleted, loaded[0].State)
	})

	t.Run("second refresh with no external change reports nothing", func(t *testing.T) {
		insp := newFakeInspector()
		s := NewSession("demo", "", KindShell, "")
		notifier := &capturingNotifier{}
		w, _ := testWatcher(t, insp, []*Session{s}, WithNotifier(notifier))

		first := w.RefreshNow()
		second := w.RefreshNow()

		assert.Len(t, first, 1)
		assert.Empty(t, second)
		assert.Equal(t, 1, notifier.batchCount(), "no notification without changes")
	})

	t.Run("dead pane with nonzero exit transitions to failed", func(t *testing.T) {
		insp := newFakeInspector()
		s := NewSession("demo", "", KindShell, "")
		name := s.TmuxName(testPrefix)
		insp.exists[name] = true
		insp.dead[name] = true
		insp.exit[name] = 2
		w, _ := testWatcher(t, insp, []*Session{s})

		w.RefreshNow()

		assert.Equal(t, StateFailed, s.State)
		assert.Equal(t, "Process exited with code 2", s.ErrorMessage)
	})

	t.Run("non-running sessions are skipped", func(t *testing.T) {
		insp := newFakeInspector()
		paused := NewSession("paused", "", KindShell, "")
		paused.SetState(StatePaused)
		killed := NewSession("killed", "", KindShell, "")
		killed.SetState(StateKilled)
		w, _ := testWatcher(t, insp, []*Session{paused, killed})

		changed := w.RefreshNow()

		assert.Empty(t, changed)
		assert.Equal(t, StatePaused, paused.State)
		assert.Equal(t, StateKilled, killed.State)
	})
}

func TestWatcherReviveGrace(t *testing.T) {
	t.Run("grace window suppresses dead-pane detection", func(t *testing.T) {
		insp := newFakeInspector()
		s := NewSession("demo", "", KindShell, "")
		s.MarkFailed("Process exited with code 1")
		s.MarkRevived()

		// The new process is momentarily reported dead during startup.
		name := s.TmuxName(testPrefix)
		insp.exists[name] = true
		insp.dead[name] = true
		insp.exit[name] = 1

		w, _ := testWatcher(t, insp, []*Session{s})
		changed := w.RefreshNow()

		assert.Empty(t, changed)
		assert.Equal(t, StateRunning, s.State)
		assert.NotNil(t, s.RevivedAt, "marker survives while the window is open")
	})

	t.Run("vanished session is detected even during grace", func(t *testing.T) {
		insp := newFakeInspector()
		s := NewSession("demo", "", KindShell, "")
		s.MarkFailed("Process exited with code 1")
		s.MarkRevived()

		// The tmux session is gone entirely, not just reported dead.
		insp.exists[s.TmuxName(testPrefix)] = false

		w, store := testWatcher(t, insp, []*Session{s})
		changed := w.RefreshNow()

		require.Len(t, changed, 1)
		assert.Equal(t, StateCompleted, s.State)
		assert.Nil(t, s.RevivedAt, "marker cleared on the vanish transition")

		loaded := store.Load()
		require.Len(t, loaded, 1)
		assert.Equal(t, StateCompleted, loaded[0].State)
	})

	t.Run("expired grace clears marker and resumes detection", func(t *testing.T) {
		insp := newFakeInspector()
		s := NewSession("demo", "", KindShell, "")
		s.MarkRevived()
		past := time.Now().Add(-10 * time.Second)
		s.RevivedAt = &past

		name := s.TmuxName(testPrefix)
		insp.exists[name] = true
		insp.dead[name] = true
		insp.exit[name] = 1

		w, _ := testWatcher(t, insp, []*Session{s})
		changed := w.RefreshNow()

		require.Len(t, changed, 1)
		assert.Nil(t, s.RevivedAt, "expired marker must never be left dangling")
		assert.Equal(t, StateFailed, s.State)
	})
}

func TestWatcherTokenHook(t *testing.T) {
	insp := newFakeInspector()
	claude := NewSession("ai", "", KindAI, ProviderClaude)
	shell := NewSession("sh", "", KindShell, "")
	insp.exists[claude.TmuxName(testPrefix)] = true
	insp.exists[shell.TmuxName(testPrefix)] = true

	var mu sync.Mutex
	var hooked []string
	hook := func(s *Session) {
		mu.Lock()
		hooked = append(hooked, s.Name)
		mu.Unlock()
	}

	w, _ := testWatcher(t, insp, []*Session{claude, shell}, WithTokenHook(hook))
	w.RefreshNow()

	assert.Equal(t, []string{"ai"}, hooked, "hook fires only for running claude sessions")
}

func TestWatcherStartStop(t *testing.T) {
	insp := newFakeInspector()
	s := NewSession("demo", "", KindShell, "")
	insp.exists[s.TmuxName(testPrefix)] = true
	w, _ := testWatcher(t, insp, []*Session{s}, WithHeartbeat(10*time.Millisecond))

	assert.False(t, w.Running())
	w.Start()
	assert.True(t, w.Running())
	w.Start() // idempotent

	time.Sleep(30 * time.Millisecond)
	w.Stop()
	assert.False(t, w.Running())
	w.Stop() // idempotent
}

func TestWatcherBurst(t *testing.T) {
	insp := newFakeInspector()
	s := NewSession("demo", "", KindShell, "")
	var mu sync.Mutex
	w, _ := testWatcher(t, insp, []*Session{s}, withSessionLock(&mu))

	// The session's tmux is gone, so the first burst poll detects the end.
	w.BurstRefresh(1)

	state := func() State {
		mu.Lock()
		defer mu.Unlock()
		return s.State
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state() == StateCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, StateCompleted, state())

	// A superseding burst cancels the old one without deadlocking Stop.
	w.BurstRefresh(3)
	w.BurstRefresh(2)
	w.Start()
	w.Stop()
}

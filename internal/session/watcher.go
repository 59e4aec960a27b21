package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zenportal/zenportal/internal/logging"
)

var watcherLog = logging.ForComponent(logging.CompWatcher)

const (
	// DefaultHeartbeat is deliberately coarse; most refreshes are
	// event-triggered through RefreshNow or a burst, not timer-driven.
	DefaultHeartbeat = 30 * time.Second

	// ReviveGraceWindow suppresses dead-pane inspection after a revive. A
	// freshly restarted interactive program can be momentarily reported
	// dead while it starts up. Config-independent on purpose.
	ReviveGraceWindow = 5 * time.Second

	// burstInterval spaces the rapid polls that follow session creation.
	burstInterval = time.Second
)

// Notifier receives the list of sessions whose state changed in one watcher
// pass. Injected at construction; there is no global event bus.
type Notifier interface {
	SessionsChanged(changed []*Session)
}

// TokenHook is invoked for running claude sessions after each detection
// pass, so usage accounting can refresh. Implementation is external.
type TokenHook func(s *Session)

// Watcher polls live sessions against tmux reality and applies detected
// transitions.
type Watcher struct {
	inspector PaneInspector
	prefix    string
	store     *StateStore
	source    func() []*Session
	notifier  Notifier
	tokenHook TokenHook

	heartbeat time.Duration
	grace     time.Duration

	// pollMu serializes poll passes: heartbeat, RefreshNow and bursts
	// never run a pass concurrently.
	pollMu sync.Mutex

	// sessionLock, when set, is held while a pass reads and mutates
	// sessions so user actions never interleave with a transition.
	sessionLock sync.Locker

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	burstCancel context.CancelFunc
	wg          sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.heartbeat = d }
}

// WithNotifier sets the change-notification sink.
func WithNotifier(n Notifier) WatcherOption {
	return func(w *Watcher) { w.notifier = n }
}

// WithTokenHook sets the usage-refresh callback.
func WithTokenHook(h TokenHook) WatcherOption {
	return func(w *Watcher) { w.tokenHook = h }
}

// withSessionLock shares the fleet owner's lock with the watcher.
func withSessionLock(l sync.Locker) WatcherOption {
	return func(w *Watcher) { w.sessionLock = l }
}

// NewWatcher creates a watcher over the sessions returned by source.
func NewWatcher(inspector PaneInspector, prefix string, store *StateStore, source func() []*Session, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		inspector: inspector,
		prefix:    prefix,
		store:     store,
		source:    source,
		heartbeat: DefaultHeartbeat,
		grace:     ReviveGraceWindow,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Running reports whether the heartbeat loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches the heartbeat loop. Calling Start on a running watcher is
// a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
	watcherLog.Info("watcher_started", "heartbeat", w.heartbeat.String())
}

// Stop halts the loop and any burst, then waits for an in-flight pass to
// finish. A pass already started completes fully; transitions are never
// half-applied. Bursts are reaped even when the heartbeat never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.running {
		w.running = false
		close(w.stopCh)
	}
	if w.burstCancel != nil {
		w.burstCancel()
		w.burstCancel = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	watcherLog.Info("watcher_stopped")
}

// RefreshNow runs a single poll pass immediately, serialized with the
// heartbeat. Returns the sessions that changed.
func (w *Watcher) RefreshNow() []*Session {
	return w.poll()
}

// BurstRefresh schedules n rapid polls, rate-limited to one per second. A
// new burst cancels any burst still in flight; only the newest matters
// after an action.
func (w *Watcher) BurstRefresh(n int) {
	w.mu.Lock()
	if w.burstCancel != nil {
		w.burstCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.burstCancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		limiter := rate.NewLimiter(rate.Every(burstInterval), 1)
		for i := 0; i < n; i++ {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			w.poll()
		}
	}()
}

// poll is one detection pass over every running session. State is persisted
// at most once per pass, and subscribers are notified with the changed set.
func (w *Watcher) poll() []*Session {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	if w.sessionLock != nil {
		w.sessionLock.Lock()
		defer w.sessionLock.Unlock()
	}

	sessions := w.source()
	var changed []*Session

	for _, s := range sessions {
		if s.State != StateRunning {
			continue
		}
		name := s.TmuxName(w.prefix)
		if name == "" {
			continue
		}

		if s.RevivedAt != nil {
			if s.InReviveGrace(w.grace) && w.inspector.Exists(name) {
				// The pane cannot be trusted yet; skip dead-pane
				// inspection. A vanished session still counts.
				continue
			}
			s.RevivedAt = nil
		}

		res := Detect(w.inspector, name)
		if res.State != s.State {
			watcherLog.Info("state_transition",
				"session", s.ShortID(),
				"from", string(s.State),
				"to", string(res.State))
			s.SetState(res.State)
			if res.ErrorMessage != "" {
				s.ErrorMessage = res.ErrorMessage
			}
			changed = append(changed, s)
			continue
		}

		if s.State == StateRunning && s.Provider == ProviderClaude && w.tokenHook != nil {
			w.tokenHook(s)
		}
	}

	if len(changed) > 0 {
		if err := w.store.Save(sessions); err != nil {
			watcherLog.Warn("poll_persist_failed", "error", err)
		}
		for _, s := range changed {
			w.store.AppendHistory("state_"+string(s.State), s)
		}
		if w.notifier != nil {
			w.notifier.SessionsChanged(changed)
		}
	}
	return changed
}

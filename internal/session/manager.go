package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zenportal/zenportal/internal/errs"
	"github.com/zenportal/zenportal/internal/logging"
	"github.com/zenportal/zenportal/internal/tmux"
)

var managerLog = logging.ForComponent(logging.CompSession)

// Manager owns the session fleet. All mutation goes through it: the watcher
// applies detected transitions under the manager's lock, and user actions
// (create, pause, kill, revive, clean) are serialized the same way. No other
// component writes a session's state.
type Manager struct {
	mu       sync.Mutex
	sessions []*Session
	byID     map[string]*Session

	config    *UserConfig
	store     *StateStore
	tmuxCli   *tmux.Client
	worktrees *WorktreeManager
	pipeline  *Pipeline
	watcher   *Watcher
}

// NewManager wires the orchestration layer. Watcher options (notifier, token
// hook, heartbeat) pass through to the embedded watcher.
func NewManager(config *UserConfig, store *StateStore, tmuxCli *tmux.Client, watcherOpts ...WatcherOption) *Manager {
	m := &Manager{
		byID:      make(map[string]*Session),
		config:    config,
		store:     store,
		tmuxCli:   tmuxCli,
		worktrees: NewWorktreeManager(config.Worktree),
	}
	m.pipeline = NewPipeline(config, m.worktrees, tmuxCli)
	watcherOpts = append(watcherOpts, withSessionLock(&m.mu))
	m.watcher = NewWatcher(tmuxCli, config.SessionPrefix, store, m.snapshot, watcherOpts...)
	return m
}

// Watcher exposes the embedded state watcher.
func (m *Manager) Watcher() *Watcher {
	return m.watcher
}

// Store exposes the persistence layer.
func (m *Manager) Store() *StateStore {
	return m.store
}

// Restore loads persisted sessions and reconciles them against tmux and
// disk reality, dropping records whose resources are all gone.
func (m *Manager) Restore() {
	loaded := m.store.Load()
	kept := Reconcile(loaded, m.tmuxCli, m.config.SessionPrefix)

	m.mu.Lock()
	m.sessions = kept
	m.byID = make(map[string]*Session, len(kept))
	for _, s := range kept {
		m.byID[s.ID] = s
	}
	m.mu.Unlock()

	if len(loaded) != len(kept) {
		m.persist()
	}
	managerLog.Info("sessions_restored", "loaded", len(loaded), "kept", len(kept))
}

// snapshot returns the current session slice. Pointers are shared; callers
// mutate only under the manager's lock.
func (m *Manager) snapshot() []*Session {
	out := make([]*Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// Sessions returns the current fleet.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Get resolves a session by full ID, unique ID prefix, or exact name.
func (m *Manager) Get(ref string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ref)
}

func (m *Manager) getLocked(ref string) (*Session, error) {
	if s, ok := m.byID[ref]; ok {
		return s, nil
	}
	var match *Session
	for _, s := range m.sessions {
		if strings.HasPrefix(s.ID, ref) {
			if match != nil {
				return nil, errs.Newf(errs.CodeSessionNotFound, "session ref %q is ambiguous", ref)
			}
			match = s
		}
	}
	if match != nil {
		return match, nil
	}
	for _, s := range m.sessions {
		if s.Name == ref {
			return s, nil
		}
	}
	return nil, errs.Newf(errs.CodeSessionNotFound, "no session matches %q", ref)
}

// TmuxName returns the tmux session name for a session.
func (m *Manager) TmuxName(s *Session) string {
	return s.TmuxName(m.config.SessionPrefix)
}

// persist saves the fleet snapshot, logging rather than propagating
// failures. In-memory operations never roll back on a persistence error.
func (m *Manager) persist() {
	m.mu.Lock()
	sessions := m.snapshot()
	m.mu.Unlock()
	if err := m.store.Save(sessions); err != nil {
		managerLog.Warn("persist_failed", "code", string(errs.CodeOf(err)), "error", err)
	}
}

// Create runs the creation pipeline and registers the result. The returned
// session may already be in failed state; a nil session with an error means
// the request was rejected before a record existed.
func (m *Manager) Create(req CreateRequest) (*Session, error) {
	m.mu.Lock()
	count := len(m.sessions)
	m.mu.Unlock()

	s, err := m.pipeline.Create(req, count)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.byID[s.ID] = s
	m.mu.Unlock()

	m.persist()
	m.store.AppendHistory("created", s)
	if s.State == StateRunning {
		m.watcher.BurstRefresh(3)
	}
	return s, nil
}

// Pause detaches a session from its process while preserving its record and
// worktree: the tmux session is killed, the worktree stays.
func (m *Manager) Pause(ref string) (*Session, error) {
	m.mu.Lock()
	s, err := m.getLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if s.State != StateRunning {
		m.mu.Unlock()
		return nil, errs.Newf(errs.CodeInvalidState, "session %s is %s, only running sessions can be paused", s.ShortID(), s.State)
	}
	name := s.TmuxName(m.config.SessionPrefix)
	s.SetState(StatePaused)
	m.mu.Unlock()

	if m.tmuxCli.Exists(name) {
		m.tmuxCli.Kill(name)
	}
	m.persist()
	m.store.AppendHistory("paused", s)
	return s, nil
}

// Kill terminates a session and removes its worktree. The worktree is
// located through the recorded source repository, not the current working
// directory.
func (m *Manager) Kill(ref string) (*Session, error) {
	m.mu.Lock()
	s, err := m.getLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	name := s.TmuxName(m.config.SessionPrefix)
	s.SetState(StateKilled)
	m.mu.Unlock()

	if m.tmuxCli.Exists(name) {
		m.tmuxCli.Kill(name)
	}
	if err := m.worktrees.Cleanup(s, true); err != nil {
		managerLog.Warn("kill_worktree_cleanup_failed", "session", s.ShortID(), "error", err)
	}
	m.persist()
	m.store.AppendHistory("killed", s)
	return s, nil
}

// Revive restarts a finished session in its original directory, resuming
// the assistant conversation where possible. The revive marker gives the
// new process a grace window before dead-pane detection trusts the pane.
func (m *Manager) Revive(ref string) (*Session, error) {
	m.mu.Lock()
	s, err := m.getLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if s.State == StateRunning {
		m.mu.Unlock()
		return nil, errs.Newf(errs.CodeInvalidState, "session %s is already running", s.ShortID())
	}
	name := s.TmuxName(m.config.SessionPrefix)
	workDir := s.ResolvedWorkingDir
	if s.HasWorktree() {
		workDir = s.WorktreePath
	}
	m.mu.Unlock()

	cmd, err := BuildReviveCommand(s)
	if err != nil {
		return nil, err
	}

	env := map[string]string{}
	if s.UsesProxy {
		env, err = BuildProxyEnv(m.config.Proxy)
		if err != nil {
			return nil, err
		}
	}
	wrapped := WrapWithBanner(cmd, RenderBanner(s), env)

	if m.tmuxCli.Exists(name) {
		m.tmuxCli.Kill(name)
	}
	res := m.tmuxCli.Create(name, wrapped, workDir)
	if !res.Success {
		return nil, errs.Newf(errs.CodeTmuxUnavailable, "reviving session: %s", res.Err)
	}

	m.mu.Lock()
	s.MarkRevived()
	m.mu.Unlock()

	m.persist()
	m.store.AppendHistory("revived", s)
	m.watcher.BurstRefresh(3)
	return s, nil
}

// Rename changes a session's display name. The tmux name is ID-derived and
// unaffected.
func (m *Manager) Rename(ref, newName string) (*Session, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, fmt.Errorf("new name cannot be empty")
	}

	m.mu.Lock()
	s, err := m.getLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	s.Name = newName
	m.mu.Unlock()

	m.persist()
	return s, nil
}

// Clean removes a finished session's record and worktree. Running sessions
// must be killed or paused first.
func (m *Manager) Clean(ref string) error {
	m.mu.Lock()
	s, err := m.getLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if s.State == StateRunning {
		m.mu.Unlock()
		return errs.Newf(errs.CodeInvalidState, "session %s is running; kill or pause it first", s.ShortID())
	}
	m.mu.Unlock()

	if err := m.worktrees.Cleanup(s, true); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.byID, s.ID)
	for i, cur := range m.sessions {
		if cur.ID == s.ID {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.persist()
	m.store.AppendHistory("cleaned", s)
	return nil
}

// Output captures the tail of a session's pane.
func (m *Manager) Output(ref string, lines int) (string, error) {
	m.mu.Lock()
	s, err := m.getLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	name := s.TmuxName(m.config.SessionPrefix)
	m.mu.Unlock()

	if !m.tmuxCli.Exists(name) {
		return "", errs.Newf(errs.CodeSessionNotFound, "tmux session %s no longer exists", name)
	}
	res := m.tmuxCli.Capture(name, lines)
	if !res.Success {
		return "", fmt.Errorf("capturing output: %s", res.Err)
	}
	return res.Output, nil
}

// Send types text into a running session's pane and presses Enter.
func (m *Manager) Send(ref, text string) error {
	name, err := m.runningTmuxName(ref)
	if err != nil {
		return err
	}
	if res := m.tmuxCli.SendText(name, text); !res.Success {
		return fmt.Errorf("sending input: %s", res.Err)
	}
	return nil
}

// Interrupt delivers Ctrl-C to a running session's pane.
func (m *Manager) Interrupt(ref string) error {
	name, err := m.runningTmuxName(ref)
	if err != nil {
		return err
	}
	if res := m.tmuxCli.SendInterrupt(name); !res.Success {
		return fmt.Errorf("sending interrupt: %s", res.Err)
	}
	return nil
}

func (m *Manager) runningTmuxName(ref string) (string, error) {
	m.mu.Lock()
	s, err := m.getLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	if s.State != StateRunning {
		m.mu.Unlock()
		return "", errs.Newf(errs.CodeInvalidState, "session %s is %s, not running", s.ShortID(), s.State)
	}
	name := s.TmuxName(m.config.SessionPrefix)
	m.mu.Unlock()

	if !m.tmuxCli.Exists(name) {
		return "", errs.Newf(errs.CodeSessionNotFound, "tmux session %s no longer exists", name)
	}
	return name, nil
}

// AdoptExternalTmux takes over an existing tmux session that zenportal did
// not create, tracking it as a shell session under its original tmux name.
func (m *Manager) AdoptExternalTmux(tmuxName, displayName string) (*Session, error) {
	if strings.HasPrefix(tmuxName, m.config.SessionPrefix) {
		return nil, errs.Newf(errs.CodeInvalidState, "%s is already a zenportal session", tmuxName)
	}
	if !m.tmuxCli.Exists(tmuxName) {
		return nil, errs.Newf(errs.CodeSessionNotFound, "tmux session %s does not exist", tmuxName)
	}

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.ExternalTmuxName == tmuxName {
			m.mu.Unlock()
			return nil, errs.Newf(errs.CodeInvalidState, "tmux session %s is already adopted", tmuxName)
		}
	}
	if displayName == "" {
		displayName = tmuxName
	}
	s := NewSession(displayName, "", KindShell, "")
	s.ExternalTmuxName = tmuxName
	if cwd, ok := m.tmuxCli.PaneCwd(tmuxName); ok {
		s.ResolvedWorkingDir = cwd
	}
	m.sessions = append(m.sessions, s)
	m.byID[s.ID] = s
	m.mu.Unlock()

	m.tmuxCli.Configure(tmuxName)
	m.persist()
	m.store.AppendHistory("adopted", s)
	return s, nil
}

// KillAll terminates every running session's tmux process. Worktrees are
// kept; this is shutdown behavior, not cleanup.
func (m *Manager) KillAll() int {
	m.mu.Lock()
	var targets []*Session
	for _, s := range m.sessions {
		if s.State == StateRunning {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	// Fan the kills out so a slow tmux server does not serialize shutdown.
	async := tmux.NewAsync(m.tmuxCli)
	pending := make([]<-chan tmux.Result, len(targets))
	for i, s := range targets {
		pending[i] = async.Kill(s.TmuxName(m.config.SessionPrefix))
	}
	for i, s := range targets {
		<-pending[i]
		m.mu.Lock()
		s.SetState(StateKilled)
		m.mu.Unlock()
		m.store.AppendHistory("killed", s)
	}
	if len(targets) > 0 {
		m.persist()
	}
	return len(targets)
}

// ExternalSessions returns snapshots of tmux sessions this portal does not
// manage, candidates for adoption. Already-adopted sessions are excluded and
// pane details are fetched concurrently.
func (m *Manager) ExternalSessions() []tmux.SessionInfo {
	m.mu.Lock()
	adopted := make(map[string]bool)
	for _, s := range m.sessions {
		if s.ExternalTmuxName != "" {
			adopted[s.ExternalTmuxName] = true
		}
	}
	m.mu.Unlock()

	var names []string
	for _, name := range m.tmuxCli.ListExternalSessions(m.config.SessionPrefix) {
		if !adopted[name] {
			names = append(names, name)
		}
	}

	async := tmux.NewAsync(m.tmuxCli)
	pending := make([]<-chan tmux.SessionInfo, len(names))
	for i, name := range names {
		pending[i] = async.Info(name)
	}
	infos := make([]tmux.SessionInfo, len(names))
	for i := range pending {
		infos[i] = <-pending[i]
	}
	return infos
}

// KillDead reaps tmux sessions whose panes are dead, then refreshes state so
// the corresponding records transition.
func (m *Manager) KillDead() int {
	n := m.tmuxCli.CleanupDeadSessions(m.config.SessionPrefix)
	if n > 0 {
		m.watcher.RefreshNow()
	}
	return n
}

// CountByState tallies the fleet per lifecycle state.
func (m *Manager) CountByState() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[State]int)
	for _, s := range m.sessions {
		counts[s.State]++
	}
	return counts
}

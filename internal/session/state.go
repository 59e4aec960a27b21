package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zenportal/zenportal/internal/errs"
	"github.com/zenportal/zenportal/internal/logging"
)

var stateLog = logging.ForComponent(logging.CompState)

// StateStore persists the session fleet to a JSON snapshot plus an
// append-only daily history log.
type StateStore struct {
	dir string
}

// NewStateStore creates a store rooted at dir.
func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir}
}

// DefaultStateDir returns the per-user state directory.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "zenportal"), nil
}

// StatePath returns the canonical snapshot location.
func (st *StateStore) StatePath() string {
	return filepath.Join(st.dir, "state.json")
}

func (st *StateStore) tmpPath() string {
	return st.StatePath() + ".tmp"
}

// Save writes the full fleet snapshot atomically: serialize to a temp file
// in the same directory, then rename over the canonical file. Persistence is
// best-effort durability, so failures are reported but callers treat the
// in-memory operation as already done.
func (st *StateStore) Save(sessions []*Session) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	state := PortalState{
		Version:     StateVersion,
		LastUpdated: time.Now().Format(time.RFC3339),
		Sessions:    make([]SessionRecord, 0, len(sessions)),
	}
	for _, s := range sessions {
		state.Sessions = append(state.Sessions, s.ToRecord())
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := st.tmpPath()
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(err, errs.CodeStateSaveFailed, "writing state temp file")
	}
	if err := os.Rename(tmp, st.StatePath()); err != nil {
		os.Remove(tmp)
		return errs.Wrap(err, errs.CodeStateSaveFailed, "replacing state file")
	}
	return nil
}

// Load reads the snapshot. A missing or corrupt file yields an empty state;
// broken persisted state must never prevent startup.
func (st *StateStore) Load() []*Session {
	data, err := os.ReadFile(st.StatePath())
	if err != nil {
		if !os.IsNotExist(err) {
			stateLog.Warn("state_read_failed", "path", st.StatePath(), "error", err)
		}
		return nil
	}

	var state PortalState
	if err := json.Unmarshal(data, &state); err != nil {
		stateLog.Warn("state_corrupt", "path", st.StatePath(), "error", err)
		return nil
	}

	sessions := make([]*Session, 0, len(state.Sessions))
	for _, rec := range state.Sessions {
		sessions = append(sessions, FromRecord(rec))
	}
	return sessions
}

// historyEntry is one line of the daily history log.
type historyEntry struct {
	Timestamp string        `json:"timestamp"`
	Event     string        `json:"event"`
	Session   SessionRecord `json:"session"`
}

// AppendHistory records a lifecycle event in the day's JSONL file. History
// is diagnostic, not authoritative; failures are logged and swallowed.
func (st *StateStore) AppendHistory(event string, s *Session) {
	dir := filepath.Join(st.dir, "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		stateLog.Warn("history_dir_failed", "error", err)
		return
	}

	now := time.Now()
	path := filepath.Join(dir, now.Format("2006-01-02")+".jsonl")

	line, err := json.Marshal(historyEntry{
		Timestamp: now.Format(time.RFC3339),
		Event:     event,
		Session:   s.ToRecord(),
	})
	if err != nil {
		stateLog.Warn("history_encode_failed", "error", err)
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		stateLog.Warn("history_open_failed", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		stateLog.Warn("history_append_failed", "path", path, "error", err)
	}
}

// Reconcile decides, per loaded record, whether it still corresponds to a
// live resource and re-derives its state from current reality.
//
// A record is dropped only when its tmux session is gone AND its worktree is
// gone AND it was not explicitly paused. Paused sessions are always restored;
// pausing is a deliberate user choice to preserve the session.
func Reconcile(loaded []*Session, inspector PaneInspector, prefix string) []*Session {
	kept := make([]*Session, 0, len(loaded))
	for _, s := range loaded {
		name := s.TmuxName(prefix)
		alive := inspector.Exists(name)
		dead := alive && inspector.IsPaneDead(name)
		worktreePresent := false
		if s.WorktreePath != "" {
			if _, err := os.Stat(s.WorktreePath); err == nil {
				worktreePresent = true
			}
		}

		if !alive && !worktreePresent && s.State != StatePaused {
			stateLog.Info("session_discarded",
				"id", s.ShortID(), "name", s.Name, "state", string(s.State))
			continue
		}

		switch {
		case alive && !dead:
			s.State = StateRunning
			s.EndedAt = nil
		case s.State == StatePaused && worktreePresent:
			// keep paused
		case s.State == StateKilled:
			// keep killed
		default:
			s.SetState(StateCompleted)
		}
		kept = append(kept, s)
	}
	return kept
}

// Package session implements zenportal's session lifecycle: the session
// model, state detection, the background watcher, worktree management, the
// creation pipeline and state persistence.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is a session's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StatePaused    State = "paused"
	StateKilled    State = "killed"
)

// IsTerminal reports whether the state marks a session no longer backed by
// a live process.
func (s State) IsTerminal() bool {
	return s != StateRunning
}

// Kind distinguishes assistant sessions from plain shells.
type Kind string

const (
	KindAI    Kind = "ai"
	KindShell Kind = "shell"
)

// Provider names the assistant backing an AI session.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderGemini Provider = "gemini"
)

// Features are per-session overrides layered on top of user config. Pointer
// fields distinguish "unset" from an explicit value.
type Features struct {
	WorkingDir                 string
	Model                      string
	UseWorktree                *bool
	WorktreeBranch             string
	DangerouslySkipPermissions bool
}

// Session is one tracked unit of work backed by a tmux session and,
// optionally, an isolated git worktree.
type Session struct {
	ID       string
	Name     string
	Prompt   string
	Kind     Kind
	Provider Provider
	State    State

	CreatedAt time.Time
	// EndedAt is set exactly once, on the first transition out of running.
	EndedAt      *time.Time
	ErrorMessage string
	ProxyWarning string
	UsesProxy    bool

	// ExternalTmuxName is set on adopted sessions whose tmux session was
	// created outside zenportal; when set it replaces the derived name.
	ExternalTmuxName string

	WorktreePath   string
	WorktreeBranch string
	// WorktreeSourceRepo is the repository the worktree was cut from.
	// Cleanup targets this path, never the current working directory.
	WorktreeSourceRepo string

	ResolvedWorkingDir         string
	ResolvedModel              string
	DangerouslySkipPermissions bool

	// RevivedAt suppresses dead-pane detection for a short grace window
	// after a revive. Cleared by the watcher once the window elapses.
	RevivedAt *time.Time
}

// NewSession constructs a session in its pre-spawn shape.
func NewSession(name, prompt string, kind Kind, provider Provider) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Prompt:    prompt,
		Kind:      kind,
		Provider:  provider,
		State:     StateRunning,
		CreatedAt: time.Now(),
	}
}

// ShortID is the 8-character ID prefix used in tmux and worktree names.
func (s *Session) ShortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}

// TmuxName returns the tmux session name: the adopted external name when
// present, otherwise prefix plus short ID.
func (s *Session) TmuxName(prefix string) string {
	if s.ExternalTmuxName != "" {
		return s.ExternalTmuxName
	}
	return prefix + s.ShortID()
}

// SetState applies a lifecycle transition, stamping EndedAt on the first
// departure from running and clearing it when returning to running.
func (s *Session) SetState(state State) {
	if s.State == state {
		return
	}
	s.State = state
	if state == StateRunning {
		s.EndedAt = nil
		return
	}
	if s.EndedAt == nil {
		now := time.Now()
		s.EndedAt = &now
	}
}

// MarkFailed transitions to failed with an error message.
func (s *Session) MarkFailed(msg string) {
	s.ErrorMessage = msg
	s.SetState(StateFailed)
}

// MarkRevived returns the session to running and stamps the grace marker.
func (s *Session) MarkRevived() {
	now := time.Now()
	s.RevivedAt = &now
	s.ErrorMessage = ""
	s.SetState(StateRunning)
}

// InReviveGrace reports whether the revive grace window is still open.
func (s *Session) InReviveGrace(window time.Duration) bool {
	return s.RevivedAt != nil && time.Since(*s.RevivedAt) < window
}

// HasWorktree reports whether the session owns a worktree.
func (s *Session) HasWorktree() bool {
	return s.WorktreePath != ""
}

// Age returns time since creation.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Duration returns the session's lifetime: creation to end for finished
// sessions, creation to now otherwise.
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// DisplayTitle is a short human label for lists.
func (s *Session) DisplayTitle() string {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s [%s]", name, s.ShortID())
}

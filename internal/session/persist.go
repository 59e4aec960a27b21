package session

import "time"

// StateVersion is the persisted schema version.
const StateVersion = 1

// SessionRecord is the flat on-disk projection of a Session. Optional
// fields are omitted when empty; timestamps are RFC 3339.
type SessionRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Prompt   string `json:"prompt,omitempty"`
	Kind     string `json:"kind"`
	Provider string `json:"provider,omitempty"`
	State    string `json:"state"`

	CreatedAt string `json:"created_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	RevivedAt string `json:"revived_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ProxyWarning string `json:"proxy_warning,omitempty"`
	UsesProxy    bool   `json:"uses_proxy,omitempty"`

	ExternalTmuxName string `json:"external_tmux_name,omitempty"`

	WorktreePath       string `json:"worktree_path,omitempty"`
	WorktreeBranch     string `json:"worktree_branch,omitempty"`
	WorktreeSourceRepo string `json:"worktree_source_repo,omitempty"`

	ResolvedWorkingDir         string `json:"resolved_working_dir,omitempty"`
	ResolvedModel              string `json:"resolved_model,omitempty"`
	DangerouslySkipPermissions bool   `json:"dangerously_skip_permissions,omitempty"`
}

// PortalState is the top-level persisted document.
type PortalState struct {
	Version     int             `json:"version"`
	LastUpdated string          `json:"last_updated"`
	Sessions    []SessionRecord `json:"sessions"`
}

// ToRecord flattens a session for persistence.
func (s *Session) ToRecord() SessionRecord {
	rec := SessionRecord{
		ID:                         s.ID,
		Name:                       s.Name,
		Prompt:                     s.Prompt,
		Kind:                       string(s.Kind),
		Provider:                   string(s.Provider),
		State:                      string(s.State),
		CreatedAt:                  s.CreatedAt.Format(time.RFC3339),
		ErrorMessage:               s.ErrorMessage,
		ProxyWarning:               s.ProxyWarning,
		UsesProxy:                  s.UsesProxy,
		ExternalTmuxName:           s.ExternalTmuxName,
		WorktreePath:               s.WorktreePath,
		WorktreeBranch:             s.WorktreeBranch,
		WorktreeSourceRepo:         s.WorktreeSourceRepo,
		ResolvedWorkingDir:         s.ResolvedWorkingDir,
		ResolvedModel:              s.ResolvedModel,
		DangerouslySkipPermissions: s.DangerouslySkipPermissions,
	}
	if s.EndedAt != nil {
		rec.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	if s.RevivedAt != nil {
		rec.RevivedAt = s.RevivedAt.Format(time.RFC3339)
	}
	return rec
}

// FromRecord reconstructs a session from its persisted form. Unparseable
// timestamps degrade to zero values rather than failing the whole load.
func FromRecord(rec SessionRecord) *Session {
	s := &Session{
		ID:                         rec.ID,
		Name:                       rec.Name,
		Prompt:                     rec.Prompt,
		Kind:                       Kind(rec.Kind),
		Provider:                   Provider(rec.Provider),
		State:                      State(rec.State),
		ErrorMessage:               rec.ErrorMessage,
		ProxyWarning:               rec.ProxyWarning,
		UsesProxy:                  rec.UsesProxy,
		ExternalTmuxName:           rec.ExternalTmuxName,
		WorktreePath:               rec.WorktreePath,
		WorktreeBranch:             rec.WorktreeBranch,
		WorktreeSourceRepo:         rec.WorktreeSourceRepo,
		ResolvedWorkingDir:         rec.ResolvedWorkingDir,
		ResolvedModel:              rec.ResolvedModel,
		DangerouslySkipPermissions: rec.DangerouslySkipPermissions,
	}
	if t, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
		s.CreatedAt = t
	}
	if rec.EndedAt != "" {
		if t, err := time.Parse(time.RFC3339, rec.EndedAt); err == nil {
			s.EndedAt = &t
		}
	}
	if rec.RevivedAt != "" {
		if t, err := time.Parse(time.RFC3339, rec.RevivedAt); err == nil {
			s.RevivedAt = &t
		}
	}
	return s
}

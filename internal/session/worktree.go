package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zenportal/zenportal/internal/errs"
	"github.com/zenportal/zenportal/internal/git"
	"github.com/zenportal/zenportal/internal/logging"
)

var worktreeLog = logging.ForComponent(logging.CompWorktree)

// WorktreeManager creates and removes per-session git worktrees. Worktrees
// are a best-effort enhancement: setup failure falls back to the original
// working directory, never blocks session creation.
type WorktreeManager struct {
	settings WorktreeSettings
}

// NewWorktreeManager creates a manager with the given policy.
func NewWorktreeManager(settings WorktreeSettings) *WorktreeManager {
	return &WorktreeManager{settings: settings}
}

// worktreeName derives a collision-free directory name from the session's
// display name and ID prefix.
func worktreeName(s *Session) string {
	return fmt.Sprintf("%s-%s", git.SanitizeBranchName(s.Name), s.ShortID())
}

// SetupForSession decides whether the session gets a worktree and creates it.
// The explicit per-session override wins; otherwise policy decides. A working
// directory outside any git repository silently falls back. Returns the
// directory the session should run in, which is the original workingDir
// whenever no worktree was created.
func (wm *WorktreeManager) SetupForSession(s *Session, features Features, workingDir string) string {
	wanted := wm.settings.Enabled
	if features.UseWorktree != nil {
		wanted = *features.UseWorktree
	}
	if !wanted {
		return workingDir
	}

	if !git.IsRepo(workingDir) {
		worktreeLog.Debug("worktree_skipped_not_a_repo", "dir", workingDir)
		return workingDir
	}

	repoRoot, err := git.RepoRoot(workingDir)
	if err != nil {
		worktreeLog.Warn("worktree_repo_root_failed", "dir", workingDir, "error", err)
		return workingDir
	}

	baseDir := wm.settings.BaseDir
	if baseDir == "" {
		baseDir = filepath.Join(repoRoot, ".worktrees")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		worktreeLog.Warn("worktree_base_dir_failed", "dir", baseDir, "error", err)
		return workingDir
	}

	name := worktreeName(s)
	path := filepath.Join(baseDir, name)

	branch := features.WorktreeBranch
	if branch == "" {
		branch = name
	}
	startPoint := wm.settings.DefaultFromBranch
	if startPoint == "" {
		startPoint = DefaultFromBranch
	}
	if !git.BranchExists(repoRoot, startPoint) {
		startPoint = fallbackStartPoint(repoRoot, startPoint)
	}

	if err := git.AddWorktree(repoRoot, path, branch, startPoint); err != nil {
		worktreeLog.Warn("worktree_create_failed",
			"session", s.ShortID(), "path", path, "error", err)
		return workingDir
	}

	wm.linkEnvFiles(repoRoot, path)

	s.WorktreePath = path
	s.WorktreeBranch = branch
	s.WorktreeSourceRepo = repoRoot
	worktreeLog.Info("worktree_created",
		"session", s.ShortID(), "path", path, "branch", branch)
	return path
}

// fallbackStartPoint picks a usable branch when the configured start point
// does not exist in this repository.
func fallbackStartPoint(repoRoot, configured string) string {
	if branch, err := git.DefaultBranch(repoRoot); err == nil {
		worktreeLog.Debug("worktree_start_point_fallback",
			"configured", configured, "using", branch)
		return branch
	}
	if branch, err := git.CurrentBranch(repoRoot); err == nil {
		worktreeLog.Debug("worktree_start_point_fallback",
			"configured", configured, "using", branch)
		return branch
	}
	return configured
}

// linkEnvFiles symlinks configured auxiliary files (local secrets, env
// files) from the source repo into the worktree. A file is skipped when the
// source is missing or the target already exists; existing files are never
// overwritten.
func (wm *WorktreeManager) linkEnvFiles(repoRoot, worktreePath string) {
	for _, rel := range wm.settings.EnvFiles {
		src := filepath.Join(repoRoot, rel)
		dst := filepath.Join(worktreePath, rel)

		if _, err := os.Lstat(src); err != nil {
			continue
		}
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			worktreeLog.Warn("env_link_dir_failed", "file", rel, "error", err)
			continue
		}
		if err := os.Symlink(src, dst); err != nil {
			worktreeLog.Warn("env_link_failed", "file", rel, "error", err)
		}
	}
}

// Cleanup removes the session's worktree using the stored source repo, never
// the session's current working directory. Removal failure is surfaced; it
// leaves disk state inconsistent with the session record.
func (wm *WorktreeManager) Cleanup(s *Session, force bool) error {
	if !s.HasWorktree() {
		return nil
	}
	if s.WorktreeSourceRepo == "" {
		return errs.New(errs.CodeWorktreeFailed,
			"session has a worktree path but no recorded source repository")
	}

	if _, err := os.Stat(s.WorktreePath); os.IsNotExist(err) {
		// Directory already gone, only the registration is left.
		if err := git.PruneWorktrees(s.WorktreeSourceRepo); err != nil {
			worktreeLog.Warn("worktree_prune_failed",
				"repo", s.WorktreeSourceRepo, "error", err)
		}
	} else {
		if !force {
			if dirty, err := git.HasUncommittedChanges(s.WorktreePath); err == nil && dirty {
				return errs.Newf(errs.CodeWorktreeFailed,
					"worktree %s has uncommitted changes", s.WorktreePath).
					WithHint("commit the changes or force removal")
			}
		}
		if err := git.RemoveWorktree(s.WorktreeSourceRepo, s.WorktreePath, force); err != nil {
			return errs.Wrap(err, errs.CodeWorktreeFailed,
				fmt.Sprintf("removing worktree %s", s.WorktreePath))
		}
	}

	worktreeLog.Info("worktree_removed", "session", s.ShortID(), "path", s.WorktreePath)
	s.WorktreePath = ""
	s.WorktreeBranch = ""
	s.WorktreeSourceRepo = ""
	return nil
}

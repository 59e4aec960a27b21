// Package git provides the git worktree operations zenportal uses to give
// sessions isolated workspaces.
package git

import (
	"bufio"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zenportal/zenportal/internal/errs"
)

// Worktree describes one entry from `git worktree list --porcelain`.
type Worktree struct {
	Path   string // Filesystem path to the worktree
	Branch string // Branch checked out in this worktree ("" when detached)
	Commit string // HEAD commit SHA
	Bare   bool   // Whether this is the bare repository
}

// IsRepo checks if the given directory is inside a git repository.
func IsRepo(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--git-dir")
	return cmd.Run() == nil
}

// RepoRoot returns the root directory of the repository containing dir.
func RepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CurrentBranch returns the checked-out branch name for the repository at dir.
func CurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// BranchExists checks if a local branch exists in the repository.
func BranchExists(repoDir, branch string) bool {
	cmd := exec.Command("git", "-C", repoDir, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return cmd.Run() == nil
}

// ValidateBranchName validates that a branch name follows git's naming rules.
func ValidateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return errors.New("branch name cannot have leading or trailing spaces")
	}
	if strings.Contains(name, "..") {
		return errors.New("branch name cannot contain '..'")
	}
	if strings.HasPrefix(name, ".") {
		return errors.New("branch name cannot start with '.'")
	}
	if strings.HasSuffix(name, ".lock") {
		return errors.New("branch name cannot end with '.lock'")
	}
	for _, char := range []string{" ", "\t", "~", "^", ":", "?", "*", "[", "\\"} {
		if strings.Contains(name, char) {
			return fmt.Errorf("branch name cannot contain '%s'", char)
		}
	}
	if strings.Contains(name, "@{") {
		return errors.New("branch name cannot contain '@{'")
	}
	if name == "@" {
		return errors.New("branch name cannot be just '@'")
	}
	return nil
}

// SanitizeBranchName converts a string to a valid branch name.
func SanitizeBranchName(name string) string {
	replacer := strings.NewReplacer(
		" ", "-",
		"..", "-",
		"~", "-",
		"^", "-",
		":", "-",
		"?", "-",
		"*", "-",
		"[", "-",
		"\\", "-",
		"@{", "-",
	)
	sanitized := replacer.Replace(name)

	for strings.HasPrefix(sanitized, ".") {
		sanitized = strings.TrimPrefix(sanitized, ".")
	}
	for strings.HasSuffix(sanitized, ".lock") {
		sanitized = strings.TrimSuffix(sanitized, ".lock")
	}

	sanitized = regexp.MustCompile(`-+`).ReplaceAllString(sanitized, "-")
	return strings.Trim(sanitized, "-")
}

// AddWorktree creates a worktree at path with a new branch cut from
// startPoint. The branch must not already exist; sessions always get a fresh
// branch so parallel work never shares one.
func AddWorktree(repoDir, path, branch, startPoint string) error {
	if err := ValidateBranchName(branch); err != nil {
		return fmt.Errorf("invalid branch name: %w", err)
	}
	if !IsRepo(repoDir) {
		return errs.New(errs.CodeNotARepo, "not a git repository")
	}

	args := []string{"-C", repoDir, "worktree", "add", path, "-b", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}

	output, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		// Surface the two common conflicts with a cleaner message
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "already exists") {
			return fmt.Errorf("branch '%s' already exists", branch)
		}
		if strings.Contains(lower, "is already checked out") {
			return fmt.Errorf("branch '%s' is already checked out in another worktree", branch)
		}
		return fmt.Errorf("failed to create worktree: %s: %w", msg, err)
	}
	return nil
}

// RemoveWorktree removes a worktree from the repository.
// If force is true, it will remove even if there are uncommitted changes.
func RemoveWorktree(repoDir, path string, force bool) error {
	if !IsRepo(repoDir) {
		return errs.New(errs.CodeNotARepo, "not a git repository")
	}

	args := []string{"-C", repoDir, "worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	output, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to remove worktree: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// ListWorktrees returns all worktrees for the repository at repoDir.
func ListWorktrees(repoDir string) ([]Worktree, error) {
	if !IsRepo(repoDir) {
		return nil, errs.New(errs.CodeNotARepo, "not a git repository")
	}

	cmd := exec.Command("git", "-C", repoDir, "worktree", "list", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(string(output)), nil
}

// parseWorktreeList parses `git worktree list --porcelain` output.
// Entries are separated by blank lines; the last entry may not be followed
// by one.
func parseWorktreeList(output string) []Worktree {
	var worktrees []Worktree
	var current Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = Worktree{}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
		case line == "bare":
			current.Bare = true
		case line == "detached":
			current.Branch = ""
		}
	}

	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// WorktreeExists checks if repoDir has a registered worktree at path.
func WorktreeExists(repoDir, path string) bool {
	worktrees, err := ListWorktrees(repoDir)
	if err != nil {
		return false
	}
	cleaned := filepath.Clean(path)
	for _, wt := range worktrees {
		if filepath.Clean(wt.Path) == cleaned {
			return true
		}
	}
	return false
}

// PruneWorktrees removes stale worktree references (worktrees whose
// directories were deleted manually).
func PruneWorktrees(repoDir string) error {
	output, err := exec.Command("git", "-C", repoDir, "worktree", "prune").CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to prune worktrees: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// HasUncommittedChanges checks if the repository at dir has uncommitted changes.
func HasUncommittedChanges(dir string) (bool, error) {
	output, err := exec.Command("git", "-C", dir, "status", "--porcelain").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return strings.TrimSpace(string(output)) != "", nil
}

// DefaultBranch returns the default branch name (e.g. "main" or "master").
func DefaultBranch(repoDir string) (string, error) {
	// Try symbolic-ref first (works when remote HEAD is set)
	output, err := exec.Command("git", "-C", repoDir, "symbolic-ref", "refs/remotes/origin/HEAD").Output()
	if err == nil {
		ref := strings.TrimSpace(string(output))
		branch := strings.TrimPrefix(ref, "refs/remotes/origin/")
		if branch != ref && branch != "" {
			return branch, nil
		}
	}

	if BranchExists(repoDir, "main") {
		return "main", nil
	}
	if BranchExists(repoDir, "master") {
		return "master", nil
	}
	return "", errors.New("could not determine default branch (no origin/HEAD, no main or master branch)")
}

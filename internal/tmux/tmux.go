// Package tmux wraps the tmux command line. It is a stateless façade: every
// call shells out, no session state is cached here. Lifecycle decisions live
// in the session package.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zenportal/zenportal/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

const (
	// DefaultTimeout bounds every tmux subprocess call.
	DefaultTimeout = 5 * time.Second

	// DefaultHistoryLimit is the scrollback line count for new panes.
	DefaultHistoryLimit = 10000
)

// Result is the outcome of a tmux operation.
type Result struct {
	Success bool
	Output  string
	Err     string
}

// Runner executes a tmux invocation. Tests inject a fake; production code
// uses execRunner.
type Runner interface {
	Run(args []string, timeout time.Duration) Result
}

type execRunner struct{}

func (execRunner) Run(args []string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{Err: "operation timed out"}
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{Err: "tmux not found"}
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return Result{Output: stdout.String(), Err: errMsg}
	}
	return Result{Success: true, Output: stdout.String()}
}

// Client issues tmux commands, optionally against a dedicated socket.
type Client struct {
	socket       string
	timeout      time.Duration
	historyLimit int
	runner       Runner

	captureGroup singleflight.Group // collapses concurrent captures of one pane
}

// Option configures a Client.
type Option func(*Client)

// WithSocket directs all commands at a dedicated tmux socket.
func WithSocket(path string) Option {
	return func(c *Client) { c.socket = path }
}

// WithHistoryLimit overrides the scrollback limit applied to new sessions.
func WithHistoryLimit(lines int) Option {
	return func(c *Client) { c.historyLimit = lines }
}

// WithTimeout overrides the per-call subprocess timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRunner injects a command runner. Tests use this to avoid spawning tmux.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// NewClient creates a tmux client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout:      DefaultTimeout,
		historyLimit: DefaultHistoryLimit,
		runner:       execRunner{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) run(args ...string) Result {
	if c.socket != "" {
		args = append([]string{"-S", c.socket}, args...)
	}
	return c.runner.Run(args, c.timeout)
}

// Available checks that tmux is installed and responding.
func (c *Client) Available() error {
	res := c.run("-V")
	if !res.Success {
		return fmt.Errorf("tmux not available: %s", res.Err)
	}
	return nil
}

// Exists reports whether a tmux session with the given name exists.
func (c *Client) Exists(name string) bool {
	return c.run("has-session", "-t", name).Success
}

// Create starts a new detached session running command in workingDir.
//
// history-limit is set globally before new-session in the same chained
// invocation because the limit is fixed at pane creation and cannot be raised
// afterwards. remain-on-exit is enabled right after creation so the pane
// lingers when its process exits and #{pane_dead}/#{pane_dead_status} stay
// queryable.
func (c *Client) Create(name string, command []string, workingDir string) Result {
	if _, err := os.Stat(workingDir); err != nil {
		return Result{Err: fmt.Sprintf("working directory does not exist: %s", workingDir)}
	}

	args := []string{
		"set-option", "-g", "history-limit", strconv.Itoa(c.historyLimit),
		";",
		"new-session",
		"-d",
		"-s", name,
		"-c", workingDir,
	}
	args = append(args, command...)

	res := c.run(args...)
	if !res.Success {
		tmuxLog.Warn("create_session_failed",
			slog.String("session", name),
			slog.String("error", res.Err))
		return res
	}

	c.run("set-option", "-t", name, "remain-on-exit", "on")
	return res
}

// Configure re-applies the session options zenportal depends on. Used when
// adopting sessions created outside zenportal; history-limit cannot be
// changed for an existing pane, so only remain-on-exit is set.
func (c *Client) Configure(name string) Result {
	return c.run("set-option", "-t", name, "remain-on-exit", "on")
}

// Kill terminates a tmux session.
func (c *Client) Kill(name string) Result {
	return c.run("kill-session", "-t", name)
}

// Capture returns the last lines of a session's pane output. Concurrent
// captures of the same pane collapse into a single subprocess.
func (c *Client) Capture(name string, lines int) Result {
	key := name + ":" + strconv.Itoa(lines)
	v, _, _ := c.captureGroup.Do(key, func() (any, error) {
		return c.run(
			"capture-pane",
			"-t", name,
			"-p",
			"-S", fmt.Sprintf("-%d", lines),
		), nil
	})
	return v.(Result)
}

// IsPaneDead reports whether the session's pane process has exited. Requires
// remain-on-exit, which Create sets.
func (c *Client) IsPaneDead(name string) bool {
	res := c.run("display-message", "-t", name, "-p", "#{pane_dead}")
	return res.Success && strings.TrimSpace(res.Output) == "1"
}

// PaneExitStatus returns the exit code of a dead pane's process. ok is false
// while the pane is still running or the session does not exist.
func (c *Client) PaneExitStatus(name string) (code int, ok bool) {
	res := c.run("display-message", "-t", name, "-p", "#{pane_dead_status}")
	if !res.Success {
		return 0, false
	}
	trimmed := strings.TrimSpace(res.Output)
	if trimmed == "" {
		return 0, false
	}
	code, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return code, true
}

// PanePID returns the PID of the process in the session's active pane.
func (c *Client) PanePID(name string) (pid int, ok bool) {
	res := c.run("display-message", "-t", name, "-p", "#{pane_pid}")
	if !res.Success {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(res.Output))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// PaneCommand returns the command running in the session's active pane,
// e.g. "claude" or "zsh".
func (c *Client) PaneCommand(name string) (string, bool) {
	res := c.run("display-message", "-t", name, "-p", "#{pane_current_command}")
	out := strings.TrimSpace(res.Output)
	if !res.Success || out == "" {
		return "", false
	}
	return out, true
}

// PaneCwd returns the working directory of the session's active pane.
func (c *Client) PaneCwd(name string) (string, bool) {
	res := c.run("display-message", "-t", name, "-p", "#{pane_current_path}")
	out := strings.TrimSpace(res.Output)
	if !res.Success || out == "" {
		return "", false
	}
	return out, true
}

// ListSessions returns all tmux session names.
func (c *Client) ListSessions() []string {
	res := c.run("list-sessions", "-F", "#{session_name}")
	if !res.Success || strings.TrimSpace(res.Output) == "" {
		return nil
	}
	return strings.Split(strings.TrimSpace(res.Output), "\n")
}

// ListExternalSessions returns session names without the given prefix, i.e.
// sessions not created by zenportal. Used when adopting foreign sessions.
func (c *Client) ListExternalSessions(excludePrefix string) []string {
	var external []string
	for _, name := range c.ListSessions() {
		if !strings.HasPrefix(name, excludePrefix) {
			external = append(external, name)
		}
	}
	return external
}

// ClearHistory clears a session's scrollback.
func (c *Client) ClearHistory(name string) Result {
	return c.run("clear-history", "-t", name)
}

// CleanupDeadSessions kills sessions with the given prefix whose panes are
// dead. Returns how many sessions were removed.
func (c *Client) CleanupDeadSessions(prefix string) int {
	count := 0
	for _, name := range c.ListSessions() {
		if strings.HasPrefix(name, prefix) && c.IsPaneDead(name) {
			c.ClearHistory(name)
			if c.Kill(name).Success {
				count++
			}
		}
	}
	return count
}

// SessionInfo is a point-in-time snapshot of one tmux session.
type SessionInfo struct {
	Name    string
	Command string
	Cwd     string
	IsDead  bool
	PID     int
}

// Info collects pane details for a session in one place.
func (c *Client) Info(name string) SessionInfo {
	info := SessionInfo{Name: name}
	info.Command, _ = c.PaneCommand(name)
	info.Cwd, _ = c.PaneCwd(name)
	info.IsDead = c.IsPaneDead(name)
	info.PID, _ = c.PanePID(name)
	return info
}

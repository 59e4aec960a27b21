package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/zenportal/zenportal/internal/logging"
	"github.com/zenportal/zenportal/internal/session"
	"github.com/zenportal/zenportal/internal/tmux"
)

const Version = "0.3.0"

var cliLog = logging.ForComponent(logging.CompCLI)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	stateStyles = map[session.State]lipgloss.Style{
		session.StateRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		session.StateCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		session.StateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		session.StatePaused:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		session.StateKilled:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		fmt.Printf("zenportal v%s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	case "list", "ls":
		cmdList(os.Args[2:])
	case "create", "new":
		cmdCreate(os.Args[2:])
	case "kill":
		cmdKill(os.Args[2:])
	case "pause":
		cmdPause(os.Args[2:])
	case "revive":
		cmdRevive(os.Args[2:])
	case "clean", "rm":
		cmdClean(os.Args[2:])
	case "output", "logs":
		cmdOutput(os.Args[2:])
	case "send":
		cmdSend(os.Args[2:])
	case "adopt":
		cmdAdopt(os.Args[2:])
	case "watch":
		cmdWatch(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`zenportal - tmux session fleet manager

Usage: zenportal <command> [flags]

Commands:
  list              List tracked sessions
  create            Create a new session
  kill <ref>        Kill a session and remove its worktree
  pause <ref>       Stop a session's process, keep its worktree
  revive <ref>      Restart a finished session
  clean <ref>       Remove a finished session's record and worktree
  output <ref>      Print the tail of a session's pane
  send <ref> <txt>  Type text into a session's pane
  adopt [tmux]      Track an existing tmux session; no argument lists them
  watch             Run the state watcher until interrupted
  version           Print version

A session <ref> is an ID, unique ID prefix, or exact name.
`)
}

// setup wires the orchestration layer for one CLI invocation.
func setup() *session.Manager {
	cfg, err := session.LoadConfig()
	if err != nil {
		fatal(err)
	}

	stateDir, err := session.DefaultStateDir()
	if err != nil {
		fatal(err)
	}

	logging.Init(logging.Config{
		LogDir: stateDir,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	client := tmux.NewClient()
	if err := client.Available(); err != nil {
		fatal(err)
	}

	m := session.NewManager(cfg, session.NewStateStore(stateDir), client)
	m.Restore()
	return m
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "zenportal: %v\n", err)
	logging.Shutdown()
	os.Exit(1)
}

func finish() {
	logging.Shutdown()
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func render(style lipgloss.Style, text string) string {
	if !isTTY() {
		return text
	}
	return style.Render(text)
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	all := fs.Bool("all", false, "include finished sessions")
	fs.Parse(args)

	m := setup()
	defer finish()

	// One immediate pass so the listing reflects reality, not the last
	// persisted snapshot.
	m.Watcher().RefreshNow()

	sessions := m.Sessions()
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}

	fmt.Printf("%s  %s  %s  %s  %s\n",
		render(headerStyle, pad("ID", 10)),
		render(headerStyle, pad("NAME", 20)),
		render(headerStyle, pad("STATE", 10)),
		render(headerStyle, pad("AGE", 8)),
		render(headerStyle, "DIR"))

	shown := 0
	for _, s := range sessions {
		if !*all && s.State != session.StateRunning && s.State != session.StatePaused {
			continue
		}
		stateStr := string(s.State)
		if style, ok := stateStyles[s.State]; ok {
			stateStr = render(style, pad(stateStr, 10))
		} else {
			stateStr = pad(stateStr, 10)
		}
		fmt.Printf("%s  %s  %s  %s  %s\n",
			pad(s.ShortID(), 10),
			pad(s.Name, 20),
			stateStr,
			pad(formatAge(s.Age()), 8),
			render(dimStyle, s.ResolvedWorkingDir))
		shown++
	}
	if shown == 0 {
		fmt.Println("no active sessions (use -all to include finished ones)")
		return
	}

	counts := m.CountByState()
	var parts []string
	for _, st := range []session.State{
		session.StateRunning, session.StatePaused, session.StateCompleted,
		session.StateFailed, session.StateKilled,
	} {
		if counts[st] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[st], st))
		}
	}
	fmt.Println(render(dimStyle, strings.Join(parts, ", ")))
}

func pad(s string, width int) string {
	runes := []rune(s)
	if len(runes) > width {
		return string(runes[:width-1]) + "…"
	}
	return s + strings.Repeat(" ", width-len(runes))
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "session display name (required)")
	prompt := fs.String("prompt", "", "initial prompt for assistant sessions")
	kind := fs.String("kind", "ai", "session kind: ai or shell")
	provider := fs.String("provider", "claude", "assistant provider: claude, codex, gemini")
	dir := fs.String("dir", "", "working directory override")
	model := fs.String("model", "", "model override")
	worktree := fs.String("worktree", "", "worktree override: on or off (default: config policy)")
	branch := fs.String("branch", "", "explicit worktree branch name")
	dangerous := fs.Bool("dangerously-skip-permissions", false, "pass permission bypass to the assistant")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "create: -name is required")
		os.Exit(1)
	}

	features := session.Features{
		WorkingDir:                 *dir,
		Model:                      *model,
		WorktreeBranch:             *branch,
		DangerouslySkipPermissions: *dangerous,
	}
	switch *worktree {
	case "":
	case "on", "true", "yes":
		yes := true
		features.UseWorktree = &yes
	case "off", "false", "no":
		no := false
		features.UseWorktree = &no
	default:
		fmt.Fprintf(os.Stderr, "create: invalid -worktree value %q\n", *worktree)
		os.Exit(1)
	}

	m := setup()
	defer finish()

	s, err := m.Create(session.CreateRequest{
		Name:     *name,
		Prompt:   *prompt,
		Kind:     session.Kind(*kind),
		Provider: session.Provider(*provider),
		Features: features,
	})
	if err != nil {
		fatal(err)
	}

	if s.State == session.StateFailed {
		fmt.Printf("session %s created but failed: %s\n", s.ShortID(), s.ErrorMessage)
		os.Exit(1)
	}
	fmt.Printf("created %s (tmux: %s)\n", s.DisplayTitle(), m.TmuxName(s))
	if s.ProxyWarning != "" {
		fmt.Printf("proxy warning: %s\n", s.ProxyWarning)
	}
	if s.HasWorktree() {
		fmt.Printf("worktree: %s (branch %s)\n", s.WorktreePath, s.WorktreeBranch)
	}
	fmt.Printf("attach with: tmux attach -t %s\n", m.TmuxName(s))
}

func cmdKill(args []string) {
	ref := requireRef("kill", args)
	m := setup()
	defer finish()

	s, err := m.Kill(ref)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("killed %s\n", s.DisplayTitle())
}

func cmdPause(args []string) {
	ref := requireRef("pause", args)
	m := setup()
	defer finish()

	s, err := m.Pause(ref)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("paused %s", s.DisplayTitle())
	if s.HasWorktree() {
		fmt.Printf(" (worktree kept at %s)", s.WorktreePath)
	}
	fmt.Println()
}

func cmdRevive(args []string) {
	ref := requireRef("revive", args)
	m := setup()
	defer finish()

	s, err := m.Revive(ref)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("revived %s\nattach with: tmux attach -t %s\n", s.DisplayTitle(), m.TmuxName(s))
}

func cmdClean(args []string) {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	dead := fs.Bool("dead", false, "also reap tmux sessions with dead panes")
	fs.Parse(args)

	m := setup()
	defer finish()

	if *dead {
		n := m.KillDead()
		fmt.Printf("reaped %d dead tmux session(s)\n", n)
		if fs.NArg() == 0 {
			return
		}
	}
	ref := requireRef("clean", fs.Args())
	if err := m.Clean(ref); err != nil {
		fatal(err)
	}
	fmt.Println("cleaned")
}

func cmdOutput(args []string) {
	fs := flag.NewFlagSet("output", flag.ExitOnError)
	lines := fs.Int("lines", 100, "number of scrollback lines")
	fs.Parse(args)
	ref := requireRef("output", fs.Args())

	m := setup()
	defer finish()

	out, err := m.Output(ref, *lines)
	if err != nil {
		fatal(err)
	}
	fmt.Print(out)
}

func cmdSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	interrupt := fs.Bool("interrupt", false, "send Ctrl-C instead of text")
	fs.Parse(args)
	ref := requireRef("send", fs.Args())

	m := setup()
	defer finish()

	if *interrupt {
		if err := m.Interrupt(ref); err != nil {
			fatal(err)
		}
		return
	}
	text := strings.Join(fs.Args()[1:], " ")
	if text == "" {
		fmt.Fprintln(os.Stderr, "send: no text given (use -interrupt to send Ctrl-C)")
		os.Exit(1)
	}
	if err := m.Send(ref, text); err != nil {
		fatal(err)
	}
}

func cmdAdopt(args []string) {
	fs := flag.NewFlagSet("adopt", flag.ExitOnError)
	name := fs.String("name", "", "display name (default: the tmux session name)")
	fs.Parse(args)

	m := setup()
	defer finish()

	// Without an argument, show what is there to adopt.
	if fs.NArg() < 1 {
		infos := m.ExternalSessions()
		if len(infos) == 0 {
			fmt.Println("no external tmux sessions")
			return
		}
		for _, info := range infos {
			fmt.Printf("%s  %s  %s\n",
				pad(info.Name, 20),
				pad(info.Command, 12),
				render(dimStyle, info.Cwd))
		}
		return
	}

	s, err := m.AdoptExternalTmux(fs.Arg(0), *name)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("adopted %s as %s\n", fs.Arg(0), s.DisplayTitle())
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	killOnExit := fs.Bool("kill-on-exit", false, "kill running sessions when the watcher stops")
	fs.Parse(args)

	m := setup()
	defer finish()

	// Reload in-memory state when another instance or a manual edit
	// rewrites the state file under us.
	sw, err := session.NewStorageWatcher(m.Store(), func() {
		m.Restore()
	})
	if err != nil {
		cliLog.Warn("storage_watch_unavailable", "error", err)
	} else {
		defer sw.Close()
	}

	m.Watcher().Start()
	fmt.Println("watching sessions (ctrl-c to stop)")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	m.Watcher().Stop()
	if *killOnExit {
		n := m.KillAll()
		fmt.Printf("killed %d running sessions\n", n)
	}
	fmt.Println("stopped")
}

func requireRef(cmd string, args []string) string {
	if len(args) < 1 || args[0] == "" {
		fmt.Fprintf(os.Stderr, "%s: session ref required\n", cmd)
		os.Exit(1)
	}
	return args[0]
}

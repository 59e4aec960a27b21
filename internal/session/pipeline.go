package session

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/zenportal/zenportal/internal/errs"
	"github.com/zenportal/zenportal/internal/logging"
	"github.com/zenportal/zenportal/internal/tmux"
)

var pipelineLog = logging.ForComponent(logging.CompPipeline)

// CreateRequest is the caller's input to the creation pipeline.
type CreateRequest struct {
	Name     string
	Prompt   string
	Kind     Kind
	Provider Provider
	Features Features
}

// createContext is the mutable record shared by pipeline steps. Each step
// reads what earlier steps produced and fills in its own slice.
type createContext struct {
	req      CreateRequest
	count    int
	cfg      Resolved
	workDir  string
	session  *Session
	command  []string
	tmuxName string
}

type pipelineStep struct {
	name string
	run  func(*createContext) error
}

// Pipeline builds sessions through an ordered series of steps with
// short-circuit failure. Once the session record exists, failures ride on
// the record (state failed, error message set) instead of surfacing as bare
// errors; before that, they are coded errors.
type Pipeline struct {
	config    *UserConfig
	worktrees *WorktreeManager
	tmuxCli   *tmux.Client
	steps     []pipelineStep

	// lookPath is swapped in tests to simulate missing binaries.
	lookPath func(string) (string, error)
}

// NewPipeline wires a creation pipeline.
func NewPipeline(config *UserConfig, worktrees *WorktreeManager, tmuxCli *tmux.Client) *Pipeline {
	p := &Pipeline{
		config:    config,
		worktrees: worktrees,
		tmuxCli:   tmuxCli,
		lookPath:  exec.LookPath,
	}
	p.steps = []pipelineStep{
		{"check_limit", p.stepCheckLimit},
		{"resolve_config", p.stepResolveConfig},
		{"build_session", p.stepBuildSession},
		{"setup_worktree", p.stepSetupWorktree},
		{"validate_binary", p.stepValidateBinary},
		{"validate_proxy", p.stepValidateProxy},
		{"build_command", p.stepBuildCommand},
		{"spawn", p.stepSpawn},
	}
	return p
}

// Create runs the pipeline. The returned error is non-nil only when no
// session record was built yet (currently just the limit check); any later
// failure is delivered as a session in failed state.
func (p *Pipeline) Create(req CreateRequest, currentCount int) (*Session, error) {
	ctx := &createContext{req: req, count: currentCount}

	for _, step := range p.steps {
		err := step.run(ctx)
		if err == nil {
			continue
		}
		if ctx.session == nil {
			pipelineLog.Warn("pipeline_rejected", "step", step.name, "error", err)
			return nil, err
		}
		pipelineLog.Warn("pipeline_failed",
			"step", step.name, "session", ctx.session.ShortID(), "error", err)
		ctx.session.MarkFailed(err.Error())
		return ctx.session, nil
	}

	return ctx.session, nil
}

func (p *Pipeline) stepCheckLimit(ctx *createContext) error {
	if ctx.count >= p.config.MaxSessions {
		return errs.Newf(errs.CodeLimitReached,
			"session limit reached (%d/%d)", ctx.count, p.config.MaxSessions).
			WithHint("clean a finished session or raise max_sessions")
	}
	return nil
}

func (p *Pipeline) stepResolveConfig(ctx *createContext) error {
	ctx.cfg = p.config.Resolve(ctx.req.Features)
	ctx.workDir = ctx.cfg.WorkingDir
	return nil
}

func (p *Pipeline) stepBuildSession(ctx *createContext) error {
	s := NewSession(ctx.req.Name, ctx.req.Prompt, ctx.req.Kind, ctx.req.Provider)
	s.ResolvedModel = ctx.cfg.Model
	s.DangerouslySkipPermissions = ctx.cfg.DangerouslySkipPermissions
	s.UsesProxy = ctx.cfg.UsesProxy && ctx.req.Kind == KindAI
	ctx.session = s
	return nil
}

func (p *Pipeline) stepSetupWorktree(ctx *createContext) error {
	// Best effort: on any internal failure the manager falls back to the
	// original directory, so this step cannot fail the pipeline.
	ctx.workDir = p.worktrees.SetupForSession(ctx.session, ctx.req.Features, ctx.workDir)
	ctx.session.ResolvedWorkingDir = ctx.workDir
	return nil
}

func (p *Pipeline) stepValidateBinary(ctx *createContext) error {
	bin, err := BinaryFor(ctx.req.Kind, ctx.req.Provider)
	if err != nil {
		return err
	}
	if _, err := p.lookPath(bin); err != nil {
		return errs.Newf(errs.CodeBinaryMissing,
			"required binary %q not found on PATH", bin)
	}
	if _, err := os.Stat(ctx.session.ResolvedWorkingDir); err != nil {
		return errs.Newf(errs.CodeWorkdirMissing,
			"working directory does not exist: %s", ctx.session.ResolvedWorkingDir)
	}
	return nil
}

func (p *Pipeline) stepValidateProxy(ctx *createContext) error {
	if !ctx.session.UsesProxy {
		return nil
	}
	v := NewProxyValidator(ctx.cfg.Proxy).Validate()
	if !v.OK() {
		ctx.session.ProxyWarning = v.Summary()
	}
	return nil
}

func (p *Pipeline) stepBuildCommand(ctx *createContext) error {
	cmd, err := BuildCreateCommand(ctx.session, ctx.cfg)
	if err != nil {
		return err
	}

	env := map[string]string{}
	if ctx.session.UsesProxy {
		env, err = BuildProxyEnv(ctx.cfg.Proxy)
		if err != nil {
			return fmt.Errorf("building proxy environment: %w", err)
		}
	}

	ctx.command = WrapWithBanner(cmd, RenderBanner(ctx.session), env)
	return nil
}

func (p *Pipeline) stepSpawn(ctx *createContext) error {
	ctx.tmuxName = ctx.session.TmuxName(p.config.SessionPrefix)
	res := p.tmuxCli.Create(ctx.tmuxName, ctx.command, ctx.workDir)
	if !res.Success {
		// A spawn failure never aborts the pipeline; the failed session
		// carries the error to the caller.
		ctx.session.MarkFailed(fmt.Sprintf("failed to start tmux session: %s", res.Err))
		return nil
	}
	pipelineLog.Info("session_spawned",
		"session", ctx.session.ShortID(), "tmux", ctx.tmuxName, "dir", ctx.workDir)
	return nil
}

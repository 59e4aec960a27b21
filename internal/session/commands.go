package session

import (
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/zenportal/zenportal/internal/errs"
)

// providerBinaries maps each session flavor to the executable it needs.
var providerBinaries = map[Provider]string{
	ProviderClaude: "claude",
	ProviderCodex:  "codex",
	ProviderGemini: "gemini",
}

const shellBinary = "zsh"

// BinaryFor returns the executable a session of this kind/provider runs.
func BinaryFor(kind Kind, provider Provider) (string, error) {
	if kind == KindShell {
		return shellBinary, nil
	}
	bin, ok := providerBinaries[provider]
	if !ok {
		return "", errs.Newf(errs.CodeBinaryMissing, "unknown provider %q", provider)
	}
	return bin, nil
}

// ValidateBinary checks the required executable is resolvable on PATH.
func ValidateBinary(kind Kind, provider Provider) error {
	bin, err := BinaryFor(kind, provider)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(bin); err != nil {
		return errs.Newf(errs.CodeBinaryMissing, "required binary %q not found on PATH", bin).
			WithHint(fmt.Sprintf("install %s or switch session kind", bin))
	}
	return nil
}

// BuildCreateCommand assembles the argv for a fresh session.
func BuildCreateCommand(s *Session, cfg Resolved) ([]string, error) {
	bin, err := BinaryFor(s.Kind, s.Provider)
	if err != nil {
		return nil, err
	}
	if s.Kind == KindShell {
		return []string{bin}, nil
	}

	cmd := []string{bin}
	if cfg.Model != "" {
		cmd = append(cmd, "--model", cfg.Model)
	}
	if cfg.DangerouslySkipPermissions {
		cmd = append(cmd, "--dangerously-skip-permissions")
	}
	if s.Prompt != "" {
		cmd = append(cmd, s.Prompt)
	}
	return cmd, nil
}

// BuildReviveCommand assembles the argv for restarting a finished session.
// Assistant sessions resume their prior conversation instead of starting a
// new one.
func BuildReviveCommand(s *Session) ([]string, error) {
	bin, err := BinaryFor(s.Kind, s.Provider)
	if err != nil {
		return nil, err
	}
	if s.Kind == KindShell {
		return []string{bin}, nil
	}

	cmd := []string{bin}
	if s.ResolvedModel != "" {
		cmd = append(cmd, "--model", s.ResolvedModel)
	}
	if s.DangerouslySkipPermissions {
		cmd = append(cmd, "--dangerously-skip-permissions")
	}
	switch s.Provider {
	case ProviderClaude:
		cmd = append(cmd, "--continue")
	case ProviderCodex:
		cmd = append(cmd, "resume", "--last")
	case ProviderGemini:
		// gemini has no resume; it starts fresh
	}
	return cmd, nil
}

// Environment values are interpolated into a shell command line, so they are
// validated against tight patterns instead of quoted.
var (
	apiKeyPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	modelPattern   = regexp.MustCompile(`^[A-Za-z0-9._/:-]+$`)
	baseURLPattern = regexp.MustCompile(`^https?://[A-Za-z0-9.-]+(:\d+)?(/[A-Za-z0-9._/-]*)?$`)
)

// BuildProxyEnv returns the environment overrides routing an assistant
// session through the billing proxy. Values that fail validation are an
// error; a malformed value silently dropped would route traffic to the
// wrong place.
func BuildProxyEnv(p ProxySettings) (map[string]string, error) {
	env := make(map[string]string)
	if !p.Enabled {
		return env, nil
	}

	if p.BaseURL != "" {
		if !baseURLPattern.MatchString(p.BaseURL) {
			return nil, fmt.Errorf("proxy base URL %q fails validation", p.BaseURL)
		}
		env["ANTHROPIC_BASE_URL"] = p.BaseURL
	}
	if p.APIKey != "" {
		if !apiKeyPattern.MatchString(p.APIKey) {
			return nil, fmt.Errorf("proxy API key contains invalid characters")
		}
		env["ANTHROPIC_AUTH_TOKEN"] = p.APIKey
	}
	if p.DefaultModel != "" {
		if !modelPattern.MatchString(p.DefaultModel) {
			return nil, fmt.Errorf("proxy model %q fails validation", p.DefaultModel)
		}
		env["ANTHROPIC_MODEL"] = p.DefaultModel
	}
	return env, nil
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WrapWithBanner wraps the session command so that attaching shows the
// session banner before the program's own output. The env overrides are
// applied via `env` inside the same shell so the exec'd program inherits
// them.
func WrapWithBanner(command []string, banner string, env map[string]string) []string {
	var sb strings.Builder
	sb.WriteString("printf '%s\\n' ")
	sb.WriteString(shellQuote(banner))
	sb.WriteString("; exec ")

	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("env ")
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(shellQuote(env[k]))
			sb.WriteString(" ")
		}
	}

	quoted := make([]string, len(command))
	for i, arg := range command {
		quoted[i] = shellQuote(arg)
	}
	sb.WriteString(strings.Join(quoted, " "))

	return []string{"bash", "-c", sb.String()}
}

package session

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/zenportal/zenportal/internal/logging"
)

var proxyLog = logging.ForComponent(logging.CompProxy)

const proxyDialTimeout = 2 * time.Second

// ProxyCheck is the outcome of validating one aspect of the proxy setup.
type ProxyCheck struct {
	Name    string
	OK      bool
	Message string
}

// ProxyValidation aggregates the checks. Validation is advisory: the
// pipeline records the summary as a warning and proceeds either way.
type ProxyValidation struct {
	Checks []ProxyCheck
}

// OK reports whether every check passed.
func (v ProxyValidation) OK() bool {
	for _, c := range v.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Summary renders a single-line report of the failed checks, or "" when all
// passed.
func (v ProxyValidation) Summary() string {
	var failed []string
	for _, c := range v.Checks {
		if !c.OK {
			failed = append(failed, fmt.Sprintf("%s: %s", c.Name, c.Message))
		}
	}
	return strings.Join(failed, "; ")
}

// ProxyValidator checks a billing proxy's reachability and configuration.
// The dialer is injectable for tests.
type ProxyValidator struct {
	settings ProxySettings
	dial     func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewProxyValidator creates a validator for the given settings.
func NewProxyValidator(settings ProxySettings) *ProxyValidator {
	return &ProxyValidator{
		settings: settings,
		dial:     net.DialTimeout,
	}
}

// Validate runs all checks. Never returns an error; degraded results show up
// as failed checks in the aggregate.
func (pv *ProxyValidator) Validate() ProxyValidation {
	var v ProxyValidation
	v.Checks = append(v.Checks, pv.checkConfiguration())
	v.Checks = append(v.Checks, pv.checkCredentials())
	v.Checks = append(v.Checks, pv.checkConnectivity())
	if !v.OK() {
		proxyLog.Warn("proxy_validation_issues", "summary", v.Summary())
	}
	return v
}

func (pv *ProxyValidator) checkConfiguration() ProxyCheck {
	check := ProxyCheck{Name: "configuration"}
	if pv.settings.BaseURL == "" {
		check.Message = "base URL not set"
		return check
	}
	u, err := url.Parse(pv.settings.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		check.Message = fmt.Sprintf("base URL %q is not a valid http(s) URL", pv.settings.BaseURL)
		return check
	}
	check.OK = true
	return check
}

func (pv *ProxyValidator) checkCredentials() ProxyCheck {
	check := ProxyCheck{Name: "credentials"}
	key := pv.settings.APIKey
	if key == "" {
		key = os.Getenv("OPENROUTER_API_KEY")
	}
	if key == "" {
		check.Message = "no API key configured and OPENROUTER_API_KEY unset"
		return check
	}
	// OpenRouter keys carry a fixed prefix; anything else is likely a
	// pasted key from the wrong provider.
	if !strings.HasPrefix(key, "sk-or-") {
		check.Message = "API key does not look like an OpenRouter key"
		return check
	}
	check.OK = true
	return check
}

func (pv *ProxyValidator) checkConnectivity() ProxyCheck {
	check := ProxyCheck{Name: "connectivity"}
	u, err := url.Parse(pv.settings.BaseURL)
	if err != nil || u.Host == "" {
		check.Message = "cannot derive host from base URL"
		return check
	}
	addr := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	conn, err := pv.dial("tcp", addr, proxyDialTimeout)
	if err != nil {
		check.Message = fmt.Sprintf("cannot reach %s: %v", addr, err)
		return check
	}
	conn.Close()
	check.OK = true
	return check
}

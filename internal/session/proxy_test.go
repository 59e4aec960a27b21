package session

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

func validatorWithDial(settings ProxySettings, err error) *ProxyValidator {
	pv := NewProxyValidator(settings)
	pv.dial = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		if err != nil {
			return nil, err
		}
		return fakeConn{}, nil
	}
	return pv
}

func TestProxyValidate(t *testing.T) {
	good := ProxySettings{
		Enabled: true,
		BaseURL: "http://localhost:4000",
		APIKey:  "sk-or-abc123",
	}

	t.Run("all checks pass", func(t *testing.T) {
		v := validatorWithDial(good, nil).Validate()
		if !v.OK() {
			t.Errorf("unexpected failures: %s", v.Summary())
		}
		if v.Summary() != "" {
			t.Errorf("summary should be empty, got %q", v.Summary())
		}
	})

	t.Run("unreachable proxy fails connectivity only", func(t *testing.T) {
		v := validatorWithDial(good, errors.New("connection refused")).Validate()
		if v.OK() {
			t.Fatal("expected failure")
		}
		if !strings.Contains(v.Summary(), "connectivity") {
			t.Errorf("summary should name the check: %s", v.Summary())
		}
		if strings.Contains(v.Summary(), "credentials") {
			t.Errorf("credentials should pass: %s", v.Summary())
		}
	})

	t.Run("wrong-provider key flagged", func(t *testing.T) {
		settings := good
		settings.APIKey = "sk-ant-wrong"
		v := validatorWithDial(settings, nil).Validate()
		if !strings.Contains(v.Summary(), "credentials") {
			t.Errorf("expected credentials failure: %s", v.Summary())
		}
	})

	t.Run("bad scheme flagged", func(t *testing.T) {
		settings := good
		settings.BaseURL = "ftp://localhost:4000"
		v := validatorWithDial(settings, nil).Validate()
		if !strings.Contains(v.Summary(), "configuration") {
			t.Errorf("expected configuration failure: %s", v.Summary())
		}
	})
}

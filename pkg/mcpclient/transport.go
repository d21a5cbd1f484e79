package mcpclient

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// AuthDecorator, when non-nil, is installed as the outermost
// http.RoundTripper for an HTTP transport; it injects
// "Authorization: Bearer <token>" using a live OAuthTokenManager. The
// bridge wires this in only for sessions bound to an OAuth profile.
type AuthDecorator func(req *http.Request) error

// BuildTransport constructs an mcp.Transport from a validated
// ServerConfig. For stdio it spawns the configured command under ctx
// (the subprocess dies with the context); for HTTP it layers a static
// header round-tripper and, if provided, an OAuth auth decorator, under
// the streamable HTTP client transport.
func BuildTransport(ctx context.Context, cfg ServerConfig, auth AuthDecorator) (mcp.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Stdio != nil {
		cmd := exec.CommandContext(ctx, cfg.Stdio.Command, cfg.Stdio.Args...)
		env := os.Environ()
		for k, v := range cfg.Stdio.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
		return &mcp.CommandTransport{Command: cmd}, nil
	}

	timeout := 30 * time.Second
	if cfg.HTTP.TimeoutS > 0 {
		timeout = time.Duration(cfg.HTTP.TimeoutS) * time.Second
	}

	var rt http.RoundTripper = http.DefaultTransport
	if len(cfg.HTTP.Headers) > 0 {
		rt = &headerRoundTripper{headers: cfg.HTTP.Headers, base: rt}
	}
	if auth != nil {
		rt = &authRoundTripper{decorate: auth, base: rt}
	}

	httpClient := &http.Client{Transport: rt, Timeout: timeout}
	return &mcp.StreamableClientTransport{
		Endpoint:   cfg.HTTP.URL,
		HTTPClient: httpClient,
	}, nil
}

type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}
	return rt.base.RoundTrip(req)
}

type authRoundTripper struct {
	decorate AuthDecorator
	base     http.RoundTripper
}

func (rt *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if err := rt.decorate(req); err != nil {
		return nil, err
	}
	return rt.base.RoundTrip(req)
}

// Package mcpclient defines the capability surface a session client and
// a direct (in-process) MCP client both implement, plus the transport
// factory that builds a real connection from a ServerConfig.
package mcpclient

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// ServerConfig is a tagged union: exactly one of Stdio or HTTP must be
// set. Modeling it as two optional pointer fields (rather than one
// flat struct with ambiguous zero values) makes "exactly one of" an
// explicit check in Validate instead of a guess from zero values.
type ServerConfig struct {
	Stdio *StdioConfig `json:"stdio,omitempty"`
	HTTP  *HTTPConfig  `json:"http,omitempty"`
}

// StdioConfig launches a local subprocess speaking MCP over stdin/stdout.
type StdioConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// HTTPConfig connects to a remote MCP server over streamable HTTP.
// Headers are the *redacted* view when this struct came off disk; the
// real values live in the keychain under session:<name>:headers.
type HTTPConfig struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	TimeoutS  int               `json:"timeout,omitempty"` // seconds, 0 = default
}

// Validate checks the exactly-one-of invariant and normalizes an HTTP
// URL: lowercased host, stripped userinfo/fragment, trailing slash
// removed when the path is empty. It mutates c.HTTP.URL in place.
func (c *ServerConfig) Validate() error {
	if c.Stdio != nil && c.HTTP != nil {
		return mcpcerr.NewClient("serverConfig must set exactly one of stdio or http, not both")
	}
	if c.Stdio == nil && c.HTTP == nil {
		return mcpcerr.NewClient("serverConfig must set one of stdio or http")
	}
	if c.Stdio != nil {
		if strings.TrimSpace(c.Stdio.Command) == "" {
			return mcpcerr.NewClient("stdio serverConfig requires a non-empty command")
		}
		return nil
	}
	normalized, err := normalizeURL(c.HTTP.URL)
	if err != nil {
		return err
	}
	c.HTTP.URL = normalized
	return nil
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", mcpcerr.WrapClient("parsing server url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", mcpcerr.NewClient(fmt.Sprintf("server url %q must use http or https", raw))
	}
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""
	if u.Path == "" || u.Path == "/" {
		u.Path = ""
	}
	return u.String(), nil
}

// RedactedHeaders returns a copy of headers with sensitive values
// replaced, for logging or on-disk storage. Sensitive carries
// additional case-insensitive names beyond the built-in set.
func RedactedHeaders(headers map[string]string, sensitive ...string) map[string]string {
	builtins := map[string]bool{"authorization": true, "cookie": true}
	extra := make(map[string]bool, len(sensitive))
	for _, s := range sensitive {
		extra[strings.ToLower(s)] = true
	}

	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if builtins[lower] || extra[lower] {
			out[k] = "<redacted>"
			continue
		}
		out[k] = v
	}
	return out
}

package provider

import (
	"fmt"
	"net/http"
	"runtime"

	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
)

// defaultAnthropicVersion is stamped on Anthropic-dialect calls when the
// client did not send its own anthropic-version header.
const defaultAnthropicVersion = "2023-06-01"

// uaString renders the outbound User-Agent for a UA mode. The codex and
// claude modes mimic the respective CLI fingerprints so upstreams gate
// features the same way they would for the real client; passthrough keeps
// whatever the client sent.
func uaString(mode string) string {
	switch mode {
	case "codex":
		return fmt.Sprintf("codex_cli_rs/0.36.0 (%s; %s) routecodex", runtime.GOOS, runtime.GOARCH)
	case "claude":
		return fmt.Sprintf("claude-cli/1.0.83 (%s; %s) routecodex", runtime.GOOS, runtime.GOARCH)
	case "passthrough":
		return ""
	default:
		return fmt.Sprintf("routecodex/%s (%s; %s) %s", constants.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	}
}

// applyHeaders stamps content negotiation, provider defaults, auth and
// per-request overrides, in that order. Later writers win so an explicit
// override can replace a provider default, but auth always comes from the
// credential snapshot, never from the client.
func (c *Client) applyHeaders(hr *http.Request, req Request) {
	hr.Header.Set("Content-Type", "application/json")
	if req.Stream {
		hr.Header.Set("Accept", "text/event-stream")
	} else {
		hr.Header.Set("Accept", "application/json")
	}

	for k, v := range c.def.Headers {
		hr.Header.Set(k, v)
	}

	if ua := uaString(req.UAMode); ua != "" {
		hr.Header.Set("User-Agent", ua)
	}

	// Echoed client headers (anthropic-version and the like). Auth-bearing
	// headers are dropped; the credential snapshot is the only auth source.
	for k, vs := range req.Headers {
		switch http.CanonicalHeaderKey(k) {
		case "Authorization", "X-Api-Key", "Content-Length", "Host":
			continue
		}
		for i, v := range vs {
			if i == 0 {
				hr.Header.Set(k, v)
			} else {
				hr.Header.Add(k, v)
			}
		}
	}

	c.applyAuth(hr, req)

	if c.def.Dialect == config.DialectAnthropicMessages && hr.Header.Get("anthropic-version") == "" {
		hr.Header.Set("anthropic-version", defaultAnthropicVersion)
	}
}

// applyAuth writes the provider's auth header from the credential
// snapshot. Anthropic API keys travel as x-api-key; everything else,
// including OAuth access tokens against Anthropic, uses Authorization.
func (c *Client) applyAuth(hr *http.Request, req Request) {
	snap := req.Credential
	if snap.AuthKind == config.AuthKindNone || snap.Secret == "" {
		return
	}
	if c.def.Dialect == config.DialectAnthropicMessages && snap.AuthKind == config.AuthKindAPIKey {
		hr.Header.Set("x-api-key", snap.Secret)
		return
	}
	typ := snap.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	hr.Header.Set("Authorization", typ+" "+snap.Secret)
}

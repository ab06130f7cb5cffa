package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"routecodex-go/internal/config"
)

// Option customizes Client creation.
type Option func(*Client)

// Client runs device-flow and PKCE token acquisition plus refresh against
// the endpoints a provider declares in its configuration. It holds no
// per-credential state; the credential store owns persistence.
type Client struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates an OAuth client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithNowFunc overrides the clock used for expiry calculations (testing).
func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func (c *Client) oauthConfig(ep config.OAuthEndpoints) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     ep.ClientID,
		ClientSecret: ep.ClientSecret,
		Scopes:       ep.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       ep.AuthURL,
			TokenURL:      ep.TokenURL,
			DeviceAuthURL: ep.DeviceCodeURL,
		},
	}
}

// clientContext routes oauth2 library calls through our HTTP client.
func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func fromOAuth2Token(tok *oauth2.Token) *Token {
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
}

// StartDeviceFlow requests a device/user code pair from the provider's
// device authorization endpoint.
func (c *Client) StartDeviceFlow(ctx context.Context, ep config.OAuthEndpoints) (*DeviceAuthorization, error) {
	if ep.DeviceCodeURL == "" {
		return nil, fmt.Errorf("device flow not configured: missing deviceCodeURL")
	}
	if ep.ClientID == "" {
		return nil, fmt.Errorf("device flow not configured: missing clientId")
	}

	resp, err := c.oauthConfig(ep).DeviceAuth(c.clientContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	log.WithFields(log.Fields{
		"verification_uri": resp.VerificationURI,
		"user_code":        resp.UserCode,
	}).Info("device flow started")
	return &DeviceAuthorization{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresAt:               resp.Expiry,
		Interval:                interval,
	}, nil
}

// PollDeviceToken polls the token endpoint until the user approves the
// device code, the code expires, or ctx is cancelled. Poll cadence follows
// the server-specified interval, including slow_down backoff.
func (c *Client) PollDeviceToken(ctx context.Context, ep config.OAuthEndpoints, da *DeviceAuthorization) (*Token, error) {
	resp := &oauth2.DeviceAuthResponse{
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		Expiry:                  da.ExpiresAt,
		Interval:                int64(da.Interval / time.Second),
	}
	tok, err := c.oauthConfig(ep).DeviceAccessToken(c.clientContext(ctx), resp)
	if err != nil {
		return nil, fmt.Errorf("device token poll failed: %w", err)
	}
	return fromOAuth2Token(tok), nil
}

// AuthCodeURL builds the PKCE authorization URL for the browser leg.
func (c *Client) AuthCodeURL(ep config.OAuthEndpoints, redirectURI, state, verifier string) string {
	cfg := c.oauthConfig(ep)
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", ChallengeS256(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode trades an authorization code plus its PKCE verifier for a
// token.
func (c *Client) ExchangeCode(ctx context.Context, ep config.OAuthEndpoints, redirectURI, code, verifier string) (*Token, error) {
	cfg := c.oauthConfig(ep)
	cfg.RedirectURL = redirectURI
	tok, err := cfg.Exchange(c.clientContext(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return fromOAuth2Token(tok), nil
}

// Refresh trades a refresh token for a fresh access token. The provider
// may rotate the refresh token; callers must persist the returned value.
func (c *Client) Refresh(ctx context.Context, ep config.OAuthEndpoints, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	if ep.TokenURL == "" {
		return nil, fmt.Errorf("refresh not configured: missing tokenURL")
	}

	data := url.Values{
		"client_id":     {ep.ClientID},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	if ep.ClientSecret != "" {
		data.Set("client_secret", ep.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", ep.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		code, desc := errorBody(body)
		if code != "" {
			return nil, fmt.Errorf("token refresh failed with status %d: %s (%s)", resp.StatusCode, code, desc)
		}
		return nil, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	tok := &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
	}
	if tok.RefreshToken == "" {
		// Providers that do not rotate refresh tokens omit the field.
		tok.RefreshToken = refreshToken
	}
	if tr.ExpiresIn > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// GenerateVerifier produces a PKCE code verifier.
func GenerateVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ChallengeS256 derives the S256 code challenge for a verifier.
func ChallengeS256(verifier string) string {
	sha := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sha[:])
}

package oauth

import (
	"encoding/json"
	"time"
)

// Token is the wire-level token material exchanged with a provider's
// token endpoint. ExpiresAt is absolute; zero means "does not expire".
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the access token is usable at now with the given
// refresh skew applied.
func (t *Token) Valid(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// DeviceAuthorization is the result of starting a device flow: the code
// the user must enter and where, plus the polling contract.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
	Interval                time.Duration
}

// tokenResponse mirrors the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// errorBody extracts the RFC 6749 error code from a non-200 response.
func errorBody(data []byte) (code, desc string) {
	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return "", ""
	}
	return tr.Error, tr.ErrorDesc
}

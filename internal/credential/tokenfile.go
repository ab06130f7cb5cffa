package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"routecodex-go/internal/oauth"
)

// tokenFile is the on-disk token store shape. Loading tolerates the expiry
// spellings external CLIs write; saving always emits expires_at.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`

	ExpiresAt  string `json:"expires_at,omitempty"`
	Expiry     string `json:"expiry,omitempty"`      // oauth2 library spelling
	ExpiryDate int64  `json:"expiry_date,omitempty"` // CLI spelling, ms since epoch
}

// LoadTokenFile parses an OAuth token store from disk.
func LoadTokenFile(path string) (*oauth.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", filepath.Base(path), err)
	}
	if tf.AccessToken == "" && tf.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s has no token material", filepath.Base(path))
	}

	tok := &oauth.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		TokenType:    tf.TokenType,
		Scope:        tf.Scope,
	}
	switch {
	case tf.ExpiresAt != "":
		t, err := time.Parse(time.RFC3339, tf.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("token file %s: bad expires_at: %w", filepath.Base(path), err)
		}
		tok.ExpiresAt = t
	case tf.Expiry != "":
		t, err := time.Parse(time.RFC3339, tf.Expiry)
		if err != nil {
			return nil, fmt.Errorf("token file %s: bad expiry: %w", filepath.Base(path), err)
		}
		tok.ExpiresAt = t
	case tf.ExpiryDate > 0:
		tok.ExpiresAt = time.UnixMilli(tf.ExpiryDate)
	}
	return tok, nil
}

// SaveTokenFile writes the token store atomically with 0600 permissions.
func SaveTokenFile(path string, tok *oauth.Token) error {
	if tok == nil {
		return fmt.Errorf("token is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("prepare token directory: %w", err)
	}
	tf := tokenFile{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        tok.Scope,
	}
	if !tok.ExpiresAt.IsZero() {
		tf.ExpiresAt = tok.ExpiresAt.UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename token: %w", err)
	}
	return nil
}

// LoadAPIKeyFile reads an API key stored as a bare string or as a small
// JSON document with an api_key/key field.
func LoadAPIKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", fmt.Errorf("key file %s is empty", filepath.Base(path))
	}
	if strings.HasPrefix(raw, "{") {
		var doc struct {
			APIKey string `json:"api_key"`
			Key    string `json:"key"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return "", fmt.Errorf("parse key file %s: %w", filepath.Base(path), err)
		}
		if doc.APIKey != "" {
			return doc.APIKey, nil
		}
		if doc.Key != "" {
			return doc.Key, nil
		}
		return "", fmt.Errorf("key file %s has no api_key field", filepath.Base(path))
	}
	return raw, nil
}

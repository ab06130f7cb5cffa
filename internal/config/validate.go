package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// ValidationError names the offending configuration path.
type ValidationError struct {
	Path    string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s=%s]: %s", e.Path, e.Value, e.Message)
}

// failFast returns the first fatal inconsistency in the resolved snapshot.
// Startup must abort without opening a socket when this errors.
func failFast(rc *RuntimeConfig) error {
	if err := validatePort(rc.HTTPServer.Port); err != nil {
		return ValidationError{Path: "httpServer.port", Value: strconv.Itoa(rc.HTTPServer.Port), Message: err.Error()}
	}

	if len(rc.Providers) == 0 {
		return ValidationError{Path: "providers", Message: "at least one provider is required"}
	}

	for id, p := range rc.Providers {
		if p.BaseURL == "" {
			return ValidationError{Path: "providers." + id + ".baseURL", Message: "base URL is required"}
		}
		if _, err := url.Parse(p.BaseURL); err != nil {
			return ValidationError{Path: "providers." + id + ".baseURL", Value: p.BaseURL, Message: "invalid URL"}
		}
		if len(p.Models) == 0 {
			return ValidationError{Path: "providers." + id + ".models", Message: "at least one model is required"}
		}
	}

	// Every pipeline's references must resolve.
	for _, p := range rc.Pipelines {
		if _, ok := rc.Providers[p.ProviderID]; !ok {
			return ValidationError{Path: "pipelines." + p.ID, Value: p.ProviderID, Message: "provider does not exist"}
		}
		if _, ok := rc.Credentials[p.CredentialID]; !ok {
			return ValidationError{Path: "pipelines." + p.ID, Value: p.CredentialID, Message: "credential does not exist"}
		}
	}

	// Every routing entry must point at an expanded pipeline, and
	// categories must come from the closed set.
	for category, targets := range rc.Routing {
		if !isKnownCategory(category) {
			return ValidationError{Path: "routing." + category, Message: "unknown routing category"}
		}
		if len(targets) == 0 {
			return ValidationError{Path: "routing." + category, Message: "pool must not be empty"}
		}
		for i, t := range targets {
			if _, ok := rc.Pipeline(t.PipelineID); !ok {
				return ValidationError{
					Path:    fmt.Sprintf("routing.%s[%d]", category, i),
					Value:   t.PipelineID,
					Message: "pipeline does not exist",
				}
			}
		}
	}
	if len(rc.Routing) == 0 {
		return ValidationError{Path: "routing", Message: "routing table is empty"}
	}
	if _, ok := rc.Routing[CategoryDefault]; !ok {
		return ValidationError{Path: "routing.default", Message: "a default pool is required"}
	}

	// OAuth credentials need endpoints and a readable token store.
	for id, cred := range rc.Credentials {
		switch cred.AuthKind {
		case AuthKindOAuthDevice, AuthKindOAuthPKCE:
			prov := rc.Providers[cred.ProviderID]
			if prov.OAuth.TokenURL == "" {
				return ValidationError{Path: "providers." + cred.ProviderID + ".auth.tokenURL", Message: "required for oauth credentials"}
			}
			if cred.AuthKind == AuthKindOAuthDevice && prov.OAuth.DeviceCodeURL == "" {
				return ValidationError{Path: "providers." + cred.ProviderID + ".auth.deviceCodeURL", Message: "required for device-flow credentials"}
			}
			if prov.OAuth.ClientID == "" {
				return ValidationError{Path: "providers." + cred.ProviderID + ".auth.clientId", Message: "required for oauth credentials"}
			}
			if _, err := os.Stat(cred.TokenFile); err != nil {
				return ValidationError{Path: "credentials." + id, Value: cred.TokenFile, Message: "credential file missing"}
			}
		case AuthKindAPIKey:
			if cred.TokenFile != "" {
				if _, err := os.Stat(cred.TokenFile); err != nil {
					return ValidationError{Path: "credentials." + id, Value: cred.TokenFile, Message: "credential file missing"}
				}
			} else if strings.TrimSpace(cred.SecretRef) == "" {
				return ValidationError{Path: "credentials." + id, Message: "empty api key"}
			}
		}
	}

	// Classification rules must target known categories.
	for i, rule := range rc.Classify {
		if !isKnownCategory(rule.Category) {
			return ValidationError{
				Path:    fmt.Sprintf("classify.rules[%d].category", i),
				Value:   rule.Category,
				Message: "unknown routing category",
			}
		}
	}

	if rc.Storage.Backend != "" && !isKnownBackend(rc.Storage.Backend) {
		return ValidationError{Path: "storage.backend", Value: rc.Storage.Backend,
			Message: "must be one of: file, redis, mongodb, postgres, git"}
	}
	return nil
}

// validateRuntime surfaces non-fatal findings.
func validateRuntime(rc *RuntimeConfig) []Warning {
	var warnings []Warning

	if rc.HTTPServer.APIKey == "" {
		warnings = append(warnings, Warning{Path: "httpServer.apiKey", Message: "gateway auth disabled, all clients accepted"})
	}
	for _, category := range KnownCategories {
		if _, ok := rc.Routing[category]; !ok && category != CategoryDefault {
			warnings = append(warnings, Warning{Path: "routing." + category, Message: "category not declared, requests fall back to default"})
		}
	}
	if rc.Gateway.RateLimitEnabled && rc.Gateway.RateLimitRPS <= 0 {
		warnings = append(warnings, Warning{Path: "rateLimit.rps", Message: "rate limiting enabled with non-positive rps, limiter disabled"})
	}

	switch rc.Storage.Backend {
	case "redis":
		if rc.Storage.RedisAddr == "" {
			warnings = append(warnings, Warning{Path: "storage.redisAddr", Message: "redis backend without address, falling back to file backend"})
		}
	case "mongodb":
		if rc.Storage.MongoURI == "" {
			warnings = append(warnings, Warning{Path: "storage.mongoURI", Message: "mongodb backend without URI, falling back to file backend"})
		}
	case "postgres":
		if rc.Storage.PostgresDSN == "" {
			warnings = append(warnings, Warning{Path: "storage.postgresDSN", Message: "postgres backend without DSN, falling back to file backend"})
		}
	}
	return warnings
}

func validatePort(port int) error {
	if port == 0 {
		return fmt.Errorf("port cannot be empty")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func isKnownCategory(category string) bool {
	for _, c := range KnownCategories {
		if c == category {
			return true
		}
	}
	return false
}

func isKnownBackend(backend string) bool {
	switch backend {
	case "file", "redis", "mongodb", "postgres", "git":
		return true
	}
	return false
}

package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// UserFileConfig is the on-disk schema of <home>/.routecodex/config.json.
type UserFileConfig struct {
	HTTPServer   HTTPServerConfig           `json:"httpServer" yaml:"httpServer"`
	QuotaRouting bool                       `json:"quotaRouting" yaml:"quotaRouting"`
	Providers    map[string]ProviderFileDef `json:"providers" yaml:"providers"`
	Routing      map[string][]RouteEntry    `json:"routing" yaml:"routing"`
	Storage      StorageConfig              `json:"storage" yaml:"storage"`
	Debug        bool                       `json:"debug" yaml:"debug"`
	LogFile      string                     `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	RateLimit    RateLimitFileConfig        `json:"rateLimit" yaml:"rateLimit"`
	Management   ManagementFileConfig       `json:"management" yaml:"management"`
}

// RateLimitFileConfig enables the gateway-side token bucket.
type RateLimitFileConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	RPS     int  `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst   int  `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// ManagementFileConfig protects the /v0/management surface.
type ManagementFileConfig struct {
	Key     string `json:"key,omitempty" yaml:"key,omitempty"`
	KeyHash string `json:"keyHash,omitempty" yaml:"keyHash,omitempty"`
}

// ProviderFileDef is the user-facing provider declaration.
type ProviderFileDef struct {
	BaseURL   string                  `json:"baseURL" yaml:"baseURL"`
	Dialect   string                  `json:"dialect" yaml:"dialect"` // "openai" | "anthropic" | "codex"
	TimeoutMs int                     `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Headers   map[string]string       `json:"headers,omitempty" yaml:"headers,omitempty"`
	Auth      AuthFileDef             `json:"auth" yaml:"auth"`
	Models    map[string]ModelFileDef `json:"models" yaml:"models"`
	Stages    *StageConfigs           `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// AuthFileDef declares provider credentials. Inline keys and key files are
// enumerated in source order; the position determines the key alias.
type AuthFileDef struct {
	Kind       string   `json:"kind" yaml:"kind"`
	Keys       []string `json:"keys,omitempty" yaml:"keys,omitempty"`
	KeyFiles   []string `json:"keyFiles,omitempty" yaml:"keyFiles,omitempty"`
	TokenFiles []string `json:"tokenFiles,omitempty" yaml:"tokenFiles,omitempty"`

	DeviceCodeURL string   `json:"deviceCodeURL,omitempty" yaml:"deviceCodeURL,omitempty"`
	AuthURL       string   `json:"authURL,omitempty" yaml:"authURL,omitempty"`
	TokenURL      string   `json:"tokenURL,omitempty" yaml:"tokenURL,omitempty"`
	ClientID      string   `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	ClientSecret  string   `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	Scopes        []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// ModelFileDef is the user-facing model declaration. Capability pointers
// distinguish "unset" (defaults apply) from explicit false.
type ModelFileDef struct {
	UpstreamID       string `json:"upstreamId,omitempty" yaml:"upstreamId,omitempty"`
	MaxContextTokens int    `json:"maxContextTokens,omitempty" yaml:"maxContextTokens,omitempty"`
	Streaming        *bool  `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	Tools            *bool  `json:"tools,omitempty" yaml:"tools,omitempty"`
	Vision           *bool  `json:"vision,omitempty" yaml:"vision,omitempty"`
	Thinking         bool   `json:"thinking,omitempty" yaml:"thinking,omitempty"`
}

// RouteEntry is one pool member: either a bare dotted target string or an
// object carrying an explicit weight.
type RouteEntry struct {
	Target string `json:"target" yaml:"target"`
	Weight int    `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// UnmarshalJSON accepts "provider.model.keyN" or {"target":..,"weight":..}.
func (e *RouteEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		e.Target = s
		e.Weight = 0
		return nil
	}
	type plain RouteEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = RouteEntry(p)
	return nil
}

// UnmarshalYAML mirrors the JSON union for YAML configs.
func (e *RouteEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		e.Target = value.Value
		e.Weight = 0
		return nil
	case yaml.MappingNode:
		type plain RouteEntry
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		*e = RouteEntry(p)
		return nil
	default:
		return fmt.Errorf("routing entry must be a string or a mapping")
	}
}

// SystemFileConfig is the system modules configuration: classification
// rules and stage defaults shipped with the deployment.
type SystemFileConfig struct {
	Classify ClassifyFileConfig `json:"classify" yaml:"classify"`
	Stages   StageConfigs       `json:"stages" yaml:"stages"`
	Prompts  map[string]string  `json:"prompts,omitempty" yaml:"prompts,omitempty"`
}

// ClassifyFileConfig declares the ordered rule table.
type ClassifyFileConfig struct {
	LongContextTokens int            `json:"longContextTokens,omitempty" yaml:"longContextTokens,omitempty"`
	Rules             []ClassifyRule `json:"rules" yaml:"rules"`
}

// defaultClassifyRules back the rule table when the system config declares
// none. The heuristic is deployment input; these are just the shipped
// defaults.
func defaultClassifyRules(longContextTokens int) []ClassifyRule {
	if longContextTokens <= 0 {
		longContextTokens = 32000
	}
	boolPtr := func(b bool) *bool { return &b }
	return []ClassifyRule{
		{Category: CategoryVision, HasVision: boolPtr(true)},
		{Category: CategoryWebSearch, WebSearch: boolPtr(true)},
		{Category: CategoryBackground, Background: boolPtr(true)},
		{Category: CategoryThinking, Thinking: boolPtr(true)},
		{Category: CategoryLongContext, MinTokens: longContextTokens},
		{Category: CategoryCoding, ToolsPresent: boolPtr(true)},
		{Category: CategoryDefault},
	}
}

package config

import (
	"fmt"
	"time"
)

// Dialect identifies a wire protocol spoken by a client surface or an
// upstream provider.
type Dialect string

const (
	DialectOpenAIChat        Dialect = "openaiChat"
	DialectAnthropicMessages Dialect = "anthropicMessages"
	DialectCodexResponses    Dialect = "codexResponses"
)

// AuthKind enumerates how a credential authenticates against its provider.
type AuthKind string

const (
	AuthKindAPIKey      AuthKind = "apiKey"
	AuthKindOAuthDevice AuthKind = "oauthDevice"
	AuthKindOAuthPKCE   AuthKind = "oauthPKCE"
	AuthKindNone        AuthKind = "none"
)

// Routing categories form a closed set; the classifier only ever yields
// one of these.
const (
	CategoryDefault     = "default"
	CategoryLongContext = "longContext"
	CategoryThinking    = "thinking"
	CategoryCoding      = "coding"
	CategoryBackground  = "background"
	CategoryWebSearch   = "websearch"
	CategoryVision      = "vision"
)

// KnownCategories lists every routing category the table may declare.
var KnownCategories = []string{
	CategoryDefault, CategoryLongContext, CategoryThinking,
	CategoryCoding, CategoryBackground, CategoryWebSearch, CategoryVision,
}

// ModelDef describes one upstream model and its capabilities.
type ModelDef struct {
	ID               string `json:"id" yaml:"id"`
	UpstreamID       string `json:"upstreamId,omitempty" yaml:"upstreamId,omitempty"`
	MaxContextTokens int    `json:"maxContextTokens,omitempty" yaml:"maxContextTokens,omitempty"`
	Streaming        bool   `json:"streaming" yaml:"streaming"`
	Tools            bool   `json:"tools" yaml:"tools"`
	Vision           bool   `json:"vision" yaml:"vision"`
	Thinking         bool   `json:"thinking,omitempty" yaml:"thinking,omitempty"`
}

// OAuthEndpoints carries the endpoints for device/PKCE token acquisition.
type OAuthEndpoints struct {
	DeviceCodeURL string   `json:"deviceCodeURL,omitempty" yaml:"deviceCodeURL,omitempty"`
	AuthURL       string   `json:"authURL,omitempty" yaml:"authURL,omitempty"`
	TokenURL      string   `json:"tokenURL,omitempty" yaml:"tokenURL,omitempty"`
	ClientID      string   `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	ClientSecret  string   `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	Scopes        []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// ProviderDef is the resolved definition of one upstream provider.
type ProviderDef struct {
	ID        string
	BaseURL   string
	Dialect   Dialect
	TimeoutMs int
	Headers   map[string]string
	Models    []ModelDef
	OAuth     OAuthEndpoints
}

// Timeout returns the provider call budget.
func (p ProviderDef) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Model looks up a model definition by its client-facing ID.
func (p ProviderDef) Model(id string) (ModelDef, bool) {
	for _, m := range p.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelDef{}, false
}

// CredentialDef names one credential of a provider. Only the alias and the
// secret reference travel through configuration artifacts; the secret
// itself stays in the credential store.
type CredentialDef struct {
	ID         string
	ProviderID string
	AuthKind   AuthKind
	AliasIndex int    // 1-based position within the provider
	Alias      string // "key1".."keyN"
	SecretRef  string // inline literal for apiKey, token file path for oauth
	TokenFile  string // resolved on-disk token store (oauth kinds)
}

// StageConfigs carries the four per-pipeline stage configurations.
type StageConfigs struct {
	LLMSwitch     LLMSwitchConfig     `json:"llmSwitch" yaml:"llmSwitch"`
	Workflow      WorkflowConfig      `json:"workflow" yaml:"workflow"`
	Compatibility CompatibilityConfig `json:"compatibility" yaml:"compatibility"`
	Provider      ProviderStageConfig `json:"provider" yaml:"provider"`
}

// LLMSwitchConfig controls system-prompt replacement in stage 1.
type LLMSwitchConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	PromptSource string `json:"promptSource,omitempty" yaml:"promptSource,omitempty"` // "codex" | "claude"
	UAMode       string `json:"uaMode,omitempty" yaml:"uaMode,omitempty"`
}

// WorkflowRule is one rule-based request transformation in stage 2.
type WorkflowRule struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Replace string `json:"replace,omitempty" yaml:"replace,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// WorkflowConfig controls stage 2 shaping.
type WorkflowConfig struct {
	StripNonFinalToolCalls bool           `json:"stripNonFinalToolCalls" yaml:"stripNonFinalToolCalls"`
	InjectClockScope       bool           `json:"injectClockScope" yaml:"injectClockScope"`
	Rules                  []WorkflowRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// CompatibilityConfig controls stage 3 field adaptation.
type CompatibilityConfig struct {
	Profile      string            `json:"profile,omitempty" yaml:"profile,omitempty"`
	FieldRenames map[string]string `json:"fieldRenames,omitempty" yaml:"fieldRenames,omitempty"`
	DropFields   []string          `json:"dropFields,omitempty" yaml:"dropFields,omitempty"`
}

// ProviderStageConfig controls stage 4 transport behavior.
type ProviderStageConfig struct {
	MaxBodyBytes int  `json:"maxBodyBytes,omitempty" yaml:"maxBodyBytes,omitempty"`
	FakeStream   bool `json:"fakeStream,omitempty" yaml:"fakeStream,omitempty"`
}

// PipelineDef binds provider + model + credential + stage configs. The ID
// is the dotted target "provider.model.keyN".
type PipelineDef struct {
	ID           string
	ProviderID   string
	ModelID      string
	CredentialID string
	Weight       int
	Stages       StageConfigs
}

// RouteTarget is one weighted pool entry.
type RouteTarget struct {
	PipelineID string
	Weight     int
}

// HTTPServerConfig is the gateway listener surface.
type HTTPServerConfig struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
}

// Addr renders host:port for net listeners.
func (h HTTPServerConfig) Addr() string { return fmt.Sprintf("%s:%d", h.Host, h.Port) }

// GatewayConfig groups operational knobs outside the routing core.
type GatewayConfig struct {
	Debug             bool
	LogFile           string
	RateLimitEnabled  bool
	RateLimitRPS      int
	RateLimitBurst    int
	ManagementKey     string
	ManagementKeyHash string
}

// StorageConfig selects the persistent state backend.
type StorageConfig struct {
	Backend       string `json:"backend,omitempty" yaml:"backend,omitempty"`
	BaseDir       string `json:"baseDir,omitempty" yaml:"baseDir,omitempty"`
	RedisAddr     string `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDB,omitempty" yaml:"redisDB,omitempty"`
	RedisPrefix   string `json:"redisPrefix,omitempty" yaml:"redisPrefix,omitempty"`
	MongoURI      string `json:"mongoURI,omitempty" yaml:"mongoURI,omitempty"`
	MongoDatabase string `json:"mongoDatabase,omitempty" yaml:"mongoDatabase,omitempty"`
	PostgresDSN   string `json:"postgresDSN,omitempty" yaml:"postgresDSN,omitempty"`
	GitDir        string `json:"gitDir,omitempty" yaml:"gitDir,omitempty"`
	GitRemoteURL  string `json:"gitRemoteURL,omitempty" yaml:"gitRemoteURL,omitempty"`
	GitBranch     string `json:"gitBranch,omitempty" yaml:"gitBranch,omitempty"`
	GitUsername   string `json:"gitUsername,omitempty" yaml:"gitUsername,omitempty"`
	GitPassword   string `json:"gitPassword,omitempty" yaml:"gitPassword,omitempty"`
	GitAuthorName string `json:"gitAuthorName,omitempty" yaml:"gitAuthorName,omitempty"`
	GitAuthorMail string `json:"gitAuthorEmail,omitempty" yaml:"gitAuthorEmail,omitempty"`
}

// ClassifyRule is one ordered classification rule. Zero-valued predicates
// are ignored; all present predicates must match. First matching rule wins.
type ClassifyRule struct {
	Category     string  `json:"category" yaml:"category"`
	Dialect      Dialect `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	ModelPattern string  `json:"modelPattern,omitempty" yaml:"modelPattern,omitempty"`
	ToolsPresent *bool   `json:"toolsPresent,omitempty" yaml:"toolsPresent,omitempty"`
	HasVision    *bool   `json:"hasVision,omitempty" yaml:"hasVision,omitempty"`
	MinTokens    int     `json:"minTokens,omitempty" yaml:"minTokens,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Thinking     *bool   `json:"thinking,omitempty" yaml:"thinking,omitempty"`
	Background   *bool   `json:"background,omitempty" yaml:"background,omitempty"`
	WebSearch    *bool   `json:"websearch,omitempty" yaml:"websearch,omitempty"`
}

// RuntimeConfig is the immutable snapshot resolved from user + system
// config and the frozen environment. It is never mutated after Resolve;
// swaps replace the whole pointer.
type RuntimeConfig struct {
	Version             int64
	ResolvedAt          time.Time
	Providers           map[string]ProviderDef
	Credentials         map[string]CredentialDef
	Pipelines           []PipelineDef
	Routing             map[string][]RouteTarget
	HTTPServer          HTTPServerConfig
	QuotaRoutingEnabled bool
	Gateway             GatewayConfig
	Storage             StorageConfig
	Classify            []ClassifyRule
	Env                 FrozenEnv
	HomeDir             string // <home>/.routecodex
	AuthDir             string // <home>/.routecodex/auth
}

// Pipeline returns the definition for a pipeline ID.
func (rc *RuntimeConfig) Pipeline(id string) (PipelineDef, bool) {
	for _, p := range rc.Pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return PipelineDef{}, false
}

// Pool returns the ordered targets for a category.
func (rc *RuntimeConfig) Pool(category string) []RouteTarget {
	return rc.Routing[category]
}

// HasCategory reports whether the routing table declares the category.
func (rc *RuntimeConfig) HasCategory(category string) bool {
	_, ok := rc.Routing[category]
	return ok
}

// Warning is a non-fatal finding surfaced by Resolve.
type Warning struct {
	Path    string
	Message string
}

func (w Warning) String() string { return fmt.Sprintf("%s: %s", w.Path, w.Message) }

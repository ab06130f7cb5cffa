package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

var snapshotCounter atomic.Int64

// Resolve merges user + system config and the frozen environment into an
// immutable RuntimeConfig. Any schema violation, dangling reference,
// missing credential file or invalid port is fatal: the error names the
// offending path and the caller must not open a server socket.
func Resolve(userPath, systemPath string) (*RuntimeConfig, []Warning, error) {
	env := freezeEnv()

	if userPath == "" {
		userPath = env.ConfigPath
	}
	if userPath == "" {
		userPath = DefaultUserConfigPath()
	}
	userPath, err := expandPath(userPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config path: %w", err)
	}

	user, err := readUserConfig(userPath)
	if err != nil {
		return nil, nil, err
	}
	system, err := readSystemConfig(systemPath)
	if err != nil {
		return nil, nil, err
	}

	rc := &RuntimeConfig{
		Version:     snapshotCounter.Add(1),
		ResolvedAt:  time.Now().UTC(),
		Providers:   make(map[string]ProviderDef),
		Credentials: make(map[string]CredentialDef),
		Routing:     make(map[string][]RouteTarget),
		Env:         env,
		HomeDir:     filepath.Dir(userPath),
	}
	rc.AuthDir = filepath.Join(rc.HomeDir, "auth")

	var warnings []Warning

	// Listener: environment beats file for host/port.
	rc.HTTPServer = user.HTTPServer
	if rc.HTTPServer.Host == "" {
		rc.HTTPServer.Host = "127.0.0.1"
	}
	if env.HTTPHost != "" {
		rc.HTTPServer.Host = env.HTTPHost
	}
	if env.Port > 0 {
		rc.HTTPServer.Port = env.Port
	}
	rc.QuotaRoutingEnabled = user.QuotaRouting

	rc.Gateway = GatewayConfig{
		Debug:             user.Debug,
		LogFile:           user.LogFile,
		RateLimitEnabled:  user.RateLimit.Enabled,
		RateLimitRPS:      user.RateLimit.RPS,
		RateLimitBurst:    user.RateLimit.Burst,
		ManagementKey:     user.Management.Key,
		ManagementKeyHash: user.Management.KeyHash,
	}
	if user.LogFile != "" {
		if rc.Gateway.LogFile, err = expandPath(user.LogFile); err != nil {
			return nil, nil, fmt.Errorf("logFile: %w", err)
		}
	}

	rc.Storage = user.Storage
	if env.StorageBackend != "" {
		rc.Storage.Backend = env.StorageBackend
	}
	if env.RedisURL != "" {
		rc.Storage.RedisAddr = env.RedisURL
	}
	if env.MongoURI != "" {
		rc.Storage.MongoURI = env.MongoURI
	}
	if env.PostgresDSN != "" {
		rc.Storage.PostgresDSN = env.PostgresDSN
	}
	if env.GitDir != "" {
		rc.Storage.GitDir = env.GitDir
	}
	if rc.Storage.Backend == "" {
		rc.Storage.Backend = "file"
	}
	if rc.Storage.BaseDir == "" {
		rc.Storage.BaseDir = filepath.Join(rc.HomeDir, "state")
	}

	// Providers, credential aliases, pipeline expansion.
	for providerID, pf := range user.Providers {
		def, creds, err := resolveProvider(rc, providerID, pf)
		if err != nil {
			return nil, nil, err
		}
		rc.Providers[providerID] = def
		for _, c := range creds {
			rc.Credentials[c.ID] = c
		}
	}

	stageDefaults := system.Stages
	applyEnvStageOverrides(&stageDefaults, env)
	rc.Pipelines = expandPipelines(rc, user, stageDefaults)

	// Routing table resolution against the expanded pipelines.
	for category, entries := range user.Routing {
		targets, err := resolveRoutes(rc, category, entries)
		if err != nil {
			return nil, nil, err
		}
		rc.Routing[category] = targets
	}

	// Classification rule table: system config wins, defaults otherwise.
	rc.Classify = system.Classify.Rules
	if len(rc.Classify) == 0 {
		rc.Classify = defaultClassifyRules(system.Classify.LongContextTokens)
	}

	warnings = append(warnings, validateRuntime(rc)...)
	if err := failFast(rc); err != nil {
		return nil, warnings, err
	}
	return rc, warnings, nil
}

// resolveProvider normalizes one provider declaration: dialect parsing,
// model catalog ordering, and key-alias assignment in source order.
func resolveProvider(rc *RuntimeConfig, providerID string, pf ProviderFileDef) (ProviderDef, []CredentialDef, error) {
	dialect, err := parseDialect(pf.Dialect)
	if err != nil {
		return ProviderDef{}, nil, fmt.Errorf("providers.%s.dialect: %w", providerID, err)
	}

	def := ProviderDef{
		ID:        providerID,
		BaseURL:   strings.TrimRight(pf.BaseURL, "/"),
		Dialect:   dialect,
		TimeoutMs: pf.TimeoutMs,
		Headers:   pf.Headers,
		OAuth: OAuthEndpoints{
			DeviceCodeURL: pf.Auth.DeviceCodeURL,
			AuthURL:       pf.Auth.AuthURL,
			TokenURL:      pf.Auth.TokenURL,
			ClientID:      pf.Auth.ClientID,
			ClientSecret:  pf.Auth.ClientSecret,
			Scopes:        pf.Auth.Scopes,
		},
	}

	modelIDs := make([]string, 0, len(pf.Models))
	for id := range pf.Models {
		modelIDs = append(modelIDs, id)
	}
	sort.Strings(modelIDs)
	for _, id := range modelIDs {
		mf := pf.Models[id]
		def.Models = append(def.Models, ModelDef{
			ID:               id,
			UpstreamID:       mf.UpstreamID,
			MaxContextTokens: mf.MaxContextTokens,
			Streaming:        boolOrDefault(mf.Streaming, true),
			Tools:            boolOrDefault(mf.Tools, true),
			Vision:           boolOrDefault(mf.Vision, false),
			Thinking:         mf.Thinking,
		})
	}

	creds, err := assignKeyAliases(rc, providerID, pf.Auth)
	if err != nil {
		return ProviderDef{}, nil, err
	}
	return def, creds, nil
}

// assignKeyAliases enumerates a provider's secret entries in source order
// and produces one CredentialDef per entry with alias key1..keyN. The
// secret itself never leaves SecretRef/TokenFile.
func assignKeyAliases(rc *RuntimeConfig, providerID string, auth AuthFileDef) ([]CredentialDef, error) {
	if auth.Kind == "" && (len(auth.Keys) > 0 || len(auth.KeyFiles) > 0) {
		auth.Kind = string(AuthKindAPIKey)
	}
	kind, err := parseAuthKind(auth.Kind)
	if err != nil {
		return nil, fmt.Errorf("providers.%s.auth.kind: %w", providerID, err)
	}

	var creds []CredentialDef
	next := func() (int, string) {
		idx := len(creds) + 1
		return idx, fmt.Sprintf("key%d", idx)
	}

	switch kind {
	case AuthKindAPIKey:
		for _, key := range auth.Keys {
			idx, alias := next()
			creds = append(creds, CredentialDef{
				ID:         providerID + "." + alias,
				ProviderID: providerID,
				AuthKind:   kind,
				AliasIndex: idx,
				Alias:      alias,
				SecretRef:  key,
			})
		}
		for _, file := range auth.KeyFiles {
			idx, alias := next()
			path, err := resolveCredentialPath(rc, file)
			if err != nil {
				return nil, fmt.Errorf("providers.%s.auth.keyFiles[%d]: %w", providerID, idx-len(auth.Keys)-1, err)
			}
			creds = append(creds, CredentialDef{
				ID:         providerID + "." + alias,
				ProviderID: providerID,
				AuthKind:   kind,
				AliasIndex: idx,
				Alias:      alias,
				TokenFile:  path,
			})
		}
	case AuthKindOAuthDevice, AuthKindOAuthPKCE:
		for i, file := range auth.TokenFiles {
			idx, alias := next()
			path, err := resolveCredentialPath(rc, file)
			if err != nil {
				return nil, fmt.Errorf("providers.%s.auth.tokenFiles[%d]: %w", providerID, i, err)
			}
			creds = append(creds, CredentialDef{
				ID:         providerID + "." + alias,
				ProviderID: providerID,
				AuthKind:   kind,
				AliasIndex: idx,
				Alias:      alias,
				TokenFile:  path,
			})
		}
	case AuthKindNone:
		creds = append(creds, CredentialDef{
			ID:         providerID + ".key1",
			ProviderID: providerID,
			AuthKind:   kind,
			AliasIndex: 1,
			Alias:      "key1",
		})
	}

	if len(creds) == 0 {
		return nil, fmt.Errorf("providers.%s.auth: no credentials declared", providerID)
	}
	return creds, nil
}

// resolveCredentialPath anchors relative credential files at the auth dir.
func resolveCredentialPath(rc *RuntimeConfig, file string) (string, error) {
	expanded, err := expandPathRelative(file, rc.AuthDir)
	if err != nil {
		return "", err
	}
	return expanded, nil
}

func expandPathRelative(path, base string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(path, "~/") || filepath.IsAbs(path) {
		return expandPath(path)
	}
	return filepath.Join(base, path), nil
}

// expandPipelines computes the cartesian expansion of provider x model x
// credential alias. Pipeline IDs are the dotted targets the routing table
// references.
func expandPipelines(rc *RuntimeConfig, user *UserFileConfig, stageDefaults StageConfigs) []PipelineDef {
	providerIDs := make([]string, 0, len(rc.Providers))
	for id := range rc.Providers {
		providerIDs = append(providerIDs, id)
	}
	sort.Strings(providerIDs)

	var out []PipelineDef
	for _, providerID := range providerIDs {
		provider := rc.Providers[providerID]
		stages := stageDefaults
		if pf, ok := user.Providers[providerID]; ok && pf.Stages != nil {
			stages = overlayStages(stages, *pf.Stages)
		}

		creds := credentialsOf(rc, providerID)
		for _, model := range provider.Models {
			for _, cred := range creds {
				out = append(out, PipelineDef{
					ID:           providerID + "." + model.ID + "." + cred.Alias,
					ProviderID:   providerID,
					ModelID:      model.ID,
					CredentialID: cred.ID,
					Weight:       1,
					Stages:       stages,
				})
			}
		}
	}
	return out
}

// credentialsOf returns a provider's credentials in alias order.
func credentialsOf(rc *RuntimeConfig, providerID string) []CredentialDef {
	var creds []CredentialDef
	for _, c := range rc.Credentials {
		if c.ProviderID == providerID {
			creds = append(creds, c)
		}
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].AliasIndex < creds[j].AliasIndex })
	return creds
}

// resolveRoutes expands dotted route targets into pipeline IDs. A target
// without a key alias fans out to every credential of the provider. Route
// weights apply verbatim.
func resolveRoutes(rc *RuntimeConfig, category string, entries []RouteEntry) ([]RouteTarget, error) {
	var targets []RouteTarget
	for i, entry := range entries {
		target := strings.TrimSpace(entry.Target)
		if target == "" {
			return nil, fmt.Errorf("routing.%s[%d]: empty target", category, i)
		}
		parts := strings.Split(target, ".")
		switch len(parts) {
		case 3:
			if _, ok := rc.Pipeline(target); !ok {
				return nil, fmt.Errorf("routing.%s[%d]: pipeline %q does not exist", category, i, target)
			}
			targets = append(targets, RouteTarget{PipelineID: target, Weight: entry.Weight})
		case 2:
			providerID, modelID := parts[0], parts[1]
			matched := false
			for _, p := range rc.Pipelines {
				if p.ProviderID == providerID && p.ModelID == modelID {
					targets = append(targets, RouteTarget{PipelineID: p.ID, Weight: entry.Weight})
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("routing.%s[%d]: no pipeline matches %q", category, i, target)
			}
		default:
			return nil, fmt.Errorf("routing.%s[%d]: target %q must be provider.model or provider.model.keyN", category, i, target)
		}
	}
	return targets, nil
}

// overlayStages merges provider stage overrides onto the system defaults.
func overlayStages(base, over StageConfigs) StageConfigs {
	merged := base
	if over.LLMSwitch.Enabled {
		merged.LLMSwitch.Enabled = true
	}
	if over.LLMSwitch.PromptSource != "" {
		merged.LLMSwitch.PromptSource = over.LLMSwitch.PromptSource
	}
	if over.LLMSwitch.UAMode != "" {
		merged.LLMSwitch.UAMode = over.LLMSwitch.UAMode
	}
	if over.Workflow.StripNonFinalToolCalls {
		merged.Workflow.StripNonFinalToolCalls = true
	}
	if over.Workflow.InjectClockScope {
		merged.Workflow.InjectClockScope = true
	}
	if len(over.Workflow.Rules) > 0 {
		merged.Workflow.Rules = over.Workflow.Rules
	}
	if over.Compatibility.Profile != "" {
		merged.Compatibility.Profile = over.Compatibility.Profile
	}
	if len(over.Compatibility.FieldRenames) > 0 {
		merged.Compatibility.FieldRenames = over.Compatibility.FieldRenames
	}
	if len(over.Compatibility.DropFields) > 0 {
		merged.Compatibility.DropFields = over.Compatibility.DropFields
	}
	if over.Provider.MaxBodyBytes > 0 {
		merged.Provider.MaxBodyBytes = over.Provider.MaxBodyBytes
	}
	if over.Provider.FakeStream {
		merged.Provider.FakeStream = true
	}
	return merged
}

// applyEnvStageOverrides lets the frozen environment force the system
// prompt source and UA mode across all pipelines.
func applyEnvStageOverrides(stages *StageConfigs, env FrozenEnv) {
	if env.SystemPromptSource != "" {
		stages.LLMSwitch.Enabled = true
		stages.LLMSwitch.PromptSource = env.SystemPromptSource
	}
	if env.UAMode != "" {
		stages.LLMSwitch.UAMode = env.UAMode
	}
}

func parseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai", "openaichat", "openai-chat":
		return DialectOpenAIChat, nil
	case "anthropic", "anthropicmessages", "anthropic-messages":
		return DialectAnthropicMessages, nil
	case "codex", "codexresponses", "codex-responses":
		return DialectCodexResponses, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", raw)
	}
}

func parseAuthKind(raw string) (AuthKind, error) {
	switch strings.TrimSpace(raw) {
	case "apiKey", "api_key", "apikey":
		return AuthKindAPIKey, nil
	case "oauthDevice", "oauth_device":
		return AuthKindOAuthDevice, nil
	case "oauthPKCE", "oauth_pkce":
		return AuthKindOAuthPKCE, nil
	case "none", "":
		return AuthKindNone, nil
	default:
		return "", fmt.Errorf("unknown auth kind %q", raw)
	}
}

func boolOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

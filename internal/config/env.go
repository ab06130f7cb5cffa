package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables recognized by the gateway. They are read exactly
// once, inside Resolve, and frozen into the snapshot. No other package
// touches os.Getenv.
const (
	EnvConfig             = "ROUTECODEX_CONFIG"
	EnvPort               = "ROUTECODEX_PORT"
	EnvHTTPHost           = "ROUTECODEX_HTTP_HOST"
	EnvSystemPromptSource = "ROUTECODEX_SYSTEM_PROMPT_SOURCE"
	EnvUAMode             = "ROUTECODEX_UA_MODE"
	EnvSnapshot           = "ROUTECODEX_SNAPSHOT"
	EnvVerboseErrors      = "ROUTECODEX_VERBOSE_ERRORS"
	EnvRestartMode        = "ROUTECODEX_RESTART_MODE"
	EnvStorageBackend     = "ROUTECODEX_STORAGE_BACKEND"
	EnvRedisURL           = "ROUTECODEX_REDIS_URL"
	EnvMongoURI           = "ROUTECODEX_MONGO_URI"
	EnvPostgresDSN        = "ROUTECODEX_POSTGRES_DSN"
	EnvGitDir             = "ROUTECODEX_GIT_DIR"
)

// FrozenEnv is the environment snapshot taken at resolve time.
type FrozenEnv struct {
	ConfigPath         string
	Port               int
	HTTPHost           string
	SystemPromptSource string // "codex" | "claude"
	UAMode             string
	SnapshotEnabled    bool
	VerboseErrors      bool
	RestartMode        string // "runtime" | "process"
	StorageBackend     string
	RedisURL           string
	MongoURI           string
	PostgresDSN        string
	GitDir             string
}

// freezeEnv reads every recognized variable once.
func freezeEnv() FrozenEnv {
	env := FrozenEnv{
		ConfigPath:         strings.TrimSpace(os.Getenv(EnvConfig)),
		HTTPHost:           strings.TrimSpace(os.Getenv(EnvHTTPHost)),
		SystemPromptSource: strings.TrimSpace(os.Getenv(EnvSystemPromptSource)),
		UAMode:             strings.TrimSpace(os.Getenv(EnvUAMode)),
		SnapshotEnabled:    envBool(EnvSnapshot),
		VerboseErrors:      envBool(EnvVerboseErrors),
		RestartMode:        strings.TrimSpace(os.Getenv(EnvRestartMode)),
		StorageBackend:     strings.TrimSpace(os.Getenv(EnvStorageBackend)),
		RedisURL:           strings.TrimSpace(os.Getenv(EnvRedisURL)),
		MongoURI:           strings.TrimSpace(os.Getenv(EnvMongoURI)),
		PostgresDSN:        strings.TrimSpace(os.Getenv(EnvPostgresDSN)),
		GitDir:             strings.TrimSpace(os.Getenv(EnvGitDir)),
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			env.Port = p
		}
	}
	return env
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

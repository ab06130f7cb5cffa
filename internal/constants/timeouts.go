package constants

import "time"

const (
	// UpstreamStreamTimeout enforces max duration for streaming requests.
	UpstreamStreamTimeout = 300 * time.Second
	// UpstreamGenerateTimeout enforces max duration for non-stream requests.
	UpstreamGenerateTimeout = 180 * time.Second
	// CredentialRefreshInterval controls how frequently credentials auto-refresh.
	CredentialRefreshInterval = 5 * time.Minute
	// ServerShutdownTimeout bounds graceful HTTP server shutdown on signals.
	ServerShutdownTimeout = 30 * time.Second
	// ServerGracefulWait defines post-shutdown wait window for cleanup.
	ServerGracefulWait = 2 * time.Second

	// ShutdownDrainWindow is how long POST /shutdown waits for in-flight
	// requests before the process exits.
	ShutdownDrainWindow = 3500 * time.Millisecond

	// PreStreamErrorWindow is the heartbeat window before the first SSE
	// byte: errors inside it are reported as a plain JSON body instead of
	// a broken stream.
	PreStreamErrorWindow = 800 * time.Millisecond

	// CancelPropagationBudget bounds how long a client disconnect may take
	// to reach the upstream call.
	CancelPropagationBudget = 500 * time.Millisecond

	// TokenRefreshSkew refreshes OAuth tokens this long before expiry.
	TokenRefreshSkew = 60 * time.Second

	// ConfigReloadDebounce coalesces bursts of fsnotify events on the
	// config file and the auth directory.
	ConfigReloadDebounce = 300 * time.Millisecond

	// HealthPersistInterval paces the background flush of credential
	// health entries to the storage backend.
	HealthPersistInterval = 30 * time.Second
)

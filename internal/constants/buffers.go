package constants

const (
	// SSEScannerInitialBufferSize defines the initial buffer for SSE scanners (64KB).
	SSEScannerInitialBufferSize = 64 * 1024
	// SSEScannerMaxBufferSize defines the max buffer size for SSE scanners (4MB).
	SSEScannerMaxBufferSize = 4 * 1024 * 1024

	// MaxRequestBodyBytes caps client payloads accepted by the gateway (8MB).
	MaxRequestBodyBytes = 8 * 1024 * 1024

	// LogRingCapacity bounds the in-memory log ring served over the
	// management log-stream endpoint.
	LogRingCapacity = 500

	// SnapshotBodyLimit truncates request/response bodies captured in
	// debug snapshot lines.
	SnapshotBodyLimit = 16 * 1024
)

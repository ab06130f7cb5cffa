package httpformat

import (
	"testing"

	"routecodex-go/internal/apperrors"
	"github.com/stretchr/testify/require"
)

func TestDetectFromPath(t *testing.T) {
	cases := map[string]apperrors.Envelope{
		"/v1/messages":              apperrors.EnvelopeAnthropic,
		"/v1/messages/count_tokens": apperrors.EnvelopeAnthropic,
		"/v1/chat/completions":      apperrors.EnvelopeOpenAI,
		"/v1/responses":             apperrors.EnvelopeOpenAI,
		"/v1/models":                apperrors.EnvelopeOpenAI,
		"/health":                   apperrors.EnvelopeOpenAI,
		"":                          apperrors.EnvelopeOpenAI,
	}
	for path, want := range cases {
		require.Equal(t, want, DetectFromPath(path), "path %q", path)
	}
}

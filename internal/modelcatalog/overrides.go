package modelcatalog

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// CapabilitiesDocKey is the config-document key operators edit through the
// management API to correct capability metadata without a config deploy.
const CapabilitiesDocKey = "model_capabilities"

// Override adjusts one model's capability record. Nil fields keep the
// configured value.
type Override struct {
	Streaming        *bool `json:"streaming,omitempty"`
	Tools            *bool `json:"tools,omitempty"`
	Vision           *bool `json:"vision,omitempty"`
	Thinking         *bool `json:"thinking,omitempty"`
	MaxContextTokens *int  `json:"maxContextTokens,omitempty"`
}

// ConfigDocReader is the slice of the storage backend the catalog needs.
type ConfigDocReader interface {
	GetConfigDoc(ctx context.Context, key string) (json.RawMessage, error)
}

// LoadOverrides reads the capability override document. A missing or
// malformed document yields no overrides; the catalog stays usable.
func LoadOverrides(ctx context.Context, docs ConfigDocReader) map[string]Override {
	if docs == nil {
		return nil
	}
	raw, err := docs.GetConfigDoc(ctx, CapabilitiesDocKey)
	if err != nil || len(raw) == 0 {
		return nil
	}
	var overrides map[string]Override
	if err := json.Unmarshal(raw, &overrides); err != nil {
		logrus.WithError(err).Warn("ignoring malformed model capability override document")
		return nil
	}
	normalized := make(map[string]Override, len(overrides))
	for id, ov := range overrides {
		normalized[strings.ToLower(strings.TrimSpace(id))] = ov
	}
	return normalized
}

// ApplyOverrides returns a catalog with the overrides merged in. The
// receiver is left untouched.
func (c *Catalog) ApplyOverrides(overrides map[string]Override) *Catalog {
	if len(overrides) == 0 {
		return c
	}
	out := &Catalog{
		byID:       make(map[string]Entry, len(c.byID)),
		byLower:    make(map[string]string, len(c.byLower)),
		byPipeline: make(map[string]Entry, len(c.byPipeline)),
		order:      append([]string(nil), c.order...),
		createdAt:  c.createdAt,
	}
	patch := func(e Entry) Entry {
		ov, ok := overrides[strings.ToLower(e.ID)]
		if !ok {
			return e
		}
		if ov.Streaming != nil {
			e.Caps.Streaming = *ov.Streaming
		}
		if ov.Tools != nil {
			e.Caps.Tools = *ov.Tools
		}
		if ov.Vision != nil {
			e.Caps.Vision = *ov.Vision
		}
		if ov.Thinking != nil {
			e.Caps.Thinking = *ov.Thinking
		}
		if ov.MaxContextTokens != nil {
			e.Caps.MaxContextTokens = *ov.MaxContextTokens
		}
		return e
	}
	for id, e := range c.byID {
		out.byID[id] = patch(e)
	}
	for lower, id := range c.byLower {
		out.byLower[lower] = id
	}
	for key, e := range c.byPipeline {
		out.byPipeline[key] = patch(e)
	}
	return out
}

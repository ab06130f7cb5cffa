package modelcatalog

import (
	"sort"
	"strings"

	"routecodex-go/internal/config"
)

// Capabilities describes what a model can do. The router's capability
// filter and the fake-streaming decision both read from here.
type Capabilities struct {
	Streaming        bool `json:"streaming"`
	Tools            bool `json:"tools"`
	Vision           bool `json:"vision"`
	Thinking         bool `json:"thinking,omitempty"`
	MaxContextTokens int  `json:"maxContextTokens,omitempty"`
}

// Entry is one client-facing model reachable through at least one active
// pipeline.
type Entry struct {
	ID         string       `json:"id"`
	ProviderID string       `json:"providerId"`
	UpstreamID string       `json:"upstreamId"`
	Caps       Capabilities `json:"capabilities"`
}

// Catalog is an immutable view over the models of one RuntimeConfig
// snapshot. It is rebuilt on every snapshot swap, never mutated.
type Catalog struct {
	byID       map[string]Entry // client-facing ID, first provider wins
	byLower    map[string]string
	byPipeline map[string]Entry // providerID + "/" + modelID
	order      []string
	createdAt  int64
}

// FromRuntimeConfig aggregates the models of every pipeline in the
// snapshot. The same model offered by several credentials appears once;
// the same ID offered by several providers keeps the first provider in
// pipeline order.
func FromRuntimeConfig(rc *config.RuntimeConfig) *Catalog {
	c := &Catalog{
		byID:       make(map[string]Entry),
		byLower:    make(map[string]string),
		byPipeline: make(map[string]Entry),
	}
	if rc == nil {
		return c
	}
	c.createdAt = rc.ResolvedAt.Unix()

	for _, p := range rc.Pipelines {
		provider, ok := rc.Providers[p.ProviderID]
		if !ok {
			continue
		}
		def, ok := provider.Model(p.ModelID)
		if !ok {
			continue
		}
		entry := Entry{
			ID:         def.ID,
			ProviderID: provider.ID,
			UpstreamID: def.UpstreamID,
			Caps: Capabilities{
				Streaming:        def.Streaming,
				Tools:            def.Tools,
				Vision:           def.Vision,
				Thinking:         def.Thinking,
				MaxContextTokens: def.MaxContextTokens,
			},
		}
		if entry.UpstreamID == "" {
			entry.UpstreamID = def.ID
		}

		pipeKey := pipelineKey(provider.ID, def.ID)
		if _, seen := c.byPipeline[pipeKey]; !seen {
			c.byPipeline[pipeKey] = entry
		}
		if _, seen := c.byID[entry.ID]; !seen {
			c.byID[entry.ID] = entry
			c.byLower[strings.ToLower(entry.ID)] = entry.ID
			c.order = append(c.order, entry.ID)
		}
	}
	sort.Strings(c.order)
	return c
}

func pipelineKey(providerID, modelID string) string {
	return providerID + "/" + modelID
}

// Resolve finds the entry for a client-supplied model name. Exact match
// first, then case-insensitive.
func (c *Catalog) Resolve(model string) (Entry, bool) {
	model = strings.TrimSpace(model)
	if e, ok := c.byID[model]; ok {
		return e, true
	}
	if id, ok := c.byLower[strings.ToLower(model)]; ok {
		return c.byID[id], true
	}
	return Entry{}, false
}

// UpstreamID maps a client-facing model name to the upstream identifier.
// Unknown models pass through unchanged; the provider decides their fate.
func (c *Catalog) UpstreamID(model string) string {
	if e, ok := c.Resolve(model); ok {
		return e.UpstreamID
	}
	return model
}

// ForPipeline returns the entry bound to a specific provider+model pair.
func (c *Catalog) ForPipeline(providerID, modelID string) (Entry, bool) {
	e, ok := c.byPipeline[pipelineKey(providerID, modelID)]
	return e, ok
}

// Capability reports the capabilities of a model by client-facing name.
func (c *Catalog) Capability(model string) (Capabilities, bool) {
	e, ok := c.Resolve(model)
	return e.Caps, ok
}

// List returns every entry in stable (sorted) order.
func (c *Catalog) List() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len reports how many distinct model IDs the catalog exposes.
func (c *Catalog) Len() int { return len(c.order) }

// ListItem is one element of the OpenAI models list shape.
type ListItem struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListResponse is the OpenAI GET /v1/models wire shape.
type ListResponse struct {
	Object string     `json:"object"`
	Data   []ListItem `json:"data"`
}

// OpenAIList renders the catalog for GET /v1/models: deduplicated, sorted
// by ID, created stamped with the snapshot resolve time.
func (c *Catalog) OpenAIList() ListResponse {
	resp := ListResponse{Object: "list", Data: make([]ListItem, 0, len(c.order))}
	for _, id := range c.order {
		e := c.byID[id]
		resp.Data = append(resp.Data, ListItem{
			ID:      e.ID,
			Object:  "model",
			Created: c.createdAt,
			OwnedBy: e.ProviderID,
		})
	}
	return resp
}

package pipeline

import (
	"fmt"
	"io"
	"net/http"

	"routecodex-go/internal/config"
	"routecodex-go/internal/credential"
	"routecodex-go/internal/health"
	"routecodex-go/internal/provider"
	"routecodex-go/internal/translator"
	"routecodex-go/internal/usage"
)

// Stage names used in logs, metrics and spans.
const (
	StageLLMSwitch     = "llmSwitch"
	StageWorkflow      = "workflow"
	StageCompatibility = "compatibility"
	StageProvider      = "provider"
)

// Request is one classified client request entering the runtime. Body is
// the raw client JSON in the client's dialect; the runtime owns all
// translation from here on.
type Request struct {
	RequestID string
	Category  string
	Dialect   translator.Format
	Model     string // model name the client asked for; echoed back in responses
	Body      []byte
	Stream    bool
	Headers   http.Header // echoed subset (anthropic-version and the like)
}

// Response is the terminal result, already translated back to the
// client's dialect. Exactly one of Body/Stream is set. FakeStream marks a
// buffered execution re-emitted as SSE because the model cannot stream.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.Reader
	FakeStream bool
	PipelineID string
	Usage      *usage.TokenUsage // parsed from buffered responses; nil for streams

	closer func()
}

// Streaming reports whether the caller must emit SSE.
func (r *Response) Streaming() bool { return r.Stream != nil }

// Close releases stream resources: the upstream body, its deadline, and
// any translation goroutine. Safe on buffered responses and safe to call
// twice.
func (r *Response) Close() {
	if r.closer != nil {
		r.closer()
		r.closer = nil
	}
}

// Deps are the shared services a pipeline needs at execution time.
type Deps struct {
	Credentials *credential.Store
	Health      *health.Manager
}

// Pipeline is one materialized provider+model+credential target with its
// four stages bound. Instances are immutable after construction and safe
// for concurrent Execute calls.
type Pipeline struct {
	def       config.PipelineDef
	model     config.ModelDef
	upstream  translator.Format
	client    *provider.Client
	llmSwitch *llmSwitchStage
	workflow  *workflowStage
	compat    *compatStage
	creds     *credential.Store
	health    *health.Manager
	stats     Stats
}

// New binds one PipelineDef against the snapshot it came from. The
// provider client is shared across pipelines of the same provider.
// Construction fails on dangling references or uncompilable stage config;
// the assembler records such pipelines as unavailable.
func New(def config.PipelineDef, rc *config.RuntimeConfig, client *provider.Client, deps Deps) (*Pipeline, error) {
	prov, ok := rc.Providers[def.ProviderID]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: unknown provider %q", def.ID, def.ProviderID)
	}
	model, ok := prov.Model(def.ModelID)
	if !ok {
		return nil, fmt.Errorf("pipeline %s: model %q not in provider %q catalog", def.ID, def.ModelID, def.ProviderID)
	}
	if _, ok := rc.Credentials[def.CredentialID]; !ok {
		return nil, fmt.Errorf("pipeline %s: unknown credential %q", def.ID, def.CredentialID)
	}
	if client == nil {
		return nil, fmt.Errorf("pipeline %s: no provider client", def.ID)
	}

	ls, err := newLLMSwitchStage(def.Stages.LLMSwitch)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: llmSwitch: %w", def.ID, err)
	}
	wf, err := newWorkflowStage(def.Stages.Workflow)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: workflow: %w", def.ID, err)
	}
	compat := newCompatStage(def.Stages.Compatibility)

	return &Pipeline{
		def:       def,
		model:     model,
		upstream:  translator.FromString(string(prov.Dialect)),
		client:    client,
		llmSwitch: ls,
		workflow:  wf,
		compat:    compat,
		creds:     deps.Credentials,
		health:    deps.Health,
	}, nil
}

// Def returns the immutable definition this pipeline was built from.
func (p *Pipeline) Def() config.PipelineDef { return p.def }

// Model returns the bound model definition.
func (p *Pipeline) Model() config.ModelDef { return p.model }

// Stats returns a point-in-time copy of the execution counters.
func (p *Pipeline) Stats() StatsSnapshot { return p.stats.snapshot() }

// healthKey is the provider/credential key reported to the health manager.
func (p *Pipeline) healthKey() string {
	return health.Key(p.def.ProviderID, p.def.CredentialID)
}

// upstreamModel is the ID written into upstream payloads.
func (p *Pipeline) upstreamModel() string {
	if p.model.UpstreamID != "" {
		return p.model.UpstreamID
	}
	return p.model.ID
}

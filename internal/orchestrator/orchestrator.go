package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-warden/mcp-gateway/internal/embedding"
	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
	"github.com/agentic-warden/mcp-gateway/internal/llm"
	"github.com/agentic-warden/mcp-gateway/internal/registry"
	"github.com/agentic-warden/mcp-gateway/internal/sandbox"
	"github.com/agentic-warden/mcp-gateway/internal/vectorindex"
)

// ToolCaller is the subset of the connection pool the orchestrator needs
// to run a single-tool route inline. Defined locally, mirroring
// sandbox.Caller, so this package doesn't import internal/mcp.
type ToolCaller interface {
	Call(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error)
}

// Notifier sends a tools/list_changed notification to the requesting
// session. Set by the gateway layer; nil means no transport is wired
// (tests, or a client that never asked for Dynamic mode).
type Notifier func(ctx context.Context, sessionID string) error

// Orchestrator wires embedding, the vector index, the downstream tool
// caller, the tool registry, the script sandbox, and an optional LLM
// provider into the routing algorithm behind intelligent_route.
type Orchestrator struct {
	embedder embedding.Backend
	index    *vectorindex.Index
	registry *registry.Registry
	caller   ToolCaller
	sandbox  *sandbox.Pool
	llm      llm.LLMProvider // nil is valid: Auto degrades to Vector, LLMReact fails UnavailableBackend
	notify   Notifier

	vectorThresholdHigh float32
	vectorMargin        float32
	correctorAttempts   int
	timeout             time.Duration
}

// New builds an Orchestrator. llmProvider and notifier may be nil.
func New(embedder embedding.Backend, index *vectorindex.Index, reg *registry.Registry, caller ToolCaller, sbox *sandbox.Pool, llmProvider llm.LLMProvider, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		embedder:            embedder,
		index:               index,
		registry:            reg,
		caller:              caller,
		sandbox:             sbox,
		llm:                 llmProvider,
		notify:              notifier,
		vectorThresholdHigh: DefaultVectorThresholdHigh,
		vectorMargin:        DefaultVectorMargin,
		correctorAttempts:   DefaultCorrectorAttempts,
		timeout:             DefaultOrchestratorTimeout,
	}
}

// Route scores the request against the catalog, picks or generates a
// tool, and optionally executes it, depending on req.ExecutionMode.
func (o *Orchestrator) Route(ctx context.Context, req RouteRequest) (*RouteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if req.UserRequest == "" {
		return nil, gwerr.New(gwerr.InvalidArgument, "intelligent_route: user_request is required")
	}
	maxCandidates := req.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	// 1. Embed and fetch top-K candidates.
	vecs, err := o.embedder.EmbedBatch(ctx, []string{req.UserRequest})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UnavailableBackend, err, "intelligent_route: embed request")
	}
	hits, err := o.index.SearchTools(vecs[0], maxCandidates)
	if err != nil {
		return nil, err
	}
	candidates := o.toCandidates(hits)

	// 2. Pick a decision mode.
	mode := req.DecisionMode
	if mode == "" || mode == DecisionAuto {
		if o.llm != nil {
			mode = DecisionLLMReact
		} else {
			mode = DecisionVector
		}
	}

	log.Printf("[Orchestrator] route request=%q candidates=%d mode=%s", truncate(req.UserRequest, 80), len(candidates), mode)

	var resp *RouteResponse
	switch mode {
	case DecisionVector:
		resp, err = o.routeVector(ctx, req, candidates)
	case DecisionLLMReact:
		resp, err = o.routeReasoning(ctx, req, candidates)
	default:
		return nil, gwerr.New(gwerr.InvalidArgument, "intelligent_route: unknown decision_mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	resp.Alternatives = candidates
	return resp, nil
}

// routeVector is the vector decision branch: a confident, well-separated
// top hit is a direct single-tool route; anything else falls back to
// generation, which requires an LLM.
func (o *Orchestrator) routeVector(ctx context.Context, req RouteRequest, candidates []Candidate) (*RouteResponse, error) {
	if len(candidates) > 0 {
		top := candidates[0]
		margin := float32(1)
		if len(candidates) > 1 {
			margin = top.Score - candidates[1].Score
		}
		if top.Score >= o.vectorThresholdHigh && margin >= o.vectorMargin {
			return o.executeSingle(ctx, req, top, float64(top.Score))
		}
	}

	if o.llm == nil {
		return &RouteResponse{
			Success: false,
			Message: "no candidate cleared the vector threshold and no LLM is configured for generation",
		}, nil
	}
	return o.generateAndRegister(ctx, req, candidates)
}

// routeReasoning is the reasoning decision branch: the LLM itself chooses
// between a single tool and workflow generation.
func (o *Orchestrator) routeReasoning(ctx context.Context, req RouteRequest, candidates []Candidate) (*RouteResponse, error) {
	if o.llm == nil {
		return nil, gwerr.New(gwerr.UnavailableBackend, "intelligent_route: llm_react requires a configured LLM provider")
	}

	decision, err := o.reasonAboutCandidates(ctx, req, candidates)
	if err != nil {
		return nil, err
	}

	if decision.Mode == "single" {
		selected, ok := findCandidate(candidates, decision.Server, decision.Tool)
		if !ok {
			// The model named a tool outside the candidate set; treat the
			// confident self-report as the route anyway rather than failing
			// outright, since the caller still gets a usable result.
			selected = Candidate{Server: decision.Server, Tool: decision.Tool}
		}
		confidence := decision.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.5
		}
		selected.Score = float32(confidence)
		if req.Arguments == nil {
			req.Arguments = decision.Arguments
		}
		return o.executeSingle(ctx, req, selected, confidence)
	}

	return o.generateAndRegister(ctx, req, candidates)
}

// executeSingle builds the response for a resolved single-tool route,
// running it inline when the request asked for ExecutionMode=Inline.
func (o *Orchestrator) executeSingle(ctx context.Context, req RouteRequest, c Candidate, confidence float64) (*RouteResponse, error) {
	resp := &RouteResponse{
		Success:    true,
		Confidence: clamp01(confidence),
		Message:    fmt.Sprintf("routed to %s/%s", c.Server, c.Tool),
		SelectedTool: &SelectedTool{
			Server:    c.Server,
			Tool:      c.Tool,
			Arguments: req.Arguments,
		},
	}

	if req.ExecutionMode == ExecutionInline {
		if o.caller == nil {
			return nil, gwerr.New(gwerr.UnavailableBackend, "intelligent_route: inline execution requested but no tool caller is wired")
		}
		result, err := o.caller.Call(ctx, c.Server, c.Tool, req.Arguments)
		if err != nil {
			return nil, err
		}
		resp.Result = result
	}

	return resp, nil
}

// toCandidates joins vectorindex hits with their registered input
// schema, when the registry still has an entry for that tool.
func (o *Orchestrator) toCandidates(hits []vectorindex.ScoredTool) []Candidate {
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		var schema json.RawMessage
		if entry, ok := o.registry.Get(h.ID); ok {
			schema = entry.Definition.InputSchema
			o.registry.Touch(h.ID)
		}
		out = append(out, Candidate{
			Server:      h.Server,
			Tool:        h.Tool,
			Description: h.Description,
			Score:       h.Score,
			InputSchema: schema,
		})
	}
	return out
}

func findCandidate(candidates []Candidate, server, tool string) (Candidate, bool) {
	for _, c := range candidates {
		if c.Server == server && c.Tool == tool {
			return c, true
		}
	}
	return Candidate{}, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// newGeneratedToolName derives a stable-looking but unique tool name for
// a freshly generated workflow, since the LLM's suggested name may
// collide across requests.
func newGeneratedToolName(hint string) string {
	if hint == "" {
		hint = "workflow"
	}
	return fmt.Sprintf("%s_%s", slugify(hint), uuid.NewString()[:8])
}

// slugify lowercases hint and replaces anything but ASCII letters, digits
// and underscores with underscores, collapsing runs of them.
func slugify(hint string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(hint) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(sb.String(), "_")
	if out == "" {
		return "workflow"
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

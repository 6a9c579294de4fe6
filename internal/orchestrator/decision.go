package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
	"github.com/agentic-warden/mcp-gateway/internal/llm"
)

// reasoningDecision is the structured reply the LLM is asked to produce
// when acting as the routing planner. JSON rather than YAML: the
// generation step that can follow it carries a raw script string, and
// YAML's quoting rules for multi-line code would otherwise force an
// escape-recovery workaround that this component never needs to inherit.
type reasoningDecision struct {
	Mode       string         `json:"mode"` // "single" | "workflow"
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// reasonAboutCandidates prompts the LLM with the request and candidate
// tool schemas and parses its mode choice.
func (o *Orchestrator) reasonAboutCandidates(ctx context.Context, req RouteRequest, candidates []Candidate) (reasoningDecision, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: reasoningSystemPrompt},
		{Role: llm.RoleUser, Content: buildReasoningPrompt(req, candidates)},
	}

	resp, err := o.llm.CallLLM(ctx, messages)
	if err != nil {
		return reasoningDecision{}, gwerr.Wrap(gwerr.UnavailableBackend, err, "intelligent_route: reasoning LLM call failed")
	}

	decision, err := parseReasoningDecision(resp.Content)
	if err != nil {
		return reasoningDecision{}, gwerr.Wrap(gwerr.ScriptError, err, "intelligent_route: reasoning LLM returned an unparseable decision")
	}
	return decision, nil
}

const reasoningSystemPrompt = `You are the routing planner for an MCP gateway.
Given a user request and a ranked list of candidate tools, decide whether one
candidate tool can satisfy the request directly ("single") or whether a small
multi-step workflow must be generated ("workflow").
Reply with exactly one JSON object on a single line, no markdown fence:
{"mode":"single","server":"...","tool":"...","arguments":{...},"confidence":0.0,"reason":"..."}
or
{"mode":"workflow","confidence":0.0,"reason":"..."}`

func buildReasoningPrompt(req RouteRequest, candidates []Candidate) string {
	var sb strings.Builder
	sb.WriteString("User request: ")
	sb.WriteString(req.UserRequest)
	sb.WriteString("\n\nCandidate tools (ranked by similarity):\n")
	for i, c := range candidates {
		sb.WriteString(fmt.Sprintf("%d. %s/%s (score=%.3f) — %s\n", i+1, c.Server, c.Tool, c.Score, c.Description))
		if len(c.InputSchema) > 0 {
			sb.WriteString("   input_schema: ")
			sb.Write(c.InputSchema)
			sb.WriteByte('\n')
		}
	}
	if len(candidates) == 0 {
		sb.WriteString("(no candidates matched the catalog)\n")
	}
	return sb.String()
}

// parseReasoningDecision extracts the JSON object from raw, tolerating a
// leading/trailing markdown fence some models add despite instructions.
func parseReasoningDecision(raw string) (reasoningDecision, error) {
	body := stripFence(raw)
	var d reasoningDecision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return reasoningDecision{}, fmt.Errorf("decode reasoning decision: %w", err)
	}
	if d.Mode != "single" && d.Mode != "workflow" {
		return reasoningDecision{}, fmt.Errorf("reasoning decision has unknown mode %q", d.Mode)
	}
	return d, nil
}

// stripFence removes a surrounding ```json ... ``` or ``` ... ``` block
// if present, and trims whitespace either way.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

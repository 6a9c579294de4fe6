package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
	"github.com/agentic-warden/mcp-gateway/internal/llm"
	"github.com/agentic-warden/mcp-gateway/internal/registry"
	"github.com/agentic-warden/mcp-gateway/internal/sandbox"
)

// generation is the structured reply the LLM produces for the
// generation step.
type generation struct {
	ToolName    string          `json:"tool_name"`
	Description string          `json:"description"`
	Script      string          `json:"script"`
	InputSchema json.RawMessage `json:"input_schema"`
	Confidence  float64         `json:"confidence"`
}

const generationSystemPrompt = `You write small JavaScript workflows for an MCP gateway sandbox.
The sandbox exposes exactly one host function: callTool(server, tool, argsJSON) -> value,
which performs a single MCP tools/call and returns its parsed JSON result (throws on error).
Write a script defining:
  async function workflow(input) { ... return <json-serialisable value>; }
It may call callTool any number of times using the candidate tools described below.
Do not reference require, import, process, Deno, fetch, XMLHttpRequest or eval.
Also produce a JSON Schema describing the shape of "input".
Reply with exactly one JSON object on a single line, no markdown fence:
{"tool_name":"...","description":"...","script":"...","input_schema":{...},"confidence":0.0}`

// generateAndRegister prompts for a script+schema pair, validates it, runs
// a bounded corrector loop on failure, then registers the result and
// optionally executes it inline.
func (o *Orchestrator) generateAndRegister(ctx context.Context, req RouteRequest, candidates []Candidate) (*RouteResponse, error) {
	prompt := buildGenerationPrompt(req, candidates)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: generationSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	attempts := o.correctorAttempts
	if attempts <= 0 {
		attempts = DefaultCorrectorAttempts
	}

	var gen generation
	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		resp, err := o.llm.CallLLM(ctx, messages)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.UnavailableBackend, err, "intelligent_route: generation LLM call failed")
		}

		gen, lastErr = parseGeneration(resp.Content)
		if lastErr == nil {
			if err := validateScript(gen.Script); err != nil {
				lastErr = err
			} else if err := validateInputSchema(gen.InputSchema); err != nil {
				lastErr = err
			}
		}

		if lastErr == nil {
			break
		}
		if attempt == attempts {
			return nil, gwerr.Wrap(gwerr.SchemaInvalid, lastErr, "intelligent_route: generation failed validation after %d corrector attempts", attempts)
		}

		// Feed the failure back as the next turn and retry.
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("That reply failed validation: %v. Reply again with a corrected single JSON object.", lastErr)},
		)
	}

	name := gen.ToolName
	if name == "" {
		name = newGeneratedToolName(req.UserRequest)
	}
	def := registry.ToolDefinition{
		Name:        name,
		Description: gen.Description,
		InputSchema: gen.InputSchema,
		CreatedAt:   time.Now(),
	}
	o.registry.RegisterGenerated(def, gen.Script)

	confidence := gen.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}

	resp := &RouteResponse{
		Success:    true,
		Confidence: clamp01(confidence),
		Message:    fmt.Sprintf("generated and registered workflow %q", name),
		ToolSchema: gen.InputSchema,
		SelectedTool: &SelectedTool{
			Tool:      name,
			Arguments: req.Arguments,
			Generated: true,
		},
	}

	if req.ExecutionMode == ExecutionDynamic && o.notify != nil {
		if err := o.notify(ctx, req.SessionID); err != nil {
			// A failed notification never invalidates a successful
			// registration; the client still gets the schema inline.
			resp.Message += fmt.Sprintf(" (list_changed notification failed: %v)", err)
		} else {
			resp.DynamicallyRegistered = true
		}
	}

	if req.ExecutionMode == ExecutionInline {
		if o.sandbox == nil || o.caller == nil {
			return nil, gwerr.New(gwerr.UnavailableBackend, "intelligent_route: inline execution requested but sandbox is not wired")
		}
		result, err := o.runGenerated(ctx, gen.Script, req.Arguments)
		if err != nil {
			return nil, err
		}
		resp.Result = result
	}

	return resp, nil
}

func buildGenerationPrompt(req RouteRequest, candidates []Candidate) string {
	var sb strings.Builder
	sb.WriteString("User request: ")
	sb.WriteString(req.UserRequest)
	sb.WriteString("\n\nCandidate tools available via callTool(server, tool, argsJSON):\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("- %s/%s — %s\n", c.Server, c.Tool, c.Description))
		if len(c.InputSchema) > 0 {
			sb.WriteString("  input_schema: ")
			sb.Write(c.InputSchema)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func parseGeneration(raw string) (generation, error) {
	body := stripFence(raw)
	var g generation
	if err := json.Unmarshal([]byte(body), &g); err != nil {
		return generation{}, fmt.Errorf("decode generation reply: %w", err)
	}
	if g.Script == "" {
		return generation{}, fmt.Errorf("generation reply has an empty script")
	}
	return g, nil
}

// runGenerated executes a freshly generated workflow via the sandbox,
// binding callTool against o.caller scoped to ctx.
func (o *Orchestrator) runGenerated(ctx context.Context, script string, args map[string]any) (json.RawMessage, error) {
	handle, err := o.sandbox.Acquire(ctx)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.ResourceLimit, err, "intelligent_route: acquire sandbox runtime")
	}
	defer handle.Release()

	inj := sandbox.NewInjector(ctx, o.caller)
	if err := handle.WithContext(inj.Bind); err != nil {
		return nil, err
	}

	inputJSON, err := json.Marshal(args)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "intelligent_route: encode workflow input")
	}
	return handle.Execute(ctx, script, string(inputJSON))
}

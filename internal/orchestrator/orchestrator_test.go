package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/agentic-warden/mcp-gateway/internal/embedding"
	"github.com/agentic-warden/mcp-gateway/internal/llm"
	"github.com/agentic-warden/mcp-gateway/internal/registry"
	"github.com/agentic-warden/mcp-gateway/internal/sandbox"
	"github.com/agentic-warden/mcp-gateway/internal/vectorindex"
)

const testDim = 8

// fakeCaller records calls and returns a fixed JSON result.
type fakeCaller struct {
	result json.RawMessage
	err    error
	calls  int
}

func (f *fakeCaller) Call(_ context.Context, _, _ string, _ map[string]any) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeLLM replays a fixed queue of responses, one per CallLLM invocation.
type fakeLLM struct {
	replies []string
	i       int
}

func (f *fakeLLM) CallLLM(_ context.Context, _ []llm.Message) (llm.Message, error) {
	if f.i >= len(f.replies) {
		return llm.Message{}, fmt.Errorf("fakeLLM: no more replies queued")
	}
	r := f.replies[f.i]
	f.i++
	return llm.Message{Role: llm.RoleAssistant, Content: r}, nil
}

func (f *fakeLLM) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	return f.CallLLM(ctx, messages)
}

func (f *fakeLLM) GetName() string { return "fake" }

func buildIndexWithOneTool(t *testing.T, id, server, tool, description string, vec []float32) *vectorindex.Index {
	t.Helper()
	idx := vectorindex.New(testDim)
	if err := idx.Rebuild([]vectorindex.Record{
		{ID: id, Server: server, Tool: tool, Metadata: map[string]string{"description": description}, Vector: vec},
	}, nil); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return idx
}

func newRegistry() *registry.Registry {
	return registry.New(registry.Config{})
}

func embedOne(t *testing.T, backend embedding.Backend, text string) []float32 {
	t.Helper()
	vecs, err := backend.EmbedBatch(context.Background(), []string{text})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	return vecs[0]
}

func TestRoute_VectorMode_SingleConfidentHit(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	vec := embedOne(t, backend, "take a screenshot of the current page")
	idx := buildIndexWithOneTool(t, "tool_1", "browser", "screenshot", "take a screenshot of the current page", vec)

	o := New(backend, idx, newRegistry(), nil, nil, nil, nil)
	resp, err := o.Route(context.Background(), RouteRequest{
		UserRequest:  "take a screenshot of the current page",
		DecisionMode: DecisionVector,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !resp.Success {
		t.Fatalf("resp.Success = false, want true; message=%s", resp.Message)
	}
	if resp.SelectedTool == nil || resp.SelectedTool.Tool != "screenshot" {
		t.Errorf("SelectedTool = %+v, want tool=screenshot", resp.SelectedTool)
	}
	if resp.Confidence < 0.5 {
		t.Errorf("Confidence = %v, want a high score for an exact text match", resp.Confidence)
	}
}

func TestRoute_VectorMode_NoConfidentHitNoLLM_FailsGracefully(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	idx := vectorindex.New(testDim) // empty index: nothing ever clears the threshold

	o := New(backend, idx, newRegistry(), nil, nil, nil, nil)
	resp, err := o.Route(context.Background(), RouteRequest{
		UserRequest:  "do something entirely unrelated",
		DecisionMode: DecisionVector,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Success {
		t.Error("expected Success=false when nothing clears the vector threshold and no LLM is configured")
	}
}

func TestRoute_EmptyUserRequest_IsInvalidArgument(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	idx := vectorindex.New(testDim)
	o := New(backend, idx, newRegistry(), nil, nil, nil, nil)

	_, err := o.Route(context.Background(), RouteRequest{DecisionMode: DecisionVector})
	if err == nil {
		t.Fatal("expected an error for an empty user_request")
	}
}

func TestRoute_Reasoning_SingleToolDecision(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	vec := embedOne(t, backend, "list open pull requests")
	idx := buildIndexWithOneTool(t, "tool_1", "github", "list_prs", "list open pull requests", vec)

	fake := &fakeLLM{replies: []string{
		`{"mode":"single","server":"github","tool":"list_prs","arguments":{"state":"open"},"confidence":0.9,"reason":"direct match"}`,
	}}
	caller := &fakeCaller{result: json.RawMessage(`{"prs":[]}`)}

	o := New(backend, idx, newRegistry(), caller, nil, fake, nil)
	resp, err := o.Route(context.Background(), RouteRequest{
		UserRequest:   "list open pull requests",
		DecisionMode:  DecisionLLMReact,
		ExecutionMode: ExecutionInline,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !resp.Success || resp.SelectedTool == nil || resp.SelectedTool.Tool != "list_prs" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", resp.Confidence)
	}
	if string(resp.Result) != `{"prs":[]}` {
		t.Errorf("Result = %s, want the caller's fixed result (inline execution requested)", resp.Result)
	}
	if caller.calls != 1 {
		t.Errorf("caller.calls = %d, want 1", caller.calls)
	}
}

func TestRoute_Reasoning_WorkflowGeneration_RegistersTool(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	vec := embedOne(t, backend, "summarize recent commits and open an issue")
	idx := buildIndexWithOneTool(t, "tool_1", "github", "list_commits", "list recent commits", vec)

	genReply := `{"tool_name":"commit_summary","description":"summarizes commits","script":"async function workflow(input) { var c = await callTool(\"github\",\"list_commits\",\"{}\"); return {summary: c}; }","input_schema":{"type":"object"},"confidence":0.7}`
	fake := &fakeLLM{replies: []string{
		`{"mode":"workflow","confidence":0.6,"reason":"needs multiple steps"}`,
		genReply,
	}}
	reg := newRegistry()

	o := New(backend, idx, reg, nil, nil, fake, nil)
	resp, err := o.Route(context.Background(), RouteRequest{
		UserRequest:  "summarize recent commits and open an issue",
		DecisionMode: DecisionLLMReact,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !resp.Success || resp.SelectedTool == nil || !resp.SelectedTool.Generated {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !reg.Has("commit_summary") {
		t.Error("expected the generated tool to be registered")
	}
	if len(resp.ToolSchema) == 0 {
		t.Error("expected ToolSchema to be returned inline")
	}
}

func TestRoute_Generation_CorrectorLoopRecoversFromInvalidScript(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	vec := embedOne(t, backend, "do a multi-step thing")
	idx := buildIndexWithOneTool(t, "tool_1", "s", "t", "a tool", vec)

	badReply := `{"tool_name":"bad","description":"d","script":"function notWorkflow(input) { return input; }","input_schema":{"type":"object"},"confidence":0.5}`
	goodReply := `{"tool_name":"fixed","description":"d","script":"async function workflow(input) { return input; }","input_schema":{"type":"object"},"confidence":0.5}`
	fake := &fakeLLM{replies: []string{
		`{"mode":"workflow","confidence":0.5,"reason":"x"}`,
		badReply,
		goodReply,
	}}
	reg := newRegistry()

	o := New(backend, idx, reg, nil, nil, fake, nil)
	resp, err := o.Route(context.Background(), RouteRequest{
		UserRequest:  "do a multi-step thing",
		DecisionMode: DecisionLLMReact,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !resp.Success {
		t.Fatalf("resp.Success = false, want true after corrector recovers: %+v", resp)
	}
	if !reg.Has("fixed") {
		t.Error("expected the corrected tool name to be registered")
	}
}

func TestRoute_Generation_ExhaustsCorrectorBudget(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	vec := embedOne(t, backend, "do a thing")
	idx := buildIndexWithOneTool(t, "tool_1", "s", "t", "a tool", vec)

	badReply := `{"tool_name":"bad","description":"d","script":"function notWorkflow(input) { return input; }","input_schema":{"type":"object"},"confidence":0.5}`
	replies := []string{`{"mode":"workflow","confidence":0.5,"reason":"x"}`}
	for i := 0; i <= DefaultCorrectorAttempts; i++ {
		replies = append(replies, badReply)
	}
	fake := &fakeLLM{replies: replies}

	o := New(backend, idx, newRegistry(), nil, nil, fake, nil)
	_, err := o.Route(context.Background(), RouteRequest{
		UserRequest:  "do a thing",
		DecisionMode: DecisionLLMReact,
	})
	if err == nil {
		t.Fatal("expected an error once the corrector budget is exhausted")
	}
}

func TestRoute_Generation_InlineExecutionRunsGeneratedScript(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	vec := embedOne(t, backend, "double the number")
	idx := buildIndexWithOneTool(t, "tool_1", "s", "t", "a tool", vec)

	genReply := `{"tool_name":"doubler","description":"doubles n","script":"async function workflow(input) { return { doubled: input.n * 2 }; }","input_schema":{"type":"object"},"confidence":0.8}`
	fake := &fakeLLM{replies: []string{
		`{"mode":"workflow","confidence":0.5,"reason":"x"}`,
		genReply,
	}}

	sboxPool := sandbox.New(sandbox.Config{Size: 1, ScriptTimeout: time.Second})
	caller := &fakeCaller{result: json.RawMessage(`1`)}

	o := New(backend, idx, newRegistry(), caller, sboxPool, fake, nil)
	resp, err := o.Route(context.Background(), RouteRequest{
		UserRequest:   "double the number",
		DecisionMode:  DecisionLLMReact,
		ExecutionMode: ExecutionInline,
		Arguments:     map[string]any{"n": 21},
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if string(resp.Result) != `{"doubled":42}` {
		t.Errorf("Result = %s, want {\"doubled\":42}", resp.Result)
	}
}

func TestRoute_Dynamic_NotifierCalledOnSuccessfulGeneration(t *testing.T) {
	backend := embedding.NewHashBackend(testDim)
	vec := embedOne(t, backend, "make a new tool")
	idx := buildIndexWithOneTool(t, "tool_1", "s", "t", "a tool", vec)

	genReply := `{"tool_name":"fresh_tool","description":"d","script":"async function workflow(input) { return input; }","input_schema":{"type":"object"},"confidence":0.5}`
	fake := &fakeLLM{replies: []string{
		`{"mode":"workflow","confidence":0.5,"reason":"x"}`,
		genReply,
	}}

	var notified bool
	notifier := func(_ context.Context, sessionID string) error {
		notified = true
		if sessionID != "sess-1" {
			t.Errorf("notifier sessionID = %q, want sess-1", sessionID)
		}
		return nil
	}

	o := New(backend, idx, newRegistry(), nil, nil, fake, notifier)
	resp, err := o.Route(context.Background(), RouteRequest{
		UserRequest:   "make a new tool",
		SessionID:     "sess-1",
		DecisionMode:  DecisionLLMReact,
		ExecutionMode: ExecutionDynamic,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !notified {
		t.Error("expected the notifier to be invoked for ExecutionDynamic")
	}
	if !resp.DynamicallyRegistered {
		t.Error("expected DynamicallyRegistered=true")
	}
}

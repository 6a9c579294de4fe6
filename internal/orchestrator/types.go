// Package orchestrator routes a free-text request against the current
// tool catalog: either to a single existing tool, or by generating a
// small workflow script, registering it, and optionally running it.
package orchestrator

import (
	"encoding/json"
	"time"
)

// DecisionMode selects how Route chooses between a single-tool route and
// workflow generation.
type DecisionMode string

const (
	DecisionAuto    DecisionMode = "auto"
	DecisionVector  DecisionMode = "vector"
	DecisionLLMReact DecisionMode = "llm_react"
)

// ExecutionMode controls how a newly generated tool is surfaced, and
// whether Route also runs it before returning.
type ExecutionMode string

const (
	// ExecutionDynamic sends a tools/list_changed notification through the
	// caller-supplied Notifier once the tool is registered.
	ExecutionDynamic ExecutionMode = "dynamic"
	// ExecutionQuery relies on the tool_schema returned inline; the client
	// re-queries tools/list itself.
	ExecutionQuery ExecutionMode = "query"
	// ExecutionInline additionally runs the route (single-tool call or
	// generated script) before returning, populating Result.
	ExecutionInline ExecutionMode = "inline"
)

// Default tunables for routing and candidate selection.
const (
	DefaultMaxCandidates      = 8
	DefaultVectorThresholdHigh = 0.82
	DefaultVectorMargin        = 0.05
	DefaultCorrectorAttempts   = 3
	DefaultOrchestratorTimeout = 60 * time.Second
)

// RouteRequest is the input to Orchestrator.Route, mirroring the
// intelligent_route meta-tool's input schema.
type RouteRequest struct {
	UserRequest   string
	SessionID     string
	MaxCandidates int
	DecisionMode  DecisionMode
	ExecutionMode ExecutionMode
	Metadata      map[string]string

	// Arguments, when set, is passed as the workflow's JSON input (or the
	// single tool's call arguments) when ExecutionMode is Inline.
	Arguments map[string]any
}

// Candidate is a catalog entry considered for routing, joining a
// vectorindex hit with its registered schema.
type Candidate struct {
	Server      string
	Tool        string
	Description string
	Score       float32
	InputSchema json.RawMessage
}

// SelectedTool names the single tool a route resolved to, whether it
// pre-existed or was just generated.
type SelectedTool struct {
	Server    string
	Tool      string
	Arguments map[string]any
	Generated bool
}

// RouteResponse is the result of Orchestrator.Route, mirroring
// intelligent_route's output.
type RouteResponse struct {
	Success               bool
	Confidence            float64
	Message               string
	SelectedTool          *SelectedTool
	Result                json.RawMessage
	Alternatives          []Candidate
	ToolSchema            json.RawMessage
	DynamicallyRegistered bool
}

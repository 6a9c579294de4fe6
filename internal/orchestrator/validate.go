package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// entryFunctionPattern matches a top-level `workflow` function declaration,
// with or without `async`: a function taking a JSON input and returning a
// JSON value.
var entryFunctionPattern = regexp.MustCompile(`(^|\s)(async\s+)?function\s+workflow\s*\(`)

// forbiddenIdentifierPattern matches identifiers a generated script must
// never reference: anything that would let it reach outside the sandbox
// other than the injected callTool.
var forbiddenIdentifierPattern = regexp.MustCompile(`\b(require|import|process|Deno|fetch|XMLHttpRequest|eval)\b`)

// validateScript checks the generated script syntactically enough to
// reject anything that can't possibly be a well-formed workflow, without
// actually running it (that happens later, in the sandbox).
func validateScript(script string) error {
	if !entryFunctionPattern.MatchString(script) {
		return fmt.Errorf("script must define `function workflow(input)` (async or not)")
	}
	if m := forbiddenIdentifierPattern.FindString(script); m != "" {
		return fmt.Errorf("script references forbidden identifier %q", m)
	}
	return nil
}

// validateInputSchema checks that raw is a structurally valid JSON Schema
// document by compiling it.
func validateInputSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("input_schema is empty")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("input_schema is not valid JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("generated.json", doc); err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}
	if _, err := c.Compile("generated.json"); err != nil {
		return fmt.Errorf("input_schema failed to compile: %w", err)
	}
	return nil
}

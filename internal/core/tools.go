package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Tool is the contract a registered tool must satisfy. Execute receives
// the coerced JSON arguments and returns the result string that becomes
// the content of the Tool-role message.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (string, error)
	AutoApproved() bool
}

// Registry is a concurrent name->tool map. Registration replaces any
// prior entry with the same name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all tool schemas, sorted by name for stable
// request payloads.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// CoerceArguments collapses argument fragments into a single JSON value:
// no fragments yields the empty object; a single fragment is parsed as
// JSON, falling back to a JSON string when the parse fails; multiple
// fragments wrap as a JSON array of strings.
func CoerceArguments(frags []string) json.RawMessage {
	switch len(frags) {
	case 0:
		return json.RawMessage("{}")
	case 1:
		if json.Valid([]byte(frags[0])) {
			return json.RawMessage(frags[0])
		}
		encoded, _ := json.Marshal(frags[0])
		return encoded
	}
	encoded, _ := json.Marshal(frags)
	return encoded
}

// ExecuteCall resolves a tool call by name, coerces its arguments and
// runs the tool. Tools are never retried here; failures surface as
// classified errors so the loop can feed them back to the model.
func (r *Registry) ExecuteCall(ctx context.Context, call ToolCall) (string, error) {
	name := call.Function.Name
	tool, ok := r.Get(name)
	if !ok {
		return "", E(CodeToolUnknown, "tool not found: %s (available tools: %v)", name, r.Names())
	}

	args := CoerceArguments(call.Function.Arguments)

	if def := tool.Definition(); len(def.Parameters) > 0 && isJSONObject(args) {
		if err := validateArgs(def, args); err != nil {
			return "", Wrap(CodeToolExecutionFailed, err, "validation failed for tool %s", name)
		}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return "", Wrap(CodeToolExecutionFailed, err, "execution failed for tool %s", name)
	}
	return result, nil
}

// validateArgs checks the arguments against the tool's JSON schema.
func validateArgs(def ToolDefinition, args json.RawMessage) error {
	schemaLoader := gojsonschema.NewBytesLoader(def.Parameters)
	documentLoader := gojsonschema.NewBytesLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// ToolFunc is the execution body of a FuncTool.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// FuncTool adapts a plain function into a Tool. Auto-approved tools run
// without going through the approval callback.
type FuncTool struct {
	Def  ToolDefinition
	Auto bool
	Fn   ToolFunc
}

func (t FuncTool) Definition() ToolDefinition { return t.Def }
func (t FuncTool) AutoApproved() bool         { return t.Auto }

func (t FuncTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}

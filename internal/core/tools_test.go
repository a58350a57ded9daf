package core

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func echoTool(name string, auto bool) FuncTool {
	return FuncTool{
		Def:  ToolDefinition{Name: name, Description: "echoes its arguments"},
		Auto: auto,
		Fn: func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

func TestCoerceArguments(t *testing.T) {
	tests := []struct {
		name  string
		frags []string
		want  string
	}{
		{name: "no fragments", frags: nil, want: `{}`},
		{name: "empty fragment becomes string", frags: []string{""}, want: `""`},
		{name: "valid object", frags: []string{`{"path":"a.txt"}`}, want: `{"path":"a.txt"}`},
		{name: "valid array", frags: []string{`[1,2]`}, want: `[1,2]`},
		{name: "valid scalar", frags: []string{`42`}, want: `42`},
		{name: "invalid json becomes string", frags: []string{`not json`}, want: `"not json"`},
		{name: "multiple fragments become array", frags: []string{"a", "b"}, want: `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoerceArguments(tt.frags)
			if string(got) != tt.want {
				t.Errorf("CoerceArguments(%v) = %s, want %s", tt.frags, got, tt.want)
			}
			if !json.Valid(got) {
				t.Errorf("CoerceArguments(%v) produced invalid JSON: %s", tt.frags, got)
			}
		})
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", false))
	r.Register(echoTool("echo", true))
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	tool, ok := r.Get("echo")
	if !ok || !tool.AutoApproved() {
		t.Error("replacement did not take effect")
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("zeta", false))
	r.Register(echoTool("alpha", false))
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("Definitions() = %v, want sorted by name", defs)
	}
}

func TestExecuteCallUnknownTool(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", false))

	_, err := r.ExecuteCall(context.Background(), NewToolCall("call_1", "missing"))
	if !IsCode(err, CodeToolUnknown) {
		t.Fatalf("CodeOf(err) = %v, want %v", CodeOf(err), CodeToolUnknown)
	}
	if !strings.Contains(err.Error(), "echo") {
		t.Errorf("error should list available tools, got: %v", err)
	}
}

func TestExecuteCallSchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
	r := NewRegistry()
	r.Register(FuncTool{
		Def: ToolDefinition{Name: "read_file", Parameters: schema},
		Fn: func(_ context.Context, args json.RawMessage) (string, error) {
			return "ok", nil
		},
	})

	tests := []struct {
		name     string
		args     []string
		wantCode ErrorCode
		wantOK   bool
	}{
		{name: "valid args", args: []string{`{"path":"a.txt"}`}, wantOK: true},
		{name: "missing required", args: []string{`{}`}, wantCode: CodeToolExecutionFailed},
		{name: "wrong type", args: []string{`{"path":7}`}, wantCode: CodeToolExecutionFailed},
		// Non-object coercions skip schema validation.
		{name: "invalid json coerces to string", args: []string{`garbage`}, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ExecuteCall(context.Background(), NewToolCall("call_1", "read_file", tt.args...))
			if tt.wantOK {
				if err != nil {
					t.Fatalf("ExecuteCall() error = %v, want nil", err)
				}
				return
			}
			if !IsCode(err, tt.wantCode) {
				t.Errorf("CodeOf(err) = %v, want %v", CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestExecuteCallToolError(t *testing.T) {
	r := NewRegistry()
	r.Register(FuncTool{
		Def: ToolDefinition{Name: "boom"},
		Fn: func(_ context.Context, _ json.RawMessage) (string, error) {
			return "", E(CodeInternal, "kaboom")
		},
	})

	_, err := r.ExecuteCall(context.Background(), NewToolCall("call_1", "boom"))
	if !IsCode(err, CodeToolExecutionFailed) {
		t.Errorf("CodeOf(err) = %v, want %v", CodeOf(err), CodeToolExecutionFailed)
	}
}

// Package toolmediation translates a function's declared tools into the
// vendor-neutral wire dialect every provider adapter accepts, and parses a
// model's tool-call response back into validated arguments (spec.md §4.F).
//
// It also implements json_mode = implicit_tool (spec.md §4.B): a JSON
// function with no native JSON mode gets a single synthesized "respond"
// tool whose parameters are the function's output_schema, forced with
// tool_choice = required, so the tool-call path doubles as JSON-schema
// adherence.
//
// This package takes plain data rather than the root gateway package's
// Function/Variant types, so it has no import back to that package.
package toolmediation

import (
	"encoding/json"
	"fmt"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/schema"
	"github.com/ferro-labs/inference-gateway/providers"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ImplicitToolName is the reserved tool name synthesized for json_mode =
// implicit_tool. Mirrors gateway.ImplicitToolName.
const ImplicitToolName = "respond"

// ToolChoice mirrors gateway.ToolChoiceMode's three named values; any other
// value is treated as the name of a specific tool (spec.md §4.A
// "tool_choice ... specific(name)").
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// JSONMode mirrors gateway.JSONMode.
type JSONMode string

const (
	JSONModeOff          JSONMode = "off"
	JSONModeOn           JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

// ToolSpec is one tool available to a function.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *schema.Compiled
}

// BuildRequest is the input to Prepare.
type BuildRequest struct {
	Tools             []ToolSpec
	ToolChoice        ToolChoice
	ParallelToolCalls bool
	JSONMode          JSONMode
	// OutputSchema is required when JSONMode == JSONModeImplicitTool; it
	// becomes the synthesized respond tool's parameters schema.
	OutputSchema *schema.Compiled
}

// Prepare translates a function's tool configuration into the []providers.Tool
// and tool_choice value a Request carries. For implicit_tool it synthesizes
// the respond tool and forces tool_choice to required (spec.md §4.B). It
// returns (nil, nil, nil) when the function declares no tools and is not in
// implicit_tool mode, so callers can leave Request.Tools/ToolChoice unset.
func Prepare(req BuildRequest) ([]providers.Tool, interface{}, error) {
	tools := make([]providers.Tool, 0, len(req.Tools)+1)
	for _, t := range req.Tools {
		tools = append(tools, encodeTool(t))
	}

	choice := req.ToolChoice
	if req.JSONMode == JSONModeImplicitTool {
		if req.OutputSchema == nil {
			return nil, nil, gatewayerrors.Newf(gatewayerrors.KindNoVariant, "json_mode implicit_tool requires an output_schema")
		}
		tools = append(tools, encodeTool(ToolSpec{
			Name:        ImplicitToolName,
			Description: "Respond with the function's structured output.",
			Parameters:  req.OutputSchema,
		}))
		choice = ToolChoiceRequired
	}

	if len(tools) == 0 {
		return nil, nil, nil
	}
	return tools, toolChoiceWire(choice), nil
}

func encodeTool(t ToolSpec) providers.Tool {
	var params json.RawMessage
	if t.Parameters != nil {
		params = t.Parameters.Raw()
	}
	return providers.Tool{
		Type: "function",
		Function: providers.Function{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

// toolChoiceWire renders a ToolChoice into the dialect Request.ToolChoice
// expects: the three named modes pass through as bare strings, anything
// else names a specific tool and is forced via the
// {"type":"function","function":{"name":...}} form every OpenAI-compatible
// adapter understands.
func toolChoiceWire(c ToolChoice) interface{} {
	switch c {
	case "":
		return nil
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return string(c)
	default:
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": string(c)},
		}
	}
}

// ParsedToolCall is one tool call extracted from a response, with its
// arguments already validated against the matching tool's schema.
type ParsedToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Parsed    any
}

// ExtractToolCalls validates each of calls' arguments against the matching
// entry in tools (by name) and returns the validated set, trimmed to at
// most one entry when parallel is false (spec.md §4.F: "otherwise exactly
// one is returned"). An unknown tool name or a schema validation failure is
// classified BAD_TOOL_ARGS, surfaced without retry — a model-behavior
// error, not a transport one.
func ExtractToolCalls(calls []providers.ToolCall, tools []ToolSpec, parallel bool) ([]ParsedToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if !parallel && len(calls) > 1 {
		calls = calls[:1]
	}

	byName := make(map[string]*schema.Compiled, len(tools))
	for _, t := range tools {
		byName[t.Name] = t.Parameters
	}

	out := make([]ParsedToolCall, 0, len(calls))
	for _, c := range calls {
		sc, ok := byName[c.Function.Name]
		if !ok {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadToolArgs, "model called undeclared tool %q", c.Function.Name)
		}

		var parsed any
		if sc != nil {
			v, err := sc.ValidateJSON([]byte(c.Function.Arguments), gatewayerrors.KindBadToolArgs)
			if err != nil {
				return nil, err
			}
			parsed = v
		} else if err := json.Unmarshal([]byte(c.Function.Arguments), &parsed); err != nil {
			return nil, gatewayerrors.New(gatewayerrors.KindBadToolArgs, fmt.Errorf("tool %q: invalid json arguments: %w", c.Function.Name, err))
		}

		out = append(out, ParsedToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: json.RawMessage(c.Function.Arguments),
			Parsed:    parsed,
		})
	}
	return out, nil
}

// ImplicitOutput extracts a json_mode = implicit_tool function's output: the
// respond tool's already-validated arguments, reused directly as the output
// value (spec.md §4.F, "the tool-response path is reused").
func ImplicitOutput(calls []ParsedToolCall) (any, error) {
	for _, c := range calls {
		if c.Name == ImplicitToolName {
			return c.Parsed, nil
		}
	}
	return nil, gatewayerrors.Newf(gatewayerrors.KindBadToolArgs, "implicit_tool: model did not call %q", ImplicitToolName)
}

// Accumulator merges incremental tool-call argument fragments arriving
// across a stream's delta chunks (spec.md §4.C "tool_call_delta") into
// complete calls. Vendors split a single tool call's arguments string
// across many chunks, identified by its position in the tool_calls array;
// this re-assembles each position's fragments into one string.
type Accumulator struct {
	calls []accumulatedCall
}

type accumulatedCall struct {
	id   string
	name string
	args []byte
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator { return &Accumulator{} }

// Add merges one delta chunk's tool-call fragments into the accumulator,
// keyed by their position in delta.
func (a *Accumulator) Add(delta []providers.ToolCall) {
	for i, d := range delta {
		for len(a.calls) <= i {
			a.calls = append(a.calls, accumulatedCall{})
		}
		if d.ID != "" {
			a.calls[i].id = d.ID
		}
		if d.Function.Name != "" {
			a.calls[i].name = d.Function.Name
		}
		a.calls[i].args = append(a.calls[i].args, d.Function.Arguments...)
	}
}

// Finish renders the accumulated fragments into complete ToolCall values.
// A call whose fragments never formed valid JSON (the vendor's stream
// glitched mid-object) is repaired rather than failing the whole response:
// whatever top-level fields gjson can still recover from the truncated
// fragment are rebuilt into a minimal valid object via sjson, so a dropped
// trailing field doesn't surface as a spurious BAD_TOOL_ARGS for a parse
// artifact the model itself didn't intend.
func (a *Accumulator) Finish() []providers.ToolCall {
	out := make([]providers.ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, providers.ToolCall{
			ID:   c.id,
			Type: "function",
			Function: providers.FunctionCall{
				Name:      c.name,
				Arguments: repairJSON(c.args),
			},
		})
	}
	return out
}

func repairJSON(raw []byte) string {
	if json.Valid(raw) {
		return string(raw)
	}
	result := "{}"
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		if next, err := sjson.Set(result, key.String(), value.Value()); err == nil {
			result = next
		}
		return true
	})
	return result
}

package toolmediation

import (
	"encoding/json"
	"testing"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/schema"
	"github.com/ferro-labs/inference-gateway/providers"
)

func compile(t *testing.T, id, raw string) *schema.Compiled {
	t.Helper()
	c, err := schema.Compile(id, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("compile %s: %v", id, err)
	}
	return c
}

func TestPrepare_NoTools(t *testing.T) {
	tools, choice, err := Prepare(BuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if tools != nil || choice != nil {
		t.Errorf("expected nil tools/choice for a function with no tools, got %v %v", tools, choice)
	}
}

func TestPrepare_PlainTools(t *testing.T) {
	weather := compile(t, "weather", `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)

	tools, choice, err := Prepare(BuildRequest{
		Tools:      []ToolSpec{{Name: "get_weather", Description: "lookup weather", Parameters: weather}},
		ToolChoice: ToolChoiceAuto,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0].Function.Name != "get_weather" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	if choice != "auto" {
		t.Errorf("choice = %v, want auto", choice)
	}
}

func TestPrepare_SpecificToolChoice(t *testing.T) {
	_, choice, err := Prepare(BuildRequest{
		Tools:      []ToolSpec{{Name: "get_weather"}},
		ToolChoice: ToolChoice("get_weather"),
	})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := choice.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a specific-tool map, got %T", choice)
	}
	if m["type"] != "function" {
		t.Errorf("unexpected wire shape: %+v", m)
	}
}

func TestPrepare_ImplicitTool(t *testing.T) {
	output := compile(t, "output", `{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"]}`)

	tools, choice, err := Prepare(BuildRequest{
		JSONMode:     JSONModeImplicitTool,
		OutputSchema: output,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0].Function.Name != ImplicitToolName {
		t.Fatalf("expected a single synthesized %s tool, got %+v", ImplicitToolName, tools)
	}
	if choice != string(ToolChoiceRequired) {
		t.Errorf("choice = %v, want required", choice)
	}
}

func TestPrepare_ImplicitToolMissingSchema(t *testing.T) {
	_, _, err := Prepare(BuildRequest{JSONMode: JSONModeImplicitTool})
	if err == nil {
		t.Fatal("expected error when implicit_tool has no output schema")
	}
}

func TestExtractToolCalls_ValidatesArguments(t *testing.T) {
	weather := compile(t, "weather", `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	tools := []ToolSpec{{Name: "get_weather", Parameters: weather}}

	calls := []providers.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: providers.FunctionCall{Name: "get_weather", Arguments: `{"city":"Tokyo"}`},
	}}

	parsed, err := ExtractToolCalls(calls, tools, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 1 || parsed[0].Name != "get_weather" {
		t.Fatalf("unexpected parsed calls: %+v", parsed)
	}
}

func TestExtractToolCalls_BadArguments(t *testing.T) {
	weather := compile(t, "weather", `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	tools := []ToolSpec{{Name: "get_weather", Parameters: weather}}

	calls := []providers.ToolCall{{
		ID:       "call_1",
		Function: providers.FunctionCall{Name: "get_weather", Arguments: `{}`},
	}}

	_, err := ExtractToolCalls(calls, tools, true)
	if gatewayerrors.KindOf(err) != gatewayerrors.KindBadToolArgs {
		t.Errorf("expected KindBadToolArgs, got %v", gatewayerrors.KindOf(err))
	}
}

func TestExtractToolCalls_UnknownTool(t *testing.T) {
	calls := []providers.ToolCall{{Function: providers.FunctionCall{Name: "nope", Arguments: `{}`}}}
	_, err := ExtractToolCalls(calls, nil, true)
	if gatewayerrors.KindOf(err) != gatewayerrors.KindBadToolArgs {
		t.Errorf("expected KindBadToolArgs for an undeclared tool, got %v", gatewayerrors.KindOf(err))
	}
}

func TestExtractToolCalls_NonParallelTrimsToOne(t *testing.T) {
	weather := compile(t, "weather", `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	tools := []ToolSpec{{Name: "get_weather", Parameters: weather}}

	calls := []providers.ToolCall{
		{ID: "call_1", Function: providers.FunctionCall{Name: "get_weather", Arguments: `{"city":"Tokyo"}`}},
		{ID: "call_2", Function: providers.FunctionCall{Name: "get_weather", Arguments: `{"city":"Osaka"}`}},
	}

	parsed, err := ExtractToolCalls(calls, tools, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected exactly one call when parallel_tool_calls=false, got %d", len(parsed))
	}
}

func TestImplicitOutput(t *testing.T) {
	calls := []ParsedToolCall{{Name: ImplicitToolName, Parsed: map[string]interface{}{"answer": "42"}}}
	out, err := ImplicitOutput(calls)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]interface{})
	if !ok || m["answer"] != "42" {
		t.Errorf("unexpected output: %+v", out)
	}
}

func TestImplicitOutput_MissingCall(t *testing.T) {
	_, err := ImplicitOutput(nil)
	if gatewayerrors.KindOf(err) != gatewayerrors.KindBadToolArgs {
		t.Errorf("expected KindBadToolArgs, got %v", gatewayerrors.KindOf(err))
	}
}

func TestAccumulator_MergesFragmentedArguments(t *testing.T) {
	acc := NewAccumulator()
	acc.Add([]providers.ToolCall{{ID: "call_1", Function: providers.FunctionCall{Name: "get_weather", Arguments: `{"ci`}}})
	acc.Add([]providers.ToolCall{{Function: providers.FunctionCall{Arguments: `ty":"Tokyo"}`}}})

	calls := acc.Finish()
	if len(calls) != 1 {
		t.Fatalf("expected 1 accumulated call, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Function.Name != "get_weather" {
		t.Fatalf("unexpected accumulated call: %+v", calls[0])
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(calls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("accumulated arguments are not valid json: %v", err)
	}
	if args["city"] != "Tokyo" {
		t.Errorf("args = %+v, want city=Tokyo", args)
	}
}

func TestAccumulator_RepairsTruncatedArguments(t *testing.T) {
	acc := NewAccumulator()
	acc.Add([]providers.ToolCall{{ID: "call_1", Function: providers.FunctionCall{Name: "get_weather", Arguments: `{"city":"Tokyo","units"`}}})

	calls := acc.Finish()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if !json.Valid([]byte(calls[0].Function.Arguments)) {
		t.Errorf("repaired arguments are not valid json: %q", calls[0].Function.Arguments)
	}
}

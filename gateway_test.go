package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/analytics"
	"github.com/ferro-labs/inference-gateway/internal/circuitbreaker"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/prompt"
	"github.com/ferro-labs/inference-gateway/internal/router"
	"github.com/ferro-labs/inference-gateway/internal/schema"
	"github.com/ferro-labs/inference-gateway/plugin"
	"github.com/ferro-labs/inference-gateway/providers"
)

// mockProvider is a test double for providers.Provider: a canned response or
// error, optionally classified as retryable so fallback scenarios can be
// driven deterministically without a real vendor.
type mockProvider struct {
	name      string
	resp      *providers.Response
	err       error
	retryable bool
}

func (m *mockProvider) Name() string                  { return m.name }
func (m *mockProvider) SupportedModels() []string     { return []string{"*"} }
func (m *mockProvider) SupportsModel(_ string) bool   { return true }
func (m *mockProvider) Models() []providers.ModelInfo { return nil }

func (m *mockProvider) Complete(_ context.Context, _ providers.Request) (*providers.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp := *m.resp
	resp.Provider = m.name
	return &resp, nil
}

// ClassifyError lets a failing mockProvider be marked retryable so a routing
// list can fail over to its next entry, or non-retryable to stop the cascade.
func (m *mockProvider) ClassifyError(_ int, _ string, err error) *gatewayerrors.ClassifiedError {
	kind := gatewayerrors.KindBadRequest
	if m.retryable {
		kind = gatewayerrors.KindRetryableTransport
	}
	return gatewayerrors.FromProvider(kind, m.name, err)
}

// memSink is an in-memory analytics.Sink for asserting on what the gateway
// chose to persist without standing up a real database.
type memSink struct {
	mu         sync.Mutex
	inferences []analytics.InferenceRecord
	feedback   []analytics.FeedbackRecord
}

func (s *memSink) InsertInferences(_ context.Context, recs []analytics.InferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inferences = append(s.inferences, recs...)
	return nil
}

func (s *memSink) InsertFeedback(_ context.Context, recs []analytics.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, recs...)
	return nil
}

func (s *memSink) counts() (inferences, feedback int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inferences), len(s.feedback)
}

func (s *memSink) lastInference() analytics.InferenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inferences[len(s.inferences)-1]
}

func mustCompile(t *testing.T, id, raw string) *schema.Compiled {
	t.Helper()
	c, err := schema.Compile(id, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("compiling schema %s: %v", id, err)
	}
	return c
}

func mustTemplate(t *testing.T, name, src string) *prompt.Template {
	t.Helper()
	tpl, err := prompt.Compile(name, src)
	if err != nil {
		t.Fatalf("compiling template %s: %v", name, err)
	}
	return tpl
}

// newTestGateway builds a Gateway directly from its fields rather than via
// New/LoadConfig, so tests can wire mockProvider doubles that
// providers_factory.go has no config-declarable type for (its ProviderDummy
// branch always routes through providers.NewDummy instead).
func newTestGateway(t *testing.T, reg *Registry, provs map[string]providers.Provider, sink analytics.Sink) *Gateway {
	t.Helper()
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(provs))
	for name := range provs {
		breakers[name] = circuitbreaker.New(5, 1, 30*time.Second)
	}
	var w *analytics.Writer
	if sink != nil {
		w = analytics.NewWriter(sink, 100, 10, 20*time.Millisecond)
		w.Start()
		t.Cleanup(func() { w.Close(time.Second) })
	}
	return &Gateway{
		registry:         reg,
		providers:        provs,
		router:           router.New(provs, breakers),
		plugins:          plugin.NewManager(),
		writer:           w,
		discoveredModels: make(map[string][]providers.ModelInfo),
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// buildScenarioRegistry wires the functions, models and tools exercised by
// TestScenario_* below: one chat function, one model whose routing list
// fails over from a bad provider to a good one, two json functions (one
// whose output validates, one that doesn't), and one tool-calling function.
func buildScenarioRegistry(t *testing.T) *Registry {
	t.Helper()

	userSchema := mustCompile(t, "greet.user", `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
	outputSchema := mustCompile(t, "classify.output", `{"type":"object","properties":{"label":{"type":"string"}},"required":["label"]}`)
	toolParams := mustCompile(t, "get_temperature.params", `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)

	return &Registry{
		Models: map[string]*Model{
			"m-echo":     {Name: "m-echo", Routing: []string{"good"}},
			"m-fallback": {Name: "m-fallback", Routing: []string{"bad", "good"}},
			"m-jsonok":   {Name: "m-jsonok", Routing: []string{"jsonok"}},
			"m-jsonbad":  {Name: "m-jsonbad", Routing: []string{"jsonbad"}},
			"m-tool":     {Name: "m-tool", Routing: []string{"toolie"}},
		},
		Tools: map[string]*Tool{
			"get_temperature": {Name: "get_temperature", Description: "current temperature for a city", Parameters: toolParams},
		},
		Metrics: map[string]*Metric{
			"quality":   {Name: "quality", Type: MetricFloat, Optimize: OptimizeMax, Level: LevelInference},
			"thumbs_up": {Name: "thumbs_up", Type: MetricBoolean, Optimize: OptimizeMax, Level: LevelEpisode},
		},
		Functions: map[string]*Function{
			"greet": {
				Name:       "greet",
				Kind:       KindChat,
				UserSchema: userSchema,
				ToolChoice: ToolChoiceAuto,
				Timeout:    DefaultTimeout,
				Variants: map[string]*Variant{
					"v1": {
						Name:      "v1",
						Model:     "m-echo",
						Templates: RoleTemplates{User: mustTemplate(t, "greet.v1.user", "Hello, {{.name}}!")},
						Weight:    1,
					},
				},
				VariantOrder:     []string{"v1"},
				WeightPrefixSums: []float64{1},
			},
			"flaky": {
				Name:       "flaky",
				Kind:       KindChat,
				UserSchema: userSchema,
				ToolChoice: ToolChoiceAuto,
				Timeout:    DefaultTimeout,
				Variants: map[string]*Variant{
					"v1": {
						Name:      "v1",
						Model:     "m-fallback",
						Templates: RoleTemplates{User: mustTemplate(t, "flaky.v1.user", "Hello, {{.name}}!")},
						Weight:    1,
					},
				},
				VariantOrder:     []string{"v1"},
				WeightPrefixSums: []float64{1},
			},
			"classify_ok": {
				Name:         "classify_ok",
				Kind:         KindJSON,
				UserSchema:   userSchema,
				OutputSchema: outputSchema,
				ToolChoice:   ToolChoiceAuto,
				Timeout:      DefaultTimeout,
				Variants: map[string]*Variant{
					"v1": {
						Name:      "v1",
						Model:     "m-jsonok",
						Templates: RoleTemplates{User: mustTemplate(t, "classify_ok.v1.user", "Classify {{.name}}.")},
						JSONMode:  JSONModeOn,
						Weight:    1,
					},
				},
				VariantOrder:     []string{"v1"},
				WeightPrefixSums: []float64{1},
			},
			"classify_bad": {
				Name:         "classify_bad",
				Kind:         KindJSON,
				UserSchema:   userSchema,
				OutputSchema: outputSchema,
				ToolChoice:   ToolChoiceAuto,
				Timeout:      DefaultTimeout,
				Variants: map[string]*Variant{
					"v1": {
						Name:      "v1",
						Model:     "m-jsonbad",
						Templates: RoleTemplates{User: mustTemplate(t, "classify_bad.v1.user", "Classify {{.name}}.")},
						JSONMode:  JSONModeOn,
						Weight:    1,
					},
				},
				VariantOrder:     []string{"v1"},
				WeightPrefixSums: []float64{1},
			},
			"weather": {
				Name:       "weather",
				Kind:       KindChat,
				UserSchema: userSchema,
				Tools:      []string{"get_temperature"},
				ToolChoice: ToolChoiceAuto,
				Timeout:    DefaultTimeout,
				Variants: map[string]*Variant{
					"v1": {
						Name:      "v1",
						Model:     "m-tool",
						Templates: RoleTemplates{User: mustTemplate(t, "weather.v1.user", "Weather for {{.name}}?")},
						Weight:    1,
					},
				},
				VariantOrder:     []string{"v1"},
				WeightPrefixSums: []float64{1},
			},
		},
	}
}

func buildScenarioProviders() map[string]providers.Provider {
	return map[string]providers.Provider{
		"good": &mockProvider{
			name: "good",
			resp: &providers.Response{
				ID:      "good-1",
				Choices: []providers.Choice{{Message: providers.Message{Role: providers.RoleAssistant, Content: "Hello from mock"}, FinishReason: "stop"}},
				Usage:   providers.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
			},
		},
		"bad": &mockProvider{
			name:      "bad",
			err:       &testError{"mock transport failure"},
			retryable: true,
		},
		"jsonok": &mockProvider{
			name: "jsonok",
			resp: &providers.Response{
				ID:      "json-1",
				Choices: []providers.Choice{{Message: providers.Message{Role: providers.RoleAssistant, Content: `{"label":"cat"}`}, FinishReason: "stop"}},
				Usage:   providers.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
			},
		},
		"jsonbad": &mockProvider{
			name: "jsonbad",
			resp: &providers.Response{
				ID:      "json-2",
				Choices: []providers.Choice{{Message: providers.Message{Role: providers.RoleAssistant, Content: `{"oops":true}`}, FinishReason: "stop"}},
				Usage:   providers.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
			},
		},
		"toolie": &mockProvider{
			name: "toolie",
			resp: &providers.Response{
				ID: "tool-1",
				Choices: []providers.Choice{{
					Message: providers.Message{
						Role: providers.RoleAssistant,
						ToolCalls: []providers.ToolCall{{
							ID:       "call_1",
							Type:     "function",
							Function: providers.FunctionCall{Name: "get_temperature", Arguments: `{"city":"Tokyo"}`},
						}},
					},
					FinishReason: "tool_calls",
				}},
				Usage: providers.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
			},
		},
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

// Scenario 1 (spec.md §8): chat happy path.
func TestScenario_ChatHappyPath(t *testing.T) {
	sink := &memSink{}
	gw := newTestGateway(t, buildScenarioRegistry(t), buildScenarioProviders(), sink)

	result, err := gw.Infer(context.Background(), InferInput{
		FunctionName: "greet",
		Input:        RoleInput{User: map[string]any{"name": "Ada"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "Hello from mock" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.EpisodeID == "" || result.InferenceID == "" {
		t.Error("expected episode and inference ids to be populated")
	}

	waitUntil(t, func() bool { n, _ := sink.counts(); return n == 1 })
	rec := sink.lastInference()
	if rec.Status != analytics.StatusSuccess || rec.ModelName != "m-echo" || rec.ProviderName != "good" {
		t.Errorf("unexpected persisted record: %+v", rec)
	}
}

// Scenario 2: model fallback — the first provider in the routing list fails
// retryably, and the router moves on to the next without surfacing an error.
func TestScenario_ModelFallback(t *testing.T) {
	sink := &memSink{}
	gw := newTestGateway(t, buildScenarioRegistry(t), buildScenarioProviders(), sink)

	result, err := gw.Infer(context.Background(), InferInput{
		FunctionName: "flaky",
		Input:        RoleInput{User: map[string]any{"name": "Grace"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "Hello from mock" {
		t.Errorf("unexpected content: %q", result.Content)
	}

	waitUntil(t, func() bool { n, _ := sink.counts(); return n == 1 })
	rec := sink.lastInference()
	if rec.ProviderName != "good" {
		t.Errorf("expected fallback to land on provider %q, got %q", "good", rec.ProviderName)
	}
}

// Scenario 3: json function, "on" mode, output validates successfully.
func TestScenario_JSONSuccess(t *testing.T) {
	sink := &memSink{}
	gw := newTestGateway(t, buildScenarioRegistry(t), buildScenarioProviders(), sink)

	result, err := gw.Infer(context.Background(), InferInput{
		FunctionName: "classify_ok",
		Input:        RoleInput{User: map[string]any{"name": "a fluffy cat"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := result.Output.(map[string]any)
	if !ok || out["label"] != "cat" {
		t.Errorf("unexpected output: %#v", result.Output)
	}
}

// Scenario 4: json function whose output fails schema validation — the
// caller gets an OUTPUT_VALIDATION error and the record is still persisted
// with an explicit JSON null parsed_output (spec.md §8 scenario 4).
func TestScenario_JSONValidationFailure(t *testing.T) {
	sink := &memSink{}
	gw := newTestGateway(t, buildScenarioRegistry(t), buildScenarioProviders(), sink)

	_, err := gw.Infer(context.Background(), InferInput{
		FunctionName: "classify_bad",
		Input:        RoleInput{User: map[string]any{"name": "a fluffy cat"}},
	})
	if err == nil {
		t.Fatal("expected an output validation error")
	}
	if gatewayerrors.KindOf(err) != gatewayerrors.KindOutputValidation {
		t.Errorf("expected OUTPUT_VALIDATION, got %v", gatewayerrors.KindOf(err))
	}

	waitUntil(t, func() bool { n, _ := sink.counts(); return n == 1 })
	rec := sink.lastInference()
	if rec.Status != analytics.StatusError {
		t.Errorf("expected status error, got %v", rec.Status)
	}
	if string(rec.ParsedOutput) != "null" {
		t.Errorf("expected parsed_output to be JSON null, got %q", rec.ParsedOutput)
	}
}

// Scenario 5: tool call — the model's tool call is extracted and validated
// against the declared tool's parameter schema.
func TestScenario_ToolCall(t *testing.T) {
	sink := &memSink{}
	gw := newTestGateway(t, buildScenarioRegistry(t), buildScenarioProviders(), sink)

	result, err := gw.Infer(context.Background(), InferInput{
		FunctionName: "weather",
		Input:        RoleInput{User: map[string]any{"name": "Tokyo"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "get_temperature" {
		t.Fatalf("unexpected tool calls: %+v", result.ToolCalls)
	}
	parsed, ok := result.ToolCalls[0].Parsed.(map[string]any)
	if !ok || parsed["city"] != "Tokyo" {
		t.Errorf("unexpected parsed tool arguments: %#v", result.ToolCalls[0].Parsed)
	}
}

// Scenario 6: feedback submission, plus the type-mismatch rejection path.
func TestScenario_Feedback(t *testing.T) {
	sink := &memSink{}
	gw := newTestGateway(t, buildScenarioRegistry(t), buildScenarioProviders(), sink)

	inferenceID := "018f8e3e-0000-7000-8000-000000000001"
	res, err := gw.Feedback(context.Background(), FeedbackRequest{
		MetricName: "quality",
		TargetID:   inferenceID,
		Level:      LevelInference,
		Value:      0.9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FeedbackID == "" {
		t.Error("expected a feedback id")
	}
	waitUntil(t, func() bool { _, n := sink.counts(); return n == 1 })

	// Type mismatch: thumbs_up is boolean, supplying a float must be rejected
	// with INPUT_VALIDATION before a FeedbackID is minted, and without
	// reaching the sink.
	_, err = gw.Feedback(context.Background(), FeedbackRequest{
		MetricName: "thumbs_up",
		TargetID:   inferenceID,
		Level:      LevelEpisode,
		Value:      1.0,
	})
	if err == nil {
		t.Fatal("expected a type-mismatch error")
	}
	if gatewayerrors.KindOf(err) != gatewayerrors.KindInputValidation {
		t.Errorf("expected INPUT_VALIDATION, got %v", gatewayerrors.KindOf(err))
	}
	if gatewayerrors.KindInputValidation.HTTPStatus() != 400 {
		t.Fatalf("sanity check: expected INPUT_VALIDATION to map to 400, got %d", gatewayerrors.KindInputValidation.HTTPStatus())
	}

	_, n := sink.counts()
	if n != 1 {
		t.Errorf("expected the rejected feedback to never reach the sink, got %d records", n)
	}
}

// Level mismatch is also rejected, independent of the value's type.
func TestScenario_Feedback_LevelMismatch(t *testing.T) {
	sink := &memSink{}
	gw := newTestGateway(t, buildScenarioRegistry(t), buildScenarioProviders(), sink)

	_, err := gw.Feedback(context.Background(), FeedbackRequest{
		MetricName: "quality",
		TargetID:   "018f8e3e-0000-7000-8000-000000000002",
		Level:      LevelEpisode, // quality is declared at inference level
		Value:      0.5,
	})
	if err == nil {
		t.Fatal("expected a level-mismatch error")
	}
	if gatewayerrors.KindOf(err) != gatewayerrors.KindInputValidation {
		t.Errorf("expected INPUT_VALIDATION, got %v", gatewayerrors.KindOf(err))
	}
}

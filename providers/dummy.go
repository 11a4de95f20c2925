package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

// DummyProvider is a deterministic, network-free Provider used for config
// validation and end-to-end test scenarios (spec.md §8): it never makes an
// outbound call, so a gateway instance wired entirely to dummy providers is
// fully exercisable in CI. Behavior is keyed off the requested model name
// rather than the provider name, so the same provider can serve both the
// happy-path and the failure-path legs of a model's routing list.
type DummyProvider struct {
	name       string
	alwaysFail bool
}

// NewDummy creates a dummy provider. alwaysFail makes every request fail
// with a retryable transport error regardless of the requested model,
// which is how scenario 2 (model fallback) exercises a provider named
// "error" ahead of a provider named "good" in a model's routing list.
func NewDummy(name string, alwaysFail bool) *DummyProvider {
	return &DummyProvider{name: name, alwaysFail: alwaysFail}
}

// Name returns the provider identifier.
func (p *DummyProvider) Name() string { return p.name }

// AuthHeaders implements ProxiableProvider. Dummy providers never leave the process.
func (p *DummyProvider) AuthHeaders() map[string]string { return nil }

// SupportedModels returns the model names dummy behavior branches on.
func (p *DummyProvider) SupportedModels() []string {
	return []string{"test", "json", "tool", "error"}
}

// SupportsModel returns true for any model so config authors can route any
// model name at a dummy provider during testing.
func (p *DummyProvider) SupportsModel(_ string) bool { return true }

// Models returns structured model metadata.
func (p *DummyProvider) Models() []ModelInfo {
	return ModelsFromList(p.name, p.SupportedModels())
}

func promptWordCount(req Request) int {
	n := 0
	for _, msg := range req.Messages {
		n += len(strings.Fields(msg.Content))
	}
	return n
}

// Complete returns a deterministic response shaped by req.Model:
//   - "error" always fails, regardless of the provider's alwaysFail setting.
//   - "json" returns a fixed JSON object, for output_schema validation tests.
//   - "tool" returns a single get_temperature tool call.
//   - anything else echoes a fixed assistant reply with non-zero usage.
func (p *DummyProvider) Complete(_ context.Context, req Request) (*Response, error) {
	if p.alwaysFail || req.Model == "error" {
		return nil, fmt.Errorf("dummy API error (%d): simulated failure", http.StatusServiceUnavailable)
	}

	promptTokens := promptWordCount(req)
	if promptTokens == 0 {
		promptTokens = 1
	}

	switch req.Model {
	case "json":
		return &Response{
			ID:       "dummy-json",
			Model:    req.Model,
			Provider: p.name,
			Choices: []Choice{{
				Index:        0,
				Message:      Message{Role: RoleAssistant, Content: `{"answer":"a dummy answer"}`},
				FinishReason: "stop",
			}},
			Usage: Usage{PromptTokens: promptTokens, CompletionTokens: 4, TotalTokens: promptTokens + 4},
		}, nil
	case "tool":
		return &Response{
			ID:       "dummy-tool",
			Model:    req.Model,
			Provider: p.name,
			Choices: []Choice{{
				Index: 0,
				Message: Message{
					Role: RoleAssistant,
					ToolCalls: []ToolCall{{
						ID:   "call_dummy_1",
						Type: "function",
						Function: FunctionCall{
							Name:      "get_temperature",
							Arguments: `{"city":"Tokyo"}`,
						},
					}},
				},
				FinishReason: "tool_calls",
			}},
			Usage: Usage{PromptTokens: promptTokens, CompletionTokens: 1, TotalTokens: promptTokens + 1},
		}, nil
	default:
		return &Response{
			ID:       "dummy-" + strconv.Itoa(promptTokens),
			Model:    req.Model,
			Provider: p.name,
			Choices: []Choice{{
				Index:        0,
				Message:      Message{Role: RoleAssistant, Content: "This is a dummy response."},
				FinishReason: "stop",
			}},
			Usage: Usage{PromptTokens: promptTokens, CompletionTokens: 5, TotalTokens: promptTokens + 5},
		}, nil
	}
}

// CompleteStream emits the same content as Complete split across two chunks,
// the second carrying the finish reason and usage (a tool-call response is a
// single chunk), exercising the streaming path without a real transport.
func (p *DummyProvider) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 3)
	go func() {
		defer close(ch)
		content := resp.Choices[0].Message.Content
		if content == "" {
			ch <- StreamChunk{
				ID:      resp.ID,
				Model:   resp.Model,
				Choices: []StreamChoice{{Index: 0, Delta: MessageDelta{ToolCalls: resp.Choices[0].Message.ToolCalls}, FinishReason: resp.Choices[0].FinishReason}},
				Usage:   &resp.Usage,
			}
			return
		}
		mid := len(content) / 2
		ch <- StreamChunk{ID: resp.ID, Model: resp.Model, Choices: []StreamChoice{{Index: 0, Delta: MessageDelta{Role: RoleAssistant, Content: content[:mid]}}}}
		ch <- StreamChunk{ID: resp.ID, Model: resp.Model, Choices: []StreamChoice{{Index: 0, Delta: MessageDelta{Content: content[mid:]}, FinishReason: resp.Choices[0].FinishReason}}, Usage: &resp.Usage}
	}()
	return ch, nil
}

// ClassifyError implements ErrorClassifier.
func (p *DummyProvider) ClassifyError(statusCode int, body string, err error) *gatewayerrors.ClassifiedError {
	if statusCode != 0 || body != "" {
		return ClassifyHTTPError(p.name, statusCode, body, err)
	}
	return ClassifyFromError(p.name, err)
}

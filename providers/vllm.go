package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

// VLLMProvider implements the Provider interface for self-hosted vLLM
// instances exposing an OpenAI-compatible /v1/chat/completions endpoint.
type VLLMProvider struct {
	httpClient *http.Client
	baseURL    string
	name       string
	models     []string
}

// NewVLLM creates a new vLLM provider pointed at an OpenAI-compatible
// server. Unlike hosted vendors, the served model id is operator-chosen, so
// models must be supplied explicitly rather than defaulted.
func NewVLLM(baseURL string, models []string) (*VLLMProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &VLLMProvider{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		name:       "vllm",
		models:     models,
	}, nil
}

// Name returns the provider identifier.
func (p *VLLMProvider) Name() string { return p.name }

// BaseURL implements ProxiableProvider.
func (p *VLLMProvider) BaseURL() string { return p.baseURL }

// AuthHeaders implements ProxiableProvider. Self-hosted vLLM deployments
// typically sit behind network-level access control, not an API key.
func (p *VLLMProvider) AuthHeaders() map[string]string { return nil }

// SupportedModels returns the configured served model ids.
func (p *VLLMProvider) SupportedModels() []string {
	return p.models
}

// SupportsModel returns true for any model — the served model id is
// whatever the deployment was launched with, and vLLM itself rejects a
// request for a model it isn't serving.
func (p *VLLMProvider) SupportsModel(_ string) bool {
	return true
}

// Models returns structured model metadata for the /v1/models endpoint.
func (p *VLLMProvider) Models() []ModelInfo {
	models := make([]ModelInfo, len(p.models))
	for i, id := range p.models {
		models[i] = ModelInfo{
			ID:      id,
			Object:  "model",
			OwnedBy: p.name,
		}
	}
	return models
}

// vllmRequest is OpenAI-compatible.
type vllmRequest struct {
	Model       string      `json:"model"`
	Messages    []Message   `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
	Tools       []Tool      `json:"tools,omitempty"`
	ToolChoice  interface{} `json:"tool_choice,omitempty"`
}

type vllmResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type vllmErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type vllmErrorResponse struct {
	Error vllmErrorDetail `json:"error"`
}

// Complete sends a chat completion request and returns the full response.
func (p *VLLMProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	vllmReq := vllmRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}

	body, err := json.Marshal(vllmReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp vllmErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("vllm API error (%d): %s", httpResp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("vllm API error (%d): %s", httpResp.StatusCode, string(respBody))
	}

	var vllmResp vllmResponse
	if err := json.Unmarshal(respBody, &vllmResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &Response{
		ID:      vllmResp.ID,
		Model:   vllmResp.Model,
		Choices: vllmResp.Choices,
		Usage:   vllmResp.Usage,
	}, nil
}

type vllmStreamResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// CompleteStream sends a streaming chat completion request to vLLM.
func (p *VLLMProvider) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	vllmReq := vllmRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Stream:      true,
	}

	body, err := json.Marshal(vllmReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		var errResp vllmErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("vllm API error (%d): %s", httpResp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("vllm API error (%d): %s", httpResp.StatusCode, string(respBody))
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = httpResp.Body.Close() }()

		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == SSEDone {
				return
			}

			var chunk vllmStreamResponse
			if json.Unmarshal([]byte(data), &chunk) != nil {
				continue
			}

			sc := StreamChunk{
				ID:    chunk.ID,
				Model: chunk.Model,
			}
			for _, c := range chunk.Choices {
				sc.Choices = append(sc.Choices, StreamChoice{
					Index: c.Index,
					Delta: MessageDelta{
						Role:    c.Delta.Role,
						Content: c.Delta.Content,
					},
					FinishReason: c.FinishReason,
				})
			}
			ch <- sc
		}
		if err := scanner.Err(); err != nil {
			ch <- StreamChunk{Error: err}
		}
	}()

	return ch, nil
}

// ClassifyError implements ErrorClassifier.
func (p *VLLMProvider) ClassifyError(statusCode int, body string, err error) *gatewayerrors.ClassifiedError {
	if statusCode != 0 || body != "" {
		return ClassifyHTTPError(p.name, statusCode, body, err)
	}
	return ClassifyFromError(p.name, err)
}

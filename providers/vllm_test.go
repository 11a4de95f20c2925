package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

func TestNewVLLM(t *testing.T) {
	p, err := NewVLLM("", nil)
	if err != nil {
		t.Fatalf("NewVLLM() error: %v", err)
	}
	if p.Name() != "vllm" {
		t.Errorf("Name() = %q, want vllm", p.Name())
	}
}

func TestNewVLLM_CustomModels(t *testing.T) {
	p, _ := NewVLLM("", []string{"meta-llama/Llama-3.1-8B-Instruct", "mistralai/Mistral-7B-Instruct-v0.3"})
	models := p.SupportedModels()
	if len(models) != 2 {
		t.Errorf("SupportedModels() returned %d models, want 2", len(models))
	}
}

func TestVLLMProvider_SupportsModel(t *testing.T) {
	p, _ := NewVLLM("", []string{"meta-llama/Llama-3.1-8B-Instruct"})
	if !p.SupportsModel("meta-llama/Llama-3.1-8B-Instruct") {
		t.Error("expected configured model to be supported")
	}
	if !p.SupportsModel("anything-else") {
		t.Error("passthrough: expected any model to return true")
	}
}

func TestVLLMProvider_Models(t *testing.T) {
	p, _ := NewVLLM("", []string{"meta-llama/Llama-3.1-8B-Instruct"})
	models := p.Models()
	for _, m := range models {
		if m.OwnedBy != "vllm" {
			t.Errorf("ModelInfo.OwnedBy = %q, want vllm", m.OwnedBy)
		}
	}
}

func TestVLLMProvider_CompleteStream_Interface(_ *testing.T) {
	p, _ := NewVLLM("", nil)
	var _ StreamProvider = p
}

func TestVLLMProvider_CompleteStream_MockSSE(t *testing.T) {
	sseData := "data: {\"id\":\"chatcmpl-1\",\"model\":\"llama\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":\"\"}]}\n\n" +
		"data: {\"id\":\"chatcmpl-1\",\"model\":\"llama\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hello\"},\"finish_reason\":\"\"}]}\n\n" +
		"data: {\"id\":\"chatcmpl-1\",\"model\":\"llama\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sseData))
	}))
	defer srv.Close()

	p, _ := NewVLLM(srv.URL, []string{"llama"})
	ch, err := p.CompleteStream(context.Background(), Request{
		Model:    "llama",
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("CompleteStream() error: %v", err)
	}

	var chunks []StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Choices[0].Delta.Content != "Hello" {
		t.Errorf("delta content = %q, want Hello", chunks[1].Choices[0].Delta.Content)
	}
}

func TestVLLMProvider_ClassifyError(t *testing.T) {
	p, _ := NewVLLM("", nil)
	ce := p.ClassifyError(429, "rate limited", nil)
	if ce.Kind != gatewayerrors.KindRateLimit {
		t.Errorf("ClassifyError(429) kind = %v, want rate limit", ce.Kind)
	}
}

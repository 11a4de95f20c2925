package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func newTestVertex(baseURL string) *VertexProvider {
	return &VertexProvider{
		httpClient:  &http.Client{},
		tokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		baseURL:     baseURL,
		name:        "vertex",
		projectID:   "test-project",
		region:      "us-central1",
	}
}

func TestVertexProvider_Name(t *testing.T) {
	p := newTestVertex("")
	if p.Name() != "vertex" {
		t.Errorf("Name() = %q, want vertex", p.Name())
	}
}

func TestVertexProvider_SupportedModels(t *testing.T) {
	p := newTestVertex("")
	models := p.SupportedModels()
	found := false
	for _, m := range models {
		if m == "gemini-2.0-flash" {
			found = true
		}
	}
	if !found {
		t.Error("gemini-2.0-flash not found")
	}
}

func TestVertexProvider_SupportsModel(t *testing.T) {
	p := newTestVertex("")
	if !p.SupportsModel("gemini-2.0-flash") {
		t.Error("expected gemini-2.0-flash to be supported")
	}
	if p.SupportsModel("gpt-4o") {
		t.Error("vertex should not support gpt-4o")
	}
}

func TestVertexProvider_AuthHeaders(t *testing.T) {
	p := newTestVertex("")
	headers := p.AuthHeaders()
	if headers["Authorization"] != "Bearer test-token" {
		t.Errorf("AuthHeaders()[Authorization] = %q, want Bearer test-token", headers["Authorization"])
	}
}

func TestVertexProvider_CompleteStream_Interface(_ *testing.T) {
	p := newTestVertex("")
	var _ StreamProvider = p
}

func TestVertexProvider_CompleteStream_MockSSE(t *testing.T) {
	sseData := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello\"}],\"role\":\"model\"},\"finishReason\":\"\"}]}\n\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"!\"}],\"role\":\"model\"},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":5,\"candidatesTokenCount\":3,\"totalTokenCount\":8}}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token on request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sseData))
	}))
	defer srv.Close()

	p := newTestVertex(srv.URL)
	ch, err := p.CompleteStream(context.Background(), Request{
		Model:    "gemini-2.0-flash",
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
	if chunks[0].Choices[0].Delta.Content != "Hello" {
		t.Errorf("delta content = %q, want Hello", chunks[0].Choices[0].Delta.Content)
	}
}

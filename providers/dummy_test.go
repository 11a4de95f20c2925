package providers

import (
	"context"
	"testing"
)

func TestDummyProvider_Complete_Echo(t *testing.T) {
	p := NewDummy("good", false)
	resp, err := p.Complete(context.Background(), Request{
		Model:    "test",
		Messages: []Message{{Role: "user", Content: "hello there"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content == "" {
		t.Error("expected non-empty content")
	}
	if resp.Usage.PromptTokens <= 0 {
		t.Errorf("expected PromptTokens > 0, got %d", resp.Usage.PromptTokens)
	}
}

func TestDummyProvider_Complete_AlwaysFail(t *testing.T) {
	p := NewDummy("error", true)
	_, err := p.Complete(context.Background(), Request{Model: "test"})
	if err == nil {
		t.Fatal("expected error from alwaysFail provider")
	}
}

func TestDummyProvider_Complete_ErrorModel(t *testing.T) {
	p := NewDummy("good", false)
	_, err := p.Complete(context.Background(), Request{Model: "error"})
	if err == nil {
		t.Fatal("expected error for model \"error\"")
	}
}

func TestDummyProvider_Complete_JSONModel(t *testing.T) {
	p := NewDummy("good", false)
	resp, err := p.Complete(context.Background(), Request{Model: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content == "" {
		t.Error("expected non-empty JSON content")
	}
}

func TestDummyProvider_Complete_ToolModel(t *testing.T) {
	p := NewDummy("good", false)
	resp, err := p.Complete(context.Background(), Request{Model: "tool"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "get_temperature" {
		t.Errorf("expected one get_temperature tool call, got %+v", calls)
	}
}

func TestDummyProvider_CompleteStream(t *testing.T) {
	p := NewDummy("good", false)
	ch, err := p.CompleteStream(context.Background(), Request{
		Model:    "test",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var chunks []StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if last.Usage == nil || last.Usage.PromptTokens <= 0 {
		t.Error("expected terminal chunk to carry non-zero usage")
	}
}

func TestDummyProvider_ClassifyError(t *testing.T) {
	p := NewDummy("error", true)
	_, err := p.Complete(context.Background(), Request{Model: "test"})
	ce := p.ClassifyError(0, "", err)
	if ce == nil {
		t.Fatal("expected a classified error")
	}
}

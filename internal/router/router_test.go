package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/circuitbreaker"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/providers"
)

func registry(pp ...providers.Provider) map[string]providers.Provider {
	m := make(map[string]providers.Provider, len(pp))
	for _, p := range pp {
		m[p.Name()] = p
	}
	return m
}

func TestRouter_Complete_FirstSucceeds(t *testing.T) {
	good := providers.NewDummy("good", false)
	r := New(registry(good), nil)

	resp, err := r.Complete(context.Background(), []string{"good"}, providers.Request{Model: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "good" {
		t.Errorf("resp.Provider = %q, want good", resp.Provider)
	}
}

func TestRouter_Complete_FallsToSecond(t *testing.T) {
	bad := providers.NewDummy("bad", true)
	good := providers.NewDummy("good", false)
	r := New(registry(bad, good), nil)

	resp, err := r.Complete(context.Background(), []string{"bad", "good"}, providers.Request{Model: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "good" {
		t.Errorf("resp.Provider = %q, want good", resp.Provider)
	}
}

func TestRouter_Complete_AllFail(t *testing.T) {
	bad1 := providers.NewDummy("a", true)
	bad2 := providers.NewDummy("b", true)
	r := New(registry(bad1, bad2), nil)

	_, err := r.Complete(context.Background(), []string{"a", "b"}, providers.Request{Model: "test"})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RoutingError, got %T", err)
	}
	if len(re.ProviderErrors()) != 2 {
		t.Errorf("expected 2 accumulated provider errors, got %d", len(re.ProviderErrors()))
	}
}

func TestRouter_Complete_NoRouting(t *testing.T) {
	r := New(registry(), nil)
	_, err := r.Complete(context.Background(), nil, providers.Request{Model: "test"})
	if gatewayerrors.KindOf(err) != gatewayerrors.KindNoVariant {
		t.Errorf("expected KindNoVariant, got %v", gatewayerrors.KindOf(err))
	}
}

func TestRouter_Complete_SkipsMissingProvider(t *testing.T) {
	good := providers.NewDummy("good", false)
	r := New(registry(good), nil)

	resp, err := r.Complete(context.Background(), []string{"missing", "good"}, providers.Request{Model: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "good" {
		t.Errorf("resp.Provider = %q, want good", resp.Provider)
	}
}

func TestRouter_Complete_OpenCircuitSkipsProvider(t *testing.T) {
	bad := providers.NewDummy("bad", true)
	good := providers.NewDummy("good", false)

	cb := circuitbreaker.New(1, 1, time.Minute)
	cb.RecordFailure() // one failure trips a threshold-1 breaker open

	breakers := map[string]*circuitbreaker.CircuitBreaker{"bad": cb}
	r := New(registry(bad, good), breakers)

	resp, err := r.Complete(context.Background(), []string{"bad", "good"}, providers.Request{Model: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "good" {
		t.Errorf("resp.Provider = %q, want good", resp.Provider)
	}
}

func TestRouter_Complete_BreakerRecordsOutcome(t *testing.T) {
	bad := providers.NewDummy("bad", true)
	cb := circuitbreaker.New(5, 1, time.Minute)
	breakers := map[string]*circuitbreaker.CircuitBreaker{"bad": cb}
	r := New(registry(bad), breakers)

	_, _ = r.Complete(context.Background(), []string{"bad"}, providers.Request{Model: "test"})
	if cb.State() != circuitbreaker.StateClosed {
		// Single failure below threshold keeps it closed; this just
		// confirms RecordFailure was actually invoked and didn't panic.
		t.Fatalf("unexpected breaker state after one failure: %v", cb.State())
	}
}

func TestRouter_CompleteStream_CommitsOnFirstChunk(t *testing.T) {
	good := providers.NewDummy("good", false)
	r := New(registry(good), nil)

	ch, err := r.CompleteStream(context.Background(), []string{"good"}, providers.Request{
		Model:    "test",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var chunks []providers.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
}

func TestRouter_CompleteStream_FallsToSecond(t *testing.T) {
	bad := providers.NewDummy("bad", true)
	good := providers.NewDummy("good", false)
	r := New(registry(bad, good), nil)

	ch, err := r.CompleteStream(context.Background(), []string{"bad", "good"}, providers.Request{
		Model:    "test",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var chunks []providers.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks from the fallback provider")
	}
}

func TestRouter_CompleteStream_AllFail(t *testing.T) {
	bad := providers.NewDummy("bad", true)
	r := New(registry(bad), nil)

	_, err := r.CompleteStream(context.Background(), []string{"bad"}, providers.Request{Model: "test"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRouter_CompleteStream_NoRouting(t *testing.T) {
	r := New(registry(), nil)
	_, err := r.CompleteStream(context.Background(), nil, providers.Request{Model: "test"})
	if gatewayerrors.KindOf(err) != gatewayerrors.KindNoVariant {
		t.Errorf("expected KindNoVariant, got %v", gatewayerrors.KindOf(err))
	}
}

func TestRouter_CompleteStream_NonStreamingProviderSkipped(t *testing.T) {
	nonStreaming := nonStreamProvider{name: "nostream"}
	good := providers.NewDummy("good", false)
	r := New(registry(nonStreaming, good), nil)

	ch, err := r.CompleteStream(context.Background(), []string{"nostream", "good"}, providers.Request{Model: "test"})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for range ch {
		count++
	}
	if count == 0 {
		t.Error("expected chunks from the streaming-capable provider")
	}
}

// nonStreamProvider implements providers.Provider but not providers.StreamProvider.
type nonStreamProvider struct{ name string }

func (p nonStreamProvider) Name() string                  { return p.name }
func (p nonStreamProvider) SupportedModels() []string     { return []string{"test"} }
func (p nonStreamProvider) SupportsModel(string) bool     { return true }
func (p nonStreamProvider) Models() []providers.ModelInfo { return nil }
func (p nonStreamProvider) Complete(context.Context, providers.Request) (*providers.Response, error) {
	return &providers.Response{Provider: p.name}, nil
}

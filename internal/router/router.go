// Package router implements the model router (spec.md §4.D): given a
// model's ordered list of provider names, dispatch to each in turn,
// classifying errors and cascading to the next provider only when the
// classified Kind is retryable. Non-streaming calls return on first
// success; streaming calls commit to a provider the moment its first
// non-error chunk is observed, after which no further failover is legal
// for that request (spec.md §4.D, "commit-on-first-chunk").
package router

import (
	"context"
	"fmt"

	"github.com/ferro-labs/inference-gateway/internal/circuitbreaker"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/metrics"
	"github.com/ferro-labs/inference-gateway/providers"
)

// Router dispatches requests across a model's routing list.
type Router struct {
	providers map[string]providers.Provider
	breakers  map[string]*circuitbreaker.CircuitBreaker
}

// New builds a Router over a provider registry and an optional set of
// per-provider circuit breakers. A provider name absent from breakers is
// never skipped for an open circuit (no breaker configured for it).
func New(providerRegistry map[string]providers.Provider, breakers map[string]*circuitbreaker.CircuitBreaker) *Router {
	return &Router{providers: providerRegistry, breakers: breakers}
}

// ProviderError is one entry in the accumulated per-provider failure list
// surfaced when a routing list is exhausted (spec.md §4.D "aggregate
// errors"; §6 error shape "details.provider_errors").
type ProviderError struct {
	Provider string
	Kind     gatewayerrors.Kind
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

// RoutingError is returned when every provider in a routing list failed, was
// skipped on an open circuit, or a non-retryable error was encountered.
type RoutingError struct {
	Model  string
	Errors []ProviderError
}

func (e *RoutingError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("no provider available for model %q", e.Model)
	}
	return fmt.Sprintf("all providers failed for model %q: %v", e.Model, e.Errors)
}

// ProviderErrors exposes the accumulated list for the HTTP layer's
// details.provider_errors field.
func (e *RoutingError) ProviderErrors() []ProviderError { return e.Errors }

// breakerFor returns the circuit breaker for name, or nil if none is
// configured — a nil breaker never blocks a provider and never records.
func (r *Router) breakerFor(name string) *circuitbreaker.CircuitBreaker {
	if r.breakers == nil {
		return nil
	}
	return r.breakers[name]
}

// observeBreaker publishes cb's current state to gateway_circuit_breaker_state
// for name. Called after every Allow/RecordSuccess/RecordFailure so the gauge
// never lags the breaker it mirrors.
func observeBreaker(name string, cb *circuitbreaker.CircuitBreaker) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(cb.State()))
}

// classify maps a provider's returned error onto the gateway's Kind
// taxonomy, using the provider's own ErrorClassifier if it implements one
// and falling back to KindUnknown (which is retryable) otherwise.
func classify(p providers.Provider, err error) *gatewayerrors.ClassifiedError {
	if ec, ok := p.(providers.ErrorClassifier); ok {
		if ce := ec.ClassifyError(0, "", err); ce != nil {
			return ce
		}
	}
	return gatewayerrors.FromProvider(gatewayerrors.KindUnknown, p.Name(), err)
}

// Complete dispatches req to the routing list in order, returning the first
// successful response. A non-retryable classified error stops the cascade
// immediately; a retryable one moves on to the next provider.
func (r *Router) Complete(ctx context.Context, routing []string, req providers.Request) (*providers.Response, error) {
	if len(routing) == 0 {
		return nil, gatewayerrors.Newf(gatewayerrors.KindNoVariant, "model %q has no routing providers configured", req.Model)
	}

	var errs []ProviderError
	for _, name := range routing {
		p, ok := r.providers[name]
		if !ok {
			errs = append(errs, ProviderError{Provider: name, Kind: gatewayerrors.KindUnknown, Err: fmt.Errorf("provider %q not registered", name)})
			continue
		}

		cb := r.breakerFor(name)
		if cb != nil && !cb.Allow() {
			observeBreaker(name, cb)
			errs = append(errs, ProviderError{Provider: name, Kind: gatewayerrors.KindRetryableTransport, Err: circuitbreaker.ErrCircuitOpen})
			continue
		}

		resp, err := p.Complete(ctx, req)
		if err == nil {
			if cb != nil {
				cb.RecordSuccess()
				observeBreaker(name, cb)
			}
			resp.Provider = name
			return resp, nil
		}

		if cb != nil {
			cb.RecordFailure()
			observeBreaker(name, cb)
		}
		ce := classify(p, err)
		errs = append(errs, ProviderError{Provider: name, Kind: ce.Kind, Err: ce.Err})
		if !ce.Kind.Retryable() {
			return nil, &RoutingError{Model: req.Model, Errors: errs}
		}
	}

	return nil, &RoutingError{Model: req.Model, Errors: errs}
}

// CompleteStream dispatches req to the routing list in order. Each
// candidate provider's stream is opened and its first item is read before
// anything is forwarded to the caller: an error there cascades to the next
// provider exactly like a non-streaming failure. Once a non-error first
// chunk has been observed, the provider is committed — the returned channel
// forwards everything that provider sends from then on, including a later
// mid-stream error, with no further failover (spec.md §4.D).
func (r *Router) CompleteStream(ctx context.Context, routing []string, req providers.Request) (<-chan providers.StreamChunk, error) {
	if len(routing) == 0 {
		return nil, gatewayerrors.Newf(gatewayerrors.KindNoVariant, "model %q has no routing providers configured", req.Model)
	}

	var errs []ProviderError
	for _, name := range routing {
		p, ok := r.providers[name]
		if !ok {
			errs = append(errs, ProviderError{Provider: name, Kind: gatewayerrors.KindUnknown, Err: fmt.Errorf("provider %q not registered", name)})
			continue
		}
		sp, ok := p.(providers.StreamProvider)
		if !ok {
			errs = append(errs, ProviderError{Provider: name, Kind: gatewayerrors.KindUnknown, Err: fmt.Errorf("provider %q does not support streaming", name)})
			continue
		}

		cb := r.breakerFor(name)
		if cb != nil && !cb.Allow() {
			observeBreaker(name, cb)
			errs = append(errs, ProviderError{Provider: name, Kind: gatewayerrors.KindRetryableTransport, Err: circuitbreaker.ErrCircuitOpen})
			continue
		}

		ch, err := sp.CompleteStream(ctx, req)
		if err != nil {
			if cb != nil {
				cb.RecordFailure()
				observeBreaker(name, cb)
			}
			ce := classify(p, err)
			errs = append(errs, ProviderError{Provider: name, Kind: ce.Kind, Err: ce.Err})
			if !ce.Kind.Retryable() {
				return nil, &RoutingError{Model: req.Model, Errors: errs}
			}
			continue
		}

		first, open := <-ch
		if !open {
			// Stream closed with nothing at all: treat as a clean, empty
			// success and commit (no content to forward, nothing to retry).
			if cb != nil {
				cb.RecordSuccess()
				observeBreaker(name, cb)
			}
			out := make(chan providers.StreamChunk)
			close(out)
			return out, nil
		}
		if first.Error != nil {
			if cb != nil {
				cb.RecordFailure()
				observeBreaker(name, cb)
			}
			ce := classify(p, first.Error)
			errs = append(errs, ProviderError{Provider: name, Kind: ce.Kind, Err: ce.Err})
			if !ce.Kind.Retryable() {
				return nil, &RoutingError{Model: req.Model, Errors: errs}
			}
			continue
		}

		// Committed: no more failover past this point for this request.
		if cb != nil {
			cb.RecordSuccess()
			observeBreaker(name, cb)
		}
		out := make(chan providers.StreamChunk)
		go pumpCommitted(out, first, ch)
		return out, nil
	}

	return nil, &RoutingError{Model: req.Model, Errors: errs}
}

// pumpCommitted forwards first, then every remaining chunk from ch, onto
// out, closing out when ch is exhausted. No failover decision is made here;
// the provider was already committed by the caller.
func pumpCommitted(out chan<- providers.StreamChunk, first providers.StreamChunk, ch <-chan providers.StreamChunk) {
	defer close(out)
	out <- first
	for c := range ch {
		out <- c
	}
}

// Package gateway is an LLM inference gateway: applications call a named
// function, the gateway samples a variant, renders prompts, routes the
// request through a model's ordered provider list with failover, optionally
// streams, validates structured output, and asynchronously persists
// inference and feedback records.
//
// Gateway is the entry point: build a Registry with LoadConfig, construct a
// Gateway with New, and call Infer or InferStream for each request.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/analytics"
	"github.com/ferro-labs/inference-gateway/internal/circuitbreaker"
	"github.com/ferro-labs/inference-gateway/internal/logging"
	"github.com/ferro-labs/inference-gateway/internal/router"
	"github.com/ferro-labs/inference-gateway/models"
	"github.com/ferro-labs/inference-gateway/plugin"
	"github.com/ferro-labs/inference-gateway/providers"
)

// EventHookFunc is called asynchronously after an inference or feedback
// event. Hooks never block the request path: AddHook registers fn, and
// publishEvent always invokes it in its own goroutine.
type EventHookFunc func(ctx context.Context, subject string, data map[string]interface{})

// Event subject constants passed to EventHookFunc.
const (
	SubjectInferenceCompleted = "gateway.inference.completed"
	SubjectInferenceFailed    = "gateway.inference.failed"
	SubjectFeedbackRecorded   = "gateway.feedback.recorded"
)

// Gateway is the main entry point for the inference pipeline.
type Gateway struct {
	mu sync.RWMutex

	registry  *Registry
	providers map[string]providers.Provider
	router    *router.Router
	plugins   *plugin.Manager
	hooks     []EventHookFunc
	writer    *analytics.Writer
	catalog   models.Catalog

	discoveredModels map[string][]providers.ModelInfo
}

// Options configures New beyond what the Registry itself carries.
type Options struct {
	// Sink persists InferenceRecord/FeedbackRecord batches asynchronously
	// (spec.md §4.H). A nil Sink means persistence is disabled: inferences
	// still complete and emit metrics, but nothing reaches storage — used by
	// tests and by dryrun-only deployments.
	Sink analytics.Sink
	// WriterBufferSize, WriterBatchSize and WriterFlushInterval override the
	// analytics.Writer's defaults; a zero value keeps the package default.
	WriterBufferSize    int
	WriterBatchSize     int
	WriterFlushInterval time.Duration
}

// New builds a Gateway from reg: it constructs a live provider adapter for
// every declared ProviderConfig (providers_factory.go), wires per-provider
// circuit breakers, loads configured plugins, and starts the analytics
// writer if a Sink was supplied.
func New(ctx context.Context, reg *Registry, opts Options) (*Gateway, error) {
	provs, err := buildProviders(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(reg.CircuitBreakers))
	for name, cbc := range reg.CircuitBreakers {
		timeout, perr := time.ParseDuration(orDefault(cbc.Timeout, "30s"))
		if perr != nil {
			return nil, fmt.Errorf("provider %q: circuit breaker timeout: %w", name, perr)
		}
		failureThreshold := cbc.FailureThreshold
		if failureThreshold <= 0 {
			failureThreshold = 5
		}
		successThreshold := cbc.SuccessThreshold
		if successThreshold <= 0 {
			successThreshold = 1
		}
		breakers[name] = circuitbreaker.New(failureThreshold, successThreshold, timeout)
	}

	var writer *analytics.Writer
	if opts.Sink != nil {
		writer = analytics.NewWriter(opts.Sink, opts.WriterBufferSize, opts.WriterBatchSize, opts.WriterFlushInterval)
		writer.Start()
	}

	// Catalog load failures never stop the gateway from serving inferences
	// (models.Load already falls back to its embedded copy); cost accounting
	// simply reports ModelFound=false for every model until a later restart
	// picks up a reachable catalog.
	catalog, err := models.Load()
	if err != nil {
		logging.FromContext(ctx).Warn("model catalog unavailable, cost accounting disabled", "error", err.Error())
	}

	g := &Gateway{
		registry:         reg,
		providers:        provs,
		router:           router.New(provs, breakers),
		plugins:          plugin.NewManager(),
		writer:           writer,
		catalog:          catalog,
		discoveredModels: make(map[string][]providers.ModelInfo),
	}
	if err := g.loadPlugins(); err != nil {
		return nil, err
	}
	return g, nil
}

// Registry returns the Gateway's immutable configuration.
func (g *Gateway) Registry() *Registry { return g.registry }

// AddHook registers an EventHookFunc invoked asynchronously on every
// completed inference, failed inference, and recorded feedback.
func (g *Gateway) AddHook(fn EventHookFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

func (g *Gateway) publishEvent(ctx context.Context, subject string, data map[string]interface{}) {
	g.mu.RLock()
	hooks := make([]EventHookFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(ctx, subject, data)
	}
}

// loadPlugins instantiates every enabled entry in reg.Plugins from the
// package-level plugin factory registry and attaches it to its configured
// lifecycle stage (SPEC_FULL.md §6: the built-ins the binaries register from
// internal/plugins are response-cache, request-logger, max-token and
// word-filter).
func (g *Gateway) loadPlugins() error {
	for _, pc := range g.registry.Plugins {
		if !pc.Enabled {
			continue
		}
		factory, ok := plugin.GetFactory(pc.Name)
		if !ok {
			return fmt.Errorf("unknown plugin %q", pc.Name)
		}
		p := factory()
		if err := p.Init(pc.Config); err != nil {
			return fmt.Errorf("plugin %q init: %w", pc.Name, err)
		}
		if err := g.plugins.Register(plugin.Stage(pc.Stage), p); err != nil {
			return fmt.Errorf("plugin %q register: %w", pc.Name, err)
		}
	}
	return nil
}

// Close stops the analytics writer, flushing whatever is buffered within
// timeout (spec.md §9, "torn down on shutdown with bounded-timeout flush").
func (g *Gateway) Close(timeout time.Duration) {
	if g.writer != nil {
		g.writer.Close(timeout)
	}
}

// ── Auto-discovery ──────────────────────────────────────────────────────────

// StartDiscovery periodically refreshes model lists from providers that
// implement providers.DiscoveryProvider. It runs in a background goroutine
// until ctx is cancelled. interval must be greater than zero.
func (g *Gateway) StartDiscovery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("StartDiscovery: interval must be greater than zero, got %v", interval)
	}
	log := logging.FromContext(ctx)
	go func() {
		g.runDiscovery(ctx, log)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.runDiscovery(ctx, log)
			}
		}
	}()
	return nil
}

func (g *Gateway) runDiscovery(ctx context.Context, log *slog.Logger) {
	g.mu.RLock()
	providersCopy := make(map[string]providers.Provider, len(g.providers))
	for k, v := range g.providers {
		providersCopy[k] = v
	}
	g.mu.RUnlock()

	for name, p := range providersCopy {
		dp, ok := p.(providers.DiscoveryProvider)
		if !ok {
			continue
		}
		models, err := dp.DiscoverModels(ctx)
		if err != nil {
			log.Error("model discovery failed", "provider", name, "error", err.Error())
			continue
		}
		g.mu.Lock()
		g.discoveredModels[name] = models
		g.mu.Unlock()
		log.Info("model discovery completed", "provider", name, "models", len(models))
	}
}

// DiscoveredModels returns the most recently discovered model list per
// provider, keyed by provider name. Exercised by GET /v1/models.
func (g *Gateway) DiscoveredModels() map[string][]providers.ModelInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]providers.ModelInfo, len(g.discoveredModels))
	for k, v := range g.discoveredModels {
		out[k] = v
	}
	return out
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/analytics"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/ids"
	"github.com/ferro-labs/inference-gateway/internal/logging"
	"github.com/ferro-labs/inference-gateway/internal/metrics"
	"github.com/ferro-labs/inference-gateway/internal/prompt"
	"github.com/ferro-labs/inference-gateway/internal/router"
	"github.com/ferro-labs/inference-gateway/internal/sampler"
	"github.com/ferro-labs/inference-gateway/internal/schema"
	"github.com/ferro-labs/inference-gateway/internal/toolmediation"
	"github.com/ferro-labs/inference-gateway/models"
	"github.com/ferro-labs/inference-gateway/plugin"
	"github.com/ferro-labs/inference-gateway/providers"
)

// RoleInput carries the caller-supplied structured value for each of a
// function's three prompt roles (spec.md §6, "input:{system?, user?,
// assistant?}"). A nil field means the caller did not supply that role.
type RoleInput struct {
	System    any
	User      any
	Assistant any
}

// InferInput is the normalized request body of POST /inference.
type InferInput struct {
	FunctionName string
	// EpisodeID is optional; a fresh one is minted when empty (spec.md §4.G
	// step 1).
	EpisodeID string
	Input     RoleInput
	Stream    bool
	// ParallelToolCalls overrides the function's configured default when
	// non-nil (spec.md §4.G step 1, "parallel_tool_calls override").
	ParallelToolCalls *bool
	// ToolChoice overrides the function's configured tool_choice when
	// non-empty (spec.md §6, "additional_tool_choice").
	ToolChoice string
	// DryRun renders the request without dispatching it to a provider or
	// persisting a record — useful for inspecting what a function would
	// send (Open Question: spec.md does not define dryrun's semantics
	// beyond the field name; this is the implementation's chosen meaning).
	DryRun bool
	Tags   map[string]string
}

// InferResult is the normalized response of a non-streaming POST /inference.
type InferResult struct {
	InferenceID string
	EpisodeID   string
	VariantName string
	Content     string
	ToolCalls   []toolmediation.ParsedToolCall
	Output      any
	Usage       providers.Usage
}

// StreamEvent is one server-sent event of a streaming POST /inference
// (spec.md §6, "terminal event carries usage and inference_id").
type StreamEvent struct {
	Delta        providers.MessageDelta
	FinishReason string
	Usage        *providers.Usage
	InferenceID  string
	Done         bool
	Err          error
}

// prepared holds everything steps 1-4 of the orchestrator (spec.md §4.G)
// produce, shared between Infer and InferStream.
type prepared struct {
	fn          *Function
	variant     *Variant
	episodeID   string
	inferenceID ids.ID
	toolSpecs   []toolmediation.ToolSpec
	parallel    bool
	req         providers.Request
	routing     []string
	deadline    time.Duration
}

// prepare runs spec.md §4.G steps 1-4: resolve the function, sample a
// variant, validate and render prompts, and assemble the normalized
// provider request.
func (g *Gateway) prepare(in InferInput) (*prepared, error) {
	fn, ok := g.registry.Functions[in.FunctionName]
	if !ok {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "unknown function %q", in.FunctionName)
	}

	episodeID := in.EpisodeID
	if episodeID == "" {
		episodeID = ids.NewEpisodeID().String()
	}

	variantName, err := sampler.Pick(fn.Name, episodeID, fn.VariantOrder, fn.WeightPrefixSums)
	if err != nil {
		return nil, err
	}
	variant := fn.Variants[variantName]

	systemText, err := renderRole(fn.SystemSchema, variant.Templates.System, in.Input.System)
	if err != nil {
		return nil, err
	}
	userText, err := renderRole(fn.UserSchema, variant.Templates.User, in.Input.User)
	if err != nil {
		return nil, err
	}
	assistantText, err := renderRole(fn.AssistantSchema, variant.Templates.Assistant, in.Input.Assistant)
	if err != nil {
		return nil, err
	}

	var messages []providers.Message
	if in.Input.System != nil {
		messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: systemText})
	}
	if in.Input.User != nil {
		messages = append(messages, providers.Message{Role: providers.RoleUser, Content: userText})
	}
	if in.Input.Assistant != nil {
		messages = append(messages, providers.Message{Role: providers.RoleAssistant, Content: assistantText})
	}
	if len(messages) == 0 {
		return nil, gatewayerrors.Newf(gatewayerrors.KindInputValidation, "function %q: at least one of system, user or assistant input is required", fn.Name)
	}

	model, ok := g.registry.Models[variant.Model]
	if !ok {
		return nil, gatewayerrors.Newf(gatewayerrors.KindNoVariant, "variant %q: model %q is not registered", variant.Name, variant.Model)
	}

	parallel := fn.ParallelToolCalls
	if in.ParallelToolCalls != nil {
		parallel = *in.ParallelToolCalls
	}

	choice := fn.ToolChoice
	if in.ToolChoice != "" {
		choice = ToolChoiceMode(in.ToolChoice)
	}

	var toolSpecs []toolmediation.ToolSpec
	for _, name := range fn.Tools {
		t := g.registry.Tools[name]
		toolSpecs = append(toolSpecs, toolmediation.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	tools, toolChoiceWire, err := toolmediation.Prepare(toolmediation.BuildRequest{
		Tools:             toolSpecs,
		ToolChoice:        toolmediation.ToolChoice(choice),
		ParallelToolCalls: parallel,
		JSONMode:          toolmediation.JSONMode(variant.JSONMode),
		OutputSchema:      fn.OutputSchema,
	})
	if err != nil {
		return nil, err
	}
	if variant.JSONMode == JSONModeImplicitTool {
		// Prepare already synthesized the respond tool and appended it to
		// toolSpecs' wire form; ExtractToolCalls also needs it to validate
		// the respond call's arguments.
		toolSpecs = append(toolSpecs, toolmediation.ToolSpec{
			Name:        toolmediation.ImplicitToolName,
			Description: "Respond with the function's structured output.",
			Parameters:  fn.OutputSchema,
		})
	}

	req := providers.Request{
		Model:       model.Name,
		Messages:    messages,
		Temperature: variant.Params.Temperature,
		MaxTokens:   variant.Params.MaxTokens,
		Seed:        variant.Params.Seed,
		TopP:        variant.Params.TopP,
		Tools:       tools,
		ToolChoice:  toolChoiceWire,
		Stream:      in.Stream,
	}
	if variant.JSONMode == JSONModeOn || variant.JSONMode == JSONModeStrict {
		req.ResponseFormat = &providers.ResponseFormat{Type: "json_object"}
		if variant.JSONMode == JSONModeStrict && fn.OutputSchema != nil {
			req.ResponseFormat = &providers.ResponseFormat{Type: "json_schema", JSONSchema: fn.OutputSchema.Raw()}
		}
	}

	timeout := fn.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &prepared{
		fn:          fn,
		variant:     variant,
		episodeID:   episodeID,
		inferenceID: ids.NewInferenceID(),
		toolSpecs:   toolSpecs,
		parallel:    parallel,
		req:         req,
		routing:     model.Routing,
		deadline:    timeout,
	}, nil
}

// renderRole validates input against schema (when declared) and renders it
// through tmpl (spec.md §4.B). With no schema, input must already be a plain
// string (raw passthrough); a structured value with no schema is a usage
// error. With a schema but no template, the validated value is re-encoded
// as JSON text (config_load.go only requires a schema when a template is
// present, not the reverse).
func renderRole(sc *schema.Compiled, tmpl *prompt.Template, input any) (string, error) {
	if input == nil {
		return "", nil
	}
	if sc == nil {
		s, ok := input.(string)
		if !ok {
			return "", gatewayerrors.Newf(gatewayerrors.KindInputValidation, "role has no schema declared: input must be a plain string")
		}
		return s, nil
	}
	if err := sc.Validate(input, gatewayerrors.KindInputValidation); err != nil {
		return "", err
	}
	if tmpl == nil {
		b, err := json.Marshal(input)
		if err != nil {
			return "", gatewayerrors.New(gatewayerrors.KindInputValidation, err)
		}
		return string(b), nil
	}
	out, err := tmpl.Render(input)
	if err != nil {
		return "", gatewayerrors.New(gatewayerrors.KindInputValidation, err)
	}
	return out, nil
}

// Infer runs the non-streaming inference pipeline (spec.md §4.G).
func (g *Gateway) Infer(ctx context.Context, in InferInput) (*InferResult, error) {
	start := time.Now()

	p, err := g.prepare(in)
	if err != nil {
		return nil, err
	}

	if in.DryRun {
		return &InferResult{
			InferenceID: p.inferenceID.String(),
			EpisodeID:   p.episodeID,
			VariantName: p.variant.Name,
			Content:     renderedPreview(p.req.Messages),
		}, nil
	}

	dctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	pctx := plugin.NewContext(&p.req)
	if g.plugins.HasPlugins() {
		if err := g.plugins.RunBefore(dctx, pctx); err != nil {
			metrics.RequestsTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, "", "rejected").Inc()
			return nil, gatewayerrors.New(gatewayerrors.KindBadRequest, err)
		}
		if pctx.Reject {
			metrics.RequestsTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, "", "rejected").Inc()
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "request rejected by plugin: %s", pctx.Reason)
		}
	}

	resp, err := g.router.Complete(dctx, p.routing, p.req)
	latency := time.Since(start)
	if err != nil {
		g.recordFailure(ctx, dctx, p, pctx, err, latency)
		return nil, classifyRoutingError(err)
	}

	result, parsedToolCalls, parsedOutput, status, perr := finalizeResponse(p, resp)
	if perr != nil {
		err = perr
	}

	pctx.Response = resp
	if g.plugins.HasPlugins() {
		_ = g.plugins.RunAfter(dctx, pctx)
	}

	g.recordSuccess(ctx, p, resp, parsedToolCalls, parsedOutput, status, latency)

	if perr != nil {
		return nil, perr
	}
	return result, nil
}

// finalizeResponse extracts tool calls and, for json functions, the
// validated structured output from resp (spec.md §4.G steps 6, §4.F).
func finalizeResponse(p *prepared, resp *providers.Response) (*InferResult, []toolmediation.ParsedToolCall, any, analytics.Status, error) {
	content := ""
	var rawToolCalls []providers.ToolCall
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		rawToolCalls = resp.Choices[0].Message.ToolCalls
	}

	parsedToolCalls, err := toolmediation.ExtractToolCalls(rawToolCalls, p.toolSpecs, p.parallel)
	if err != nil {
		return nil, nil, nil, analytics.StatusError, err
	}

	result := &InferResult{
		InferenceID: p.inferenceID.String(),
		EpisodeID:   p.episodeID,
		VariantName: p.variant.Name,
		Content:     content,
		ToolCalls:   parsedToolCalls,
		Usage:       resp.Usage,
	}

	var output any
	if p.fn.Kind == KindJSON {
		if p.variant.JSONMode == JSONModeImplicitTool {
			out, oerr := toolmediation.ImplicitOutput(parsedToolCalls)
			if oerr != nil {
				return result, parsedToolCalls, nil, analytics.StatusError, oerr
			}
			output = out
		} else {
			v, oerr := p.fn.OutputSchema.ValidateJSON([]byte(content), gatewayerrors.KindOutputValidation)
			if oerr != nil {
				return result, parsedToolCalls, nil, analytics.StatusError, oerr
			}
			output = v
		}
		result.Output = output
	}

	return result, parsedToolCalls, output, analytics.StatusSuccess, nil
}

func (g *Gateway) recordFailure(ctx, dctx context.Context, p *prepared, pctx *plugin.Context, err error, latency time.Duration) {
	log := logging.FromContext(ctx)
	pctx.Error = err
	if g.plugins.HasPlugins() {
		g.plugins.RunOnError(dctx, pctx)
	}

	kind := gatewayerrors.KindOf(err)
	providerName := ""
	var rerr *router.RoutingError
	if errors.As(err, &rerr) {
		for _, pe := range rerr.Errors {
			metrics.ProviderErrors.WithLabelValues(pe.Provider, string(pe.Kind)).Inc()
		}
	}
	metrics.RequestsTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, providerName, "error").Inc()
	metrics.RequestDuration.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, providerName).Observe(latency.Seconds())

	log.Error("inference failed",
		"function", p.fn.Name, "variant", p.variant.Name, "model", p.req.Model,
		"kind", kind, "latency_ms", latency.Milliseconds(), "error", err.Error(),
	)

	g.enqueueRecord(p, "", analytics.StatusError, nil, nil, nil, providers.Usage{}, latency)
	g.publishEvent(ctx, SubjectInferenceFailed, map[string]interface{}{
		"inference_id": p.inferenceID.String(),
		"episode_id":   p.episodeID,
		"function":     p.fn.Name,
		"variant":      p.variant.Name,
		"error":        err.Error(),
		"kind":         string(kind),
		"latency_ms":   latency.Milliseconds(),
	})
}

func (g *Gateway) recordSuccess(ctx context.Context, p *prepared, resp *providers.Response, toolCalls []toolmediation.ParsedToolCall, output any, status analytics.Status, latency time.Duration) {
	log := logging.FromContext(ctx)

	metrics.RequestsTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, resp.Provider, string(status)).Inc()
	metrics.RequestDuration.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, resp.Provider).Observe(latency.Seconds())
	metrics.TokensTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, resp.Provider, "input").Add(float64(resp.Usage.PromptTokens))
	metrics.TokensTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, resp.Provider, "output").Add(float64(resp.Usage.CompletionTokens))

	log.Info("inference completed",
		"function", p.fn.Name, "variant", p.variant.Name, "model", p.req.Model, "provider", resp.Provider,
		"status", status, "latency_ms", latency.Milliseconds(),
		"tokens_in", resp.Usage.PromptTokens, "tokens_out", resp.Usage.CompletionTokens,
	)

	g.enqueueRecord(p, resp.Provider, status, resp, toolCalls, output, resp.Usage, latency)
	g.publishEvent(ctx, SubjectInferenceCompleted, map[string]interface{}{
		"inference_id": p.inferenceID.String(),
		"episode_id":   p.episodeID,
		"function":     p.fn.Name,
		"variant":      p.variant.Name,
		"provider":     resp.Provider,
		"status":       string(status),
		"latency_ms":   latency.Milliseconds(),
		"tokens_in":    resp.Usage.PromptTokens,
		"tokens_out":   resp.Usage.CompletionTokens,
	})
}

// enqueueRecord assembles an InferenceRecord and hands it to the analytics
// writer (spec.md §4.G step 7: "the caller receives a response only after
// persistence has been enqueued, not necessarily flushed"). A nil writer
// (no Sink configured) is a documented no-op.
func (g *Gateway) enqueueRecord(p *prepared, providerName string, status analytics.Status, resp *providers.Response, toolCalls []toolmediation.ParsedToolCall, output any, usage providers.Usage, latency time.Duration) {
	if g.writer == nil {
		return
	}

	rendered, _ := json.Marshal(p.req.Messages)
	var rawResponse, toolCallsJSON, parsedOutput json.RawMessage
	if resp != nil {
		rawResponse, _ = json.Marshal(resp)
	}
	if len(toolCalls) > 0 {
		toolCallsJSON, _ = json.Marshal(toolCalls)
	}
	if output != nil {
		parsedOutput, _ = json.Marshal(output)
	} else if p.fn.Kind == KindJSON {
		// A json function whose output never validated still gets an
		// explicit JSON null rather than an absent column (spec.md §8
		// scenario 4).
		parsedOutput = json.RawMessage("null")
	}

	g.writer.EnqueueInference(analytics.InferenceRecord{
		InferenceID:      p.inferenceID.String(),
		EpisodeID:        p.episodeID,
		FunctionName:     p.fn.Name,
		VariantName:      p.variant.Name,
		ModelName:        p.req.Model,
		ProviderName:     providerName,
		RenderedMessages: rendered,
		RawResponse:      rawResponse,
		ParsedOutput:     parsedOutput,
		ToolCalls:        toolCallsJSON,
		InputTokens:      usage.PromptTokens,
		OutputTokens:     usage.CompletionTokens,
		CostUSD:          g.costUSD(providerName, p.req.Model, usage),
		LatencyMS:        latency.Milliseconds(),
		Status:           status,
		CreatedAt:        time.Now().UTC(),
	})
}

// costUSD prices a completed response against the model catalog
// (SPEC_FULL.md §6, "cost accounting"). A model absent from the catalog
// (unreachable remote source, or a served model the catalog doesn't yet
// know about) simply prices at zero rather than failing the inference.
func (g *Gateway) costUSD(provider, model string, usage providers.Usage) float64 {
	if g.catalog == nil {
		return 0
	}
	result := models.Calculate(g.catalog, provider+"/"+model, models.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		ReasoningTokens:  usage.ReasoningTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
	})
	return result.TotalUSD
}

// classifyRoutingError surfaces a *router.RoutingError as a
// *gatewayerrors.ClassifiedError so the HTTP layer's single errors.As check
// still works; the per-provider detail list is still reachable via
// errors.As(err, &routingError) for the caller that wants it (spec.md §6,
// "details.provider_errors").
func classifyRoutingError(err error) error {
	var rerr *router.RoutingError
	if !errors.As(err, &rerr) {
		return err
	}
	if len(rerr.Errors) == 0 {
		return gatewayerrors.New(gatewayerrors.KindNoVariant, rerr)
	}
	// The last classified error in the cascade is the one that ended it
	// (either exhaustion or a non-retryable stop).
	last := rerr.Errors[len(rerr.Errors)-1]
	return &wrappedRoutingError{RoutingError: rerr, ClassifiedError: gatewayerrors.FromProvider(last.Kind, last.Provider, rerr)}
}

// wrappedRoutingError lets callers recover both the Kind (for HTTP status)
// and the full per-provider error list from one error value.
type wrappedRoutingError struct {
	*gatewayerrors.ClassifiedError
	RoutingError *router.RoutingError
}

func (e *wrappedRoutingError) Unwrap() error { return e.RoutingError }

// renderedPreview joins a dryrun request's rendered messages into a single
// human-readable preview string.
func renderedPreview(messages []providers.Message) string {
	b, _ := json.Marshal(messages)
	return string(b)
}

// InferStream runs the streaming inference pipeline (spec.md §4.G, §4.D
// "commit-on-first-chunk"). The returned channel is closed once the
// upstream stream ends, a terminal error occurs, or ctx is cancelled; the
// final event always carries InferenceID and Done=true, with Usage set
// when the provider reported it (spec.md §6).
func (g *Gateway) InferStream(ctx context.Context, in InferInput) (<-chan StreamEvent, error) {
	start := time.Now()

	p, err := g.prepare(in)
	if err != nil {
		return nil, err
	}
	p.req.Stream = true

	if in.DryRun {
		out := make(chan StreamEvent, 1)
		out <- StreamEvent{
			InferenceID: p.inferenceID.String(),
			Done:        true,
			Delta:       providers.MessageDelta{Content: renderedPreview(p.req.Messages)},
		}
		close(out)
		return out, nil
	}

	dctx, cancel := context.WithTimeout(ctx, p.deadline)

	pctx := plugin.NewContext(&p.req)
	if g.plugins.HasPlugins() {
		if err := g.plugins.RunBefore(dctx, pctx); err != nil {
			cancel()
			metrics.RequestsTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, "", "rejected").Inc()
			return nil, gatewayerrors.New(gatewayerrors.KindBadRequest, err)
		}
		if pctx.Reject {
			cancel()
			metrics.RequestsTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, "", "rejected").Inc()
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "request rejected by plugin: %s", pctx.Reason)
		}
	}

	upstream, err := g.router.CompleteStream(dctx, p.routing, p.req)
	if err != nil {
		cancel()
		g.recordFailure(ctx, dctx, p, pctx, err, time.Since(start))
		return nil, classifyRoutingError(err)
	}

	out := make(chan StreamEvent)
	go g.pumpStream(ctx, dctx, cancel, p, pctx, upstream, out, start)
	return out, nil
}

// pumpStream drains upstream, forwarding one StreamEvent per chunk,
// accumulates content and tool-call deltas for the final analytics record,
// and emits the terminal event once upstream closes or dctx is cancelled
// (spec.md §5, a deadline exceeded mid-stream persists Status=aborted).
func (g *Gateway) pumpStream(ctx, dctx context.Context, cancel context.CancelFunc, p *prepared, pctx *plugin.Context, upstream <-chan providers.StreamChunk, out chan<- StreamEvent, start time.Time) {
	defer close(out)
	defer cancel()

	var (
		content      string
		accumulator  = toolmediation.NewAccumulator()
		usage        providers.Usage
		providerName string
		finishReason string
		streamErr    error
	)

	for {
		select {
		case <-dctx.Done():
			streamErr = gatewayerrors.Newf(gatewayerrors.KindTimeout, "inference %q: deadline exceeded mid-stream", p.inferenceID)
			out <- StreamEvent{InferenceID: p.inferenceID.String(), Err: streamErr, Done: true}
			g.finishStream(ctx, p, pctx, "", analytics.StatusAborted, content, accumulator, usage, streamErr, time.Since(start))
			return
		case chunk, open := <-upstream:
			if !open {
				resp := &providers.Response{Model: p.req.Model, Provider: providerName, Usage: usage}
				status := analytics.StatusSuccess
				var perr error
				toolCalls, err := toolmediation.ExtractToolCalls(accumulator.Finish(), p.toolSpecs, p.parallel)
				if err != nil {
					status, perr = analytics.StatusError, err
				}
				var output any
				if perr == nil && p.fn.Kind == KindJSON {
					if p.variant.JSONMode == JSONModeImplicitTool {
						if v, oerr := toolmediation.ImplicitOutput(toolCalls); oerr != nil {
							status, perr = analytics.StatusError, oerr
						} else {
							output = v
						}
					} else if v, oerr := p.fn.OutputSchema.ValidateJSON([]byte(content), gatewayerrors.KindOutputValidation); oerr != nil {
						status, perr = analytics.StatusError, oerr
					} else {
						output = v
					}
				}

				pctx.Response = resp
				if g.plugins.HasPlugins() {
					_ = g.plugins.RunAfter(dctx, pctx)
				}
				g.recordSuccess(ctx, p, resp, toolCalls, output, status, time.Since(start))
				out <- StreamEvent{
					InferenceID:  p.inferenceID.String(),
					FinishReason: finishReason,
					Usage:        &usage,
					Done:         true,
					Err:          perr,
				}
				return
			}

			if chunk.Error != nil {
				g.finishStream(ctx, p, pctx, providerName, analytics.StatusError, content, accumulator, usage, chunk.Error, time.Since(start))
				out <- StreamEvent{InferenceID: p.inferenceID.String(), Err: chunk.Error, Done: true}
				return
			}

			if len(chunk.Choices) > 0 {
				c := chunk.Choices[0]
				content += c.Delta.Content
				if len(c.Delta.ToolCalls) > 0 {
					accumulator.Add(c.Delta.ToolCalls)
				}
				if c.FinishReason != "" {
					finishReason = c.FinishReason
				}
				out <- StreamEvent{Delta: c.Delta, FinishReason: c.FinishReason}
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if chunk.Model != "" {
				p.req.Model = chunk.Model
			}
		}
	}
}

// finishStream records a mid-stream failure (timeout or a committed
// provider's terminal error) to analytics and metrics.
func (g *Gateway) finishStream(ctx context.Context, p *prepared, pctx *plugin.Context, providerName string, status analytics.Status, content string, accumulator *toolmediation.Accumulator, usage providers.Usage, err error, latency time.Duration) {
	log := logging.FromContext(ctx)
	pctx.Error = err
	if g.plugins.HasPlugins() {
		g.plugins.RunOnError(ctx, pctx)
	}

	metrics.RequestsTotal.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, providerName, string(status)).Inc()
	metrics.RequestDuration.WithLabelValues(p.fn.Name, p.variant.Name, p.req.Model, providerName).Observe(latency.Seconds())

	log.Error("inference stream ended abnormally",
		"function", p.fn.Name, "variant", p.variant.Name, "model", p.req.Model,
		"status", status, "latency_ms", latency.Milliseconds(), "error", err.Error(),
	)

	toolCallsJSON, _ := json.Marshal(accumulator.Finish())
	g.writerEnqueue(p, providerName, status, content, toolCallsJSON, usage, latency)
	g.publishEvent(ctx, SubjectInferenceFailed, map[string]interface{}{
		"inference_id": p.inferenceID.String(),
		"episode_id":   p.episodeID,
		"function":     p.fn.Name,
		"variant":      p.variant.Name,
		"error":        err.Error(),
		"latency_ms":   latency.Milliseconds(),
	})
}

// writerEnqueue is finishStream's narrower record assembly: it has raw
// accumulated content/tool-call bytes rather than a full *providers.Response.
func (g *Gateway) writerEnqueue(p *prepared, providerName string, status analytics.Status, content string, toolCallsJSON json.RawMessage, usage providers.Usage, latency time.Duration) {
	if g.writer == nil {
		return
	}
	rendered, _ := json.Marshal(p.req.Messages)
	var parsedOutput json.RawMessage
	if p.fn.Kind == KindJSON {
		parsedOutput = json.RawMessage("null")
	}
	g.writer.EnqueueInference(analytics.InferenceRecord{
		InferenceID:      p.inferenceID.String(),
		EpisodeID:        p.episodeID,
		FunctionName:     p.fn.Name,
		VariantName:      p.variant.Name,
		ModelName:        p.req.Model,
		ProviderName:     providerName,
		RenderedMessages: rendered,
		RawResponse:      []byte(`{"content":` + strconvQuote(content) + `}`),
		ParsedOutput:     parsedOutput,
		ToolCalls:        toolCallsJSON,
		InputTokens:      usage.PromptTokens,
		OutputTokens:     usage.CompletionTokens,
		CostUSD:          g.costUSD(providerName, p.req.Model, usage),
		LatencyMS:        latency.Milliseconds(),
		Status:           status,
		CreatedAt:        time.Now().UTC(),
	})
}

// strconvQuote renders s as a JSON string literal.
func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	gateway "github.com/ferro-labs/inference-gateway"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

// inferenceRequestBody is the wire shape of POST /inference (spec.md §6).
type inferenceRequestBody struct {
	FunctionName         string            `json:"function_name"`
	EpisodeID            string            `json:"episode_id,omitempty"`
	Input                inferenceInput    `json:"input"`
	Stream               bool              `json:"stream,omitempty"`
	ParallelToolCalls    *bool             `json:"parallel_tool_calls,omitempty"`
	AdditionalToolChoice string            `json:"additional_tool_choice,omitempty"`
	DryRun               bool              `json:"dryrun,omitempty"`
	Tags                 map[string]string `json:"tags,omitempty"`
}

type inferenceInput struct {
	System    json.RawMessage `json:"system,omitempty"`
	User      json.RawMessage `json:"user,omitempty"`
	Assistant json.RawMessage `json:"assistant,omitempty"`
}

// inferenceResponseBody is the wire shape of a non-streaming success
// response (spec.md §6).
type inferenceResponseBody struct {
	InferenceID string `json:"inference_id"`
	EpisodeID   string `json:"episode_id"`
	VariantName string `json:"variant_name"`
	Content     string `json:"content,omitempty"`
	ToolCalls   any    `json:"tool_calls,omitempty"`
	Output      any    `json:"output,omitempty"`
	Usage       any    `json:"usage"`
}

func decodeRole(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	// A plain JSON string input is passed through as a Go string (raw
	// passthrough for a role with no schema, spec.md §4.B); anything else is
	// decoded as a structured value for schema validation.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	return v, nil
}

func inferenceHandler(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body inferenceRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, gatewayerrors.New(gatewayerrors.KindInputValidation, err))
			return
		}
		if body.FunctionName == "" {
			writeError(w, gatewayerrors.Newf(gatewayerrors.KindInputValidation, "function_name is required"))
			return
		}

		system, err := decodeRole(body.Input.System)
		if err != nil {
			writeError(w, gatewayerrors.New(gatewayerrors.KindInputValidation, err))
			return
		}
		user, err := decodeRole(body.Input.User)
		if err != nil {
			writeError(w, gatewayerrors.New(gatewayerrors.KindInputValidation, err))
			return
		}
		assistant, err := decodeRole(body.Input.Assistant)
		if err != nil {
			writeError(w, gatewayerrors.New(gatewayerrors.KindInputValidation, err))
			return
		}

		in := gateway.InferInput{
			FunctionName:      body.FunctionName,
			EpisodeID:         body.EpisodeID,
			Input:             gateway.RoleInput{System: system, User: user, Assistant: assistant},
			Stream:            body.Stream,
			ParallelToolCalls: body.ParallelToolCalls,
			ToolChoice:        body.AdditionalToolChoice,
			DryRun:            body.DryRun,
			Tags:              body.Tags,
		}

		if body.Stream {
			serveInferenceStream(w, r, gw, in)
			return
		}

		result, err := gw.Infer(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(inferenceResponseBody{
			InferenceID: result.InferenceID,
			EpisodeID:   result.EpisodeID,
			VariantName: result.VariantName,
			Content:     result.Content,
			ToolCalls:   result.ToolCalls,
			Output:      result.Output,
			Usage:       result.Usage,
		})
	}
}

// serveInferenceStream drains gw.InferStream as server-sent events, per
// spec.md §6: "terminal event carries usage and inference_id".
func serveInferenceStream(w http.ResponseWriter, r *http.Request, gw *gateway.Gateway, in gateway.InferInput) {
	events, err := gw.InferStream(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for ev := range events {
		if ev.Err != nil && !ev.Done {
			writeSSEError(w, flusher, ev.Err)
			continue
		}
		payload := map[string]any{
			"delta":         ev.Delta,
			"finish_reason": ev.FinishReason,
		}
		if ev.Done {
			payload["inference_id"] = ev.InferenceID
			if ev.Usage != nil {
				payload["usage"] = ev.Usage
			}
			if ev.Err != nil {
				writeSSEError(w, flusher, ev.Err)
				continue
			}
		}
		data, _ := json.Marshal(payload)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, err error) {
	kind := gatewayerrors.KindOf(err)
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"kind": string(kind), "message": err.Error()},
	})
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher != nil {
		flusher.Flush()
	}
}

package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/router"
)

// errorResponse is spec.md §6's caller-visible error shape:
// { error: { kind, message, details?: { provider_errors? } } }.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError classifies err (spec.md §7) and writes the matching HTTP status
// and error body. A *router.RoutingError found anywhere in err's chain
// attaches its per-provider attempt list as details.provider_errors so
// operators can diagnose an exhausted failover cascade.
func writeError(w http.ResponseWriter, err error) {
	kind := gatewayerrors.KindOf(err)
	status := kind.HTTPStatus()

	body := errorBody{Kind: string(kind), Message: err.Error()}

	if rerr, ok := findRoutingError(err); ok {
		attempts := make([]map[string]string, 0, len(rerr.Errors))
		for _, pe := range rerr.Errors {
			attempts = append(attempts, map[string]string{
				"provider": pe.Provider,
				"kind":     string(pe.Kind),
				"message":  pe.Err.Error(),
			})
		}
		body.Details = map[string]any{"provider_errors": attempts}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: body})
}

// findRoutingError walks err's Unwrap chain looking for a *router.RoutingError,
// since gateway.Infer wraps one inside a *gatewayerrors.ClassifiedError that
// also implements Unwrap (infer.go's wrappedRoutingError).
func findRoutingError(err error) (*router.RoutingError, bool) {
	for err != nil {
		if rerr, ok := err.(*router.RoutingError); ok {
			return rerr, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

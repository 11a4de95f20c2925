package providers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

// apiErrorPattern recovers the HTTP status code every adapter in this
// package embeds in its formatted error ("<vendor> API error (%d): %s"),
// so ClassifyFromError can reuse ClassifyHTTPError's status-driven mapping
// without each adapter having to plumb the raw *http.Response down to its
// ClassifyError method separately.
var apiErrorPattern = regexp.MustCompile(`API error \((\d+)\)`)

// ClassifyFromError classifies an error already returned by an adapter's
// Complete/CompleteStream method, recovering the status code embedded in
// its message when present and falling back to a transport-level
// classification otherwise (SDK errors that never reached the wire).
func ClassifyFromError(provider string, err error) *gatewayerrors.ClassifiedError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if m := apiErrorPattern.FindStringSubmatch(msg); m != nil {
		code, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			return ClassifyHTTPError(provider, code, msg, err)
		}
	}
	return ClassifyHTTPError(provider, 0, msg, err)
}

// ErrorClassifier is the fourth capability of the provider abstraction
// (SPEC_FULL.md §5 component C, spec.md §4.C): every adapter maps its
// vendor-specific transport/HTTP errors onto the gateway's uniform Kind
// taxonomy so the router never branches on vendor error shapes.
type ErrorClassifier interface {
	ClassifyError(statusCode int, body string, err error) *gatewayerrors.ClassifiedError
}

// ClassifyHTTPError applies the status-code-driven mapping shared by every
// REST-ish provider adapter in this package (OpenAI-compatible vendors,
// Anthropic, Azure, Mistral, Together, Fireworks, vLLM). Vendor adapters
// with a genuinely different error shape (Bedrock's SDK error types, for
// instance) classify independently and do not call this helper.
func ClassifyHTTPError(provider string, statusCode int, body string, err error) *gatewayerrors.ClassifiedError {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return gatewayerrors.FromProvider(gatewayerrors.KindTimeout, provider, err)
		}
		if errors.Is(err, context.Canceled) {
			return gatewayerrors.FromProvider(gatewayerrors.KindTimeout, provider, err)
		}
		// A non-nil err with no HTTP status means the request never reached
		// the vendor: DNS, connection refused, TLS, etc. — all retryable.
		if statusCode == 0 {
			return gatewayerrors.FromProvider(gatewayerrors.KindRetryableTransport, provider, err)
		}
	}

	lower := strings.ToLower(body)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return gatewayerrors.FromProvider(gatewayerrors.KindRateLimit, provider, errOrBody(err, body))
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return gatewayerrors.FromProvider(gatewayerrors.KindAuth, provider, errOrBody(err, body))
	case statusCode == http.StatusRequestTimeout || statusCode == 524:
		return gatewayerrors.FromProvider(gatewayerrors.KindTimeout, provider, errOrBody(err, body))
	case statusCode == http.StatusBadRequest:
		if strings.Contains(lower, "context") && (strings.Contains(lower, "length") || strings.Contains(lower, "too long") || strings.Contains(lower, "maximum")) {
			return gatewayerrors.FromProvider(gatewayerrors.KindContextLength, provider, errOrBody(err, body))
		}
		if strings.Contains(lower, "content") && (strings.Contains(lower, "filter") || strings.Contains(lower, "safety") || strings.Contains(lower, "policy")) {
			return gatewayerrors.FromProvider(gatewayerrors.KindContentFilter, provider, errOrBody(err, body))
		}
		return gatewayerrors.FromProvider(gatewayerrors.KindBadRequest, provider, errOrBody(err, body))
	case statusCode >= 500:
		return gatewayerrors.FromProvider(gatewayerrors.KindRetryableTransport, provider, errOrBody(err, body))
	case statusCode >= 400:
		return gatewayerrors.FromProvider(gatewayerrors.KindBadRequest, provider, errOrBody(err, body))
	default:
		return gatewayerrors.FromProvider(gatewayerrors.KindUnknown, provider, errOrBody(err, body))
	}
}

func errOrBody(err error, body string) error {
	if err != nil {
		return err
	}
	return errors.New(body)
}

// NormalizeStopReason maps a vendor-specific finish/stop reason string onto
// the canonical set from spec.md §4.C: end, length, tool_call,
// content_filter, other.
func NormalizeStopReason(vendorReason string) string {
	switch strings.ToLower(vendorReason) {
	case "stop", "end_turn", "complete", "completed", "":
		return "end"
	case "length", "max_tokens", "max_output_tokens":
		return "length"
	case "tool_calls", "tool_call", "function_call":
		return "tool_call"
	case "content_filter", "safety":
		return "content_filter"
	default:
		return "other"
	}
}

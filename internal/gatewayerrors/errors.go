// Package gatewayerrors defines the gateway's uniform error taxonomy.
//
// Every fallible stage of the inference pipeline — config validation,
// template rendering, provider dispatch, tool-argument validation, output
// validation — returns or wraps a *ClassifiedError so the HTTP layer can map
// a Kind to a status code with a single errors.As, and the router can decide
// whether a Kind is safe to retry against the next provider.
package gatewayerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the caller-visible error classes from the error handling
// design. Provider adapters classify transport/vendor failures into these
// same kinds so the router and the HTTP layer never see vendor-specific
// errors directly.
type Kind string

const (
	KindRetryableTransport Kind = "RETRYABLE_TRANSPORT"
	KindRateLimit          Kind = "RATE_LIMIT"
	KindContextLength      Kind = "CONTEXT_LENGTH"
	KindAuth               Kind = "AUTH"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindTimeout            Kind = "TIMEOUT"
	KindContentFilter      Kind = "CONTENT_FILTER"
	KindParse              Kind = "PARSE"
	KindOutputValidation   Kind = "OUTPUT_VALIDATION"
	KindInputValidation    Kind = "INPUT_VALIDATION"
	KindNoVariant          Kind = "NO_VARIANT"
	KindBadToolArgs        Kind = "BAD_TOOL_ARGS"
	KindUnknown            Kind = "UNKNOWN"
)

// Retryable reports whether the router may fail over to the next provider
// in a model's routing list after an error of this kind. Mirrors the
// "Recovered?" column of the error handling design.
func (k Kind) Retryable() bool {
	switch k {
	case KindRetryableTransport, KindRateLimit, KindAuth, KindParse, KindUnknown:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code it carries when it is the final,
// non-recovered error surfaced to a caller.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindRetryableTransport, KindParse, KindUnknown:
		return http.StatusBadGateway
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAuth:
		return http.StatusBadGateway
	case KindContextLength, KindBadRequest, KindContentFilter, KindInputValidation:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindOutputValidation, KindBadToolArgs:
		return http.StatusUnprocessableEntity
	case KindNoVariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ClassifiedError attaches a Kind to an underlying error, optionally naming
// the provider that produced it.
type ClassifiedError struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *ClassifiedError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (provider=%s): %v", e.Kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// New wraps err under kind with no provider attribution (config/template/
// tool-argument/output-validation failures, which are not provider-scoped).
func New(kind Kind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(kind Kind, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FromProvider wraps err under kind, attributed to the named provider. Used
// by provider adapters' ClassifyError implementations.
func FromProvider(kind Kind, provider string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Provider: provider, Err: err}
}

// As extracts the first *ClassifiedError in err's chain, same contract as
// errors.As but without requiring callers to declare the target variable.
func As(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *ClassifiedError,
// otherwise KindUnknown.
func KindOf(err error) Kind {
	if ce, ok := As(err); ok {
		return ce.Kind
	}
	return KindUnknown
}

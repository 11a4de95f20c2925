// Package analytics implements the observability pipeline's persistence
// half (spec.md §4.H, §4.I): immutable InferenceRecord/FeedbackRecord
// values, an async bounded-buffer batched writer, and SQL sink adapters.
//
// The analytics store itself is an external collaborator (spec.md §1,
// "out of scope"); this package owns only the write-only insert contract
// in front of it and the buffering/retry policy that keeps the request
// path from ever blocking on it.
package analytics

import (
	"encoding/json"
	"time"
)

// Status is the terminal state of the inference that produced a record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusAborted Status = "aborted" // deadline exceeded mid-flight (spec.md §5)
)

// InferenceRecord is the immutable record of one inference (spec.md §3).
// ParsedOutput is JSON "null" (not Go nil) when a json function's output
// failed validation, so OUTPUT_VALIDATION failures are still persisted
// with an explicit null rather than an absent column (spec.md §8 scenario 4).
type InferenceRecord struct {
	InferenceID      string
	EpisodeID        string
	FunctionName     string
	VariantName      string
	ModelName        string
	ProviderName     string
	Input            json.RawMessage
	RenderedMessages json.RawMessage
	RawResponse      json.RawMessage
	ParsedOutput     json.RawMessage
	ToolCalls        json.RawMessage
	InputTokens      int
	OutputTokens     int
	CostUSD          float64
	LatencyMS        int64
	Status           Status
	CreatedAt        time.Time
}

// FeedbackRecord is the immutable record of one feedback submission
// (spec.md §3, §4.I).
type FeedbackRecord struct {
	FeedbackID string
	TargetID   string
	MetricName string
	Value      any // bool or float64, per Metric.Type
	CreatedAt  time.Time
}

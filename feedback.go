package gateway

import (
	"context"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/analytics"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/ids"
	"github.com/ferro-labs/inference-gateway/internal/logging"
	"github.com/ferro-labs/inference-gateway/internal/metrics"
)

// FeedbackRequest is the normalized request body of POST /feedback
// (spec.md §4.I, §6). Level is required rather than inferred from TargetID's
// shape: inference ids and episode ids are both UUIDv7 and structurally
// indistinguishable, so the caller must say which kind of id it submitted.
type FeedbackRequest struct {
	MetricName string
	TargetID   string
	Level      MetricLevel
	// Value must be a bool for MetricBoolean metrics and a float64 (or an
	// int convertible to one) for MetricFloat metrics; any other shape is
	// rejected with INPUT_VALIDATION before a FeedbackID is ever minted.
	Value any
	Tags  map[string]string
}

// FeedbackResult is the normalized response of POST /feedback.
type FeedbackResult struct {
	FeedbackID string
}

// Feedback validates and records one feedback submission (spec.md §4.I):
// the named metric must exist, Level must match the metric's declared
// level, and Value's Go type must match the metric's declared type. A
// mismatch on any of these is rejected without ever reaching the analytics
// writer.
func (g *Gateway) Feedback(ctx context.Context, req FeedbackRequest) (*FeedbackResult, error) {
	metric, ok := g.registry.Metrics[req.MetricName]
	if !ok {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "unknown metric %q", req.MetricName)
	}
	if req.TargetID == "" {
		return nil, gatewayerrors.Newf(gatewayerrors.KindInputValidation, "feedback: target_id is required")
	}
	if _, err := ids.Parse(req.TargetID); err != nil {
		return nil, gatewayerrors.New(gatewayerrors.KindInputValidation, err)
	}
	if req.Level != metric.Level {
		return nil, gatewayerrors.Newf(gatewayerrors.KindInputValidation, "metric %q is declared at level %q, got %q", metric.Name, metric.Level, req.Level)
	}

	value, err := coerceMetricValue(metric, req.Value)
	if err != nil {
		return nil, err
	}

	feedbackID := ids.NewFeedbackID()

	if g.writer != nil {
		g.writer.EnqueueFeedback(analytics.FeedbackRecord{
			FeedbackID: feedbackID.String(),
			TargetID:   req.TargetID,
			MetricName: metric.Name,
			Value:      value,
			CreatedAt:  time.Now().UTC(),
		})
	}

	metrics.FeedbackCount.WithLabelValues(metric.Name, string(metric.Level)).Inc()

	log := logging.FromContext(ctx)
	log.Info("feedback recorded",
		"feedback_id", feedbackID.String(), "metric", metric.Name, "level", metric.Level, "target_id", req.TargetID,
	)

	g.publishEvent(ctx, SubjectFeedbackRecorded, map[string]interface{}{
		"feedback_id": feedbackID.String(),
		"metric":      metric.Name,
		"level":       string(metric.Level),
		"target_id":   req.TargetID,
	})

	return &FeedbackResult{FeedbackID: feedbackID.String()}, nil
}

// coerceMetricValue enforces metric.Type against v's runtime type. Numeric
// values decoded from JSON commonly arrive as float64 even for integral
// metrics, so an int/int64 is accepted and converted for MetricFloat; every
// other mismatch (e.g. a string, or a float for a MetricBoolean) is
// rejected.
func coerceMetricValue(metric *Metric, v any) (any, error) {
	switch metric.Type {
	case MetricBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, gatewayerrors.Newf(gatewayerrors.KindInputValidation, "metric %q expects a boolean value, got %T", metric.Name, v)
		}
		return b, nil
	case MetricFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, gatewayerrors.Newf(gatewayerrors.KindInputValidation, "metric %q expects a numeric value, got %T", metric.Name, v)
		}
	default:
		return nil, gatewayerrors.Newf(gatewayerrors.KindInputValidation, "metric %q has unknown type %q", metric.Name, metric.Type)
	}
}

package httpserver

import (
	"encoding/json"
	"net/http"

	gateway "github.com/ferro-labs/inference-gateway"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

// feedbackRequestBody is the wire shape of POST /feedback (spec.md §6).
// Level is required in addition to the spec's literal fields since episode
// ids and inference ids are structurally indistinguishable UUIDv7 values
// (see DESIGN.md Open Question decision #2).
type feedbackRequestBody struct {
	MetricName string            `json:"metric_name"`
	TargetID   string            `json:"target_id"`
	Level      string            `json:"level"`
	Value      any               `json:"value"`
	Tags       map[string]string `json:"tags,omitempty"`
}

func feedbackHandler(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body feedbackRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, gatewayerrors.New(gatewayerrors.KindInputValidation, err))
			return
		}

		result, err := gw.Feedback(r.Context(), gateway.FeedbackRequest{
			MetricName: body.MetricName,
			TargetID:   body.TargetID,
			Level:      gateway.MetricLevel(body.Level),
			Value:      body.Value,
			Tags:       body.Tags,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"feedback_id": result.FeedbackID})
	}
}

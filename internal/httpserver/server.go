package httpserver

import (
	"net/http"

	gateway "github.com/ferro-labs/inference-gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP surface of spec.md §6: POST /inference,
// POST /feedback, GET /status, GET /metrics, plus the additive
// GET /v1/models discovery endpoint and dashboard (SPEC_FULL.md §6).
// Shared by cmd/ferrogw and the `fergw serve` CLI subcommand.
func NewRouter(gw *gateway.Gateway, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/status", statusHandler)
	r.Get("/", dashboardHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/models", modelsHandler(gw))
	r.Post("/inference", inferenceHandler(gw))
	r.Post("/feedback", feedbackHandler(gw))

	return r
}

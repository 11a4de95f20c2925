package httpserver

import (
	"net/http"

	"github.com/ferro-labs/inference-gateway/web"
)

// statusHandler is the liveness probe of spec.md §6: GET /status returns
// 200 OK with no body semantics beyond "the process is up".
func statusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// dashboardHandler serves the embedded status dashboard (SPEC_FULL.md §6).
func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	b, err := web.Assets.ReadFile("dashboard.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

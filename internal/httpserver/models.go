package httpserver

import (
	"encoding/json"
	"net/http"

	gateway "github.com/ferro-labs/inference-gateway"
)

// modelsEntry flattens a discovered or configured model into one row of
// GET /v1/models's OpenAI-shaped listing.
type modelsEntry struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Provider string `json:"provider"`
}

// modelsHandler lists every model FerroGateway knows about: the configured
// Model→Routing table (always present) enriched with anything a
// DiscoveryProvider has found live (SPEC_FULL.md §6, "provider auto-discovery
// ... kept and exercised by GET /v1/models").
func modelsHandler(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		seen := make(map[string]bool)
		var out []modelsEntry

		for name, m := range gw.Registry().Models {
			for _, provider := range m.Routing {
				key := provider + "/" + name
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, modelsEntry{ID: name, Object: "model", Provider: provider})
			}
		}
		for provider, models := range gw.DiscoveredModels() {
			for _, m := range models {
				key := provider + "/" + m.ID
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, modelsEntry{ID: m.ID, Object: "model", Provider: provider})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": out})
	}
}

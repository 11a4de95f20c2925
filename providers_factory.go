package gateway

import (
	"context"
	"fmt"

	"github.com/ferro-labs/inference-gateway/providers"
)

// buildProviders instantiates a live providers.Provider for every entry in
// reg.Providers, switching on ProviderType to pick the matching adapter
// constructor. Absent or malformed vendor credentials are not checked here:
// spec.md §6 requires AUTH to surface at request time, not startup, since a
// provider may be declared but never exercised by any model's routing list.
// Vertex is the exception: NewVertex parses the service-account JSON, so
// absent or malformed Vertex credentials make buildProviders fail at startup.
func buildProviders(ctx context.Context, reg *Registry) (map[string]providers.Provider, error) {
	out := make(map[string]providers.Provider, len(reg.Providers))
	for name, pc := range reg.Providers {
		p, err := buildProvider(ctx, pc, modelsForProvider(reg, name))
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func buildProvider(ctx context.Context, pc ProviderConfig, servedModels []string) (providers.Provider, error) {
	switch pc.Type {
	case ProviderOpenAI:
		return providers.NewOpenAI(pc.Credentials.Reveal(), pc.Endpoint)
	case ProviderAnthropic:
		return providers.NewAnthropic(pc.Credentials.Reveal(), pc.Endpoint)
	case ProviderAzure:
		return providers.NewAzureOpenAI(pc.Credentials.Reveal(), pc.Endpoint, pc.DeploymentID, "")
	case ProviderBedrock:
		return providers.NewBedrock(pc.Region)
	case ProviderVertex:
		return providers.NewVertex(ctx, []byte(pc.Credentials.Reveal()), pc.ProjectID, pc.Region, pc.Endpoint)
	case ProviderFireworks:
		return providers.NewFireworks(pc.Credentials.Reveal(), pc.Endpoint)
	case ProviderTogether:
		return providers.NewTogether(pc.Credentials.Reveal(), pc.Endpoint)
	case ProviderMistral:
		return providers.NewMistral(pc.Credentials.Reveal(), pc.Endpoint)
	case ProviderVLLM:
		return providers.NewVLLM(pc.Endpoint, servedModels)
	case ProviderDummy:
		return providers.NewDummy(pc.Name, pc.AlwaysFail), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// modelsForProvider collects the Model.Name of every model in reg whose
// routing list names provider — the vLLM adapter needs an explicit served
// model list since, unlike hosted vendors, it has no fixed catalog of its
// own (providers/vllm.go).
func modelsForProvider(reg *Registry, provider string) []string {
	var out []string
	for _, m := range reg.Models {
		for _, p := range m.Routing {
			if p == provider {
				out = append(out, m.Name)
				break
			}
		}
	}
	return out
}

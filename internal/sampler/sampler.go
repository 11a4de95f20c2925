// Package sampler picks a function's variant deterministically.
//
// The teacher's weighted routing (gateway.go's weightedStartIndex) draws a
// fresh math/rand.Float64 per call, which is the right behavior for load
// balancing across equivalent providers but the wrong behavior for variant
// A/B sampling: the spec requires the same (function_name, episode_id) pair
// to always land on the same variant, so repeated inferences within one
// episode see a stable experiment cohort. This package replaces the random
// draw with a hash of the sampling key mapped onto the same weighted
// prefix-sum scan.
package sampler

import (
	"github.com/cespare/xxhash/v2"
	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

// salt is mixed into every hash so the mapping from (function, episode) to
// a [0,1) fraction is specific to this sampler and not just a bare hash of
// the key, matching the design note's "hash ... keyed with a fixed salt".
const salt = "ferro-inference-gateway/variant-sampler/v1"

// Pick selects a variant name from variantOrder given their weighted
// cumulative distribution prefixSums (each entry in (0,1], strictly
// increasing, last entry == 1 — exactly the shape Function.WeightPrefixSums
// is built in), seeded deterministically from (functionName, episodeID).
//
// The same (functionName, episodeID) pair always returns the same variant,
// regardless of process restarts, because the hash has no random component.
func Pick(functionName, episodeID string, variantOrder []string, prefixSums []float64) (string, error) {
	if len(variantOrder) == 0 || len(variantOrder) != len(prefixSums) {
		return "", gatewayerrors.Newf(gatewayerrors.KindNoVariant, "no sampleable variant for function %q", functionName)
	}

	frac := fraction(functionName, episodeID)
	for i, cum := range prefixSums {
		if frac < cum {
			return variantOrder[i], nil
		}
	}
	// Floating point rounding can leave frac fractionally above the final
	// prefix sum (which is defined to be exactly 1); fall back to the last
	// variant rather than fail a request over an epsilon.
	return variantOrder[len(variantOrder)-1], nil
}

// fraction maps (functionName, episodeID) onto a uniform value in [0, 1).
func fraction(functionName, episodeID string) float64 {
	h := xxhash.New()
	_, _ = h.WriteString(salt)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(functionName)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(episodeID)
	sum := h.Sum64()
	// 53 bits is the largest integer range a float64 represents exactly;
	// shifting down to that width before the division avoids rounding the
	// numerator itself.
	const mantissaBits = 53
	return float64(sum>>(64-mantissaBits)) / float64(uint64(1)<<mantissaBits)
}

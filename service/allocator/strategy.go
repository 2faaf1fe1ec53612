package allocator

import (
	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/service/registry"
)

// Strategy selects one GPU out of the available candidates.  Which card to
// prefer (price, capability, rotation) is deployment policy, so the choice is
// pluggable.
type Strategy = registry.Pick

// FirstAvailable takes the first candidate in registration order.
func FirstAvailable(candidates []*model.GPU) *model.GPU {
	return candidates[0]
}

// LowestPrice prefers the cheapest hourly rate.
func LowestPrice(candidates []*model.GPU) *model.GPU {
	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.PricePerHour.LessThan(best.PricePerHour) {
			best = candidate
		}
	}
	return best
}

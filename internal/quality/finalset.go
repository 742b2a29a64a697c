package quality

import "github.com/sells-group/lead-pipeline/internal/model"

// Final-set gate reason codes.
const (
	ReasonFinalOK         = "ok"
	ReasonInsufficientSet = "insufficient_results"
	ReasonDuplicateStorm  = "duplicate_storm"
)

// CollapseDuplicates keeps the first lead per identity key, preserving
// order. Leads without an identity key are dropped.
func CollapseDuplicates(leads []model.Lead) []model.Lead {
	seen := make(map[string]bool, len(leads))
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		key := l.Company.Key()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

// EvaluateFinalSet rejects a result set smaller than requested, or one that
// collapses to no unique identity key when more than one result was needed.
func EvaluateFinalSet(leads []model.Lead, requested int) (bool, string) {
	if len(leads) < requested {
		return false, ReasonInsufficientSet
	}
	if requested > 1 && len(CollapseDuplicates(leads)) < 1 {
		return false, ReasonDuplicateStorm
	}
	return true, ReasonFinalOK
}

package quality

import (
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Evidence gate reason codes.
const (
	ReasonThresholdsMet           = "thresholds_met"
	ReasonPersonalizationFallback = "personalization_fallback"
	ReasonSeedURLFallback         = "seed_url_fallback"
	ReasonInsufficient            = "insufficient"
	ReasonSalvaged                = "salvaged"
)

// EvidenceConfig sets the minimum anecdote counts for a contact.
type EvidenceConfig struct {
	MinPersonal                  int  `mapstructure:"min_personal" yaml:"min_personal"`
	MinProfessional              int  `mapstructure:"min_professional" yaml:"min_professional"`
	MinTotal                     int  `mapstructure:"min_total" yaml:"min_total"`
	AllowPersonalizationFallback bool `mapstructure:"allow_personalization_fallback" yaml:"allow_personalization_fallback"`
	AllowSeedURLFallback         bool `mapstructure:"allow_seed_url_fallback" yaml:"allow_seed_url_fallback"`
}

// DefaultEvidenceConfig returns the production minimums.
func DefaultEvidenceConfig() EvidenceConfig {
	return EvidenceConfig{
		MinTotal:                     1,
		AllowPersonalizationFallback: true,
		AllowSeedURLFallback:         true,
	}
}

// EvidenceResult carries the decision plus the counts behind it.
type EvidenceResult struct {
	Passed             bool   `json:"passed"`
	Reason             string `json:"reason"`
	Personal           int    `json:"personal"`
	Professional       int    `json:"professional"`
	Total              int    `json:"total"`
	SeedURLs           int    `json:"seed_urls"`
	HasPersonalization bool   `json:"has_personalization"`
}

// EvaluateEvidence decides whether p carries enough free-text evidence.
func EvaluateEvidence(p *model.Person, cfg EvidenceConfig) EvidenceResult {
	personalMin := max(0, cfg.MinPersonal)
	professionalMin := max(0, cfg.MinProfessional)
	combinedMin := max(max(0, cfg.MinTotal), personalMin+professionalMin)

	res := EvidenceResult{}
	if p != nil {
		res.Personal = countNonEmpty(p.PersonalAnecdotes)
		res.Professional = countNonEmpty(p.ProfessionalAnecdotes)
		res.SeedURLs = countNonEmpty(p.SeedURLs)
		res.HasPersonalization = strings.TrimSpace(p.Personalization) != ""
	}
	res.Total = res.Personal + res.Professional

	switch {
	case res.Personal >= personalMin && res.Professional >= professionalMin && res.Total >= combinedMin:
		res.Reason = ReasonThresholdsMet
	case cfg.AllowPersonalizationFallback && res.HasPersonalization:
		res.Reason = ReasonPersonalizationFallback
	case cfg.AllowSeedURLFallback && res.SeedURLs > 0:
		res.Reason = ReasonSeedURLFallback
	default:
		res.Reason = ReasonInsufficient
	}
	res.Passed = res.Reason != ReasonInsufficient
	return res
}

func countNonEmpty(items []string) int {
	n := 0
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// Package quality holds the pure accept/reject predicates applied to
// candidates, contacts, and the final result set.
package quality

import (
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Classification gate reason codes.
const (
	ReasonAccepted        = "accepted"
	ReasonLowTier         = "low_tier"
	ReasonNegativeKeyword = "negative_keyword"
	FlaggedPrefix         = "flagged:"
)

// DefaultOverrideScore is the positive score above which a negative keyword
// match is ignored.
const DefaultOverrideScore = 3.0

// ClassificationConfig parameterizes the classification gate.
type ClassificationConfig struct {
	// Strict rejects failing records. When false, failing records pass with
	// a reason prefixed by FlaggedPrefix.
	Strict bool

	RejectTiers      []string
	NegativeKeywords []string
	PositiveKeywords []string
	Platforms        []string
	OverrideScore    float64
}

// DefaultClassificationConfig returns the production gate settings.
func DefaultClassificationConfig() ClassificationConfig {
	return ClassificationConfig{
		Strict:      true,
		RejectTiers: []string{"C", "D", "F", "disqualified", "not a fit"},
		NegativeKeywords: []string{
			"hoa management", "association management", "community association",
			"commercial only", "commercial real estate", "brokerage only",
			"vacation rental", "short-term rental", "self storage", "coworking",
			"hotel", "student housing only",
		},
		PositiveKeywords: []string{
			"property management", "residential", "multifamily", "multi-family",
			"single family", "single-family", "apartment", "rental homes", "leasing",
		},
		Platforms: []string{
			"appfolio", "yardi", "buildium", "rent manager", "rentmanager",
			"propertyware", "entrata", "realpage", "doorloop", "resman", "rentvine",
		},
		OverrideScore: DefaultOverrideScore,
	}
}

// ClassificationGate decides whether a candidate's classification signals
// make it acceptable.
type ClassificationGate struct {
	cfg ClassificationConfig
}

// NewClassificationGate builds a gate, filling zero-valued lists from the
// defaults.
func NewClassificationGate(cfg ClassificationConfig) *ClassificationGate {
	def := DefaultClassificationConfig()
	if cfg.RejectTiers == nil {
		cfg.RejectTiers = def.RejectTiers
	}
	if cfg.NegativeKeywords == nil {
		cfg.NegativeKeywords = def.NegativeKeywords
	}
	if cfg.PositiveKeywords == nil {
		cfg.PositiveKeywords = def.PositiveKeywords
	}
	if cfg.Platforms == nil {
		cfg.Platforms = def.Platforms
	}
	if cfg.OverrideScore <= 0 {
		cfg.OverrideScore = def.OverrideScore
	}
	return &ClassificationGate{cfg: cfg}
}

// Evaluate returns whether c is accepted and why.
func (g *ClassificationGate) Evaluate(c *model.Candidate) (bool, string) {
	if c == nil {
		return false, ReasonNegativeKeyword
	}
	if ok, reason := g.evaluate(c); !ok {
		if g.cfg.Strict {
			return false, reason
		}
		return true, FlaggedPrefix + reason
	}
	return true, ReasonAccepted
}

func (g *ClassificationGate) evaluate(c *model.Candidate) (bool, string) {
	tier := strings.ToLower(strings.TrimSpace(c.ICPTier))
	for _, t := range g.cfg.RejectTiers {
		if tier != "" && tier == strings.ToLower(t) {
			return false, ReasonLowTier
		}
	}

	text := classificationText(c)
	if !containsAny(text, g.cfg.NegativeKeywords) {
		return true, ReasonAccepted
	}
	if g.Score(c) > g.cfg.OverrideScore {
		return true, ReasonAccepted
	}
	return false, ReasonNegativeKeyword
}

// Score accumulates the weighted positive signals on c.
func (g *ClassificationGate) Score(c *model.Candidate) float64 {
	var score float64
	if c.ICPFit != nil && *c.ICPFit {
		score += 2
	}
	switch strings.ToUpper(strings.TrimSpace(c.ICPTier)) {
	case "A":
		score += 2
	case "B":
		score += 1
	}

	text := strings.ToLower(c.Name + " " + c.Summary + " " + strings.Join(c.PositiveSignals, " "))
	for _, kw := range g.cfg.PositiveKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			score++
		}
	}

	platforms := strings.ToLower(c.PMS + " " + text)
	if containsAny(platforms, g.cfg.Platforms) {
		score++
	}

	if c.UnitCount != nil {
		switch u := *c.UnitCount; {
		case u >= 1000:
			score += 3
		case u >= 250:
			score += 2
		case u >= 50:
			score += 1
		}
	}
	return score
}

func classificationText(c *model.Candidate) string {
	parts := []string{c.Name, c.Summary}
	parts = append(parts, c.Disqualifiers...)
	return strings.ToLower(strings.Join(parts, " "))
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

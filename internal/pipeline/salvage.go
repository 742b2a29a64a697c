package pipeline

import (
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/payload"
)

var (
	personalPrefixes     = []string{"personal", "community", "hobby", "hobbies", "volunteer", "family", "interests"}
	professionalPrefixes = []string{"role", "tools", "business", "pms", "icp", "career", "experience", "company"}
)

// salvageEvidence recovers anecdotes and seed URLs from p's raw enrichment
// payload. Lists only grow; an empty summary is filled from the payload.
// It reports whether anything was added.
func salvageEvidence(p *model.Person) bool {
	if p == nil || p.Raw == nil {
		return false
	}
	raw := p.Raw

	personal := payload.ExtractList(raw, "personal")
	if len(personal) == 0 {
		personal = payload.ExtractList(raw, "personal_anecdotes")
	}
	professional := payload.ExtractList(raw, "professional")
	if len(professional) == 0 {
		professional = payload.ExtractList(raw, "professional_anecdotes")
	}
	seeds := payload.ExtractList(raw, "seed_urls")
	if len(seeds) == 0 {
		seeds = payload.ExtractList(raw, "sources")
	}

	summary := payload.ExtractString(raw, "agent_summary", "summary", "output")
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•# "))
		if line == "" {
			continue
		}
		switch lower := strings.ToLower(line); {
		case hasAnyPrefix(lower, personalPrefixes):
			personal = append(personal, line)
		case hasAnyPrefix(lower, professionalPrefixes):
			professional = append(professional, line)
		}
	}

	changed := false
	grow := func(dst *[]string, add []string) {
		merged := payload.DedupeStrings(append(append([]string(nil), *dst...), add...))
		if len(merged) > len(*dst) {
			*dst = merged
			changed = true
		}
	}
	grow(&p.PersonalAnecdotes, personal)
	grow(&p.ProfessionalAnecdotes, professional)
	grow(&p.SeedURLs, seeds)

	if strings.TrimSpace(p.Summary) == "" && strings.TrimSpace(summary) != "" {
		p.Summary = strings.TrimSpace(summary)
		changed = true
	}
	return changed
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, pre := range prefixes {
		if strings.HasPrefix(s, pre) {
			return true
		}
	}
	return false
}

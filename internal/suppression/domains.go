package suppression

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// DomainList suppresses candidates whose identity key matches an exclude
// entry. Entries are domains or glob patterns ("*.example.com", "acme-*.com").
type DomainList struct {
	exact    map[string]struct{}
	patterns []string
}

// NewDomainList builds a list from raw entries. Plain entries are normalized
// to identity keys; entries with glob metacharacters are kept as patterns.
func NewDomainList(entries []string) *DomainList {
	dl := &DomainList{exact: make(map[string]struct{})}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.ContainsAny(e, "*?[{") {
			if doublestar.ValidatePattern(e) {
				dl.patterns = append(dl.patterns, e)
			}
			continue
		}
		if k := model.NormalizeDomain(e); k != "" {
			dl.exact[k] = struct{}{}
		}
	}
	return dl
}

// Empty reports whether the list has no entries.
func (dl *DomainList) Empty() bool {
	return len(dl.exact) == 0 && len(dl.patterns) == 0
}

// Domains returns the exact entries, for passing to discovery as a
// suppression list.
func (dl *DomainList) Domains() []string {
	out := make([]string, 0, len(dl.exact))
	for d := range dl.exact {
		out = append(out, d)
	}
	return out
}

// Matches reports whether domain is excluded.
func (dl *DomainList) Matches(domain string) bool {
	key := model.NormalizeDomain(domain)
	if key == "" {
		return false
	}
	if _, ok := dl.exact[key]; ok {
		return true
	}
	host := model.HostFromURL(domain)
	for _, p := range dl.patterns {
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
		if host != "" && host != key {
			if ok, _ := doublestar.Match(p, host); ok {
				return true
			}
		}
	}
	return false
}

// IsAllowed implements Checker.
func (dl *DomainList) IsAllowed(_ context.Context, c *model.Candidate) (bool, error) {
	for _, d := range []string{c.Domain, c.Website, c.CompanyURL} {
		if d != "" && dl.Matches(d) {
			return false, nil
		}
	}
	return true, nil
}

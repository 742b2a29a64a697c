// Package suppression decides whether a candidate may be contacted: CRM
// state, explicit exclude lists, and a per-run cache over both.
package suppression

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Checker reports whether a candidate is allowed.
type Checker interface {
	IsAllowed(ctx context.Context, c *model.Candidate) (bool, error)
}

// AllowAll allows every candidate.
type AllowAll struct{}

// IsAllowed implements Checker.
func (AllowAll) IsAllowed(context.Context, *model.Candidate) (bool, error) { return true, nil }

// Chain allows a candidate only when every checker allows it. Checkers run in
// order and stop at the first rejection or error.
type Chain []Checker

// IsAllowed implements Checker.
func (ch Chain) IsAllowed(ctx context.Context, c *model.Candidate) (bool, error) {
	for _, chk := range ch {
		if chk == nil {
			continue
		}
		ok, err := chk.IsAllowed(ctx, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Cache memoizes decisions per identity key for the duration of one run.
// Checker errors suppress the candidate and are not cached.
type Cache struct {
	checker Checker

	mu       sync.Mutex
	decision map[string]bool
}

// NewCache wraps checker. A nil checker allows everything.
func NewCache(checker Checker) *Cache {
	if checker == nil {
		checker = AllowAll{}
	}
	return &Cache{checker: checker, decision: make(map[string]bool)}
}

// Allowed reports whether c may proceed. Candidates without an identity key
// are never allowed.
func (sc *Cache) Allowed(ctx context.Context, c *model.Candidate) bool {
	key := c.Key()
	if key == "" {
		return false
	}

	sc.mu.Lock()
	ok, cached := sc.decision[key]
	sc.mu.Unlock()
	if cached {
		return ok
	}

	ok, err := sc.checker.IsAllowed(ctx, c)
	if err != nil {
		zap.L().Warn("suppression: check failed, suppressing",
			zap.String("domain", key),
			zap.Error(err),
		)
		return false
	}

	sc.mu.Lock()
	sc.decision[key] = ok
	sc.mu.Unlock()
	return ok
}

// FilterAllowed returns the allowed candidates and the number suppressed.
func (sc *Cache) FilterAllowed(ctx context.Context, cands []model.Candidate) ([]model.Candidate, int) {
	out := make([]model.Candidate, 0, len(cands))
	suppressed := 0
	for i := range cands {
		if sc.Allowed(ctx, &cands[i]) {
			out = append(out, cands[i])
		} else {
			suppressed++
		}
	}
	return out, suppressed
}

// Len returns the number of cached decisions.
func (sc *Cache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.decision)
}

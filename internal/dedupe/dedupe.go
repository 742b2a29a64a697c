// Package dedupe tracks entities already processed in a run.
package dedupe

import (
	"sort"
	"strings"
	"sync"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Index is a concurrency-safe set of identity keys with per-key attempt
// counts. Keys are compared trimmed and case-insensitively. Empty keys are
// never recorded.
type Index struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{counts: make(map[string]int)}
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsDuplicate reports whether key has been marked seen.
func (ix *Index) IsDuplicate(key string) bool {
	k := normalize(key)
	if k == "" {
		return false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.counts[k] > 0
}

// MarkSeen records an attempt for key and returns the new attempt count.
func (ix *Index) MarkSeen(key string) int {
	k := normalize(key)
	if k == "" {
		return 0
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.counts[k]++
	return ix.counts[k]
}

// CheckAndMark atomically reports whether key was already seen and records
// the attempt.
func (ix *Index) CheckAndMark(key string) (duplicate bool) {
	k := normalize(key)
	if k == "" {
		return false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	duplicate = ix.counts[k] > 0
	ix.counts[k]++
	return duplicate
}

// AttemptCount returns how many times key was marked seen.
func (ix *Index) AttemptCount(key string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.counts[normalize(key)]
}

// Len returns the number of distinct keys seen.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.counts)
}

// Keys returns the distinct keys seen, sorted.
func (ix *Index) Keys() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	keys := make([]string, 0, len(ix.counts))
	for k := range ix.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Contacts deduplicates people using model.PersonKey.
type Contacts struct {
	ix *Index
}

// NewContacts returns an empty contact index.
func NewContacts() *Contacts {
	return &Contacts{ix: NewIndex()}
}

// IsDuplicate reports whether p has already been processed for company.
func (c *Contacts) IsDuplicate(p model.Person, company string) bool {
	return c.ix.IsDuplicate(model.PersonKey(p, company))
}

// MarkSeen records an attempt for p and returns the attempt count.
func (c *Contacts) MarkSeen(p model.Person, company string) int {
	return c.ix.MarkSeen(model.PersonKey(p, company))
}

// CheckAndMark atomically tests and records p.
func (c *Contacts) CheckAndMark(p model.Person, company string) bool {
	return c.ix.CheckAndMark(model.PersonKey(p, company))
}

// AttemptCount returns how many times p was marked seen.
func (c *Contacts) AttemptCount(p model.Person, company string) int {
	return c.ix.AttemptCount(model.PersonKey(p, company))
}

// Len returns the number of distinct contacts seen.
func (c *Contacts) Len() int { return c.ix.Len() }

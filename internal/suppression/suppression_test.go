package suppression

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
)

type countingChecker struct {
	calls atomic.Int32
	allow map[string]bool
	err   error
}

func (c *countingChecker) IsAllowed(_ context.Context, cand *model.Candidate) (bool, error) {
	c.calls.Add(1)
	if c.err != nil {
		return false, c.err
	}
	return c.allow[cand.Key()], nil
}

func TestCache_MemoizesByKey(t *testing.T) {
	t.Parallel()
	chk := &countingChecker{allow: map[string]bool{"acme.com": true}}
	cache := NewCache(chk)
	ctx := context.Background()

	assert.True(t, cache.Allowed(ctx, &model.Candidate{Domain: "acme.com"}))
	assert.True(t, cache.Allowed(ctx, &model.Candidate{Domain: "https://WWW.Acme.com/about"}))
	assert.False(t, cache.Allowed(ctx, &model.Candidate{Domain: "other.com"}))
	assert.False(t, cache.Allowed(ctx, &model.Candidate{Domain: "other.com"}))

	assert.Equal(t, int32(2), chk.calls.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestCache_ErrorsFailClosedAndAreNotCached(t *testing.T) {
	t.Parallel()
	chk := &countingChecker{err: errors.New("crm down")}
	cache := NewCache(chk)
	ctx := context.Background()

	assert.False(t, cache.Allowed(ctx, &model.Candidate{Domain: "acme.com"}))
	assert.False(t, cache.Allowed(ctx, &model.Candidate{Domain: "acme.com"}))
	assert.Equal(t, int32(2), chk.calls.Load())
	assert.Zero(t, cache.Len())
}

func TestCache_NoKeyNeverAllowed(t *testing.T) {
	t.Parallel()
	cache := NewCache(nil)
	assert.False(t, cache.Allowed(context.Background(), &model.Candidate{Name: "No Domain LLC"}))
	assert.True(t, cache.Allowed(context.Background(), &model.Candidate{Domain: "ok.com"}))
}

func TestCache_FilterAllowed(t *testing.T) {
	t.Parallel()
	chk := &countingChecker{allow: map[string]bool{"a.com": true, "c.com": true}}
	cands := []model.Candidate{{Domain: "a.com"}, {Domain: "b.com"}, {Domain: "c.com"}}

	out, suppressed := NewCache(chk).FilterAllowed(context.Background(), cands)
	require.Len(t, out, 2)
	assert.Equal(t, "a.com", out[0].Domain)
	assert.Equal(t, "c.com", out[1].Domain)
	assert.Equal(t, 1, suppressed)
}

func TestChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &model.Candidate{Domain: "acme.com"}

	ok, err := Chain{AllowAll{}, nil, NewDomainList(nil)}.IsAllowed(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Chain{AllowAll{}, NewDomainList([]string{"acme.com"})}.IsAllowed(ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("boom")
	ok, err = Chain{&countingChecker{err: boom}}.IsAllowed(ctx, c)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

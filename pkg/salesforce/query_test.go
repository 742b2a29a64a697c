package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAccountsByDomain(t *testing.T) {
	t.Run("returns matching accounts", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, "Website LIKE '%acme.com%'")
				assert.Contains(t, soql, "LastActivityDate")
				assert.Contains(t, soql, "LIMIT 10")

				accounts := out.(*[]Account)
				*accounts = []Account{
					{ID: "001xx", Name: "Acme Corp", Website: "https://acme.com", Type: "Customer"},
				}
				return nil
			},
		}

		accts, err := FindAccountsByDomain(context.Background(), mock, "acme.com")
		require.NoError(t, err)
		require.Len(t, accts, 1)
		assert.Equal(t, "Customer", accts[0].Type)
	})

	t.Run("empty domain skips query", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, _ string, _ any) error {
				t.Fatal("query should not run")
				return nil
			},
		}
		accts, err := FindAccountsByDomain(context.Background(), mock, "  ")
		require.NoError(t, err)
		assert.Nil(t, accts)
	})

	t.Run("escapes quotes", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, _ any) error {
				assert.Contains(t, soql, `o\'brien.com`)
				return nil
			},
		}
		_, err := FindAccountsByDomain(context.Background(), mock, "o'brien.com")
		require.NoError(t, err)
	})

	t.Run("returns error on query failure", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, _ string, _ any) error {
				return errors.New("connection refused")
			},
		}

		_, err := FindAccountsByDomain(context.Background(), mock, "acme.com")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "find accounts by domain")
	})
}

func TestFindAccountByID(t *testing.T) {
	t.Run("returns account when found", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, "Id = '001xx'")
				assert.Contains(t, soql, "LIMIT 1")

				accounts := out.(*[]Account)
				*accounts = []Account{{ID: "001xx", Name: "Acme Corp"}}
				return nil
			},
		}

		acct, err := FindAccountByID(context.Background(), mock, "001xx")
		require.NoError(t, err)
		require.NotNil(t, acct)
		assert.Equal(t, "001xx", acct.ID)
	})

	t.Run("returns nil when not found", func(t *testing.T) {
		acct, err := FindAccountByID(context.Background(), &mockClient{}, "missing")
		require.NoError(t, err)
		assert.Nil(t, acct)
	})
}

func TestFindOpenOpportunities(t *testing.T) {
	t.Run("queries by account ids", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, "IsClosed = false")
				assert.Contains(t, soql, "AccountId IN ('001a', '001b')")
				opps := out.(*[]Opportunity)
				*opps = []Opportunity{{ID: "006x", AccountID: "001a", StageName: "Proposal"}}
				return nil
			},
		}

		opps, err := FindOpenOpportunities(context.Background(), mock, []string{"001a", "001b"})
		require.NoError(t, err)
		require.Len(t, opps, 1)
		assert.Equal(t, "Proposal", opps[0].StageName)
	})

	t.Run("no accounts skips query", func(t *testing.T) {
		opps, err := FindOpenOpportunities(context.Background(), &mockClient{
			queryFn: func(_ context.Context, _ string, _ any) error {
				t.Fatal("query should not run")
				return nil
			},
		}, nil)
		require.NoError(t, err)
		assert.Nil(t, opps)
	})
}

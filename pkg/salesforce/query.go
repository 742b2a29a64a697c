package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account represents a Salesforce Account record.
type Account struct {
	ID               string `json:"Id" salesforce:"Id"`
	Name             string `json:"Name" salesforce:"Name"`
	Website          string `json:"Website" salesforce:"Website"`
	Type             string `json:"Type" salesforce:"Type"`
	BillingCity      string `json:"BillingCity" salesforce:"BillingCity"`
	BillingState     string `json:"BillingState" salesforce:"BillingState"`
	LastActivityDate string `json:"LastActivityDate" salesforce:"LastActivityDate"`
}

// Opportunity represents a Salesforce Opportunity record.
type Opportunity struct {
	ID        string `json:"Id" salesforce:"Id"`
	Name      string `json:"Name" salesforce:"Name"`
	AccountID string `json:"AccountId" salesforce:"AccountId"`
	StageName string `json:"StageName" salesforce:"StageName"`
	IsClosed  bool   `json:"IsClosed" salesforce:"IsClosed"`
}

// accountFields are the SOQL fields selected for Account queries.
var accountFields = []string{
	"Id", "Name", "Website", "Type", "BillingCity", "BillingState", "LastActivityDate",
}

// maxDomainMatches bounds how many accounts a domain lookup returns.
const maxDomainMatches = 10

// FindAccountsByDomain returns accounts whose Website contains domain.
func FindAccountsByDomain(ctx context.Context, c Client, domain string) ([]Account, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, nil
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website LIKE '%%%s%%' LIMIT %d",
		strings.Join(accountFields, ", "),
		escapeSoql(domain),
		maxDomainMatches,
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find accounts by domain %s", domain))
	}
	return accounts, nil
}

// FindAccountByID queries Salesforce for an Account by its ID.
// Returns nil if no account is found.
func FindAccountByID(ctx context.Context, c Client, id string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Id = '%s' LIMIT 1",
		strings.Join(accountFields, ", "),
		escapeSoql(id),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by id %s", id))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// FindOpenOpportunities returns open opportunities for the given accounts.
func FindOpenOpportunities(ctx context.Context, c Client, accountIDs []string) ([]Opportunity, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		quoted[i] = "'" + escapeSoql(id) + "'"
	}
	soql := fmt.Sprintf(
		"SELECT Id, Name, AccountId, StageName, IsClosed FROM Opportunity WHERE IsClosed = false AND AccountId IN (%s)",
		strings.Join(quoted, ", "),
	)

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: find open opportunities")
	}
	return opps, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

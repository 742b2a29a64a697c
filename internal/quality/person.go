package quality

import (
	"strings"
	"unicode"
)

// nonPersonTerms mark a "name" that is really a mailbox or department.
var nonPersonTerms = []string{
	"primary", "contact", "office", "leasing", "maintenance", "team", "support",
	"info", "inquiries", "rentals", "property", "management", "front desk",
	"reception", "accounts", "billing", "owner", "general", "admin",
	"customer service", "sales", "service", "services", "department",
}

var roleLocalParts = map[string]bool{
	"office": true, "info": true, "contact": true, "support": true, "sales": true,
	"service": true, "services": true, "admin": true, "billing": true, "accounts": true,
	"hello": true, "team": true, "help": true, "leasing": true, "frontdesk": true,
	"reception": true, "customerservice": true,
}

// ValidPersonName reports whether name looks like a real person's name:
// at least two capitalized tokens, no digits or address symbols, and no
// department vocabulary.
func ValidPersonName(name string) bool {
	name = strings.TrimSpace(name)
	if len(name) < 4 {
		return false
	}
	if strings.ContainsAny(name, `/\@|`) {
		return false
	}
	for _, r := range name {
		if unicode.IsDigit(r) {
			return false
		}
	}
	lower := strings.ToLower(name)
	for _, term := range nonPersonTerms {
		if strings.Contains(lower, term) {
			return false
		}
	}

	tokens := strings.Fields(strings.NewReplacer("-", " ", "'", " ").Replace(name))
	if len(tokens) < 2 {
		return false
	}
	caps := 0
	for _, t := range tokens {
		if capLike(t) {
			caps++
		}
	}
	return caps >= 2
}

func capLike(t string) bool {
	rs := []rune(t)
	if len(rs) == 0 || !unicode.IsUpper(rs[0]) {
		return false
	}
	rest := string(rs[1:])
	if rest == "" {
		return true
	}
	return strings.ToLower(rest) == rest && strings.ContainsFunc(rest, unicode.IsLetter)
}

// IsRoleBasedEmail reports whether email is a shared mailbox rather than a
// person's address.
func IsRoleBasedEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(email, "@")
	if at <= 0 {
		return false
	}
	local := email[:at]
	return roleLocalParts[local] || strings.HasPrefix(local, "noreply") || strings.HasPrefix(local, "no-reply")
}

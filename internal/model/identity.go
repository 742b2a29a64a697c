package model

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// pmsPortalHosts are property-management platforms that host tenant and
// owner portals. A contact address on one of these hosts does not identify
// the management company.
var pmsPortalHosts = []string{
	"appfolio.com",
	"rentcafe.com",
	"yardi.com",
	"yardibreeze.com",
	"activebuilding.com",
	"buildium.com",
	"managebuilding.com",
	"propertyware.com",
	"doorloop.com",
	"realpage.com",
	"entrata.com",
	"residentportal.com",
	"rentmanager.com",
	"rmwebaccess.com",
}

// NormalizeDomain reduces a domain or URL to its registrable lowercase form:
// scheme, credentials, port and path are removed and the host is cut down
// to its last two DNS labels.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, ".")
	labels := strings.Split(s, ".")
	if len(labels) > 2 {
		labels = labels[len(labels)-2:]
	}
	return strings.Join(labels, ".")
}

// CandidateKey is the normalized identity key of a domain string.
func CandidateKey(domain string) string {
	return NormalizeDomain(domain)
}

// PersonKey derives the identity key of a contact within a company.
// Email wins over LinkedIn, which wins over name@company. An empty key means
// the contact cannot be identified and must never be treated as a duplicate.
func PersonKey(p Person, companyName string) string {
	if email := strings.ToLower(strings.TrimSpace(p.Email)); email != "" {
		return "email:" + email
	}
	if li := strings.ToLower(strings.TrimSpace(p.LinkedIn)); li != "" {
		return "linkedin:" + li
	}
	name := strings.ToLower(strings.TrimSpace(p.FullName))
	company := strings.ToLower(strings.TrimSpace(companyName))
	if name != "" && company != "" {
		return "name:" + name + "@" + company
	}
	return ""
}

// IsPMSPortalHost reports whether host belongs to a property-management
// platform (the platform domain itself or any subdomain of it).
func IsPMSPortalHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	for _, d := range pmsPortalHosts {
		if h == d {
			return true
		}
		if ok, _ := doublestar.Match("*."+d, h); ok {
			return true
		}
	}
	return false
}

// HostFromURL returns the lowercase host of a URL, accepting bare hosts.
func HostFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// VerificationDomain picks the domain an email address should be verified
// against: the first non-portal host among the enriched record's URLs, the
// original record's URLs, and the bare domain. When every host is a portal
// the raw domain is returned unchanged.
func VerificationDomain(enriched, original *Candidate) string {
	var urls []string
	for _, c := range []*Candidate{enriched, original} {
		if c == nil {
			continue
		}
		for _, u := range []string{c.CompanyURL, c.Website} {
			if strings.TrimSpace(u) != "" {
				urls = append(urls, u)
			}
		}
	}
	dom := ""
	if enriched != nil && enriched.Domain != "" {
		dom = enriched.Domain
	} else if original != nil {
		dom = original.Domain
	}
	if dom != "" {
		urls = append(urls, "https://"+dom)
	}
	for _, u := range urls {
		if h := HostFromURL(u); h != "" && !IsPMSPortalHost(h) {
			return h
		}
	}
	return strings.ToLower(dom)
}

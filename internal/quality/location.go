package quality

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Location gate reason codes.
const (
	ReasonNoLocationRequest = "no_location_request"
	ReasonNoLocationSignal  = "no_location_signal"
	ReasonLocationMatch     = "location_match"
	ReasonStateMismatch     = "state_mismatch"
	ReasonCityMismatch      = "city_mismatch"
)

var stateNames = map[string]string{
	"AL": "alabama", "AK": "alaska", "AZ": "arizona", "AR": "arkansas",
	"CA": "california", "CO": "colorado", "CT": "connecticut", "DE": "delaware",
	"DC": "district of columbia", "FL": "florida", "GA": "georgia", "HI": "hawaii",
	"ID": "idaho", "IL": "illinois", "IN": "indiana", "IA": "iowa",
	"KS": "kansas", "KY": "kentucky", "LA": "louisiana", "ME": "maine",
	"MD": "maryland", "MA": "massachusetts", "MI": "michigan", "MN": "minnesota",
	"MS": "mississippi", "MO": "missouri", "MT": "montana", "NE": "nebraska",
	"NV": "nevada", "NH": "new hampshire", "NJ": "new jersey", "NM": "new mexico",
	"NY": "new york", "NC": "north carolina", "ND": "north dakota", "OH": "ohio",
	"OK": "oklahoma", "OR": "oregon", "PA": "pennsylvania", "RI": "rhode island",
	"SC": "south carolina", "SD": "south dakota", "TN": "tennessee", "TX": "texas",
	"UT": "utah", "VT": "vermont", "VA": "virginia", "WA": "washington",
	"WV": "west virginia", "WI": "wisconsin", "WY": "wyoming",
}

var stateByName = func() map[string]string {
	m := make(map[string]string, len(stateNames)+1)
	for abbr, name := range stateNames {
		m[name] = abbr
	}
	m["washington dc"] = "DC"
	return m
}()

// stateNamesLongestFirst orders full names so "west virginia" is consumed
// before "virginia" can match inside it.
var stateNamesLongestFirst = func() []string {
	names := make([]string, 0, len(stateByName))
	for name := range stateByName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}()

// normalizeText lowercases s, folds diacritics, and keeps alphanumeric tokens
// separated by single spaces.
func normalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// StateCode resolves a state abbreviation or full name to its USPS code.
func StateCode(s string) string {
	n := normalizeText(s)
	if n == "" {
		return ""
	}
	if up := strings.ToUpper(n); len(up) == 2 {
		if _, ok := stateNames[up]; ok {
			return up
		}
	}
	return stateByName[n]
}

// statesInText finds states mentioned in free text: full names anywhere, and
// an abbreviation only as the trailing token ("Wichita, KS").
func statesInText(s string) []string {
	n := normalizeText(s)
	if n == "" {
		return nil
	}
	tokens := strings.Fields(n)
	padded := " " + n + " "
	seen := map[string]bool{}
	var out []string
	for _, name := range stateNamesLongestFirst {
		needle := " " + name + " "
		if !strings.Contains(padded, needle) {
			continue
		}
		padded = strings.ReplaceAll(padded, needle, " | ")
		if abbr := stateByName[name]; !seen[abbr] {
			seen[abbr] = true
			out = append(out, abbr)
		}
	}
	if last := strings.ToUpper(tokens[len(tokens)-1]); len(last) == 2 {
		if _, ok := stateNames[last]; ok && !seen[last] {
			out = append(out, last)
		}
	}
	return out
}

// LocationRequest is the geography a run asked for.
type LocationRequest struct {
	City     string
	State    string
	Location string
}

// Empty reports whether the request carries no geography.
func (r LocationRequest) Empty() bool {
	return strings.TrimSpace(r.City) == "" && strings.TrimSpace(r.State) == "" && strings.TrimSpace(r.Location) == ""
}

func (r LocationRequest) state() string {
	if code := StateCode(r.State); code != "" {
		return code
	}
	if states := statesInText(r.Location); len(states) == 1 {
		return states[0]
	}
	return ""
}

func (r LocationRequest) city() string {
	if c := normalizeText(r.City); c != "" {
		return c
	}
	// "Wichita, KS" carries the city before the first comma.
	if i := strings.Index(r.Location, ","); i > 0 {
		return normalizeText(r.Location[:i])
	}
	return ""
}

// EvaluateLocation rejects a candidate whose own location contradicts req.
// A record with no location signal is accepted.
func EvaluateLocation(c *model.Candidate, req LocationRequest) (bool, string) {
	if req.Empty() {
		return true, ReasonNoLocationRequest
	}
	if c == nil {
		return true, ReasonNoLocationSignal
	}

	freeText := []string{c.Location, c.Region}
	hasSignal := strings.TrimSpace(c.State) != "" || strings.TrimSpace(c.City) != "" || len(c.StateOfOperations) > 0
	for _, f := range freeText {
		if strings.TrimSpace(f) != "" {
			hasSignal = true
		}
	}
	if !hasSignal {
		return true, ReasonNoLocationSignal
	}

	if want := req.state(); want != "" {
		var got []string
		if code := StateCode(c.State); code != "" {
			got = append(got, code)
		} else {
			for _, f := range freeText {
				got = append(got, statesInText(f)...)
			}
		}
		for _, s := range c.StateOfOperations {
			if code := StateCode(s); code != "" {
				got = append(got, code)
			}
		}
		if len(got) > 0 && !containsString(got, want) {
			return false, ReasonStateMismatch
		}
	}

	if want := req.city(); want != "" {
		city := normalizeText(c.City)
		if city != "" && city != want && !mentionsCity(want, c.City, c.Location, c.Region) {
			return false, ReasonCityMismatch
		}
	}
	return true, ReasonLocationMatch
}

func mentionsCity(city string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(" "+normalizeText(f)+" ", " "+city+" ") {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

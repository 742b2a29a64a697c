// Package payload walks loosely-structured JSON documents returned by
// upstream automation webhooks. Walks are depth-bounded.
package payload

import (
	"math"
	"strconv"
	"strings"
)

// MaxDepth bounds how deep any walker descends.
const MaxDepth = 16

// listItemKeys are tried, in order, when a list entry is an object.
var listItemKeys = []string{"value", "text", "note", "url", "source"}

// ExtractList finds the first non-empty list stored under key anywhere in
// data and returns its trimmed string entries. Object entries contribute
// their first string among value, text, note, url, source.
func ExtractList(data any, key string) []string {
	return walkList(data, key, 0)
}

func walkList(node any, key string, depth int) []string {
	if depth > MaxDepth {
		return nil
	}
	switch n := node.(type) {
	case map[string]any:
		if raw, ok := n[key].([]any); ok {
			if vals := stringsFrom(raw); len(vals) > 0 {
				return vals
			}
		}
		for _, k := range sortedKeys(n) {
			if found := walkList(n[k], key, depth+1); len(found) > 0 {
				return found
			}
		}
	case []any:
		for _, item := range n {
			if found := walkList(item, key, depth+1); len(found) > 0 {
				return found
			}
		}
	}
	return nil
}

func stringsFrom(items []any) []string {
	var out []string
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			for _, k := range listItemKeys {
				if s, ok := v[k].(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
					break
				}
			}
		}
	}
	return out
}

// ExtractString returns the first non-empty string stored under any of keys,
// checking each object's keys before descending into its children.
func ExtractString(data any, keys ...string) string {
	return walkString(data, keys, 0)
}

func walkString(node any, keys []string, depth int) string {
	if depth > MaxDepth {
		return ""
	}
	switch n := node.(type) {
	case map[string]any:
		for _, k := range keys {
			if s, ok := n[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		for _, k := range sortedKeys(n) {
			if found := walkString(n[k], keys, depth+1); found != "" {
				return found
			}
		}
	case []any:
		for _, item := range n {
			if found := walkString(item, keys, depth+1); found != "" {
				return found
			}
		}
	}
	return ""
}

// contactNameKeys and contactDetailKeys identify an object as a contact.
var (
	contactNameKeys   = []string{"name", "full_name"}
	contactDetailKeys = []string{"job_title", "title", "role", "email", "linkedin", "linkedin_url"}
)

// LooksLikeContact reports whether m carries a name and at least one
// contact detail and is not itself a container of contacts.
func LooksLikeContact(m map[string]any) bool {
	if list, ok := m["contacts"].([]any); ok && len(list) > 0 {
		return false
	}
	lower := make(map[string]struct{}, len(m))
	for k := range m {
		lower[strings.ToLower(k)] = struct{}{}
	}
	hasName := false
	for _, k := range contactNameKeys {
		if _, ok := lower[k]; ok {
			hasName = true
			break
		}
	}
	if !hasName {
		return false
	}
	for _, k := range contactDetailKeys {
		if _, ok := lower[k]; ok {
			return true
		}
	}
	return false
}

// FindContacts collects contact-shaped objects from an arbitrary response:
// entries of any "contacts" list, and lists of objects where at least one
// looks like a contact.
func FindContacts(data any) []map[string]any {
	var out []map[string]any
	walkContacts(data, 0, &out)
	return out
}

func walkContacts(node any, depth int, out *[]map[string]any) {
	if depth > MaxDepth {
		return
	}
	switch n := node.(type) {
	case map[string]any:
		for _, k := range sortedKeys(n) {
			v := n[k]
			if list, ok := v.([]any); ok && k == "contacts" {
				for _, item := range list {
					if m, ok := item.(map[string]any); ok {
						*out = append(*out, m)
					}
				}
				continue
			}
			walkContacts(v, depth+1, out)
		}
	case []any:
		if objs, ok := allObjects(n); ok && anyContact(objs) {
			*out = append(*out, objs...)
			return
		}
		for _, item := range n {
			walkContacts(item, depth+1, out)
		}
	}
}

func allObjects(items []any) ([]map[string]any, bool) {
	if len(items) == 0 {
		return nil, false
	}
	objs := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		objs = append(objs, m)
	}
	return objs, true
}

func anyContact(objs []map[string]any) bool {
	for _, m := range objs {
		if LooksLikeContact(m) {
			return true
		}
	}
	return false
}

// String returns the trimmed string at the first present key of m.
func String(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// Int coerces a JSON number or numeric string ("1,200", "12.0") to an int.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int(f), true
		}
	}
	return 0, false
}

// Bool coerces booleans and common truthy strings.
func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}

// Strings returns the string entries of a list value, or a single-element
// slice for a non-empty string.
func Strings(v any) []string {
	switch s := v.(type) {
	case []any:
		return stringsFrom(s)
	case []string:
		var out []string
		for _, x := range s {
			if x = strings.TrimSpace(x); x != "" {
				out = append(out, x)
			}
		}
		return out
	case string:
		if s = strings.TrimSpace(s); s != "" {
			return []string{s}
		}
	}
	return nil
}

// DedupeStrings removes case-insensitive duplicates and blanks, keeping order.
func DedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

package webhook

import (
	"encoding/json"
	"strings"
)

// maxUnwrap bounds how many envelopes are peeled off one response.
const maxUnwrap = 8

// envelope matches one known wrapper shape and returns its content.
type envelope func(v any) (any, bool)

// jsonText matches a string holding a JSON object or array, as returned
// when an agent's reply is passed through verbatim.
func jsonText(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = stripCodeFence(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return nil, false
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out, true
}

// messageContent matches {"message": {"content": X}}.
func messageContent(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	msg, ok := m["message"].(map[string]any)
	if !ok {
		return nil, false
	}
	content, ok := msg["content"]
	if !ok || content == nil {
		return nil, false
	}
	return content, true
}

// singleton matches a one-element list.
func singleton(v any) (any, bool) {
	l, ok := v.([]any)
	if !ok || len(l) != 1 {
		return nil, false
	}
	return l[0], true
}

// head matches a non-empty list and returns its first element, for
// services that answer with a list of alternatives.
func head(v any) (any, bool) {
	l, ok := v.([]any)
	if !ok || len(l) == 0 {
		return nil, false
	}
	return l[0], true
}

// keyed matches an object carrying a non-empty list or object under one of
// keys, tried in order.
func keyed(keys ...string) envelope {
	return func(v any) (any, bool) {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		for _, k := range keys {
			switch inner := m[k].(type) {
			case []any:
				if len(inner) > 0 {
					return inner, true
				}
			case map[string]any:
				if len(inner) > 0 {
					return inner, true
				}
			}
		}
		return nil, false
	}
}

// unwrap peels envelopes off v until none match.
func unwrap(v any, envelopes ...envelope) any {
	for range maxUnwrap {
		matched := false
		for _, e := range envelopes {
			if inner, ok := e(v); ok {
				v = inner
				matched = true
				break
			}
		}
		if !matched {
			return v
		}
	}
	return v
}

// records returns the objects in v. List entries are unwrapped with
// envelopes before being collected.
func records(v any, envelopes ...envelope) []map[string]any {
	switch n := v.(type) {
	case map[string]any:
		if len(n) == 0 {
			return nil
		}
		return []map[string]any{n}
	case []any:
		var out []map[string]any
		for _, item := range n {
			if m, ok := unwrap(item, envelopes...).(map[string]any); ok && len(m) > 0 {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// object returns v unwrapped to a single object, or nil.
func object(v any, envelopes ...envelope) map[string]any {
	m, _ := unwrap(v, envelopes...).(map[string]any)
	return m
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// compact drops empty strings, empty lists and nil values from m.
func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(x) == "" {
				continue
			}
		case []string:
			if len(x) == 0 {
				continue
			}
		case map[string]any:
			if len(x) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func fill(dst *string, src string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = strings.TrimSpace(src)
	}
}

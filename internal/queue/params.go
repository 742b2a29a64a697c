package queue

import (
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/payload"
)

// defaultQuantity applies when a request names no quantity.
const defaultQuantity = 10

// BuildParams maps a queued request onto run parameters. Parameters are
// read from raw["parameters"] when present, else from raw itself, and
// accept the field names older request forms used.
func BuildParams(raw map[string]any) (model.RequestParams, error) {
	src, ok := raw["parameters"].(map[string]any)
	if !ok {
		src = raw
	}

	var p model.RequestParams
	p.Quantity = defaultQuantity
	if n, ok := payload.Int(src["quantity"]); ok {
		p.Quantity = n
	} else if n, ok := payload.Int(raw["quantity"]); ok {
		p.Quantity = n
	}

	if states := payload.Strings(src["state"]); len(states) > 0 {
		p.State = strings.ToUpper(states[0])
	}
	p.City = payload.String(src, "city")
	p.Location = payload.String(src, "location")
	if p.Location == "" {
		p.Location = strings.Join(payload.Strings(src["priority_locations"]), ", ")
	}
	p.PMS = payload.String(src, "pms")
	if p.PMS == "" {
		if pms := payload.Strings(src["pms_include"]); len(pms) > 0 {
			p.PMS = pms[0]
		}
	}

	if n, ok := firstInt(src, "units_min", "unit_min"); ok {
		p.UnitMin = &n
	}
	if n, ok := firstInt(src, "units_max", "unit_max"); ok {
		p.UnitMax = &n
	}

	p.Requirements = payload.String(src, "requirements", "notes")
	if p.Requirements == "" {
		p.Requirements = payload.String(raw, "natural_request")
	}

	for _, k := range []string{"exclude_domains", "suppress_domains", "suppression_domains", "exclude"} {
		if list := payload.Strings(src[k]); len(list) > 0 {
			p.Exclude = list
			break
		}
	}

	if n, ok := payload.Int(src["max_rounds"]); ok {
		p.MaxRounds = n
	}

	return p, p.Validate()
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := payload.Int(m[k]); ok {
			return n, true
		}
	}
	return 0, false
}

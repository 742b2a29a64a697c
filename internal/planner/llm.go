package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/pkg/anthropic"
)

const areaPrompt = "You are helping segment a metro area into meaningful subregions for business search.\n" +
	"City/area: %s.\n" +
	"Return ONLY a JSON array (no prose) of 3-5 distinct neighborhoods or nearby suburbs that a human would use " +
	"to find residential property management companies. Keep them non-overlapping and recognizable."

// AreaPlanner asks an LLM for neighborhoods of the requested area and falls
// back to the geographic splitter when that fails. Plans are cached per
// location, chunk size, and chunk count.
type AreaPlanner struct {
	client   anthropic.Client
	model    string
	fallback *GeographicSplitter

	mu    sync.Mutex
	cache map[string][]string
}

// NewAreaPlanner builds an AreaPlanner. A nil client always uses the fallback.
func NewAreaPlanner(client anthropic.Client, model string, chunkSize int) *AreaPlanner {
	return &AreaPlanner{
		client:   client,
		model:    model,
		fallback: NewGeographicSplitter(chunkSize),
		cache:    make(map[string][]string),
	}
}

// Split implements Splitter.
func (p *AreaPlanner) Split(ctx context.Context, q model.DiscoveryQuery) ([]Chunk, error) {
	size := p.fallback.size()
	if q.Quantity <= size {
		return nil, nil
	}

	hint := firstNonEmpty(q.City, q.Location, q.State)
	if p.client == nil || hint == "" {
		return p.fallback.Split(ctx, q)
	}

	target := ChunkCount(q.Quantity, size)
	key := fmt.Sprintf("%s::size=%d::target=%d", strings.ToLower(strings.TrimSpace(hint)), size, target)

	areas := p.cached(key)
	if len(areas) == 0 {
		var err error
		areas, err = p.ask(ctx, hint)
		if err != nil {
			zap.L().Info("area planner: llm split failed, using geographic fallback", zap.Error(err))
			return p.fallback.Split(ctx, q)
		}
	}

	areas = dedupeAreas(areas)
	if len(areas) > target {
		areas = areas[:target]
	}
	if len(areas) < 2 {
		return p.fallback.Split(ctx, q)
	}

	p.mu.Lock()
	p.cache[key] = append([]string(nil), areas...)
	p.mu.Unlock()

	return allocate(areas, areas, q.Quantity, size, hint, "neighborhoods"), nil
}

func (p *AreaPlanner) cached(key string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cache[key]...)
}

func (p *AreaPlanner) ask(ctx context.Context, hint string) ([]string, error) {
	temp := 0.2
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   512,
		System:      []anthropic.SystemBlock{{Text: "Return only JSON array of strings."}},
		Messages:    []anthropic.Message{{Role: "user", Content: fmt.Sprintf(areaPrompt, hint)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.Log(resp.Model, "area_planner")
	return parseAreas(resp.Text())
}

// parseAreas extracts a JSON string array from text that may carry prose
// around it.
func parseAreas(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, eris.New("area planner: no JSON array in response")
	}
	var raw []any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "area planner: parse response")
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out, nil
}

func dedupeAreas(areas []string) []string {
	seen := make(map[string]bool, len(areas))
	out := make([]string, 0, len(areas))
	for _, a := range areas {
		a = strings.TrimSpace(a)
		k := strings.ToLower(a)
		if a == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package planner

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// DefaultChunkSize is the largest quantity a single discovery call is asked for.
const DefaultChunkSize = 10

// maxChunks caps fragmentation of a single request.
const maxChunks = 5

// BroadAreas are the city-agnostic segments used when no better plan exists.
var BroadAreas = []string{
	"Downtown/Core",
	"North",
	"South",
	"East/Coastal",
	"West/Suburban",
}

// Chunk is one sub-task of a split discovery request.
type Chunk struct {
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Area     string `json:"area"`
	Quantity int    `json:"quantity"`
	Suffix   string `json:"suffix"` // appended to the query's requirements
	Strategy string `json:"strategy"`
}

// Apply returns q narrowed to this chunk.
func (c Chunk) Apply(q model.DiscoveryQuery) model.DiscoveryQuery {
	q.Quantity = c.Quantity
	if q.Requirements == "" {
		q.Requirements = c.Suffix
	} else {
		q.Requirements = strings.TrimSpace(q.Requirements) + " " + c.Suffix
	}
	return q
}

// Splitter plans how a discovery query is divided into chunks. An empty
// plan means the query runs whole.
type Splitter interface {
	Split(ctx context.Context, q model.DiscoveryQuery) ([]Chunk, error)
}

// GeographicSplitter divides a query into broad non-overlapping areas.
type GeographicSplitter struct {
	ChunkSize int
}

// NewGeographicSplitter returns a splitter with the given chunk size; a
// non-positive size uses DefaultChunkSize.
func NewGeographicSplitter(chunkSize int) *GeographicSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &GeographicSplitter{ChunkSize: chunkSize}
}

// Split implements Splitter.
func (s *GeographicSplitter) Split(_ context.Context, q model.DiscoveryQuery) ([]Chunk, error) {
	size := s.size()
	if q.Quantity <= size {
		return nil, nil
	}
	return allocate(BroadAreas[:ChunkCount(q.Quantity, size)], BroadAreas, q.Quantity, size, "", "geographic"), nil
}

func (s *GeographicSplitter) size() int {
	if s.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

// ChunkCount is the number of chunks for quantity: ceil(quantity/size),
// at least 2 and at most 5.
func ChunkCount(quantity, size int) int {
	n := int(math.Ceil(float64(quantity) / float64(size)))
	return min(maxChunks, max(2, n))
}

// allocate spreads quantity over areas without exceeding size per chunk.
// Each chunk's suffix steers away from the other entries of universe.
func allocate(areas, universe []string, quantity, size int, within, strategy string) []Chunk {
	total := len(areas)
	base := min(max(1, quantity/max(1, total)), size)
	remainder := max(0, quantity-base*total)

	chunks := make([]Chunk, 0, total)
	for i, area := range areas {
		add := 0
		if remainder > 0 && base < size {
			add = 1
			remainder--
		}

		var others []string
		for _, a := range universe {
			if a != area {
				others = append(others, a)
			}
		}
		if len(others) > 4 {
			others = others[:4]
		}

		var b strings.Builder
		if len(others) > 0 {
			fmt.Fprintf(&b, "Avoid other neighborhoods/areas such as: %s. ", strings.Join(others, "; "))
		}
		fmt.Fprintf(&b, "Focus on %s neighborhoods/areas", area)
		if within != "" {
			fmt.Fprintf(&b, " within %s", within)
		}
		b.WriteString(".")

		chunks = append(chunks, Chunk{
			Index:    i,
			Total:    total,
			Area:     area,
			Quantity: base + add,
			Suffix:   b.String(),
			Strategy: strategy,
		})
	}
	return chunks
}

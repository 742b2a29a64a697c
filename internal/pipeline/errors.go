package pipeline

import "github.com/rotisserie/eris"

var (
	// ErrInsufficientResults is returned when the final result set cannot
	// meet the requested quantity after top-up.
	ErrInsufficientResults = eris.New("pipeline: insufficient results")

	errEmptyEnrichment = eris.New("pipeline: enrichment returned no data")
	errAllChunksFailed = eris.New("pipeline: every discovery chunk failed")
)

// Dependency names used for breakers and call tallies.
const (
	ServiceDiscovery         = "discovery"
	ServiceEnrichment        = "enrichment"
	ServiceVerification      = "verification"
	ServiceContactDiscovery  = "contact_discovery"
	ServiceContactEnrichment = "contact_enrichment"
	ServiceStore             = "store"
)

// Package docstore is the document/profile store port referenced by
// spec.md §4.2 ("materializes one by fetching user profile, job metrics,
// and workflow parameters from the document store") and §6's SEARCH_DOCS
// tool. Grounded on the teacher's materials ports
// (internal/domain/materials/ports), generalized here to a narrow
// key/value-document interface agentcore's session and tool layers can
// depend on without committing to a concrete backend.
package docstore

import "context"

// Profile is the durable per-mandate profile. session.Manager.Ensure does
// not load it: a newly created Session starts with zero-value profile
// fields and an empty JobMetrics map.
type Profile struct {
	MandatePath string
	Country     string
	Timezone    string
	Language    string
	DMSSystem   string
	JobMetrics  map[string]any
}

// SearchResult is one hit returned by SEARCH_DOCS.
type SearchResult struct {
	DocID   string
	Title   string
	Snippet string
	Score   float64
}

// Store is the document/profile store port.
type Store interface {
	// LoadProfile fetches a mandate's profile, used to materialize a new
	// Session.
	LoadProfile(ctx context.Context, mandatePath string) (Profile, error)
	// SaveProfile persists a mandate's profile (e.g. after timezone
	// resolution, spec.md §4.6 "the result is persisted on the mandate").
	SaveProfile(ctx context.Context, mandatePath string, profile Profile) error
	// Search performs the SEARCH_DOCS tool's lookup over indexed
	// documents scoped to mandatePath.
	Search(ctx context.Context, mandatePath, query string, limit int) ([]SearchResult, error)
}

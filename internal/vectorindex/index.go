// Package vectorindex provides a brute-force cosine nearest-neighbour
// index over two record collections (tools and methods). The gateway's
// catalog is per-process and bounded by however many tools its downstream
// servers advertise — not web scale — so a flat scan is the right tool
// rather than an approximate-nearest-neighbour library (see DESIGN.md).
package vectorindex

import (
	"math"
	"sort"
	"sync"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

// Record is one entry in a collection: an embedded tool or method together
// with the metadata needed to turn a hit back into a routable reference.
type Record struct {
	ID       string
	Server   string
	Tool     string
	Metadata map[string]string
	Vector   []float32
}

// ScoredTool is one ranked hit from SearchTools.
type ScoredTool struct {
	ID          string
	Server      string
	Tool        string
	Description string
	Score       float32
}

// ScoredMethod is one ranked hit from SearchMethods.
type ScoredMethod struct {
	ID       string
	Server   string
	Tool     string
	Metadata map[string]string
	Score    float32
}

// Index holds the "tools" and "methods" collections at a fixed dimension.
// Rebuild is the only write path; it replaces both collections atomically.
type Index struct {
	mu        sync.RWMutex
	dimension int
	tools     []Record
	methods   []Record
}

// New creates an empty Index for the given embedding dimension.
func New(dimension int) *Index {
	return &Index{dimension: dimension}
}

// Dimension returns the fixed vector length this index was built for.
func (ix *Index) Dimension() int { return ix.dimension }

// Rebuild atomically replaces both collections. Records whose vector
// dimension does not match the index dimension are rejected wholesale —
// no partial rebuild is performed.
func (ix *Index) Rebuild(tools, methods []Record) error {
	for _, r := range tools {
		if len(r.Vector) != ix.dimension {
			return gwerr.New(gwerr.InvalidArgument, "rebuild: tool record %q has dim %d, want %d", r.ID, len(r.Vector), ix.dimension)
		}
	}
	for _, r := range methods {
		if len(r.Vector) != ix.dimension {
			return gwerr.New(gwerr.InvalidArgument, "rebuild: method record %q has dim %d, want %d", r.ID, len(r.Vector), ix.dimension)
		}
	}

	toolsCopy := append([]Record(nil), tools...)
	methodsCopy := append([]Record(nil), methods...)

	ix.mu.Lock()
	ix.tools = toolsCopy
	ix.methods = methodsCopy
	ix.mu.Unlock()
	return nil
}

// SearchTools returns up to k tool hits ranked by descending cosine score,
// ties broken by ascending record id.
func (ix *Index) SearchTools(vector []float32, k int) ([]ScoredTool, error) {
	if len(vector) != ix.dimension {
		return nil, gwerr.New(gwerr.InvalidArgument, "search_tools: query dim %d, want %d", len(vector), ix.dimension)
	}
	ix.mu.RLock()
	records := ix.tools
	ix.mu.RUnlock()

	if len(records) == 0 {
		return nil, nil
	}

	type scored struct {
		rec   Record
		score float32
	}
	scoredRecs := make([]scored, len(records))
	for i, r := range records {
		scoredRecs[i] = scored{rec: r, score: cosine(vector, r.Vector)}
	}
	sort.Slice(scoredRecs, func(i, j int) bool {
		if scoredRecs[i].score != scoredRecs[j].score {
			return scoredRecs[i].score > scoredRecs[j].score
		}
		return scoredRecs[i].rec.ID < scoredRecs[j].rec.ID
	})
	if k > len(scoredRecs) {
		k = len(scoredRecs)
	}

	out := make([]ScoredTool, k)
	for i := 0; i < k; i++ {
		r := scoredRecs[i].rec
		out[i] = ScoredTool{
			ID:          r.ID,
			Server:      r.Server,
			Tool:        r.Tool,
			Description: r.Metadata["description"],
			Score:       scoredRecs[i].score,
		}
	}
	return out, nil
}

// SearchMethods returns up to k method hits ranked the same way as SearchTools.
func (ix *Index) SearchMethods(vector []float32, k int) ([]ScoredMethod, error) {
	if len(vector) != ix.dimension {
		return nil, gwerr.New(gwerr.InvalidArgument, "search_methods: query dim %d, want %d", len(vector), ix.dimension)
	}
	ix.mu.RLock()
	records := ix.methods
	ix.mu.RUnlock()

	if len(records) == 0 {
		return nil, nil
	}

	type scored struct {
		rec   Record
		score float32
	}
	scoredRecs := make([]scored, len(records))
	for i, r := range records {
		scoredRecs[i] = scored{rec: r, score: cosine(vector, r.Vector)}
	}
	sort.Slice(scoredRecs, func(i, j int) bool {
		if scoredRecs[i].score != scoredRecs[j].score {
			return scoredRecs[i].score > scoredRecs[j].score
		}
		return scoredRecs[i].rec.ID < scoredRecs[j].rec.ID
	})
	if k > len(scoredRecs) {
		k = len(scoredRecs)
	}

	out := make([]ScoredMethod, k)
	for i := 0; i < k; i++ {
		r := scoredRecs[i].rec
		out[i] = ScoredMethod{
			ID:       r.ID,
			Server:   r.Server,
			Tool:     r.Tool,
			Metadata: r.Metadata,
			Score:    scoredRecs[i].score,
		}
	}
	return out, nil
}

// cosine computes the cosine similarity of two equal-length vectors.
// Callers already guarantee both are unit-normalised, so this reduces to
// the dot product; the full formula is kept for robustness against
// records that are not perfectly normalised.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Package embedding turns text into a fixed-dimension unit vector.
package embedding

import (
	"context"
	"math"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

// Backend turns text into unit-normalised embedding vectors.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Dimension returns the fixed length of every vector this backend produces.
	Dimension() int

	// EmbedBatch embeds each input in order, preserving the order of the
	// result. It returns gwerr.InvalidArgument if any input is empty and
	// gwerr.UnavailableBackend if the underlying model/endpoint cannot be
	// reached. Results are never partial: either all inputs are embedded
	// or none are.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// normalize returns a unit-length copy of v. A zero vector is returned
// unchanged (its norm is already effectively zero and normalising it would
// divide by zero).
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func validateInputs(inputs []string) error {
	if len(inputs) == 0 {
		return gwerr.New(gwerr.InvalidArgument, "embed_batch: empty input batch")
	}
	for i, s := range inputs {
		if s == "" {
			return gwerr.New(gwerr.InvalidArgument, "embed_batch: input %d is empty", i)
		}
	}
	return nil
}

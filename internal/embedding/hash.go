package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// HashBackend is a deterministic, dependency-free embedding backend: it
// hashes character trigrams of the input into a fixed-width vector and
// unit-normalises the result. It stands in as the default, on-device
// backend and is what the test suite exercises, since it needs no network
// access and is a pure function of its input.
type HashBackend struct {
	dimension int
}

// NewHashBackend creates a HashBackend producing vectors of the given
// dimension. dimension must be positive.
func NewHashBackend(dimension int) *HashBackend {
	if dimension <= 0 {
		dimension = 128
	}
	return &HashBackend{dimension: dimension}
}

func (b *HashBackend) Dimension() int { return b.dimension }

func (b *HashBackend) EmbedBatch(_ context.Context, inputs []string) ([][]float32, error) {
	if err := validateInputs(inputs); err != nil {
		return nil, err
	}
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = normalize(b.embedOne(text))
	}
	return out, nil
}

func (b *HashBackend) embedOne(text string) []float32 {
	v := make([]float32, b.dimension)
	lower := strings.ToLower(text)
	runes := []rune(lower)
	const trigram = 3
	if len(runes) < trigram {
		runes = append(runes, make([]rune, trigram-len(runes))...)
	}
	for i := 0; i+trigram <= len(runes); i++ {
		gram := string(runes[i : i+trigram])
		h := fnv.New32a()
		_, _ = h.Write([]byte(gram))
		idx := int(h.Sum32()) % b.dimension
		if idx < 0 {
			idx += b.dimension
		}
		v[idx]++
	}
	return v
}

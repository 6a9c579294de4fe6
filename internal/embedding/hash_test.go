package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

func TestHashBackend_UnitNormalised(t *testing.T) {
	b := NewHashBackend(64)
	vectors, err := b.EmbedBatch(context.Background(), []string{"take a screenshot", "capture the screen"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vectors {
		if len(v) != b.Dimension() {
			t.Fatalf("vector %d: got dim %d, want %d", i, len(v), b.Dimension())
		}
		var sumSq float64
		for _, x := range v {
			sumSq += float64(x) * float64(x)
		}
		norm := math.Sqrt(sumSq)
		if math.Abs(norm-1) >= 1e-5 {
			t.Errorf("vector %d: norm = %v, want ~1", i, norm)
		}
	}
}

func TestHashBackend_Deterministic(t *testing.T) {
	b := NewHashBackend(32)
	ctx := context.Background()
	v1, err := b.EmbedBatch(ctx, []string{"same text"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	v2, err := b.EmbedBatch(ctx, []string{"same text"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i := range v1[0] {
		if v1[0][i] != v2[0][i] {
			t.Fatalf("embedding not deterministic at index %d: %v != %v", i, v1[0][i], v2[0][i])
		}
	}
}

func TestHashBackend_PreservesOrder(t *testing.T) {
	b := NewHashBackend(16)
	inputs := []string{"alpha", "beta", "gamma"}
	vectors, err := b.EmbedBatch(context.Background(), inputs)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != len(inputs) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(inputs))
	}
	single, err := b.EmbedBatch(context.Background(), []string{"beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i := range single[0] {
		if single[0][i] != vectors[1][i] {
			t.Fatalf("batch order not preserved at index %d for 'beta'", i)
		}
	}
}

func TestHashBackend_RejectsEmptyInput(t *testing.T) {
	b := NewHashBackend(16)
	_, err := b.EmbedBatch(context.Background(), []string{"ok", ""})
	if gwerr.KindOf(err) != gwerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestHashBackend_RejectsEmptyBatch(t *testing.T) {
	b := NewHashBackend(16)
	_, err := b.EmbedBatch(context.Background(), nil)
	if gwerr.KindOf(err) != gwerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

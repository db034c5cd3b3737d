package embedding

import (
	"context"
	"fmt"
	"math"
)

// Consistency reports whether an embedder still reproduces a
// historical vector.
type Consistency struct {
	Consistent bool    `json:"consistent"`
	Similarity float64 `json:"similarity"`
	MaxAbsDiff float64 `json:"max_abs_diff"`
}

// VerifyConsistency re-embeds content and compares against expected,
// component-wise, within tolerance. A dimension mismatch is an
// incompatible config, not a drift measurement.
func VerifyConsistency(ctx context.Context, e Embedder, content string, expected Vector, tolerance float64) (Consistency, error) {
	vec, err := e.Embed(ctx, content)
	if err != nil {
		return Consistency{}, err
	}
	if len(vec) != len(expected) {
		return Consistency{}, fmt.Errorf("expected %d dims, embedder produced %d: %w",
			len(expected), len(vec), ErrIncompatibleEmbedding)
	}

	var maxDiff float64
	for i := range vec {
		d := math.Abs(float64(vec[i]) - float64(expected[i]))
		if d > maxDiff {
			maxDiff = d
		}
	}

	return Consistency{
		Consistent: maxDiff <= tolerance,
		Similarity: CosineSimilarity(vec, expected),
		MaxAbsDiff: maxDiff,
	}, nil
}

package merge

import (
	"math"
	"time"

	"github.com/rcliao/resonance/internal/model"
)

// Scoring defaults. Identity-like categories score higher a priori
// than transient ones; recency halves a record's influence roughly
// every three weeks.
const (
	DefaultThreshold      = 0.7
	DefaultTwinThreshold  = 0.95
	DefaultHalfLifeDays   = 30.0
	defaultCategoryWeight = 0.5
)

// DefaultCategoryWeights is the base resonance per category.
func DefaultCategoryWeights() map[string]float64 {
	return map[string]float64{
		string(model.CategoryPersona):      0.9,
		string(model.CategoryStylistic):    0.85,
		string(model.CategoryRelationship): 0.8,
		string(model.CategoryTechnical):    0.7,
		string(model.CategoryRuntime):      0.5,
	}
}

// resonanceScore is the a-priori worth of a foreign record: its
// category's base weight decayed by age.
func resonanceScore(env *model.Envelope, now time.Time, weights map[string]float64, halfLifeDays float64) float64 {
	base, ok := weights[string(env.Category)]
	if !ok {
		base = defaultCategoryWeight
	}
	age := now.Sub(env.CreatedAt).Hours() / 24.0
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-age / halfLifeDays)
	return base * recency
}

// combineWithSimilarity averages the a-priori score with the cosine
// similarity to the nearest local match when both sides carry
// embeddings.
func combineWithSimilarity(score, cosine float64) float64 {
	return (score + cosine) / 2
}

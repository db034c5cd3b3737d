package merge

import (
	"math"
	"testing"
	"time"

	"github.com/rcliao/resonance/internal/model"
)

func scoreEnvelope(cat model.Category, created time.Time) *model.Envelope {
	return &model.Envelope{Category: cat, CreatedAt: created}
}

func TestResonanceScoreFreshRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := scoreEnvelope(model.CategoryPersona, now)

	got := resonanceScore(env, now, DefaultCategoryWeights(), DefaultHalfLifeDays)
	if math.Abs(got-0.9) > 1e-9 {
		t.Errorf("score = %v, want 0.9", got)
	}
}

func TestResonanceScoreDecaysWithAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := scoreEnvelope(model.CategoryPersona, now.Add(-30*24*time.Hour))

	got := resonanceScore(env, now, DefaultCategoryWeights(), DefaultHalfLifeDays)
	want := 0.9 * math.Exp(-1)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestResonanceScoreClampsFutureTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := scoreEnvelope(model.CategoryPersona, now.Add(time.Hour))

	got := resonanceScore(env, now, DefaultCategoryWeights(), DefaultHalfLifeDays)
	if math.Abs(got-0.9) > 1e-9 {
		t.Errorf("score = %v, want 0.9 (future timestamps count as fresh)", got)
	}
}

func TestResonanceScoreUnknownCategory(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := scoreEnvelope("weird", now)

	got := resonanceScore(env, now, DefaultCategoryWeights(), DefaultHalfLifeDays)
	if math.Abs(got-defaultCategoryWeight) > 1e-9 {
		t.Errorf("score = %v, want default weight %v", got, defaultCategoryWeight)
	}
}

func TestResonanceScoreCustomWeights(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := scoreEnvelope(model.CategoryRuntime, now)
	weights := map[string]float64{string(model.CategoryRuntime): 1.0}

	got := resonanceScore(env, now, weights, DefaultHalfLifeDays)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("score = %v, want 1.0", got)
	}
}

func TestCombineWithSimilarity(t *testing.T) {
	got := combineWithSimilarity(0.6, 0.8)
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("combined = %v, want 0.7", got)
	}
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/rcliao/resonance/internal/model"
)

func TestSearchKeyword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	deploy := newTestEnvelope(t, model.CategoryTechnical, "deploy the webserver behind the load balancer", model.Options{})
	gc := newTestEnvelope(t, model.CategoryTechnical, "tune the garbage collector for low latency", model.Options{})
	for _, env := range []*model.Envelope{deploy, gc} {
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	results, err := s.Search(ctx, SearchParams{Query: "deploy"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Envelope.ID != deploy.ID {
		t.Errorf("expected %s, got %s", deploy.ID, results[0].Envelope.ID)
	}
	if results[0].Keyword != 1 {
		t.Errorf("expected full keyword score for substring match, got %f", results[0].Keyword)
	}
	if results[0].Score != keywordWeight {
		t.Errorf("expected score %f without embeddings, got %f", keywordWeight, results[0].Score)
	}
}

func TestSearchPartialTokenMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	env := newTestEnvelope(t, model.CategoryTechnical, "postgres connection pool sizing", model.Options{})
	if err := s.Put(ctx, env); err != nil {
		t.Fatalf("put: %v", err)
	}

	// One of two query tokens matches.
	results, err := s.Search(ctx, SearchParams{Query: "postgres tuning"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Keyword != 0.5 {
		t.Errorf("expected keyword score 0.5, got %f", results[0].Keyword)
	}
}

func TestSearchSimilarity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	near := newTestEnvelope(t, model.CategoryPersona, "values clear and honest communication", model.Options{})
	far := newTestEnvelope(t, model.CategoryTechnical, "rotate the signing keys quarterly", model.Options{})
	for _, env := range []*model.Envelope{near, far} {
		embedEnvelope(t, s.Embedder(), env)
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	vec, err := s.Embedder().Embed(ctx, "values clear and honest communication")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}
	results, err := s.Search(ctx, SearchParams{Query: "communication style", QueryEmbedding: vec})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Envelope.ID != near.ID {
		t.Errorf("expected %s first, got %s", near.ID, results[0].Envelope.ID)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("expected self-similarity near 1, got %f", results[0].Similarity)
	}
}

func TestSearchTieBreaksByRecency(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newClockStore(t, t0)

	older := newTestEnvelope(t, model.CategoryTechnical, "rollback plan for the api", model.Options{Now: t0.Add(-48 * time.Hour)})
	newer := newTestEnvelope(t, model.CategoryTechnical, "rollback plan for the worker", model.Options{Now: t0.Add(-1 * time.Hour)})
	for _, env := range []*model.Envelope{older, newer} {
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	results, err := s.Search(ctx, SearchParams{Query: "rollback plan"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Envelope.ID != newer.ID {
		t.Error("expected the newer envelope to rank first on a tied score")
	}
}

func TestSearchCategoryAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, content := range []string{
		"release notes for the gateway",
		"release checklist for the gateway",
		"release runbook for the gateway",
	} {
		env := newTestEnvelope(t, model.CategoryTechnical, content, model.Options{})
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	other := newTestEnvelope(t, model.CategoryPersona, "enjoys release day", model.Options{})
	if err := s.Put(ctx, other); err != nil {
		t.Fatalf("put: %v", err)
	}

	results, err := s.Search(ctx, SearchParams{Query: "release", Category: model.CategoryTechnical, Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(results))
	}
	for _, r := range results {
		if r.Envelope.Category != model.CategoryTechnical {
			t.Errorf("expected only technical envelopes, got %s", r.Envelope.Category)
		}
	}
}

func TestSearchSkipsExpired(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, now := newClockStore(t, t0)

	env := newTestEnvelope(t, model.CategoryRuntime, "temporary feature flag state", model.Options{TTL: 10, Now: t0})
	if err := s.Put(ctx, env); err != nil {
		t.Fatalf("put: %v", err)
	}

	*now = t0.Add(time.Minute)
	results, err := s.Search(ctx, SearchParams{Query: "feature flag"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected expired envelope excluded, got %d results", len(results))
	}

	withExpired, err := s.Search(ctx, SearchParams{Query: "feature flag", IncludeExpired: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(withExpired) != 1 {
		t.Errorf("expected expired envelope with IncludeExpired, got %d", len(withExpired))
	}
}

func TestNearest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newTestEnvelope(t, model.CategoryPersona, "writes careful commit messages", model.Options{})
	b := newTestEnvelope(t, model.CategoryPersona, "collects vintage synthesizers", model.Options{})
	for _, env := range []*model.Envelope{a, b} {
		embedEnvelope(t, s.Embedder(), env)
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	vec, err := s.Embedder().Embed(ctx, "writes careful commit messages")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	got, sim, err := s.Nearest(ctx, vec)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatal("expected the matching envelope")
	}
	if sim < 0.99 {
		t.Errorf("expected similarity near 1, got %f", sim)
	}
}

func TestNearestEmptyIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	vec, err := s.Embedder().Embed(ctx, "anything at all")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	got, _, err := s.Nearest(ctx, vec)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if got != nil {
		t.Error("expected nil on empty index")
	}
}

func TestNearestAfterDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newTestEnvelope(t, model.CategoryPersona, "keeps a daily log", model.Options{})
	b := newTestEnvelope(t, model.CategoryPersona, "prefers pairing sessions", model.Options{})
	for _, env := range []*model.Envelope{a, b} {
		embedEnvelope(t, s.Embedder(), env)
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	vec, err := s.Embedder().Embed(ctx, "keeps a daily log")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	got, _, err := s.Nearest(ctx, vec)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if got == nil {
		t.Fatal("expected remaining envelope")
	}
	if got.ID == a.ID {
		t.Error("deleted envelope still surfaced from the index")
	}
}

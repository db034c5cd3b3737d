package store

import (
	"context"
	"sort"
	"strings"

	"github.com/rcliao/resonance/internal/embedding"
	"github.com/rcliao/resonance/internal/keyword"
	"github.com/rcliao/resonance/internal/model"
)

// keywordWeight scales the lexical half of the combined score; cosine
// similarity contributes at full weight when a query vector is given.
const keywordWeight = 0.5

// SearchResult pairs an envelope with its combined score and the two
// component scores it was built from.
type SearchResult struct {
	Envelope   *model.Envelope `json:"envelope"`
	Score      float64         `json:"score"`
	Keyword    float64         `json:"keyword"`
	Similarity float64         `json:"similarity"`
}

// SearchParams holds parameters for a search.
type SearchParams struct {
	Query string
	// QueryEmbedding enables the similarity half of the score. Leave
	// empty for a purely lexical search.
	QueryEmbedding embedding.Vector
	// Category restricts results to one category when set.
	Category model.Category
	// Limit caps the result count; 0 means 10.
	Limit int
	// IncludeExpired keeps expired envelopes in the results.
	IncludeExpired bool
}

// Search ranks envelopes by keyword match plus cosine similarity.
// Ties break by recency, then by id so ordering stays deterministic.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	ctx, span := s.obs.StartSpan(ctx, "store.search")
	defer span.End()

	if p.Limit <= 0 {
		p.Limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cosines := make(map[string]float64)
	if len(p.QueryEmbedding) > 0 {
		// Over-fetch so category and expiry filters do not starve the
		// similarity half.
		hits, err := s.index.Query(ctx, p.QueryEmbedding, p.Limit*4)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			cosines[h.ID] = h.Similarity
		}
	}

	now := s.clock()
	var results []SearchResult
	for id, env := range s.envs {
		if p.Category != "" && env.Category != p.Category {
			continue
		}
		if !p.IncludeExpired && env.IsExpired(now) {
			continue
		}
		kw := keywordScore(p.Query, env)
		cos := cosines[id]
		if kw == 0 && cos <= 0 {
			continue
		}
		results = append(results, SearchResult{
			Envelope:   env.Copy(),
			Score:      keywordWeight*kw + cos,
			Keyword:    kw,
			Similarity: cos,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Envelope.CreatedAt.Equal(results[j].Envelope.CreatedAt) {
			return results[i].Envelope.CreatedAt.After(results[j].Envelope.CreatedAt)
		}
		return results[i].Envelope.ID < results[j].Envelope.ID
	})
	if len(results) > p.Limit {
		results = results[:p.Limit]
	}
	return results, nil
}

// keywordScore is 1 when the whole query appears in the content,
// otherwise the fraction of query tokens found in the content or
// tags.
func keywordScore(query string, env *model.Envelope) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	content := strings.ToLower(env.Content)
	if strings.Contains(content, q) {
		return 1
	}
	tokens := keyword.Tokenize(q)
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(content, tok) || tagMatch(env.Tags, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func tagMatch(tags []string, tok string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), tok) {
			return true
		}
	}
	return false
}

// Nearest returns the unexpired envelope most similar to vec along
// with its cosine similarity, or nil when nothing is indexed.
func (s *Store) Nearest(ctx context.Context, vec embedding.Vector) (*model.Envelope, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.index.Query(ctx, vec, 5)
	if err != nil {
		return nil, 0, err
	}
	now := s.clock()
	var best *model.Envelope
	bestSim := 0.0
	for _, h := range hits {
		env, ok := s.envs[h.ID]
		if !ok || env.IsExpired(now) {
			continue
		}
		if best == nil || h.Similarity > bestSim {
			best = env
			bestSim = h.Similarity
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	return best.Copy(), bestSim, nil
}

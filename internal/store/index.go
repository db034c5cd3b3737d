package store

import (
	"context"
	"fmt"
	"sort"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/resonance/internal/embedding"
)

// similarityIndex wraps an in-memory chromem collection. chromem has
// no per-document delete, so removals and replacements mark the index
// dirty and the next query rebuilds the collection from the live
// vectors. Callers serialize access through the store's lock.
type similarityIndex struct {
	db      *chromem.DB
	col     *chromem.Collection
	vectors map[string]indexEntry
	dirty   bool
}

type indexEntry struct {
	vec     embedding.Vector
	content string
}

// indexHit is one similarity result.
type indexHit struct {
	ID         string
	Similarity float64
}

func newSimilarityIndex() *similarityIndex {
	return &similarityIndex{vectors: make(map[string]indexEntry)}
}

// Add registers a vector under id. Re-adding an id replaces its
// vector on the next rebuild.
func (ix *similarityIndex) Add(ctx context.Context, id string, vec embedding.Vector, content string) error {
	entry := indexEntry{
		vec:     append(embedding.Vector(nil), vec...),
		content: content,
	}
	_, replacing := ix.vectors[id]
	ix.vectors[id] = entry
	if replacing {
		ix.dirty = true
		return nil
	}
	if ix.dirty {
		// The collection rebuilds on the next query anyway.
		return nil
	}
	if err := ix.ensureCollection(); err != nil {
		return err
	}
	return ix.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: entry.vec,
	})
}

// Remove drops id from the index.
func (ix *similarityIndex) Remove(id string) {
	if _, ok := ix.vectors[id]; !ok {
		return
	}
	delete(ix.vectors, id)
	ix.dirty = true
}

// Query returns up to n ids by descending cosine similarity to vec.
func (ix *similarityIndex) Query(ctx context.Context, vec embedding.Vector, n int) ([]indexHit, error) {
	if ix.dirty {
		if err := ix.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	if n > len(ix.vectors) {
		n = len(ix.vectors)
	}
	if n <= 0 || ix.col == nil {
		return nil, nil
	}
	results, err := ix.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	hits := make([]indexHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, indexHit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Len reports how many vectors are indexed.
func (ix *similarityIndex) Len() int { return len(ix.vectors) }

func (ix *similarityIndex) ensureCollection() error {
	if ix.col != nil {
		return nil
	}
	ix.db = chromem.NewDB()
	col, err := ix.db.CreateCollection("envelopes", nil, nil)
	if err != nil {
		return fmt.Errorf("create index collection: %w", err)
	}
	ix.col = col
	return nil
}

// rebuild recreates the collection from the live vectors in id order.
func (ix *similarityIndex) rebuild(ctx context.Context) error {
	ix.db = chromem.NewDB()
	col, err := ix.db.CreateCollection("envelopes", nil, nil)
	if err != nil {
		return fmt.Errorf("rebuild index collection: %w", err)
	}
	ids := make([]string, 0, len(ix.vectors))
	for id := range ix.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entry := ix.vectors[id]
		doc := chromem.Document{ID: id, Content: entry.content, Embedding: entry.vec}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("rebuild index %s: %w", id, err)
		}
	}
	ix.col = col
	ix.dirty = false
	return nil
}

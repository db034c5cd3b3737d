package store

import (
	"context"
	"sort"
)

// Stats holds store statistics.
type Stats struct {
	Total      int             `json:"total"`
	Live       int             `json:"live"`
	Expired    int             `json:"expired"`
	Embedded   int             `json:"embedded"`
	Indexed    int             `json:"indexed"`
	Categories []CategoryStats `json:"categories"`
}

// CategoryStats holds per-category counts.
type CategoryStats struct {
	Category     string `json:"category"`
	Count        int    `json:"count"`
	ContentBytes int    `json:"content_bytes"`
}

// Stats returns store statistics as of the store clock.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	st := &Stats{Total: len(s.envs), Indexed: s.index.Len()}
	byCat := make(map[string]*CategoryStats)
	for _, env := range s.envs {
		if env.IsExpired(now) {
			st.Expired++
		} else {
			st.Live++
		}
		if env.Embedding != nil {
			st.Embedded++
		}
		cs := byCat[string(env.Category)]
		if cs == nil {
			cs = &CategoryStats{Category: string(env.Category)}
			byCat[string(env.Category)] = cs
		}
		cs.Count++
		cs.ContentBytes += len(env.Content)
	}

	for _, cs := range byCat {
		st.Categories = append(st.Categories, *cs)
	}
	sort.Slice(st.Categories, func(i, j int) bool {
		if st.Categories[i].Count != st.Categories[j].Count {
			return st.Categories[i].Count > st.Categories[j].Count
		}
		return st.Categories[i].Category < st.Categories[j].Category
	})
	return st, nil
}

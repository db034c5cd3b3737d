package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/resonance/internal/model"
	"github.com/rcliao/resonance/internal/observe"
	"github.com/rcliao/resonance/internal/store"
)

// RepairOptions configures a repair pass.
type RepairOptions struct {
	// Clock fills missing timestamps. Defaults to time.Now in UTC.
	Clock    func() time.Time
	Observer *observe.Observer
}

// Result tallies what a repair pass actually did.
type Result struct {
	Checksums    int `json:"checksums"`
	Timestamps   int `json:"timestamps"`
	IDs          int `json:"ids"`
	Categories   int `json:"categories"`
	Harmonics    int `json:"harmonics"`
	GraphEdges   int `json:"graph_edges"`
	Unrepairable int `json:"unrepairable"`
}

// Changed reports whether the pass rewrote anything.
func (r *Result) Changed() bool {
	return r.Checksums+r.Timestamps+r.IDs+r.Categories+r.Harmonics+r.GraphEdges > 0
}

// Repair fixes what can be fixed from what is already on disk:
// checksums are recomputed from content, missing timestamps filled
// from the clock, ids and categories realigned to the storage
// location, orphaned harmonic references and dangling graph edges
// dropped. Content is never invented; a record without content (or
// one that does not decode) is counted unrepairable and left alone.
// Expired records are left for pruning.
func Repair(ctx context.Context, b store.Backend, opts RepairOptions) (*Result, error) {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	obs := observe.OrNop(opts.Observer)
	ctx, span := obs.StartSpan(ctx, "validate.repair")
	defer span.End()

	res := &Result{}

	// First pass: the storage keys are the authoritative id set.
	ids := make(map[string]bool)
	keysByCat := make(map[model.Category][]string)
	for _, cat := range model.Categories() {
		keys, err := b.List(ctx, string(cat))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", cat, err)
		}
		keysByCat[cat] = keys
		for _, key := range keys {
			ids[key] = true
		}
	}

	for _, cat := range model.Categories() {
		for _, key := range keysByCat[cat] {
			data, err := b.Read(ctx, string(cat), key)
			if err != nil {
				return nil, fmt.Errorf("read %s/%s: %w", cat, key, err)
			}
			var env model.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				res.Unrepairable++
				obs.Log().Warn().Str("record", string(cat)+"/"+key).Err(err).Msg("record does not decode")
				continue
			}
			if env.Content == "" {
				res.Unrepairable++
				obs.Log().Warn().Str("record", string(cat)+"/"+key).Msg("record has no content")
				continue
			}

			changed := false
			if env.ID != key {
				env.ID = key
				res.IDs++
				changed = true
			}
			if env.Category != cat {
				env.Category = cat
				res.Categories++
				changed = true
			}
			if env.CreatedAt.IsZero() {
				env.CreatedAt = clock()
				res.Timestamps++
				changed = true
			}
			if !env.Validate() {
				env.RefreshChecksum()
				res.Checksums++
				changed = true
			}
			if kept := keepKnown(env.Harmonics, ids); len(kept) != len(env.Harmonics) {
				res.Harmonics += len(env.Harmonics) - len(kept)
				env.Harmonics = kept
				changed = true
			}
			if !changed {
				continue
			}
			out, err := json.Marshal(&env)
			if err != nil {
				return nil, fmt.Errorf("encode %s/%s: %w", cat, key, err)
			}
			if err := b.Write(ctx, string(cat), key, out); err != nil {
				return nil, fmt.Errorf("rewrite %s/%s: %w", cat, key, err)
			}
		}
	}

	if err := repairGraph(ctx, b, res); err != nil {
		return nil, err
	}

	obs.Log().Info().
		Int("checksums", res.Checksums).
		Int("timestamps", res.Timestamps).
		Int("ids", res.IDs).
		Int("harmonics", res.Harmonics).
		Int("graph_edges", res.GraphEdges).
		Int("unrepairable", res.Unrepairable).
		Msg("repair complete")
	return res, nil
}

// keepKnown filters references down to ids that exist. Order is
// preserved; a nil result means none survived.
func keepKnown(refs []string, ids map[string]bool) []string {
	var kept []string
	for _, r := range refs {
		if ids[r] {
			kept = append(kept, r)
		}
	}
	return kept
}

// repairGraph drops edges whose endpoints are gone. Nodes are kept
// even when their envelope is missing; only the validator comments on
// those.
func repairGraph(ctx context.Context, b store.Backend, res *Result) error {
	data, err := b.Read(ctx, store.PartitionGraph, store.GraphKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	var doc graphDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		res.Unrepairable++
		return nil
	}
	nodes := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodes[n.ID] = true
	}
	kept := doc.Edges[:0:0]
	for _, e := range doc.Edges {
		if nodes[e.From] && nodes[e.To] {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(doc.Edges) {
		return nil
	}
	res.GraphEdges += len(doc.Edges) - len(kept)
	doc.Edges = kept
	out, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := b.Write(ctx, store.PartitionGraph, store.GraphKey, out); err != nil {
		return fmt.Errorf("rewrite graph: %w", err)
	}
	return nil
}

// Package store persists envelopes under per-category partitions and
// keeps the live set in memory behind a read-write lock. A pluggable
// Backend handles durability; a similarity index built on the stored
// vectors serves resonance queries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/resonance/internal/embedding"
	"github.com/rcliao/resonance/internal/model"
	"github.com/rcliao/resonance/internal/observe"
)

// Error kinds callers branch on with errors.Is.
var (
	ErrNotFound  = errors.New("envelope not found")
	ErrCorrupted = errors.New("envelope corrupted")
	ErrExpired   = errors.New("envelope expired")
)

// Reserved partitions that live beside the category partitions.
const (
	PartitionSessions = "sessions"
	PartitionGraph    = "graph"

	// GraphKey is the record id the serialized graph lives under
	// within PartitionGraph.
	GraphKey = "graph"
)

// Backend is the persistence port. Write must be atomic per record:
// a reader never observes a half-written document.
type Backend interface {
	Write(ctx context.Context, partition, id string, data []byte) error
	// Read returns ErrNotFound when the record does not exist.
	Read(ctx context.Context, partition, id string) ([]byte, error)
	// List returns the record ids in a partition, sorted. A partition
	// that was never written lists as empty, not as an error.
	List(ctx context.Context, partition string) ([]string, error)
	// Delete returns ErrNotFound when the record does not exist.
	Delete(ctx context.Context, partition, id string) error
	Close() error
}

// Options configures a store.
type Options struct {
	// Embedder identifies the comparable vector space. Envelopes whose
	// embedding fingerprint does not match it are rejected on Put.
	// When nil, embedded envelopes are stored but never indexed.
	Embedder embedding.Embedder

	// Clock supplies the current time for expiry checks and snapshot
	// timestamps. Defaults to time.Now in UTC.
	Clock func() time.Time

	Observer *observe.Observer
}

// Store owns the envelope partitions. All mutation goes through the
// write lock; reads may run concurrently.
type Store struct {
	mu       sync.RWMutex
	backend  Backend
	embedder embedding.Embedder
	index    *similarityIndex
	envs     map[string]*model.Envelope
	clock    func() time.Time
	obs      *observe.Observer
}

// Open loads every category partition through the backend and builds
// the similarity index. Records that fail to decode abort the open so
// corruption is surfaced instead of silently dropped; records whose
// checksum no longer matches are loaded and report ErrCorrupted when
// read.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	s := &Store{
		backend:  backend,
		embedder: opts.Embedder,
		index:    newSimilarityIndex(),
		envs:     make(map[string]*model.Envelope),
		clock:    opts.Clock,
		obs:      observe.OrNop(opts.Observer),
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	ctx, span := s.obs.StartSpan(ctx, "store.load")
	defer span.End()

	total := 0
	for _, cat := range model.Categories() {
		ids, err := s.backend.List(ctx, string(cat))
		if err != nil {
			return fmt.Errorf("list %s: %w", cat, err)
		}
		for _, id := range ids {
			data, err := s.backend.Read(ctx, string(cat), id)
			if err != nil {
				return fmt.Errorf("read %s/%s: %w", cat, id, err)
			}
			var env model.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return fmt.Errorf("decode %s/%s: %w: %v (run repair)", cat, id, ErrCorrupted, err)
			}
			if env.ID == "" {
				env.ID = id
			}
			s.envs[env.ID] = &env
			s.indexEnvelope(ctx, &env)
			total++
		}
	}
	s.obs.Log().Debug().Int("envelopes", total).Msg("store loaded")
	return nil
}

// indexEnvelope adds env's vector to the index when its fingerprint
// matches the store's embedder. Caller holds the write lock.
func (s *Store) indexEnvelope(ctx context.Context, env *model.Envelope) {
	if env.Embedding == nil || s.embedder == nil {
		return
	}
	if env.Embedding.Fingerprint() != s.embedder.Config().Fingerprint() {
		return
	}
	if err := s.index.Add(ctx, env.ID, env.Embedding.Vector, env.Content); err != nil {
		s.obs.Log().Warn().Str("id", env.ID).Err(err).Msg("index add failed")
	}
}

// Put persists the envelope and updates the in-memory set and index.
// The envelope is rejected when its checksum does not match its
// content, or when it carries an embedding from an incompatible
// configuration.
func (s *Store) Put(ctx context.Context, env *model.Envelope) error {
	ctx, span := s.obs.StartSpan(ctx, "store.put")
	defer span.End()

	if env == nil || env.ID == "" {
		return errors.New("put: envelope has no id")
	}
	if !model.ValidCategories[env.Category] {
		return fmt.Errorf("put %s: unknown category %q", env.ID, env.Category)
	}
	if !env.Validate() {
		return fmt.Errorf("put %s: checksum does not match content: %w", env.ID, ErrCorrupted)
	}
	if env.Embedding != nil && s.embedder != nil {
		if env.Embedding.Fingerprint() != s.embedder.Config().Fingerprint() {
			return fmt.Errorf("put %s: %w: envelope %s, store %s",
				env.ID, embedding.ErrIncompatibleEmbedding,
				env.Embedding.Fingerprint(), s.embedder.Config().Fingerprint())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := env.Copy()
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.ID, err)
	}
	if prev, ok := s.envs[env.ID]; ok && prev.Category != env.Category {
		// Category changed: the record moves partitions.
		if err := s.backend.Delete(ctx, string(prev.Category), env.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("move %s out of %s: %w", env.ID, prev.Category, err)
		}
	}
	if err := s.backend.Write(ctx, string(env.Category), env.ID, data); err != nil {
		return fmt.Errorf("write %s/%s: %w", env.Category, env.ID, err)
	}
	s.envs[env.ID] = stored
	s.index.Remove(env.ID)
	s.indexEnvelope(ctx, stored)

	s.obs.Log().Debug().
		Str("id", env.ID).
		Str("category", string(env.Category)).
		Msg("envelope stored")
	return nil
}

// Get returns a copy of the envelope, expired or not. A checksum
// mismatch reports ErrCorrupted.
func (s *Store) Get(ctx context.Context, id string) (*model.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envs[id]
	if !ok {
		return nil, fmt.Errorf("envelope %s: %w", id, ErrNotFound)
	}
	if !env.Validate() {
		return nil, fmt.Errorf("envelope %s: %w", id, ErrCorrupted)
	}
	return env.Copy(), nil
}

// GetLive is Get restricted to unexpired envelopes: an expired record
// reports ErrExpired without being removed.
func (s *Store) GetLive(ctx context.Context, id string) (*model.Envelope, error) {
	env, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.IsExpired(s.clock()) {
		return nil, fmt.Errorf("envelope %s: %w", id, ErrExpired)
	}
	return env, nil
}

// Delete removes the envelope from the backend, the live set, and the
// index.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.obs.StartSpan(ctx, "store.delete")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envs[id]
	if !ok {
		return fmt.Errorf("envelope %s: %w", id, ErrNotFound)
	}
	if err := s.backend.Delete(ctx, string(env.Category), id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	delete(s.envs, id)
	s.index.Remove(id)
	s.obs.Log().Debug().Str("id", id).Msg("envelope deleted")
	return nil
}

// PruneExpired deletes every envelope expired as of now and returns
// how many were removed. Deletion order is deterministic (ascending
// id); the first backend failure stops the prune with the count so
// far.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.obs.StartSpan(ctx, "store.prune")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, env := range s.envs {
		if env.IsExpired(now) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)

	pruned := 0
	for _, id := range expired {
		env := s.envs[id]
		if err := s.backend.Delete(ctx, string(env.Category), id); err != nil && !errors.Is(err, ErrNotFound) {
			return pruned, fmt.Errorf("prune %s: %w", id, err)
		}
		delete(s.envs, id)
		s.index.Remove(id)
		pruned++
	}
	if pruned > 0 {
		s.obs.Log().Info().Int("pruned", pruned).Msg("expired envelopes removed")
	}
	return pruned, nil
}

// List returns copies of the envelopes in one category, sorted by id.
func (s *Store) List(ctx context.Context, category model.Category) ([]*model.Envelope, error) {
	if !model.ValidCategories[category] {
		return nil, fmt.Errorf("list: unknown category %q", category)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Envelope
	for _, env := range s.envs {
		if env.Category == category {
			out = append(out, env.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// All returns copies of every envelope, sorted by id.
func (s *Store) All(ctx context.Context) []*model.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Envelope, 0, len(s.envs))
	for _, env := range s.envs {
		out = append(out, env.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count reports how many envelopes are loaded.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.envs)
}

// Embedder returns the embedder the store was opened with, or nil.
func (s *Store) Embedder() embedding.Embedder { return s.embedder }

// Backend exposes the persistence port for the reserved partitions
// (merge sessions, graph snapshots) and for offline validation.
func (s *Store) Backend() Backend { return s.backend }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.clock() }

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

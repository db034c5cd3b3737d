package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/resonance/internal/embedding"
	"github.com/rcliao/resonance/internal/graph"
	"github.com/rcliao/resonance/internal/guard"
	"github.com/rcliao/resonance/internal/model"
	"github.com/rcliao/resonance/internal/observe"
	"github.com/rcliao/resonance/internal/store"
)

// Options configures a merge engine. Zero values fall back to the
// scoring defaults.
type Options struct {
	Strategy        Strategy
	Threshold       float64
	TwinThreshold   float64
	HalfLifeDays    float64
	CategoryWeights map[string]float64
	SourceLabel     string
	TargetLabel     string
	// ClientID keys the rate limiter when one is attached.
	ClientID string
	// Graph, when attached, receives every written envelope via
	// AddMemoryNode.
	Graph *graph.Graph
	// Limiter gates Merge calls per client id.
	Limiter  *guard.Limiter
	Clock    func() time.Time
	Observer *observe.Observer
}

// Engine merges foreign envelopes into a destination store.
type Engine struct {
	dst   *store.Store
	opts  Options
	clock func() time.Time
	obs   *observe.Observer
}

// NewEngine validates the options and fills defaults. The engine
// clock defaults to the destination store's clock so one injected
// time source drives scoring and expiry together.
func NewEngine(dst *store.Store, opts Options) (*Engine, error) {
	if dst == nil {
		return nil, errors.New("merge: destination store is nil")
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategySelective
	}
	if !ValidStrategies[opts.Strategy] {
		return nil, fmt.Errorf("merge: unknown strategy %q", opts.Strategy)
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TwinThreshold <= 0 {
		opts.TwinThreshold = DefaultTwinThreshold
	}
	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = DefaultHalfLifeDays
	}
	if opts.CategoryWeights == nil {
		opts.CategoryWeights = DefaultCategoryWeights()
	}
	if opts.SourceLabel == "" {
		opts.SourceLabel = "foreign"
	}
	if opts.TargetLabel == "" {
		opts.TargetLabel = "local"
	}
	clock := opts.Clock
	if clock == nil {
		clock = dst.Now
	}
	return &Engine{
		dst:   dst,
		opts:  opts,
		clock: clock,
		obs:   observe.OrNop(opts.Observer),
	}, nil
}

// scoredRecord carries one foreign record between the resonating and
// braiding phases.
type scoredRecord struct {
	env       *model.Envelope
	vec       embedding.Vector
	score     float64
	match     *model.Envelope
	sim       float64
	simCosine bool
}

// MergeSnapshot imports every envelope in a snapshot.
func (e *Engine) MergeSnapshot(ctx context.Context, snap *store.Snapshot) (*Session, error) {
	return e.Merge(ctx, snap.Flatten())
}

// Merge runs the full protocol over the foreign records and returns
// the completed session. Per-record failures are logged and the run
// continues; a setup or persistence failure ends the session failed.
// Cancellation is honored between records: committed folds stay
// committed.
func (e *Engine) Merge(ctx context.Context, foreign []*model.Envelope) (*Session, error) {
	ctx, span := e.obs.StartSpan(ctx, "merge.run")
	defer span.End()

	if e.opts.Limiter != nil {
		if err := e.opts.Limiter.Allow(e.opts.ClientID); err != nil {
			return nil, err
		}
	}

	sess := &Session{
		ID:          uuid.NewString(),
		SourceLabel: e.opts.SourceLabel,
		TargetLabel: e.opts.TargetLabel,
		Strategy:    e.opts.Strategy,
		Threshold:   e.opts.Threshold,
		Status:      StatusInitializing,
		StartedAt:   e.clock(),
	}
	sess.Counts.Records = len(foreign)
	if err := e.persist(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", sess.ID, err)
	}

	records := make([]*model.Envelope, len(foreign))
	copy(records, foreign)
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	sess.Status = StatusResonating
	if err := e.persist(ctx, sess); err != nil {
		return e.fail(ctx, sess, err)
	}
	scored := make([]*scoredRecord, 0, len(records))
	for _, env := range records {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, sess, err)
		}
		if rec := e.scoreRecord(ctx, sess, env); rec != nil {
			scored = append(scored, rec)
		}
	}

	sess.Status = StatusBraiding
	if err := e.persist(ctx, sess); err != nil {
		return e.fail(ctx, sess, err)
	}
	for _, rec := range scored {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, sess, err)
		}
		e.braidRecord(ctx, sess, rec)
	}

	sess.Status = StatusComplete
	done := e.clock()
	sess.CompletedAt = &done
	if err := e.persist(ctx, sess); err != nil {
		return e.fail(ctx, sess, err)
	}

	e.obs.Log().Info().
		Str("session", sess.ID).
		Int("records", sess.Counts.Records).
		Int("folded", sess.Counts.Folded).
		Int("absorbed", sess.Counts.Absorbed).
		Int("stored_new", sess.Counts.StoredNew).
		Int("skipped", sess.Counts.Skipped).
		Int("errors", sess.Counts.Errors).
		Msg("merge complete")
	return sess, nil
}

// fail marks the session failed with the cause on the log. The
// session is persisted outside the caller's cancellation so the
// failure itself survives a cancelled context.
func (e *Engine) fail(ctx context.Context, sess *Session, cause error) (*Session, error) {
	sess.Status = StatusFailed
	done := e.clock()
	sess.CompletedAt = &done
	sess.append(done, Event{State: RecordError, Note: cause.Error()})
	if perr := e.persist(context.WithoutCancel(ctx), sess); perr != nil {
		e.obs.Log().Error().Str("session", sess.ID).Err(perr).Msg("persist failed session")
	}
	return sess, cause
}

// scoreRecord runs the resonating phase for one record: a-priori
// score, nearest local match, and the scored event. Returns nil when
// the record errored out.
func (e *Engine) scoreRecord(ctx context.Context, sess *Session, env *model.Envelope) *scoredRecord {
	rec := &scoredRecord{env: env}
	score := resonanceScore(env, e.clock(), e.opts.CategoryWeights, e.opts.HalfLifeDays)

	if emb := e.dst.Embedder(); emb != nil {
		vec, err := emb.Embed(ctx, env.Content)
		if err != nil {
			e.recordError(sess, env.ID, fmt.Errorf("embed: %w", err))
			return nil
		}
		rec.vec = vec
	}

	if len(rec.vec) > 0 {
		match, sim, err := e.dst.Nearest(ctx, rec.vec)
		if err != nil {
			e.recordError(sess, env.ID, fmt.Errorf("nearest match: %w", err))
			return nil
		}
		if match != nil {
			rec.match, rec.sim, rec.simCosine = match, sim, true
		}
	}
	if rec.match == nil {
		results, err := e.dst.Search(ctx, store.SearchParams{Query: env.Content, Limit: 1})
		if err != nil {
			e.recordError(sess, env.ID, fmt.Errorf("lexical match: %w", err))
			return nil
		}
		if len(results) > 0 && results[0].Keyword > 0 {
			rec.match, rec.sim = results[0].Envelope, results[0].Keyword
		}
	}

	if rec.simCosine {
		score = combineWithSimilarity(score, rec.sim)
	}
	rec.score = score

	ev := Event{
		RecordID:   env.ID,
		State:      RecordResonanceScored,
		Resonance:  score,
		Similarity: rec.sim,
	}
	if rec.match != nil {
		ev.MatchID = rec.match.ID
	}
	sess.append(e.clock(), ev)
	return rec
}

// braidRecord runs the braiding decision for one scored record.
func (e *Engine) braidRecord(ctx context.Context, sess *Session, rec *scoredRecord) {
	if rec.match == nil || rec.sim < e.opts.Threshold {
		e.storeNew(ctx, sess, rec)
		return
	}
	switch e.opts.Strategy {
	case StrategyComprehensive:
		e.fold(ctx, sess, rec, true)
	case StrategySelective:
		e.fold(ctx, sess, rec, rec.sim < e.opts.TwinThreshold)
	case StrategyMinimal:
		if !model.IdentityCategories[rec.env.Category] {
			sess.append(e.clock(), Event{
				RecordID: rec.env.ID,
				State:    RecordSkipped,
				Note:     "category not identity-defining",
			})
			sess.Counts.Skipped++
			return
		}
		e.fold(ctx, sess, rec, rec.sim < e.opts.TwinThreshold)
	}
}

// fold admits a resonant record. When write is false the fold is
// absorbed: the near-twin already present stands in for the foreign
// record and nothing is persisted.
func (e *Engine) fold(ctx context.Context, sess *Session, rec *scoredRecord, write bool) {
	sess.append(e.clock(), Event{
		RecordID:   rec.env.ID,
		State:      RecordFolded,
		Resonance:  rec.score,
		Similarity: rec.sim,
		MatchID:    rec.match.ID,
	})
	if !write {
		sess.append(e.clock(), Event{
			RecordID: rec.env.ID,
			State:    RecordMerged,
			MatchID:  rec.match.ID,
			Note:     "absorbed into near-identical twin",
		})
		sess.Counts.Absorbed++
		return
	}

	derived := e.derive(sess, rec, appendUnique(rec.env.Harmonics, rec.match.ID))
	if err := e.writeDerived(ctx, derived); err != nil {
		e.recordError(sess, rec.env.ID, err)
		return
	}
	sess.append(e.clock(), Event{
		RecordID: rec.env.ID,
		State:    RecordMerged,
		MatchID:  rec.match.ID,
		StoredID: derived.ID,
	})
	sess.Counts.Folded++
}

// storeNew admits a record that resonates with nothing strongly
// enough to fold.
func (e *Engine) storeNew(ctx context.Context, sess *Session, rec *scoredRecord) {
	derived := e.derive(sess, rec, nil)
	if err := e.writeDerived(ctx, derived); err != nil {
		e.recordError(sess, rec.env.ID, err)
		return
	}
	sess.append(e.clock(), Event{
		RecordID:  rec.env.ID,
		State:     RecordStoredNew,
		Resonance: rec.score,
		StoredID:  derived.ID,
	})
	sess.Counts.StoredNew++
}

// derive builds the envelope that actually gets persisted: fresh id
// and timestamp, the foreign content, the session as origin, and an
// embedding recomputed under the destination config. The foreign
// envelope is never written verbatim.
func (e *Engine) derive(sess *Session, rec *scoredRecord, harmonics []string) *model.Envelope {
	derived := rec.env.CloneAsNew(model.CloneOverrides{
		Harmonics: harmonics,
		Resonance: rec.score,
		Origin:    sess.ID,
		Now:       e.clock(),
	})
	if len(rec.vec) > 0 {
		cfg := e.dst.Embedder().Config()
		derived.Embedding = &model.Embedding{
			Vector:        append([]float32(nil), rec.vec...),
			Backend:       cfg.Backend,
			Model:         cfg.Model,
			Dims:          cfg.Dims,
			Normalization: cfg.Normalization,
		}
	} else {
		derived.Embedding = nil
	}
	return derived
}

func (e *Engine) writeDerived(ctx context.Context, derived *model.Envelope) error {
	if err := e.dst.Put(ctx, derived); err != nil {
		return fmt.Errorf("store derived %s: %w", derived.ID, err)
	}
	if e.opts.Graph != nil {
		if _, err := e.opts.Graph.AddMemoryNode(derived); err != nil {
			e.obs.Log().Warn().Str("id", derived.ID).Err(err).Msg("graph update failed")
		}
	}
	return nil
}

func (e *Engine) recordError(sess *Session, recordID string, err error) {
	sess.append(e.clock(), Event{RecordID: recordID, State: RecordError, Note: err.Error()})
	sess.Counts.Errors++
	e.obs.Log().Warn().Str("record", recordID).Err(err).Msg("merge record failed")
}

func (e *Engine) persist(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return e.dst.Backend().Write(ctx, store.PartitionSessions, sess.ID, data)
}

func appendUnique(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return append([]string(nil), ids...)
		}
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids...)
	return append(out, id)
}

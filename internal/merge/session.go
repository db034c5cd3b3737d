// Package merge imports envelopes from a foreign snapshot into a
// destination store under the resonance protocol: score, find the
// nearest local match, then fold, store new, or skip per strategy.
// The point of the protocol is that a merge never plants a
// near-duplicate unless explicitly forced.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/resonance/internal/store"
)

// Per-record states. Terminal states are merged, stored_new, skipped,
// and error.
const (
	RecordPending         = "pending"
	RecordResonanceScored = "resonance_scored"
	RecordFolded          = "folded"
	RecordMerged          = "merged"
	RecordStoredNew       = "stored_new"
	RecordSkipped         = "skipped"
	RecordError           = "error"
)

// Session statuses.
const (
	StatusInitializing = "initializing"
	StatusResonating   = "resonating"
	StatusBraiding     = "braiding"
	StatusComplete     = "complete"
	StatusFailed       = "failed"
)

// Strategy selects how aggressively resonant records fold.
type Strategy string

const (
	// StrategyComprehensive always folds a resonant record, even when
	// that writes a near-identical twin.
	StrategyComprehensive Strategy = "comprehensive"
	// StrategySelective folds, but absorbs near-twins instead of
	// writing them.
	StrategySelective Strategy = "selective"
	// StrategyMinimal folds identity-defining categories only.
	StrategyMinimal Strategy = "minimal"
)

// ValidStrategies is the closed set of merge strategies.
var ValidStrategies = map[Strategy]bool{
	StrategyComprehensive: true,
	StrategySelective:     true,
	StrategyMinimal:       true,
}

// Event is one entry in a session's ordered log.
type Event struct {
	Seq        int       `json:"seq"`
	At         time.Time `json:"at"`
	RecordID   string    `json:"record_id,omitempty"`
	State      string    `json:"state"`
	Resonance  float64   `json:"resonance,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	MatchID    string    `json:"match_id,omitempty"`
	StoredID   string    `json:"stored_id,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Counts tallies terminal outcomes. Folded counts derivatives
// actually written; Absorbed counts folds that wrote nothing because
// a near-twin already existed.
type Counts struct {
	Records   int `json:"records"`
	Folded    int `json:"folded"`
	Absorbed  int `json:"absorbed"`
	StoredNew int `json:"stored_new"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Session is the full, persistable record of one merge run. It is
// written to the sessions partition after every phase transition so
// an interrupted merge stays inspectable.
type Session struct {
	ID          string     `json:"id"`
	SourceLabel string     `json:"source_label"`
	TargetLabel string     `json:"target_label"`
	Strategy    Strategy   `json:"strategy"`
	Threshold   float64    `json:"threshold"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Counts      Counts     `json:"counts"`
	Log         []Event    `json:"log"`
}

// append records an event with the next monotonic sequence number.
func (s *Session) append(at time.Time, ev Event) {
	ev.Seq = len(s.Log) + 1
	ev.At = at
	s.Log = append(s.Log, ev)
}

// EventsFor returns the log entries for one record id, in order.
func (s *Session) EventsFor(recordID string) []Event {
	var out []Event
	for _, ev := range s.Log {
		if ev.RecordID == recordID {
			out = append(out, ev)
		}
	}
	return out
}

// LoadSession reads one persisted session from the backend.
func LoadSession(ctx context.Context, b store.Backend, id string) (*Session, error) {
	data, err := b.Read(ctx, store.PartitionSessions, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions reads every persisted session, ordered by start time
// then id.
func ListSessions(ctx context.Context, b store.Backend) ([]*Session, error) {
	ids, err := b.List(ctx, store.PartitionSessions)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := LoadSession(ctx, b, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LineageEntry is one completed merge in a store's ancestry.
type LineageEntry struct {
	SessionID   string    `json:"session_id"`
	SourceLabel string    `json:"source_label"`
	TargetLabel string    `json:"target_label"`
	CompletedAt time.Time `json:"completed_at"`
	Counts      Counts    `json:"counts"`
}

// Lineage derives the ordered ancestry of a store: one entry per
// completed session in the sessions partition.
func Lineage(ctx context.Context, b store.Backend) ([]LineageEntry, error) {
	sessions, err := ListSessions(ctx, b)
	if err != nil {
		return nil, err
	}
	var out []LineageEntry
	for _, sess := range sessions {
		if sess.Status != StatusComplete || sess.CompletedAt == nil {
			continue
		}
		out = append(out, LineageEntry{
			SessionID:   sess.ID,
			SourceLabel: sess.SourceLabel,
			TargetLabel: sess.TargetLabel,
			CompletedAt: *sess.CompletedAt,
			Counts:      sess.Counts,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.Before(out[j].CompletedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

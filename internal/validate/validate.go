// Package validate checks a store's on-disk records. The scan reads
// raw backend bytes rather than going through the Store, so it sees
// exactly what is persisted, including records the Store would refuse
// to load. Repair is a separate, explicit pass; nothing here fixes
// anything as a side effect of looking.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/resonance/internal/graph"
	"github.com/rcliao/resonance/internal/model"
	"github.com/rcliao/resonance/internal/observe"
	"github.com/rcliao/resonance/internal/store"
)

// Severity splits findings into hard errors and heuristics.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Distribution heuristics. A category holding more than half the
// store suggests lopsided capture; identity-defining categories
// thinning out below 5% suggests the store is drifting into a plain
// fact dump. Both need a minimum population to mean anything.
const (
	imbalanceShare     = 0.5
	weakIdentityShare  = 0.05
	imbalanceMinTotal  = 4
	weakIdentityMinTot = 20
)

// Issue is a single finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Record   string   `json:"record,omitempty"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

// Report is the outcome of one scan.
type Report struct {
	ScannedAt time.Time `json:"scanned_at"`
	Records   int       `json:"records"`
	Issues    []Issue   `json:"issues,omitempty"`
}

// Errors counts error-severity issues.
func (r *Report) Errors() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Warnings counts warning-severity issues.
func (r *Report) Warnings() int {
	return len(r.Issues) - r.Errors()
}

// Err returns nil for a clean (or warnings-only) report, otherwise a
// *Error carrying the error-severity issues.
func (r *Report) Err() error {
	var issues []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			issues = append(issues, is)
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return &Error{Issues: issues}
}

// Error is a batch validation failure.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Issues[0].Message)
	}
	return fmt.Sprintf("validation failed: %d problems", len(e.Issues))
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// Clock decides what counts as expired. Defaults to time.Now in
	// UTC.
	Clock    func() time.Time
	Observer *observe.Observer
}

// scanRecord is one decoded envelope with its storage location.
type scanRecord struct {
	partition string
	key       string
	env       *model.Envelope
}

func (r *scanRecord) ref() string { return r.partition + "/" + r.key }

// Scan walks every category partition plus the graph record and
// reports what a careful reader would object to. It returns an error
// only when the backend itself fails; findings go in the report.
func Scan(ctx context.Context, b store.Backend, opts ScanOptions) (*Report, error) {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	obs := observe.OrNop(opts.Observer)
	ctx, span := obs.StartSpan(ctx, "validate.scan")
	defer span.End()

	now := clock()
	report := &Report{ScannedAt: now}
	add := func(sev Severity, record, field, msg string) {
		report.Issues = append(report.Issues, Issue{Severity: sev, Record: record, Field: field, Message: msg})
	}

	var records []*scanRecord
	ids := make(map[string]string) // envelope id -> first partition seen
	for _, cat := range model.Categories() {
		keys, err := b.List(ctx, string(cat))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", cat, err)
		}
		for _, key := range keys {
			data, err := b.Read(ctx, string(cat), key)
			if err != nil {
				return nil, fmt.Errorf("read %s/%s: %w", cat, key, err)
			}
			report.Records++
			rec := &scanRecord{partition: string(cat), key: key}

			var env model.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				add(SeverityError, rec.ref(), "", fmt.Sprintf("undecodable record: %v", err))
				continue
			}
			rec.env = &env
			records = append(records, rec)

			checkFields(rec, add)
			if first, dup := ids[env.ID]; dup && env.ID != "" {
				add(SeverityError, rec.ref(), "id", fmt.Sprintf("duplicate id, first seen in %s", first))
			} else if env.ID != "" {
				ids[env.ID] = rec.partition
			}
			if env.TTL > 0 && !env.CreatedAt.IsZero() && env.IsExpired(now) {
				add(SeverityWarning, rec.ref(), "ttl", "expired but still present")
			}
		}
	}

	checkDuplicateContent(records, add)
	checkHarmonics(records, ids, add)
	if err := checkGraph(ctx, b, ids, add); err != nil {
		return nil, err
	}
	checkDistribution(records, add)

	obs.Log().Info().
		Int("records", report.Records).
		Int("errors", report.Errors()).
		Int("warnings", report.Warnings()).
		Msg("scan complete")
	return report, nil
}

// checkFields flags missing or inconsistent per-record fields.
func checkFields(rec *scanRecord, add func(Severity, string, string, string)) {
	env := rec.env
	if env.ID == "" {
		add(SeverityError, rec.ref(), "id", "missing id")
	} else if env.ID != rec.key {
		add(SeverityError, rec.ref(), "id", fmt.Sprintf("id %s does not match storage key", env.ID))
	}
	if env.Category == "" {
		add(SeverityError, rec.ref(), "category", "missing category")
	} else if !model.ValidCategories[env.Category] {
		add(SeverityError, rec.ref(), "category", fmt.Sprintf("unknown category %q", env.Category))
	} else if string(env.Category) != rec.partition {
		add(SeverityError, rec.ref(), "category", fmt.Sprintf("category %s stored in %s partition", env.Category, rec.partition))
	}
	if env.Content == "" {
		add(SeverityError, rec.ref(), "content", "missing content")
	}
	if env.CreatedAt.IsZero() {
		add(SeverityError, rec.ref(), "created_at", "missing timestamp")
	}
	if env.Content != "" && !env.Validate() {
		add(SeverityError, rec.ref(), "checksum", "checksum does not match content")
	}
}

// checkDuplicateContent flags records whose content hashes collide.
// Legal (a comprehensive merge writes twins on purpose) but worth
// knowing about.
func checkDuplicateContent(records []*scanRecord, add func(Severity, string, string, string)) {
	seen := make(map[string]string)
	for _, rec := range records {
		if rec.env.Content == "" {
			continue
		}
		sum := model.ChecksumOf(rec.env.Content)
		if first, ok := seen[sum]; ok {
			add(SeverityWarning, rec.ref(), "content", fmt.Sprintf("duplicate content, same as %s", first))
			continue
		}
		seen[sum] = rec.ref()
	}
}

// checkHarmonics flags harmonic references to envelopes that are not
// in the store.
func checkHarmonics(records []*scanRecord, ids map[string]string, add func(Severity, string, string, string)) {
	for _, rec := range records {
		for _, h := range rec.env.Harmonics {
			if _, ok := ids[h]; !ok {
				add(SeverityError, rec.ref(), "harmonics", fmt.Sprintf("harmonic reference to missing envelope %s", h))
			}
		}
	}
}

// graphDoc mirrors the persisted graph shape without the package's
// decode-time validation, so a damaged graph can still be inspected.
type graphDoc struct {
	Nodes []*graph.Node `json:"nodes"`
	Edges []*graph.Edge `json:"edges"`
}

// checkGraph flags edges whose endpoints are gone. A missing graph
// record is fine; a store never braided has none.
func checkGraph(ctx context.Context, b store.Backend, ids map[string]string, add func(Severity, string, string, string)) error {
	data, err := b.Read(ctx, store.PartitionGraph, store.GraphKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	ref := store.PartitionGraph + "/" + store.GraphKey

	var doc graphDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		add(SeverityError, ref, "", fmt.Sprintf("undecodable graph: %v", err))
		return nil
	}
	nodes := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodes[n.ID] = true
		if n.Kind == graph.NodeMemory {
			if _, ok := ids[n.ID]; !ok {
				add(SeverityWarning, ref, "nodes", fmt.Sprintf("memory node %s has no envelope", n.ID))
			}
		}
	}
	for _, e := range doc.Edges {
		if !nodes[e.From] {
			add(SeverityError, ref, "edges", fmt.Sprintf("edge %s references missing node %s", e.ID, e.From))
		}
		if !nodes[e.To] {
			add(SeverityError, ref, "edges", fmt.Sprintf("edge %s references missing node %s", e.ID, e.To))
		}
	}
	return nil
}

// checkDistribution applies the shape heuristics over decodable
// records.
func checkDistribution(records []*scanRecord, add func(Severity, string, string, string)) {
	total := len(records)
	if total < imbalanceMinTotal {
		return
	}
	counts := make(map[model.Category]int)
	identity := 0
	for _, rec := range records {
		counts[rec.env.Category]++
		if model.IdentityCategories[rec.env.Category] {
			identity++
		}
	}
	for _, cat := range model.Categories() {
		if n := counts[cat]; float64(n) > imbalanceShare*float64(total) {
			add(SeverityWarning, "", "distribution",
				fmt.Sprintf("category %s holds %d of %d records", cat, n, total))
		}
	}
	if total >= weakIdentityMinTot && float64(identity) < weakIdentityShare*float64(total) {
		add(SeverityWarning, "", "distribution",
			fmt.Sprintf("identity categories hold %d of %d records", identity, total))
	}
}

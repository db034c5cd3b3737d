package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/resonance/internal/graph"
	"github.com/rcliao/resonance/internal/model"
	"github.com/rcliao/resonance/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	b, err := store.NewFSBackend(filepath.Join(t.TempDir(), "store"), nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func validEnvelope(t *testing.T, cat model.Category, content string) *model.Envelope {
	t.Helper()
	env, err := model.New(cat, content, model.Options{Now: testNow})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return env
}

func writeEnvelope(t *testing.T, b store.Backend, partition string, env *model.Envelope) {
	t.Helper()
	writeRaw(t, b, partition, env.ID, marshal(t, env))
}

func writeRaw(t *testing.T, b store.Backend, partition, key string, data []byte) {
	t.Helper()
	if err := b.Write(context.Background(), partition, key, data); err != nil {
		t.Fatalf("write %s/%s: %v", partition, key, err)
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func scan(t *testing.T, b store.Backend) *Report {
	t.Helper()
	report, err := Scan(context.Background(), b, ScanOptions{Clock: testClock})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return report
}

// issuesFor filters a report down to one field name.
func issuesFor(report *Report, field string) []Issue {
	var out []Issue
	for _, is := range report.Issues {
		if is.Field == field {
			out = append(out, is)
		}
	}
	return out
}

func TestScanCleanStore(t *testing.T) {
	b := newTestBackend(t)
	a := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	writeEnvelope(t, b, string(a.Category), a)
	c := validEnvelope(t, model.CategoryTechnical, "staging db lives on port 5433")
	writeEnvelope(t, b, string(c.Category), c)

	report := scan(t, b)
	if report.Records != 2 {
		t.Errorf("records = %d, want 2", report.Records)
	}
	if len(report.Issues) != 0 {
		t.Errorf("unexpected issues: %+v", report.Issues)
	}
	if err := report.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestScanChecksumMismatch(t *testing.T) {
	b := newTestBackend(t)
	env := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	env.Checksum = "0000"
	writeEnvelope(t, b, string(env.Category), env)

	report := scan(t, b)
	if got := issuesFor(report, "checksum"); len(got) != 1 || got[0].Severity != SeverityError {
		t.Fatalf("checksum issues = %+v, want one error", got)
	}

	var verr *Error
	if err := report.Err(); !errors.As(err, &verr) {
		t.Fatalf("Err() = %v, want *Error", err)
	} else if len(verr.Issues) != 1 {
		t.Errorf("error carries %d issues, want 1", len(verr.Issues))
	}
}

func TestScanUndecodableRecord(t *testing.T) {
	b := newTestBackend(t)
	writeRaw(t, b, string(model.CategoryPersona), "junk", []byte("{ not json"))

	report := scan(t, b)
	if report.Records != 1 {
		t.Errorf("records = %d, want 1 (undecodable still counts)", report.Records)
	}
	if report.Errors() != 1 {
		t.Fatalf("errors = %d, want 1: %+v", report.Errors(), report.Issues)
	}
	if !strings.Contains(report.Issues[0].Message, "undecodable") {
		t.Errorf("message = %q", report.Issues[0].Message)
	}
}

func TestScanMissingFields(t *testing.T) {
	b := newTestBackend(t)
	env := &model.Envelope{ID: "bare", Category: model.CategoryPersona}
	writeRaw(t, b, string(env.Category), env.ID, marshal(t, env))

	report := scan(t, b)
	if got := issuesFor(report, "content"); len(got) != 1 {
		t.Errorf("content issues = %+v, want one", got)
	}
	if got := issuesFor(report, "created_at"); len(got) != 1 {
		t.Errorf("created_at issues = %+v, want one", got)
	}
	// No checksum complaint when there is no content to hash.
	if got := issuesFor(report, "checksum"); len(got) != 0 {
		t.Errorf("checksum issues = %+v, want none", got)
	}
}

func TestScanIDMismatch(t *testing.T) {
	b := newTestBackend(t)
	env := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	stored := env.Copy()
	stored.ID = "somebody-else"
	writeRaw(t, b, string(env.Category), env.ID, marshal(t, stored))

	report := scan(t, b)
	if got := issuesFor(report, "id"); len(got) != 1 || got[0].Severity != SeverityError {
		t.Errorf("id issues = %+v, want one error", got)
	}
}

func TestScanCategoryIssues(t *testing.T) {
	b := newTestBackend(t)
	misfiled := validEnvelope(t, model.CategoryTechnical, "staging db lives on port 5433")
	writeEnvelope(t, b, string(model.CategoryPersona), misfiled)

	unknown := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	unknown.Category = "feelings"
	writeEnvelope(t, b, string(model.CategoryRuntime), unknown)

	report := scan(t, b)
	got := issuesFor(report, "category")
	if len(got) != 2 {
		t.Fatalf("category issues = %+v, want two", got)
	}
	messages := got[0].Message + " | " + got[1].Message
	if !strings.Contains(messages, "partition") || !strings.Contains(messages, "unknown") {
		t.Errorf("messages = %q", messages)
	}
}

func TestScanDuplicateIDs(t *testing.T) {
	b := newTestBackend(t)
	env := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	writeEnvelope(t, b, string(model.CategoryPersona), env)
	twin := env.Copy()
	twin.Category = model.CategoryTechnical
	twin.Content = "staging db lives on port 5433"
	twin.RefreshChecksum()
	writeEnvelope(t, b, string(model.CategoryTechnical), twin)

	report := scan(t, b)
	if got := issuesFor(report, "id"); len(got) != 1 || !strings.Contains(got[0].Message, "duplicate") {
		t.Errorf("id issues = %+v, want one duplicate error", got)
	}
}

func TestScanDuplicateContent(t *testing.T) {
	b := newTestBackend(t)
	a := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	writeEnvelope(t, b, string(a.Category), a)
	c := validEnvelope(t, model.CategoryStylistic, "keeps answers short")
	writeEnvelope(t, b, string(c.Category), c)

	report := scan(t, b)
	got := issuesFor(report, "content")
	if len(got) != 1 || got[0].Severity != SeverityWarning {
		t.Fatalf("content issues = %+v, want one warning", got)
	}
	if err := report.Err(); err != nil {
		t.Errorf("warnings alone should not fail validation, got %v", err)
	}
}

func TestScanExpiredRecord(t *testing.T) {
	b := newTestBackend(t)
	env, err := model.New(model.CategoryRuntime, "session token cached", model.Options{
		TTL: 10,
		Now: testNow.Add(-20 * time.Second),
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	writeEnvelope(t, b, string(env.Category), env)

	report := scan(t, b)
	if got := issuesFor(report, "ttl"); len(got) != 1 || got[0].Severity != SeverityWarning {
		t.Errorf("ttl issues = %+v, want one warning", got)
	}
}

func TestScanOrphanedHarmonics(t *testing.T) {
	b := newTestBackend(t)
	anchor := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	writeEnvelope(t, b, string(anchor.Category), anchor)

	linked, err := model.New(model.CategoryStylistic, "short sentences in summaries", model.Options{
		Now:       testNow,
		Harmonics: []string{anchor.ID, "01GONE0000000000000000GONE"},
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	writeEnvelope(t, b, string(linked.Category), linked)

	report := scan(t, b)
	got := issuesFor(report, "harmonics")
	if len(got) != 1 || got[0].Severity != SeverityError {
		t.Fatalf("harmonics issues = %+v, want one error", got)
	}
	if !strings.Contains(got[0].Message, "01GONE") {
		t.Errorf("message = %q, want the missing id named", got[0].Message)
	}
}

func TestScanGraphReferences(t *testing.T) {
	b := newTestBackend(t)
	env := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	writeEnvelope(t, b, string(env.Category), env)

	doc := graphDoc{
		Nodes: []*graph.Node{
			{ID: env.ID, Kind: graph.NodeMemory, Label: "keeps answers short", Weight: 1, CreatedAt: testNow},
			{ID: "lost", Kind: graph.NodeMemory, Label: "gone", Weight: 1, CreatedAt: testNow},
		},
		Edges: []*graph.Edge{
			{ID: "e1", From: env.ID, To: "ghost", Kind: graph.EdgeResonates, Weight: 0.8, CreatedAt: testNow},
		},
	}
	writeRaw(t, b, store.PartitionGraph, store.GraphKey, marshal(t, doc))

	report := scan(t, b)
	edges := issuesFor(report, "edges")
	if len(edges) != 1 || !strings.Contains(edges[0].Message, "ghost") {
		t.Errorf("edge issues = %+v, want one about ghost", edges)
	}
	nodes := issuesFor(report, "nodes")
	if len(nodes) != 1 || nodes[0].Severity != SeverityWarning {
		t.Errorf("node issues = %+v, want one warning", nodes)
	}
}

func TestScanDistributionImbalance(t *testing.T) {
	b := newTestBackend(t)
	for i := 0; i < 3; i++ {
		env := validEnvelope(t, model.CategoryPersona, fmt.Sprintf("persona note %d", i))
		writeEnvelope(t, b, string(env.Category), env)
	}
	env := validEnvelope(t, model.CategoryTechnical, "staging db lives on port 5433")
	writeEnvelope(t, b, string(env.Category), env)

	report := scan(t, b)
	got := issuesFor(report, "distribution")
	if len(got) != 1 || !strings.Contains(got[0].Message, string(model.CategoryPersona)) {
		t.Errorf("distribution issues = %+v, want one about persona", got)
	}
}

func TestScanWeakIdentity(t *testing.T) {
	b := newTestBackend(t)
	for i := 0; i < 19; i++ {
		env := validEnvelope(t, model.CategoryTechnical, fmt.Sprintf("technical note %d", i))
		writeEnvelope(t, b, string(env.Category), env)
	}
	env := validEnvelope(t, model.CategoryRuntime, "deploy finished at noon")
	writeEnvelope(t, b, string(env.Category), env)

	report := scan(t, b)
	got := issuesFor(report, "distribution")
	if len(got) != 2 {
		t.Fatalf("distribution issues = %+v, want imbalance plus weak identity", got)
	}
	var sawIdentity bool
	for _, is := range got {
		if strings.Contains(is.Message, "identity") {
			sawIdentity = true
		}
	}
	if !sawIdentity {
		t.Errorf("no weak-identity warning in %+v", got)
	}
}

func TestScanSmallStoreSkipsDistribution(t *testing.T) {
	b := newTestBackend(t)
	env := validEnvelope(t, model.CategoryPersona, "keeps answers short")
	writeEnvelope(t, b, string(env.Category), env)

	report := scan(t, b)
	if got := issuesFor(report, "distribution"); len(got) != 0 {
		t.Errorf("distribution issues on a one-record store: %+v", got)
	}
}

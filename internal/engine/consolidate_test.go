package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mnemora/retain/internal/store"
)

func seedSession(t *testing.T, e *Engine, sessionID string, ageHours float64, kinds ...string) []*store.Record {
	t.Helper()
	members := make([]*store.Record, 0, len(kinds))
	for i, kind := range kinds {
		rec := seedRecord(t, e.DB, store.Record{
			Kind:       kind,
			Content:    "session activity " + sessionID,
			Project:    "alpha",
			SessionID:  sessionID,
			SessionSeq: i + 1,
			CreatedAt:  hoursAgo(ageHours) + int64(i),
		})
		members = append(members, rec)
	}
	return members
}

func TestExtractContext(t *testing.T) {
	e := testEngine(t)
	seedSession(t, e, "sess-ctx", 1,
		store.KindDoc, store.KindDoc, store.KindError, store.KindLearning, store.KindDecision)

	ctx, err := e.ExtractContext("sess-ctx")
	if err != nil {
		t.Fatalf("ExtractContext: %v", err)
	}
	if !strings.HasPrefix(ctx, "Recent session activity (sess-ctx):") {
		t.Errorf("unexpected header: %q", ctx)
	}
	// Only the trailing ContextRecords members appear
	if strings.Count(ctx, "\n") != e.Session.ContextRecords+1 {
		t.Errorf("context = %q, want %d entries", ctx, e.Session.ContextRecords)
	}
	if !strings.Contains(ctx, "[error]") || !strings.Contains(ctx, "[decision]") {
		t.Errorf("context missing trailing kinds: %q", ctx)
	}
	if strings.Contains(ctx, "[doc]") {
		t.Errorf("context includes members before the tail: %q", ctx)
	}
}

func TestExtractContextEmptySession(t *testing.T) {
	e := testEngine(t)

	ctx, err := e.ExtractContext("nope")
	if err != nil {
		t.Fatalf("ExtractContext: %v", err)
	}
	if ctx != "" {
		t.Errorf("context = %q, want empty", ctx)
	}
}

// Consolidating a four-record session with one error and one learning produces
// one summary, four PartOf edges, three Temporal edges, and one Fixes edge.
func TestConsolidateSession(t *testing.T) {
	e := testEngine(t)
	members := seedSession(t, e, "sess-1", 25,
		store.KindError, store.KindDoc, store.KindLearning, store.KindDoc)

	summaryID, created, err := e.ConsolidateSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ConsolidateSession: %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}

	summary, err := e.DB.GetRecord(summaryID)
	if err != nil {
		t.Fatalf("GetRecord summary: %v", err)
	}
	if summary == nil {
		t.Fatal("summary record not found")
	}
	if summary.Kind != store.KindContext {
		t.Errorf("summary kind = %q, want context", summary.Kind)
	}
	if summary.Tier != store.TierStaging {
		t.Errorf("summary tier = %q, want staging", summary.Tier)
	}
	if summary.Project != "alpha" {
		t.Errorf("summary project = %q, want alpha", summary.Project)
	}
	if !strings.Contains(summary.Content, "4 records") {
		t.Errorf("synopsis missing count: %q", summary.Content)
	}
	if !strings.Contains(summary.Content, "1 error") {
		t.Errorf("synopsis missing kind breakdown: %q", summary.Content)
	}

	counts, err := e.DB.CountEdgesByType()
	if err != nil {
		t.Fatalf("CountEdgesByType: %v", err)
	}
	if counts[store.EdgePartOf] != 4 {
		t.Errorf("part_of = %d, want 4", counts[store.EdgePartOf])
	}
	if counts[store.EdgeTemporal] != 3 {
		t.Errorf("temporal = %d, want 3", counts[store.EdgeTemporal])
	}
	if counts[store.EdgeFixes] != 1 {
		t.Errorf("fixes = %d, want 1", counts[store.EdgeFixes])
	}

	// The learning fixes the error, not the other way around
	exists, err := e.DB.EdgeExists(members[2].ID, members[0].ID, store.EdgeFixes)
	if err != nil {
		t.Fatalf("EdgeExists: %v", err)
	}
	if !exists {
		t.Error("expected Fixes(learning -> error) edge")
	}
}

func TestConsolidateSessionIdempotent(t *testing.T) {
	e := testEngine(t)
	seedSession(t, e, "sess-2", 26, store.KindDoc, store.KindDoc, store.KindDoc)

	first, created, err := e.ConsolidateSession(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("ConsolidateSession: %v", err)
	}
	if !created {
		t.Fatal("first consolidation: created = false")
	}

	before, err := e.DB.CountEdgesByType()
	if err != nil {
		t.Fatalf("CountEdgesByType: %v", err)
	}

	second, created, err := e.ConsolidateSession(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("second ConsolidateSession: %v", err)
	}
	if created {
		t.Error("second consolidation: created = true, want false")
	}
	if second != first {
		t.Errorf("second summary = %s, want first summary %s", second, first)
	}

	after, err := e.DB.CountEdgesByType()
	if err != nil {
		t.Fatalf("CountEdgesByType: %v", err)
	}
	for typ, n := range after {
		if before[typ] != n {
			t.Errorf("edge count %s changed from %d to %d", typ, before[typ], n)
		}
	}
}

func TestConsolidateSessionNotEligible(t *testing.T) {
	e := testEngine(t)

	// Too few members
	seedSession(t, e, "sess-small", 30, store.KindDoc)
	_, _, err := e.ConsolidateSession(context.Background(), "sess-small")
	if !errors.Is(err, ErrNotEligible) {
		t.Errorf("small session: err = %v, want ErrNotEligible", err)
	}

	// Still active
	seedSession(t, e, "sess-active", 1, store.KindDoc, store.KindDoc)
	_, _, err = e.ConsolidateSession(context.Background(), "sess-active")
	if !errors.Is(err, ErrNotEligible) {
		t.Errorf("active session: err = %v, want ErrNotEligible", err)
	}
}

func TestInferSessionRelationshipsPattern(t *testing.T) {
	e := testEngine(t)
	seedSession(t, e, "sess-sup", 25, store.KindError, store.KindPattern)

	links, err := e.InferSessionRelationships(context.Background(), "sess-sup")
	if err != nil {
		t.Fatalf("InferSessionRelationships: %v", err)
	}
	if links.Temporal != 1 {
		t.Errorf("Temporal = %d, want 1", links.Temporal)
	}
	if links.Supports != 1 {
		t.Errorf("Supports = %d, want 1", links.Supports)
	}
	if links.Fixes != 0 {
		t.Errorf("Fixes = %d, want 0", links.Fixes)
	}
}

func TestSweepSessions(t *testing.T) {
	e := testEngine(t)
	seedSession(t, e, "sess-ready", 26, store.KindDoc, store.KindDoc)
	seedSession(t, e, "sess-busy", 1, store.KindDoc, store.KindDoc)

	result, err := e.SweepSessions(context.Background())
	if err != nil {
		t.Fatalf("SweepSessions: %v", err)
	}
	if result.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1 (only the idle session is a candidate)", result.Sessions)
	}
	if result.Consolidated != 1 {
		t.Errorf("Consolidated = %d, want 1", result.Consolidated)
	}

	sess, err := e.DB.GetSession("sess-ready")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil || sess.ConsolidatedAt == nil {
		t.Error("expected sess-ready to be registered as consolidated")
	}

	// A second sweep finds no candidates
	again, err := e.SweepSessions(context.Background())
	if err != nil {
		t.Fatalf("second SweepSessions: %v", err)
	}
	if again.Consolidated != 0 {
		t.Errorf("second sweep Consolidated = %d, want 0", again.Consolidated)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Errorf("truncate = %q, want abc…", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("truncate short = %q, want ab", got)
	}
}

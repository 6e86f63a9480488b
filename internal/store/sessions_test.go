package store

import (
	"testing"
	"time"
)

func sessionRecord(t *testing.T, db *DB, sessionID string, seq int, createdAt int64) *Record {
	t.Helper()
	rec := &Record{
		Kind:       KindDoc,
		Content:    "session fodder",
		SessionID:  sessionID,
		SessionSeq: seq,
		CreatedAt:  createdAt,
		Importance: -1,
	}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	return rec
}

func TestGetSessionUnknown(t *testing.T) {
	db := testDB(t)

	sess, err := db.GetSession("nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for unknown session, got %+v", sess)
	}
}

func TestMarkConsolidatedFirstWriterWins(t *testing.T) {
	db := testDB(t)
	summary := mustRecord(t, db, KindContext, "session summary")
	other := mustRecord(t, db, KindContext, "competing summary")

	created, err := db.MarkConsolidated("sess-1", "alpha", summary.ID)
	if err != nil {
		t.Fatalf("MarkConsolidated: %v", err)
	}
	if !created {
		t.Error("first MarkConsolidated: created = false, want true")
	}

	created, err = db.MarkConsolidated("sess-1", "alpha", other.ID)
	if err != nil {
		t.Fatalf("second MarkConsolidated: %v", err)
	}
	if created {
		t.Error("second MarkConsolidated: created = true, want false")
	}

	sess, err := db.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil {
		t.Fatal("GetSession returned nil")
	}
	if sess.SummaryRecord != summary.ID {
		t.Errorf("SummaryRecord = %q, want first writer's %q", sess.SummaryRecord, summary.ID)
	}
	if sess.ConsolidatedAt == nil {
		t.Error("expected ConsolidatedAt to be set")
	}
}

func TestEligibleSessions(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()
	old := now - 48*3600*1000

	// Eligible: 3 members, all old
	for i := 1; i <= 3; i++ {
		sessionRecord(t, db, "sess-old", i, old+int64(i))
	}
	// Too small: single member
	sessionRecord(t, db, "sess-small", 1, old)
	// Still active: newest member is recent
	sessionRecord(t, db, "sess-active", 1, old)
	sessionRecord(t, db, "sess-active", 2, now)
	// Already consolidated
	for i := 1; i <= 2; i++ {
		sessionRecord(t, db, "sess-done", i, old+int64(i))
	}
	summary := mustRecord(t, db, KindContext, "done summary")
	if _, err := db.MarkConsolidated("sess-done", "", summary.ID); err != nil {
		t.Fatalf("MarkConsolidated: %v", err)
	}

	cutoff := now - 24*3600*1000
	candidates, err := db.EligibleSessions(2, cutoff)
	if err != nil {
		t.Fatalf("EligibleSessions: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(candidates), candidates)
	}
	if candidates[0].SessionID != "sess-old" {
		t.Errorf("candidate = %q, want sess-old", candidates[0].SessionID)
	}
	if candidates[0].MemberCount != 3 {
		t.Errorf("MemberCount = %d, want 3", candidates[0].MemberCount)
	}
}

func TestCountSessions(t *testing.T) {
	db := testDB(t)
	old := time.Now().UnixMilli() - 1000

	sessionRecord(t, db, "sess-a", 1, old)
	sessionRecord(t, db, "sess-a", 2, old)
	sessionRecord(t, db, "sess-b", 1, old)
	summary := mustRecord(t, db, KindContext, "summary")
	if _, err := db.MarkConsolidated("sess-a", "", summary.ID); err != nil {
		t.Fatalf("MarkConsolidated: %v", err)
	}

	total, consolidated, err := db.CountSessions()
	if err != nil {
		t.Fatalf("CountSessions: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if consolidated != 1 {
		t.Errorf("consolidated = %d, want 1", consolidated)
	}
}

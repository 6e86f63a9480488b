package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mnemora/retain/internal/store"
)

func since(hours float64) time.Time {
	return time.Now().Add(-time.Duration(hours * float64(time.Hour)))
}

// An error followed by a highly similar learning yields exactly one Fixes edge,
// and nothing else. Re-running the pass creates nothing new.
func TestInferFixes(t *testing.T) {
	e := testEngine(t)

	errContent := "request handler panics on nil pointer dereference"
	solContent := "added guard clause before returning the response object"
	e.SetEmbedder(&stubEmbedder{vecs: map[string][]float64{
		errContent: {1, 0, 0},
		solContent: {0.95, 0.312, 0},
	}})

	errRec := seedRecord(t, e.DB, store.Record{
		Kind:      store.KindError,
		Content:   errContent,
		CreatedAt: hoursAgo(5),
	})
	sol := seedRecord(t, e.DB, store.Record{
		Kind:      store.KindLearning,
		Content:   solContent,
		CreatedAt: hoursAgo(4),
	})

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Fixes != 1 {
		t.Errorf("Fixes = %d, want 1", result.Fixes)
	}
	if result.Related != 0 {
		t.Errorf("Related = %d, want 0 (fixes edge already links the pair)", result.Related)
	}
	if result.Total() != 1 {
		t.Errorf("Total = %d, want 1", result.Total())
	}

	exists, err := e.DB.EdgeExists(sol.ID, errRec.ID, store.EdgeFixes)
	if err != nil {
		t.Fatalf("EdgeExists: %v", err)
	}
	if !exists {
		t.Error("expected Fixes(solution -> error) edge")
	}

	// Relationship count cache refreshed for both endpoints
	got, err := e.DB.GetRecord(errRec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.RelationshipCount != 1 {
		t.Errorf("error RelationshipCount = %d, want 1", got.RelationshipCount)
	}

	// Idempotent: a second pass over the same window creates nothing
	again, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("second InferRelationships: %v", err)
	}
	if again.Total() != 0 {
		t.Errorf("second pass Total = %d, want 0", again.Total())
	}
}

func TestInferFixesSkipsResolvedErrors(t *testing.T) {
	e := testEngine(t)

	errContent := "migration fails on duplicate column"
	oldFix := "drop the column before re-adding it"
	newFix := "guard the migration with a column existence check"
	e.SetEmbedder(&stubEmbedder{vecs: map[string][]float64{
		errContent: {1, 0, 0},
		newFix:     {0.96, 0.28, 0},
	}})

	errRec := seedRecord(t, e.DB, store.Record{
		Kind:      store.KindError,
		Content:   errContent,
		CreatedAt: hoursAgo(6),
	})
	prior := seedRecord(t, e.DB, store.Record{
		Kind:      store.KindLearning,
		Content:   oldFix,
		CreatedAt: hoursAgo(30), // outside the window
	})
	if _, err := e.DB.UpsertEdge(prior.ID, errRec.ID, store.EdgeFixes, 0.9); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	seedRecord(t, e.DB, store.Record{
		Kind:      store.KindLearning,
		Content:   newFix,
		CreatedAt: hoursAgo(2),
	})

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Fixes != 0 {
		t.Errorf("Fixes = %d, want 0 (error already resolved)", result.Fixes)
	}
}

func TestInferRelatedBidirectional(t *testing.T) {
	e := testEngine(t)

	a := "connection pooling notes for the read path"
	b := "connection pooling notes for the write path"
	e.SetEmbedder(&stubEmbedder{vecs: map[string][]float64{
		a: {1, 0, 0},
		b: {0.8, 0.6, 0},
	}})

	recA := seedRecord(t, e.DB, store.Record{Kind: store.KindDoc, Content: a, CreatedAt: hoursAgo(8)})
	recB := seedRecord(t, e.DB, store.Record{Kind: store.KindDoc, Content: b, CreatedAt: hoursAgo(7)})

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Related != 2 {
		t.Errorf("Related = %d, want 2 (both directions)", result.Related)
	}

	for _, pair := range [][2]string{{recA.ID, recB.ID}, {recB.ID, recA.ID}} {
		exists, err := e.DB.EdgeExists(pair[0], pair[1], store.EdgeRelated)
		if err != nil {
			t.Fatalf("EdgeExists: %v", err)
		}
		if !exists {
			t.Errorf("missing Related edge %s -> %s", pair[0], pair[1])
		}
	}
}

func TestInferTemporal(t *testing.T) {
	e := testEngine(t) // no embedder: text heuristics only

	early := seedRecord(t, e.DB, store.Record{
		Kind: store.KindDecision, Content: "chose sqlite for the queue",
		Project: "alpha", CreatedAt: hoursAgo(3),
	})
	late := seedRecord(t, e.DB, store.Record{
		Kind: store.KindDoc, Content: "wrote the worker loop",
		Project: "alpha", CreatedAt: hoursAgo(2.5),
	})
	seedRecord(t, e.DB, store.Record{
		Kind: store.KindDoc, Content: "unrelated project activity",
		Project: "beta", CreatedAt: hoursAgo(2.8),
	})
	seedRecord(t, e.DB, store.Record{
		Kind: store.KindDoc, Content: "much later in the same place",
		Project: "alpha", CreatedAt: hoursAgo(0.1),
	})

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Temporal != 1 {
		t.Errorf("Temporal = %d, want 1", result.Temporal)
	}

	exists, err := e.DB.EdgeExists(early.ID, late.ID, store.EdgeTemporal)
	if err != nil {
		t.Fatalf("EdgeExists: %v", err)
	}
	if !exists {
		t.Error("expected Temporal(earlier -> later) edge within the window")
	}
}

func TestInferCauses(t *testing.T) {
	e := testEngine(t)

	cause := seedRecord(t, e.DB, store.Record{
		Kind: store.KindError, Content: "database connection pool exhausted",
		CreatedAt: hoursAgo(1.5),
	})
	effect := seedRecord(t, e.DB, store.Record{
		Kind: store.KindError, Content: "connection pool exhausted during load test",
		CreatedAt: hoursAgo(1.2),
	})

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Causes != 1 {
		t.Errorf("Causes = %d, want 1", result.Causes)
	}

	edges, err := e.DB.EdgesForRecord(cause.ID)
	if err != nil {
		t.Fatalf("EdgesForRecord: %v", err)
	}
	if len(edges) != 1 || edges[0].Type != store.EdgeCauses || edges[0].TargetID != effect.ID {
		t.Errorf("edges = %+v, want one Causes edge to %s", edges, effect.ID)
	}
	if len(edges) == 1 && edges[0].Confidence != 0.5 {
		t.Errorf("confidence = %g, want 0.5", edges[0].Confidence)
	}
}

func TestInferCausesRespectsOverlapFloor(t *testing.T) {
	e := testEngine(t)
	e.Relate.CausesOverlap = 0.9

	seedRecord(t, e.DB, store.Record{
		Kind: store.KindError, Content: "database connection pool exhausted",
		CreatedAt: hoursAgo(1.5),
	})
	seedRecord(t, e.DB, store.Record{
		Kind: store.KindError, Content: "connection pool exhausted during load test",
		CreatedAt: hoursAgo(1.2),
	})

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Causes != 0 {
		t.Errorf("Causes = %d, want 0 with a 0.9 overlap floor", result.Causes)
	}
}

func TestInferEmbedFailureDegrades(t *testing.T) {
	e := testEngine(t)
	e.SetEmbedder(&stubEmbedder{vecs: map[string][]float64{}}) // every embed fails

	seedRecord(t, e.DB, store.Record{
		Kind: store.KindDoc, Content: "first step of the rollout",
		Project: "alpha", CreatedAt: hoursAgo(2),
	})
	seedRecord(t, e.DB, store.Record{
		Kind: store.KindDoc, Content: "second step after verification",
		Project: "alpha", CreatedAt: hoursAgo(1.5),
	})

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
	if result.Temporal != 1 {
		t.Errorf("Temporal = %d, want 1 (text heuristics unaffected)", result.Temporal)
	}
}

func TestInferUsesVectorCache(t *testing.T) {
	e := testEngine(t)
	e.SetEmbedder(&stubEmbedder{vecs: map[string][]float64{}}) // would fail if called

	errRec := seedRecord(t, e.DB, store.Record{
		Kind: store.KindError, Content: "cache miss storm on cold start",
		CreatedAt: hoursAgo(4),
	})
	sol := seedRecord(t, e.DB, store.Record{
		Kind: store.KindLearning, Content: "warm the hot keys before serving traffic",
		CreatedAt: hoursAgo(3),
	})
	if err := e.DB.SaveVector(errRec.ID, []float64{1, 0, 0}, "stub"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}
	if err := e.DB.SaveVector(sol.ID, []float64{0.95, 0.312, 0}, "stub"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	result, err := e.InferRelationships(context.Background(), since(24))
	if err != nil {
		t.Fatalf("InferRelationships: %v", err)
	}
	if result.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0 (cached vectors)", result.Skipped)
	}
	if result.Fixes != 1 {
		t.Errorf("Fixes = %d, want 1", result.Fixes)
	}
}

func TestTokenContainment(t *testing.T) {
	got := tokenContainment("database connection pool exhausted", "connection pool exhausted during load test")
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("containment = %g, want 0.75", got)
	}
	if tokenContainment("", "anything at all") != 0 {
		t.Error("empty text should have zero containment")
	}
	if tokenContainment("alpha beta", "alpha beta") != 1.0 {
		t.Error("identical text should have containment 1.0")
	}
}

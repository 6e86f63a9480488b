package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mnemora/retain/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(testDB(t))
	e.RetryBackoff = time.Millisecond
	return e
}

// seedRecord inserts a fixture record, filling in the boring fields.
func seedRecord(t *testing.T, db *store.DB, rec store.Record) *store.Record {
	t.Helper()
	if rec.Kind == "" {
		rec.Kind = store.KindDoc
	}
	if rec.Content == "" {
		rec.Content = "fixture content"
	}
	if err := db.CreateRecord(&rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	return &rec
}

func hoursAgo(h float64) int64 {
	return time.Now().Add(-time.Duration(h * float64(time.Hour))).UnixMilli()
}

// stubEmbedder returns canned vectors keyed by content. Unknown content is an
// embedding failure.
type stubEmbedder struct {
	vecs map[string][]float64
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec, ok := s.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return vec, nil
}

func (s *stubEmbedder) Model() string   { return "stub" }
func (s *stubEmbedder) Dimensions() int { return 3 }

func TestEngineValidate(t *testing.T) {
	e := testEngine(t)
	if err := e.Validate(); err != nil {
		t.Errorf("default engine invalid: %v", err)
	}

	e.BatchSize = 0
	if err := e.Validate(); err == nil {
		t.Error("expected error for zero batch size, got nil")
	}
	e.BatchSize = 100

	e.Decay.BaseRate = -1
	if err := e.Validate(); err == nil {
		t.Error("expected error for negative base rate, got nil")
	}
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	e := testEngine(t)

	calls := 0
	err := e.withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	e := testEngine(t)

	calls := 0
	err := e.withRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("permanent")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries, got nil")
	}
	if calls != e.RetryAttempts {
		t.Errorf("calls = %d, want %d", calls, e.RetryAttempts)
	}
}

func TestWithRetryHonorsCancel(t *testing.T) {
	e := testEngine(t)
	e.RetryBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.withRetry(ctx, func() error { return fmt.Errorf("transient") })
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

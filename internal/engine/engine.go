package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/mnemora/retain/internal/store"
)

// Engine computes derived retention state for the record collection: decay,
// relationships, session consolidation, and quality/tier transitions.
type Engine struct {
	DB       *store.DB
	Embedder Embedder

	Decay   DecayConfig
	Relate  RelateConfig
	Quality QualityConfig
	Session SessionConfig

	BatchSize     int
	Workers       int
	RetryAttempts int
	RetryBackoff  time.Duration

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New creates an Engine with default tuning.
func New(db *store.DB) *Engine {
	return &Engine{
		DB:            db,
		Decay:         DefaultDecayConfig(),
		Relate:        DefaultRelateConfig(),
		Quality:       DefaultQualityConfig(),
		Session:       DefaultSessionConfig(),
		BatchSize:     100,
		Workers:       runtime.NumCPU(),
		RetryAttempts: 3,
		RetryBackoff:  250 * time.Millisecond,
		sessionLocks:  make(map[string]*sync.Mutex),
	}
}

// SetEmbedder configures the embedding collaborator.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// Validate checks all component configuration at the call boundary.
func (e *Engine) Validate() error {
	if err := e.Decay.Validate(); err != nil {
		return err
	}
	if err := e.Relate.Validate(); err != nil {
		return err
	}
	if err := e.Quality.Validate(); err != nil {
		return err
	}
	if err := e.Session.Validate(); err != nil {
		return err
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", e.BatchSize)
	}
	if e.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", e.Workers)
	}
	return nil
}

// sessionLock returns the mutex serializing work for one session id.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLocks[sessionID] = l
	}
	return l
}

// RunSummary aggregates the outcome of one batch pass.
type RunSummary struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Created   int           `json:"created"`
	Archived  int           `json:"archived"`
	Purged    int           `json:"purged"`
	Promoted  int           `json:"promoted"`
	Skipped   int           `json:"skipped"`
	Errored   int           `json:"errored"`
	DryRun    bool          `json:"dry_run"`
	Duration  time.Duration `json:"duration_ns"`
}

// SweepOpts tunes a single sweep invocation.
type SweepOpts struct {
	DryRun    bool
	BatchSize int // 0 uses the engine default
}

func (e *Engine) batchSize(opts SweepOpts) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	return e.BatchSize
}

// withRetry runs fn up to e.RetryAttempts times with exponential backoff.
// Retries are per record or per pair, never per batch. Version conflicts are
// retried because the caller re-reads inside fn.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	attempts := e.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	backoff := e.RetryBackoff
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// reloadVersion re-reads a record's current version after a conflict.
func (e *Engine) reloadVersion(id string) (*store.Record, error) {
	rec, err := e.DB.GetRecord(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record %s vanished during sweep", id)
	}
	return rec, nil
}

var errSkipRecord = errors.New("record skipped")

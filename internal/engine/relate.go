package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/mnemora/retain/internal/store"
)

// RelateConfig tunes the relationship inference heuristics.
type RelateConfig struct {
	FixesSimilarity   float64       // solution/error similarity floor
	RelatedSimilarity float64       // generic similarity floor
	TemporalWindow    time.Duration // max gap for temporal adjacency
	CausesOverlap     float64       // token containment floor for causal matching
	Lookback          time.Duration // rolling inference window
}

// DefaultRelateConfig returns the standard inference tuning.
func DefaultRelateConfig() RelateConfig {
	return RelateConfig{
		FixesSimilarity:   0.85,
		RelatedSimilarity: 0.75,
		TemporalWindow:    2 * time.Hour,
		CausesOverlap:     0.5,
		Lookback:          24 * time.Hour,
	}
}

// Validate rejects invalid thresholds before any batch work begins.
func (c RelateConfig) Validate() error {
	if c.FixesSimilarity < 0 || c.FixesSimilarity > 1 {
		return fmt.Errorf("fixes similarity must be in [0,1], got %g", c.FixesSimilarity)
	}
	if c.RelatedSimilarity < 0 || c.RelatedSimilarity > 1 {
		return fmt.Errorf("related similarity must be in [0,1], got %g", c.RelatedSimilarity)
	}
	if c.CausesOverlap < 0 || c.CausesOverlap > 1 {
		return fmt.Errorf("causes overlap must be in [0,1], got %g", c.CausesOverlap)
	}
	if c.TemporalWindow <= 0 {
		return fmt.Errorf("temporal window must be positive, got %s", c.TemporalWindow)
	}
	return nil
}

// RelateResult reports edges created by one inference pass, per type.
type RelateResult struct {
	Fixes    int           `json:"fixes"`
	Related  int           `json:"related"`
	Temporal int           `json:"temporal"`
	Causes   int           `json:"causes"`
	Records  int           `json:"records"`
	Skipped  int           `json:"skipped"`
	Errored  int           `json:"errored"`
	Duration time.Duration `json:"duration_ns"`
}

// Total returns the number of edges created across all types.
func (r *RelateResult) Total() int {
	return r.Fixes + r.Related + r.Temporal + r.Causes
}

// InferRelationships scans records created since the given instant and creates
// typed edges between them. Idempotent: the edge store suppresses duplicates,
// so re-running over the same window creates nothing new. Per-record embedding
// failures degrade to the text heuristics instead of failing the pass.
func (e *Engine) InferRelationships(ctx context.Context, since time.Time) (*RelateResult, error) {
	start := time.Now()
	result := &RelateResult{}

	records, err := e.windowRecords(since)
	if err != nil {
		return nil, err
	}
	result.Records = len(records)
	if len(records) < 2 {
		result.Duration = time.Since(start)
		return result, nil
	}

	vectors := e.ensureVectors(ctx, records, result)

	touched := make(map[string]bool)

	e.inferFixes(ctx, records, vectors, result, touched)
	e.inferRelated(ctx, records, vectors, result, touched)
	e.inferTemporal(ctx, records, result, touched)
	e.inferCauses(ctx, records, result, touched)

	e.refreshRelationshipCounts(touched)

	result.Duration = time.Since(start)
	return result, nil
}

// windowRecords loads all live records created in the window, oldest first.
func (e *Engine) windowRecords(since time.Time) ([]store.Record, error) {
	var records []store.Record
	afterID := ""
	filter := store.ScanFilter{Live: true, CreatedAfter: since.UnixMilli()}
	for {
		page, err := e.DB.ScanRecords(filter, afterID, e.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("inference window scan: %w", err)
		}
		if len(page) == 0 {
			break
		}
		records = append(records, page...)
		afterID = page[len(page)-1].ID
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt < records[j].CreatedAt
	})
	return records, nil
}

// ensureVectors returns cached embeddings for the records, embedding any that
// are missing. A failed embedding is logged and the record participates only
// in the text heuristics.
func (e *Engine) ensureVectors(ctx context.Context, records []store.Record, result *RelateResult) map[string][]float64 {
	vectors := make(map[string][]float64, len(records))
	if e.Embedder == nil {
		return vectors
	}

	for i := range records {
		rec := &records[i]
		existing, err := e.DB.GetVector(rec.ID)
		if err != nil {
			log.Printf("relate: get vector %s: %v", rec.ID, err)
			result.Errored++
			continue
		}
		if existing != nil && existing.Model == e.Embedder.Model() {
			vectors[rec.ID] = existing.Embedding
			continue
		}

		var vec []float64
		err = e.withRetry(ctx, func() error {
			var embErr error
			vec, embErr = e.Embedder.Embed(ctx, rec.Content)
			return embErr
		})
		if err != nil {
			log.Printf("relate: embed %s: %v", rec.ID, err)
			result.Skipped++
			continue
		}
		if err := e.DB.SaveVector(rec.ID, vec, e.Embedder.Model()); err != nil {
			log.Printf("relate: save vector %s: %v", rec.ID, err)
		}
		vectors[rec.ID] = vec
	}
	return vectors
}

// inferFixes links later solutions to earlier errors: for each unresolved
// error record, a learning or decision created after it with similarity above
// the floor produces Fixes(solution -> error).
func (e *Engine) inferFixes(ctx context.Context, records []store.Record, vectors map[string][]float64, result *RelateResult, touched map[string]bool) {
	for i := range records {
		errRec := &records[i]
		if errRec.Kind != store.KindError {
			continue
		}
		errVec, ok := vectors[errRec.ID]
		if !ok {
			continue
		}

		resolved, err := e.DB.HasIncomingEdge(errRec.ID, store.EdgeFixes)
		if err != nil {
			log.Printf("relate: fixes lookup %s: %v", errRec.ID, err)
			result.Errored++
			continue
		}
		if resolved {
			continue
		}

		for j := range records {
			sol := &records[j]
			if sol.CreatedAt <= errRec.CreatedAt {
				continue
			}
			if sol.Kind != store.KindLearning && sol.Kind != store.KindDecision {
				continue
			}
			solVec, ok := vectors[sol.ID]
			if !ok {
				continue
			}

			sim := CosineSimilarity(errVec, solVec)
			if sim < e.Relate.FixesSimilarity {
				continue
			}
			if e.createEdge(ctx, sol.ID, errRec.ID, store.EdgeFixes, sim, result, touched) {
				result.Fixes++
			}
		}
	}
}

// inferRelated links any two sufficiently similar records that have no edge
// between them yet, in both directions.
func (e *Engine) inferRelated(ctx context.Context, records []store.Record, vectors map[string][]float64, result *RelateResult, touched map[string]bool) {
	for i := 0; i < len(records); i++ {
		vecI, ok := vectors[records[i].ID]
		if !ok {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			vecJ, ok := vectors[records[j].ID]
			if !ok {
				continue
			}

			sim := CosineSimilarity(vecI, vecJ)
			if sim < e.Relate.RelatedSimilarity {
				continue
			}

			linked, err := e.DB.AnyEdgeBetween(records[i].ID, records[j].ID)
			if err != nil {
				log.Printf("relate: related lookup: %v", err)
				result.Errored++
				continue
			}
			if linked {
				continue
			}

			if e.createEdge(ctx, records[i].ID, records[j].ID, store.EdgeRelated, sim, result, touched) {
				result.Related++
			}
			if e.createEdge(ctx, records[j].ID, records[i].ID, store.EdgeRelated, sim, result, touched) {
				result.Related++
			}
		}
	}
}

// inferTemporal links records in the same project created within the temporal
// window of each other, earlier to later.
func (e *Engine) inferTemporal(ctx context.Context, records []store.Record, result *RelateResult, touched map[string]bool) {
	window := e.Relate.TemporalWindow.Milliseconds()
	for i := 0; i < len(records); i++ {
		if records[i].Project == "" {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			if records[j].Project != records[i].Project {
				continue
			}
			if records[j].CreatedAt-records[i].CreatedAt > window {
				break // sorted by creation time; later records only get further away
			}
			if e.createEdge(ctx, records[i].ID, records[j].ID, store.EdgeTemporal, 1.0, result, touched) {
				result.Temporal++
			}
		}
	}
}

// inferCauses links temporally adjacent records whose content overlaps enough
// to suggest one describes the other's problem. This is the lowest-confidence
// heuristic; the overlap floor is configurable and edges carry confidence 0.5.
func (e *Engine) inferCauses(ctx context.Context, records []store.Record, result *RelateResult, touched map[string]bool) {
	window := e.Relate.TemporalWindow.Milliseconds()
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].CreatedAt-records[i].CreatedAt > window {
				break
			}
			if tokenContainment(records[i].Content, records[j].Content) < e.Relate.CausesOverlap {
				continue
			}
			if e.createEdge(ctx, records[i].ID, records[j].ID, store.EdgeCauses, 0.5, result, touched) {
				result.Causes++
			}
		}
	}
}

// createEdge upserts one edge with per-pair retry. Returns true when a new
// edge was created; duplicates are success-no-ops.
func (e *Engine) createEdge(ctx context.Context, source, target, edgeType string, confidence float64, result *RelateResult, touched map[string]bool) bool {
	var created bool
	err := e.withRetry(ctx, func() error {
		var upErr error
		created, upErr = e.DB.UpsertEdge(source, target, edgeType, confidence)
		return upErr
	})
	if err != nil {
		log.Printf("relate: create %s edge %s -> %s: %v", edgeType, source, target, err)
		result.Errored++
		return false
	}
	if created {
		touched[source] = true
		touched[target] = true
	}
	return created
}

// refreshRelationshipCounts recomputes the cached edge count for records that
// gained edges. Best-effort: the count is a cache, so a failed refresh is
// repaired by the next quality pass.
func (e *Engine) refreshRelationshipCounts(touched map[string]bool) {
	for id := range touched {
		count, err := e.DB.CountEdges(id)
		if err != nil {
			log.Printf("relate: count edges %s: %v", id, err)
			continue
		}
		if err := e.DB.SetRelationshipCount(id, count); err != nil {
			log.Printf("relate: refresh relationship count %s: %v", id, err)
		}
	}
}

// tokenContainment measures how much of the smaller record's token set appears
// in the larger one's: |A ∩ B| / min(|A|, |B|).
func tokenContainment(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	small, large := tokensA, tokensB
	if len(tokensB) < len(tokensA) {
		small, large = tokensB, tokensA
	}

	shared := 0
	for tok := range small {
		if large[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(s) {
		set[tok] = true
	}
	return set
}

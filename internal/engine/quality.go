package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemora/retain/internal/store"
)

// QualityConfig holds the tier-promotion thresholds.
type QualityConfig struct {
	SemanticScore      float64       // episodic -> semantic quality floor
	SemanticAge        time.Duration // episodic -> semantic minimum age
	ProceduralScore    float64       // semantic -> procedural quality floor
	ProceduralAge      time.Duration // semantic -> procedural minimum age
	ProceduralMaxEdits int           // semantic -> procedural edit ceiling (exclusive)
}

// DefaultQualityConfig returns the standard promotion thresholds.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		SemanticScore:      0.75,
		SemanticAge:        7 * 24 * time.Hour,
		ProceduralScore:    0.90,
		ProceduralAge:      30 * 24 * time.Hour,
		ProceduralMaxEdits: 3,
	}
}

// Validate rejects invalid thresholds before any batch work begins.
func (c QualityConfig) Validate() error {
	if c.SemanticScore < 0 || c.SemanticScore > 1 {
		return fmt.Errorf("semantic score must be in [0,1], got %g", c.SemanticScore)
	}
	if c.ProceduralScore < 0 || c.ProceduralScore > 1 {
		return fmt.Errorf("procedural score must be in [0,1], got %g", c.ProceduralScore)
	}
	if c.SemanticAge <= 0 || c.ProceduralAge <= 0 {
		return fmt.Errorf("promotion ages must be positive")
	}
	if c.ProceduralMaxEdits < 1 {
		return fmt.Errorf("procedural max edits must be >= 1, got %d", c.ProceduralMaxEdits)
	}
	return nil
}

// accessFrequency maps access count into [0,1] piecewise: fast growth for the
// first accesses, slower in the middle band, saturating above 50.
func accessFrequency(count int) float64 {
	switch {
	case count <= 0:
		return 0
	case count <= 10:
		return float64(count) / 20.0
	case count <= 50:
		return 0.5 + float64(count-10)/100.0
	default:
		f := 0.8 + float64(count-50)/200.0
		if f > 1.0 {
			f = 1.0
		}
		return f
	}
}

// ComputeQuality scores a record in [0,1]:
//
//	0.30*accessFrequency + 0.25*ratingConfidence*normalizedRating
//	+ 0.25*relationshipDensity + 0.20*stability + tierBonus
func ComputeQuality(rec *store.Record) float64 {
	af := accessFrequency(rec.AccessCount)

	confidence := float64(rec.RatingCount) / 5.0
	if confidence > 1.0 {
		confidence = 1.0
	}
	normalizedRating := rec.RatingAvg / 5.0

	density := float64(rec.RelationshipCount) / 10.0
	if density > 1.0 {
		density = 1.0
	}

	edits := rec.EditCount
	if edits < 1 {
		edits = 1
	}
	stability := 1.0 / float64(edits)

	var tierBonus float64
	switch rec.Tier {
	case store.TierProcedural:
		tierBonus = 0.05
	case store.TierSemantic:
		tierBonus = 0.02
	}

	score := 0.30*af + 0.25*confidence*normalizedRating + 0.25*density + 0.20*stability + tierBonus
	return clamp01(score)
}

// nextTier evaluates the promotion state machine for one record. Forward
// transitions only: episodic -> semantic -> procedural, each gated on score
// and minimum age. Returns the current tier when nothing applies.
func (c QualityConfig) nextTier(rec *store.Record, score float64, now time.Time) (string, error) {
	if rec.CreatedAt <= 0 {
		return "", errSkipRecord
	}
	age := now.Sub(time.UnixMilli(rec.CreatedAt))

	switch rec.Tier {
	case store.TierEpisodic:
		if score >= c.SemanticScore && age >= c.SemanticAge {
			return store.TierSemantic, nil
		}
	case store.TierSemantic:
		if score >= c.ProceduralScore && age >= c.ProceduralAge && rec.EditCount < c.ProceduralMaxEdits {
			return store.TierProcedural, nil
		}
	}
	return rec.Tier, nil
}

// AddRating records a user rating in [0,5], updates the running average, and
// recomputes quality immediately.
func (e *Engine) AddRating(id string, rating float64) (float64, error) {
	if rating < 0 || rating > 5 {
		return 0, fmt.Errorf("rating must be in [0,5], got %g", rating)
	}

	rec, err := e.DB.GetRecord(id)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, fmt.Errorf("record %s not found", id)
	}

	count := rec.RatingCount + 1
	avg := rec.RatingAvg + (rating-rec.RatingAvg)/float64(count)
	if err := e.DB.ApplyRating(id, avg, count); err != nil {
		return 0, err
	}

	rec.RatingAvg = avg
	rec.RatingCount = count
	score := ComputeQuality(rec)
	if err := e.DB.ApplyQuality(id, score, rec.Tier, rec.EditCount); err != nil {
		return 0, err
	}
	return score, nil
}

// PromoteSweep recomputes quality across the live collection and advances
// tiers that meet the promotion criteria. Records with a missing creation
// timestamp are skipped with a data-integrity warning. Dry-run computes every
// decision without persisting.
func (e *Engine) PromoteSweep(ctx context.Context, opts SweepOpts) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{Job: "quality", DryRun: opts.DryRun}
	var mu sync.Mutex

	afterID := ""
	for {
		select {
		case <-ctx.Done():
			summary.Duration = time.Since(start)
			return summary, ctx.Err()
		default:
		}

		batch, err := e.DB.ScanRecords(store.ScanFilter{Live: true}, afterID, e.batchSize(opts))
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("quality sweep scan: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.Workers)
		for i := range batch {
			rec := batch[i]
			g.Go(func() error {
				promoted, err := e.scoreRecord(gctx, rec, opts.DryRun)
				mu.Lock()
				defer mu.Unlock()
				summary.Processed++
				switch {
				case errors.Is(err, errSkipRecord):
					log.Printf("quality: record %s missing created_at, promotion skipped", rec.ID)
					summary.Skipped++
				case err != nil:
					log.Printf("quality: record %s: %v", rec.ID, err)
					summary.Errored++
				default:
					summary.Updated++
					if promoted {
						summary.Promoted++
					}
				}
				return nil
			})
		}
		g.Wait()
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// scoreRecord recomputes one record's quality and applies any promotion.
// A missing creation timestamp skips promotion but still refreshes quality;
// the sweep counts it and logs a data-integrity warning.
func (e *Engine) scoreRecord(ctx context.Context, rec store.Record, dryRun bool) (bool, error) {
	now := time.Now()
	cur := &rec
	promoted := false
	skipPromotion := rec.CreatedAt <= 0
	cachedCount := rec.RelationshipCount
	wasTier := rec.Tier

	err := e.withRetry(ctx, func() error {
		// relationship_count is a cache; recompute from the edge store so a
		// missed refresh heals here.
		count, err := e.DB.CountEdges(cur.ID)
		if err != nil {
			return err
		}
		cur.RelationshipCount = count

		score := ComputeQuality(cur)
		tier := cur.Tier
		if !skipPromotion {
			tier, err = e.Quality.nextTier(cur, score, now)
			if err != nil {
				return err
			}
		}
		promoted = tier != wasTier

		if dryRun {
			return nil
		}
		if cur.RelationshipCount != cachedCount {
			if err := e.DB.SetRelationshipCount(cur.ID, cur.RelationshipCount); err != nil {
				return err
			}
		}
		err = e.DB.ApplyQuality(cur.ID, score, tier, cur.EditCount)
		if err == store.ErrVersionConflict {
			reloaded, rerr := e.reloadVersion(cur.ID)
			if rerr != nil {
				return rerr
			}
			cur = reloaded
		}
		return err
	})
	if err == nil && skipPromotion {
		return false, errSkipRecord
	}
	return promoted, err
}

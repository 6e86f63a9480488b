package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemora/retain/internal/store"
)

// DecayConfig holds the retention-strength tuning knobs.
type DecayConfig struct {
	BaseRate     float64 // per-hour decay base, scaled by the factor product
	ArchiveBelow float64 // records below this strength are archived
	PurgeBelow   float64 // records below this strength are purged (when enabled)
	PurgeEnabled bool
	DefaultBoost float64 // reinforcement boost when the caller passes 0
	MaxBoost     float64
}

// DefaultDecayConfig returns the standard decay tuning.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		BaseRate:     0.01,
		ArchiveBelow: 0.15,
		PurgeBelow:   0.05,
		PurgeEnabled: false,
		DefaultBoost: 0.2,
		MaxBoost:     0.5,
	}
}

// Validate rejects invalid thresholds before any batch work begins.
func (c DecayConfig) Validate() error {
	if c.BaseRate <= 0 || c.BaseRate > 1 {
		return fmt.Errorf("decay base rate must be in (0,1], got %g", c.BaseRate)
	}
	if c.ArchiveBelow < 0 || c.ArchiveBelow > 1 {
		return fmt.Errorf("archive threshold must be in [0,1], got %g", c.ArchiveBelow)
	}
	if c.PurgeBelow < 0 || c.PurgeBelow > c.ArchiveBelow {
		return fmt.Errorf("purge threshold must be in [0,%g], got %g", c.ArchiveBelow, c.PurgeBelow)
	}
	if c.DefaultBoost < 0 || c.DefaultBoost > c.MaxBoost {
		return fmt.Errorf("default boost must be in [0,%g], got %g", c.MaxBoost, c.DefaultBoost)
	}
	return nil
}

// importanceFactor maps importance in [0,1] to a decay multiplier in [0.3,1.0].
// High importance slows decay. A record missing its importance seed gets the
// midpoint rather than failing the batch.
func importanceFactor(importance float64) float64 {
	if math.IsNaN(importance) || importance < 0 || importance > 1 {
		return 0.65
	}
	return 1.0 - 0.7*importance
}

// accessFactor maps access count to a multiplier in [0.5,1.0] on a saturating
// curve: heavily accessed records decay at half speed.
func accessFactor(count int) float64 {
	if count <= 0 {
		return 1.0
	}
	sat := float64(count) / 50.0
	if sat > 1 {
		sat = 1
	}
	return 1.0 - 0.5*sat
}

// tierFactor slows decay for records promoted into stable tiers.
func tierFactor(tier string) float64 {
	switch tier {
	case store.TierProcedural:
		return 0.3
	case store.TierSemantic:
		return 0.6
	default:
		return 1.0
	}
}

// ComputeDecayRate derives the per-hour decay rate from a record's metadata.
func (c DecayConfig) ComputeDecayRate(rec *store.Record) float64 {
	return c.BaseRate * importanceFactor(rec.Importance) * accessFactor(rec.AccessCount) * tierFactor(rec.Tier)
}

// ComputeStrength returns the record's current retention strength at the given
// instant. Pure: does not mutate the record. Pinned records always return 1.0.
func (c DecayConfig) ComputeStrength(rec *store.Record, now time.Time) float64 {
	if rec.Pinned {
		return 1.0
	}

	elapsed := float64(now.UnixMilli()-rec.LastDecayUpdate) / float64(time.Hour/time.Millisecond)
	if elapsed <= 0 {
		return clamp01(rec.Strength)
	}

	rate := c.ComputeDecayRate(rec)
	return clamp01(rec.Strength * math.Exp(-rate*elapsed))
}

// Reinforce boosts a record's strength and resets its decay clock. A zero
// boost uses the configured default; boosts outside [0, MaxBoost] are rejected
// at the call boundary.
func (e *Engine) Reinforce(id string, boost float64) (float64, error) {
	if boost == 0 {
		boost = e.Decay.DefaultBoost
	}
	if boost < 0 || boost > e.Decay.MaxBoost {
		return 0, fmt.Errorf("boost must be in [0,%g], got %g", e.Decay.MaxBoost, boost)
	}

	rec, err := e.DB.GetRecord(id)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, fmt.Errorf("record %s not found", id)
	}

	now := time.Now()
	strength := e.Decay.ComputeStrength(rec, now)
	strength = math.Min(strength+boost, 1.0)
	if rec.Pinned {
		strength = 1.0
	}

	rate := e.Decay.ComputeDecayRate(rec)
	if err := e.DB.ApplyDecay(rec.ID, strength, rate, now.UnixMilli(), rec.EditCount); err != nil {
		return 0, err
	}
	if err := e.DB.TouchRecord(rec.ID); err != nil {
		return 0, err
	}
	return strength, nil
}

// DecaySweep recomputes strength across the live collection in batches, then
// applies the archive and purge thresholds. Pinned records never archive;
// pinned and procedural records never purge. Dry-run computes every decision
// without persisting any of them.
func (e *Engine) DecaySweep(ctx context.Context, opts SweepOpts) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{Job: "decay", DryRun: opts.DryRun}
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
			return summary, fmt.Errorf("decay sweep scan: %w", err)
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
				outcome, err := e.decayRecord(gctx, rec, opts.DryRun)
				mu.Lock()
				defer mu.Unlock()
				summary.Processed++
				if err != nil {
					log.Printf("decay: record %s: %v", rec.ID, err)
					summary.Errored++
					return nil // one failing record never aborts the batch
				}
				summary.Updated++
				switch outcome {
				case store.TierArchived:
					summary.Archived++
				case store.TierPurged:
					summary.Purged++
				}
				return nil
			})
		}
		g.Wait()
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// decayRecord recomputes one record's strength, persists it, and returns the
// tier it transitioned to ("" for none).
func (e *Engine) decayRecord(ctx context.Context, rec store.Record, dryRun bool) (string, error) {
	if rec.LastDecayUpdate <= 0 || rec.CreatedAt <= 0 {
		return "", fmt.Errorf("malformed timestamps (created_at=%d last_decay_update=%d)", rec.CreatedAt, rec.LastDecayUpdate)
	}

	now := time.Now()
	cur := &rec
	var strength float64

	err := e.withRetry(ctx, func() error {
		strength = e.Decay.ComputeStrength(cur, now)
		rate := e.Decay.ComputeDecayRate(cur)
		if dryRun {
			return nil
		}
		err := e.DB.ApplyDecay(cur.ID, strength, rate, now.UnixMilli(), cur.EditCount)
		if err == store.ErrVersionConflict {
			reloaded, rerr := e.reloadVersion(cur.ID)
			if rerr != nil {
				return rerr
			}
			cur = reloaded
		}
		return err
	})
	if err != nil {
		return "", err
	}

	// Threshold transitions. Pinned records hold strength 1.0 and are exempt.
	if cur.Pinned {
		return "", nil
	}
	if e.Decay.PurgeEnabled && strength < e.Decay.PurgeBelow && cur.Tier != store.TierProcedural {
		if !dryRun {
			if err := e.DB.SetTier(cur.ID, store.TierPurged); err != nil {
				return "", err
			}
		}
		return store.TierPurged, nil
	}
	if strength < e.Decay.ArchiveBelow {
		if !dryRun {
			if err := e.DB.SetTier(cur.ID, store.TierArchived); err != nil {
				return "", err
			}
		}
		return store.TierArchived, nil
	}
	return "", nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

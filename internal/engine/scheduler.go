package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// SchedulerConfig sets the cadence of the periodic retention jobs. Each job is
// independently triggered; there is no shared global lock.
type SchedulerConfig struct {
	DecayInterval       time.Duration
	QualityInterval     time.Duration
	RelateInterval      time.Duration
	ConsolidateInterval time.Duration
	RelateLookback      time.Duration
	RunOnStart          bool
}

// DefaultSchedulerConfig returns the standard cadences: decay and quality
// daily, inference and consolidation every 12 hours.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DecayInterval:       24 * time.Hour,
		QualityInterval:     24 * time.Hour,
		RelateInterval:      12 * time.Hour,
		ConsolidateInterval: 12 * time.Hour,
		RelateLookback:      24 * time.Hour,
		RunOnStart:          true,
	}
}

// Validate rejects invalid cadences at the call boundary.
func (c SchedulerConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"decay interval":       c.DecayInterval,
		"quality interval":     c.QualityInterval,
		"relate interval":      c.RelateInterval,
		"consolidate interval": c.ConsolidateInterval,
		"relate lookback":      c.RelateLookback,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Scheduler drives the engine's batch passes on their configured cadences.
// A failing run logs and waits for the next trigger; nothing here halts the
// host process.
type Scheduler struct {
	eng    *Engine
	cfg    SchedulerConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the configuration and builds a scheduler.
func NewScheduler(eng *Engine, cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := eng.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{eng: eng, cfg: cfg}, nil
}

// Start launches one goroutine per job. Call Stop for a graceful shutdown:
// running sweeps finish their current batch and stop before the next.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.job(ctx, "decay", s.cfg.DecayInterval, func(ctx context.Context) error {
		summary, err := s.eng.DecaySweep(ctx, SweepOpts{})
		if summary != nil {
			log.Printf("decay: processed=%d updated=%d archived=%d purged=%d errored=%d in %s",
				summary.Processed, summary.Updated, summary.Archived, summary.Purged, summary.Errored, summary.Duration.Round(time.Millisecond))
		}
		return err
	})

	s.job(ctx, "quality", s.cfg.QualityInterval, func(ctx context.Context) error {
		summary, err := s.eng.PromoteSweep(ctx, SweepOpts{})
		if summary != nil {
			log.Printf("quality: processed=%d promoted=%d skipped=%d errored=%d in %s",
				summary.Processed, summary.Promoted, summary.Skipped, summary.Errored, summary.Duration.Round(time.Millisecond))
		}
		return err
	})

	s.job(ctx, "relate", s.cfg.RelateInterval, func(ctx context.Context) error {
		result, err := s.eng.InferRelationships(ctx, time.Now().Add(-s.cfg.RelateLookback))
		if result != nil {
			log.Printf("relate: records=%d edges=%d (fixes=%d related=%d temporal=%d causes=%d) errored=%d in %s",
				result.Records, result.Total(), result.Fixes, result.Related, result.Temporal, result.Causes, result.Errored, result.Duration.Round(time.Millisecond))
		}
		return err
	})

	s.job(ctx, "consolidate", s.cfg.ConsolidateInterval, func(ctx context.Context) error {
		result, err := s.eng.SweepSessions(ctx)
		if result != nil {
			log.Printf("consolidate: sessions=%d consolidated=%d skipped=%d errored=%d in %s",
				result.Sessions, result.Consolidated, result.Skipped, result.Errored, result.Duration.Round(time.Millisecond))
		}
		return err
	})
}

// Stop cancels all jobs and waits for running sweeps to finish their batch.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) job(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if s.cfg.RunOnStart {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s: run failed: %v", name, err)
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("%s: run failed: %v", name, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

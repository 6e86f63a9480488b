package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/mnemora/retain/internal/config"
	"github.com/mnemora/retain/internal/engine"
	"github.com/mnemora/retain/internal/store"
)

// loadConfig resolves the config file path and loads it over the defaults.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Default(), err
		}
	}
	return config.Load(path)
}

// openStore opens the database configured in cfg, falling back to the default
// path.
func openStore(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return store.Open(dbPath)
}

// buildEngine wires an engine from config and validates all thresholds before
// any batch work can start.
func buildEngine(db *store.DB, cfg config.Config) (*engine.Engine, error) {
	eng := engine.New(db)

	eng.Decay = engine.DecayConfig{
		BaseRate:     cfg.Decay.BaseRate,
		ArchiveBelow: cfg.Decay.ArchiveBelow,
		PurgeBelow:   cfg.Decay.PurgeBelow,
		PurgeEnabled: cfg.Decay.PurgeEnabled,
		DefaultBoost: cfg.Decay.DefaultBoost,
		MaxBoost:     cfg.Decay.MaxBoost,
	}
	eng.Relate = engine.RelateConfig{
		FixesSimilarity:   cfg.Inference.FixesSimilarity,
		RelatedSimilarity: cfg.Inference.RelatedSimilarity,
		TemporalWindow:    hours(cfg.Inference.TemporalWindowHours),
		CausesOverlap:     cfg.Inference.CausesOverlap,
		Lookback:          hours(cfg.Inference.LookbackHours),
	}
	eng.Session = engine.SessionConfig{
		MinMembers:       cfg.Session.MinMembers,
		ConsolidateAfter: hours(cfg.Session.ConsolidateAfterHours),
		ContextRecords:   cfg.Session.ContextRecords,
		ContextTruncate:  cfg.Session.ContextTruncate,
	}
	eng.Quality = engine.QualityConfig{
		SemanticScore:      cfg.Quality.SemanticScore,
		SemanticAge:        hours(cfg.Quality.SemanticAgeDays * 24),
		ProceduralScore:    cfg.Quality.ProceduralScore,
		ProceduralAge:      hours(cfg.Quality.ProceduralAgeDays * 24),
		ProceduralMaxEdits: cfg.Quality.ProceduralMaxEdits,
	}
	if cfg.Scheduler.BatchSize > 0 {
		eng.BatchSize = cfg.Scheduler.BatchSize
	}
	if cfg.Scheduler.Workers > 0 {
		eng.Workers = cfg.Scheduler.Workers
	}

	if err := eng.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return eng, nil
}

// attachEmbedder probes Ollama and falls back to TF-IDF when it is
// unreachable. The engine runs without an embedder if both fail; similarity
// edges are simply skipped.
func attachEmbedder(eng *engine.Engine, cfg config.Config) {
	if engine.ProbeOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model) {
		eng.SetEmbedder(engine.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, cfg.Embedding.Dimensions))
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", cfg.Embedding.Model)
		return
	}

	emb, err := engine.NewTFIDFEmbedder(eng.DB, 512)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tfidf embedder init failed: %v\n", err)
		return
	}
	eng.SetEmbedder(emb)
	fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback)\n")
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all retain configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Decay     DecayConfig     `toml:"decay"`
	Inference InferenceConfig `toml:"inference"`
	Session   SessionConfig   `toml:"session"`
	Quality   QualityConfig   `toml:"quality"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type EmbeddingConfig struct {
	OllamaURL  string `toml:"ollama_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type DecayConfig struct {
	BaseRate     float64 `toml:"base_rate"` // per hour
	ArchiveBelow float64 `toml:"archive_below"`
	PurgeBelow   float64 `toml:"purge_below"`
	PurgeEnabled bool    `toml:"purge_enabled"`
	DefaultBoost float64 `toml:"default_boost"`
	MaxBoost     float64 `toml:"max_boost"`
}

type InferenceConfig struct {
	FixesSimilarity     float64 `toml:"fixes_similarity"`
	RelatedSimilarity   float64 `toml:"related_similarity"`
	TemporalWindowHours float64 `toml:"temporal_window_hours"`
	CausesOverlap       float64 `toml:"causes_overlap"`
	LookbackHours       float64 `toml:"lookback_hours"`
}

type SessionConfig struct {
	MinMembers            int     `toml:"min_members"`
	ConsolidateAfterHours float64 `toml:"consolidate_after_hours"`
	ContextRecords        int     `toml:"context_records"`
	ContextTruncate       int     `toml:"context_truncate"`
}

type QualityConfig struct {
	SemanticScore      float64 `toml:"semantic_score"`
	SemanticAgeDays    float64 `toml:"semantic_age_days"`
	ProceduralScore    float64 `toml:"procedural_score"`
	ProceduralAgeDays  float64 `toml:"procedural_age_days"`
	ProceduralMaxEdits int     `toml:"procedural_max_edits"`
}

type SchedulerConfig struct {
	BatchSize            int     `toml:"batch_size"`
	Workers              int     `toml:"workers"` // 0 = number of cores
	DecayIntervalHours   float64 `toml:"decay_interval_hours"`
	QualityIntervalHours float64 `toml:"quality_interval_hours"`
	RelateIntervalHours  float64 `toml:"relate_interval_hours"`
	SweepIntervalHours   float64 `toml:"sweep_interval_hours"`
}

// Default returns a Config with the standard tuning.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Decay: DecayConfig{
			BaseRate:     0.01,
			ArchiveBelow: 0.15,
			PurgeBelow:   0.05,
			PurgeEnabled: false,
			DefaultBoost: 0.2,
			MaxBoost:     0.5,
		},
		Inference: InferenceConfig{
			FixesSimilarity:     0.85,
			RelatedSimilarity:   0.75,
			TemporalWindowHours: 2,
			CausesOverlap:       0.5,
			LookbackHours:       24,
		},
		Session: SessionConfig{
			MinMembers:            2,
			ConsolidateAfterHours: 24,
			ContextRecords:        3,
			ContextTruncate:       500,
		},
		Quality: QualityConfig{
			SemanticScore:      0.75,
			SemanticAgeDays:    7,
			ProceduralScore:    0.90,
			ProceduralAgeDays:  30,
			ProceduralMaxEdits: 3,
		},
		Scheduler: SchedulerConfig{
			BatchSize:            100,
			Workers:              0,
			DecayIntervalHours:   24,
			QualityIntervalHours: 24,
			RelateIntervalHours:  12,
			SweepIntervalHours:   12,
		},
	}
}

// DefaultPath returns the default config path: ~/.retain/config.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return home + "/.retain/config.toml", nil
}

// Load reads TOML configuration from path, layered over the defaults.
// A missing file is not an error: the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

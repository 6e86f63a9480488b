package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemora/retain/internal/engine"
)

var (
	runDryRun   bool
	runBatch    int
	runLookback float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a retention job once",
}

var runDecayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Recompute strength and apply archive/purge thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(func(ctx context.Context, eng *engine.Engine) (any, error) {
			return eng.DecaySweep(ctx, engine.SweepOpts{DryRun: runDryRun, BatchSize: runBatch})
		})
	},
}

var runQualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Recompute quality scores and apply tier promotions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(func(ctx context.Context, eng *engine.Engine) (any, error) {
			return eng.PromoteSweep(ctx, engine.SweepOpts{DryRun: runDryRun, BatchSize: runBatch})
		})
	},
}

var runRelateCmd = &cobra.Command{
	Use:   "relate",
	Short: "Infer relationship edges over the lookback window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(func(ctx context.Context, eng *engine.Engine) (any, error) {
			lookback := eng.Relate.Lookback
			if runLookback > 0 {
				lookback = hours(runLookback)
			}
			return eng.InferRelationships(ctx, time.Now().Add(-lookback))
		})
	},
}

var runConsolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Fold eligible sessions into summary records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(func(ctx context.Context, eng *engine.Engine) (any, error) {
			return eng.SweepSessions(ctx)
		})
	},
}

func runJob(fn func(context.Context, *engine.Engine) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng, err := buildEngine(db, cfg)
	if err != nil {
		return err
	}
	attachEmbedder(eng, cfg)

	result, err := fn(context.Background(), eng)
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(result)
}

func init() {
	runCmd.PersistentFlags().BoolVar(&runDryRun, "dry-run", false, "compute decisions without persisting them")
	runCmd.PersistentFlags().IntVar(&runBatch, "batch", 0, "batch size override")
	runRelateCmd.Flags().Float64Var(&runLookback, "lookback-hours", 0, "inference window override")

	runCmd.AddCommand(runDecayCmd)
	runCmd.AddCommand(runQualityCmd)
	runCmd.AddCommand(runRelateCmd)
	runCmd.AddCommand(runConsolidateCmd)
}

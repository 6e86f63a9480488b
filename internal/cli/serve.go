package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemora/retain/internal/engine"
	"github.com/mnemora/retain/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the retention scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	schedCfg := engine.DefaultSchedulerConfig()
	schedCfg.DecayInterval = hours(cfg.Scheduler.DecayIntervalHours)
	schedCfg.QualityInterval = hours(cfg.Scheduler.QualityIntervalHours)
	schedCfg.RelateInterval = hours(cfg.Scheduler.RelateIntervalHours)
	schedCfg.ConsolidateInterval = hours(cfg.Scheduler.SweepIntervalHours)
	schedCfg.RelateLookback = hours(cfg.Inference.LookbackHours)

	sched, err := engine.NewScheduler(eng, schedCfg)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "retain serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curator/internal/pipeline"
)

var serveWatch bool

// serveCmd runs the pipeline until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knowledge pipeline against the workspace",
	Long: `Starts the full pipeline: the knowledge cache, the background research
scheduler, the notifier, and the periodic gap scanner. With --watch, file
changes trigger incremental gap analysis as you work.

Stops cleanly on SIGINT/SIGTERM, draining in-flight research first.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "watch the workspace for file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	var opts []pipeline.Option
	if serveWatch {
		opts = append(opts, pipeline.WithWatcher())
	}
	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	logger.Info("pipeline serving",
		zap.String("workspace", workspace),
		zap.Bool("watch", serveWatch))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	p.Stop()

	stats := p.Stats()
	fmt.Printf("Session: %d enqueued, %d completed, %d failed, %d retried, %d dropped\n",
		stats.Enqueued, stats.Completed, stats.Failed, stats.Retried, stats.Dropped)
	fmt.Printf("Cache: %d entries, %d bytes, hit rate %.0f%%\n",
		stats.Cache.EntryCount, stats.Cache.SizeBytes, stats.Cache.HitRate*100)
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/cache"
	"curator/internal/pipeline"
)

var (
	scanWait bool

	invalidateDryRun bool
	invalidateYes    bool
)

// scanCmd runs one full gap scan.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the workspace for knowledge gaps",
	Long: `Walks the workspace applying the heuristic gap rules (TODO markers,
undocumented exports, orphaned knowledge, custom YAML rules) and schedules
proactive research for every gap found.

With --wait the command blocks until the scheduled research drains.`,
	RunE: runScan,
}

// invalidateCmd removes cache entries by pattern. Destructive; requires
// --yes unless --dry-run.
var invalidateCmd = &cobra.Command{
	Use:   "invalidate [pattern]",
	Short: "Invalidate cached knowledge",
	Long: `Removes cache entries matching a pattern and their vector index rows.

Pattern forms:
  domain=rust               one dimension
  research_type=learning    one dimension
  audience=beginner         one dimension
  "abc123:*"                glob over the canonical key

Use --dry-run to preview what would be removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runInvalidate,
}

func init() {
	scanCmd.Flags().BoolVar(&scanWait, "wait", false, "wait for scheduled research to finish")
	invalidateCmd.Flags().BoolVar(&invalidateDryRun, "dry-run", false, "preview without removing")
	invalidateCmd.Flags().BoolVar(&invalidateYes, "yes", false, "confirm removal")
}

func runScan(cmd *cobra.Command, args []string) error {
	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer p.Stop()

	if err := p.ScanNow(ctx); err != nil {
		return err
	}
	stats := p.Stats()
	fmt.Printf("Scheduled %d research tasks (%d dropped under backpressure)\n",
		stats.Enqueued, stats.Dropped)

	if !scanWait {
		return nil
	}
	for stats.QueueDepth > 0 || stats.Completed+stats.Failed < stats.Enqueued {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out with %d tasks outstanding", stats.QueueDepth)
		case <-time.After(200 * time.Millisecond):
		}
		stats = p.Stats()
	}
	fmt.Printf("Done: %d completed, %d failed\n", stats.Completed, stats.Failed)
	return nil
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	if !invalidateDryRun && !invalidateYes {
		return fmt.Errorf("refusing to invalidate without --yes (use --dry-run to preview)")
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer p.Stop()

	report, err := p.Invalidate(cache.Selector{Pattern: args[0]}, invalidateDryRun, true)
	if err != nil {
		return err
	}
	if report.DryRun {
		fmt.Printf("Would remove %d entries (%d bytes):\n", len(report.Matched), report.BytesFreed)
	} else {
		fmt.Printf("Removed %d entries (%d bytes freed):\n", report.Removed, report.BytesFreed)
	}
	for _, key := range report.Matched {
		fmt.Printf("  %s\n", key)
	}
	return nil
}

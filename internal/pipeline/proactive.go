package pipeline

import (
	"context"
	"errors"
	"time"

	"curator/internal/logging"
	"curator/internal/scheduler"
	"curator/internal/types"
)

// =============================================================================
// PROACTIVE SCANNING
// =============================================================================

// scanLoop runs full gap scans on the configured cadence. An initial scan
// runs shortly after startup so a fresh workspace gets coverage without
// waiting a whole interval.
func (p *Pipeline) scanLoop(ctx context.Context) {
	initial := time.NewTimer(10 * time.Second)
	defer initial.Stop()
	select {
	case <-ctx.Done():
		return
	case <-initial.C:
	}
	if err := p.ScanNow(ctx); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("initial gap scan failed: %v", err)
	}

	ticker := time.NewTicker(p.cfg.Gaps.ScanInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ScanNow(ctx); err != nil {
				logging.Get(logging.CategoryPipeline).Warn("gap scan failed: %v", err)
			}
		}
	}
}

// ScanNow runs one full workspace scan and schedules research for every gap
// found. Backpressure drops are expected under load and only logged.
func (p *Pipeline) ScanNow(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "full gap scan")
	defer timer.Stop()

	found, err := p.analyzer.Scan(ctx, p.cfg.Workspace, cacheLocations{knowledge: p.knowledge})
	if err != nil {
		return err
	}
	p.enqueueGaps(found)
	return nil
}

// enqueueGaps schedules proactive research for detected gaps. Also the sink
// for the file watcher's incremental results.
func (p *Pipeline) enqueueGaps(found []*types.KnowledgeGap) {
	enqueued, dropped := 0, 0
	for _, gap := range found {
		_, err := p.sched.EnqueueGap(gap)
		switch {
		case err == nil:
			enqueued++
		case errors.Is(err, scheduler.ErrBackpressure):
			dropped++
		default:
			logging.Get(logging.CategoryPipeline).Warn("gap enqueue failed for %s: %v", gap.Location, err)
		}
	}
	if enqueued+dropped > 0 {
		logging.Pipeline("gap pass: %d scheduled, %d dropped under backpressure", enqueued, dropped)
	}
}

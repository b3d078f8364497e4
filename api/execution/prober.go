package execution

import (
	"context"
	"sync"
	"time"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
	"golang.org/x/sync/errgroup"
)

// Prober polls the readiness of segment models and reports each one once it is ready.
type Prober struct {
	config.Config
	executor ModelExecutor
	interval time.Duration
	onReady  func(segmentation.SegmentID)
}

// NewProber creates a Prober reporting ready segments to onReady.
func NewProber(cfg *config.Config, executor ModelExecutor, interval time.Duration, onReady func(segmentation.SegmentID)) *Prober {
	return &Prober{
		Config:   *cfg,
		executor: executor,
		interval: interval,
		onReady:  onReady,
	}
}

// Run polls until every segment has been reported or ctx is done.
func (p *Prober) Run(ctx context.Context, segments []segmentation.SegmentID) error {
	pending := map[segmentation.SegmentID]bool{}
	for _, segmentID := range segments {
		pending[segmentID] = true
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for len(pending) > 0 {
		for _, segmentID := range p.probe(ctx, pending) {
			delete(pending, segmentID)
			p.onReady(segmentID)
		}
		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// probe checks every pending segment concurrently and returns the ready ones.
func (p *Prober) probe(ctx context.Context, pending map[segmentation.SegmentID]bool) []segmentation.SegmentID {
	mutex := sync.Mutex{}
	ready := []segmentation.SegmentID{}

	group, groupCtx := errgroup.WithContext(ctx)
	for segmentID := range pending {
		segmentID := segmentID
		group.Go(func() error {
			ok, err := p.executor.Ready(groupCtx, segmentID)
			if err != nil {
				p.Logger.Debugw("Model readiness check failed", "segment_id", segmentID, "error", err)
				return nil
			}
			if ok {
				mutex.Lock()
				ready = append(ready, segmentID)
				mutex.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return ready
}

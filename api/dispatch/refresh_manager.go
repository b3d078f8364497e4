package dispatch

import (
	"context"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/execution"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/results"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/training"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// Refresher recomputes the persisted result of a cached client.
type Refresher interface {
	RefreshModelResults(client config.ClientConfig, provider execution.SegmentResultProvider)
}

// RefreshManager persists fresh results for non on-demand clients so the next session's
// cache snapshot has them. The running session keeps serving its own snapshot.
type RefreshManager struct {
	config.Config
	writer    *results.CachedResultWriter
	collector TrainingDataCollector
	options   segmentation.PlatformOptions
}

// NewRefreshManager creates a RefreshManager writing through writer.
func NewRefreshManager(cfg *config.Config, writer *results.CachedResultWriter, collector TrainingDataCollector) *RefreshManager {
	return &RefreshManager{
		Config:    *cfg,
		writer:    writer,
		collector: collector,
		options:   segmentation.PlatformOptions{ForceRefreshResults: cfg.Environment.ForceRefreshResults},
	}
}

// RefreshModelResults implements Refresher. On-demand clients are ignored.
func (m *RefreshManager) RefreshModelResults(client config.ClientConfig, provider execution.SegmentResultProvider) {
	if client.OnDemandExecution {
		return
	}

	ctx := context.Background()
	getOptions := execution.GetResultOptions{
		SegmentationKey: client.SegmentationKey,
		SegmentID:       client.SegmentID,
		IgnoreDBScores:  false,
	}
	provider.GetSegmentResult(ctx, getOptions, func(result *execution.SegmentResult) {
		if result == nil || predictionStatus(result.State) != segmentation.StatusSucceeded || !result.Result.IsValid() {
			state := execution.StateUnknown
			if result != nil {
				state = result.State
			}
			m.Logger.Infow("No result to refresh", "segmentation_key", client.SegmentationKey, "state", state.String())
			return
		}

		if result.State != execution.StateSuccessFromDatabase {
			m.collector.OnDecisionTime(client.SegmentID, nil, training.TriggerPeriodic)
		}
		m.writer.UpdatePrefsIfExpired(ctx, client, result.Result, m.options)
	})
}

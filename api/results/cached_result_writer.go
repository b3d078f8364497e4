package results

import (
	"context"
	"time"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// CachedResultWriter persists freshly computed results for clients served from cache,
// replacing the stored result only once it has expired.
type CachedResultWriter struct {
	config.Config
	store         ResultStore
	postProcessor *segmentation.PostProcessor
	now           func() time.Time
}

// NewCachedResultWriter creates a CachedResultWriter writing to store.
func NewCachedResultWriter(cfg *config.Config, store ResultStore) *CachedResultWriter {
	return &CachedResultWriter{
		Config:        *cfg,
		store:         store,
		postProcessor: segmentation.NewPostProcessor(),
		now:           time.Now,
	}
}

// UpdatePrefsIfExpired stores result for the client when the persisted result has
// expired, is missing, or a refresh is forced. On-demand clients are never cached.
func (w *CachedResultWriter) UpdatePrefsIfExpired(ctx context.Context, client config.ClientConfig, result segmentation.PredictionResult, options segmentation.PlatformOptions) {
	if client.OnDemandExecution {
		return
	}
	if !w.IsPrefUpdateRequiredForClient(ctx, client.SegmentationKey, options) {
		return
	}
	w.updateNewClientResult(ctx, client.SegmentationKey, result)
}

// IsPrefUpdateRequiredForClient reports whether the persisted result for key should be
// replaced. A stored result stays current until its write time plus its own TTL.
func (w *CachedResultWriter) IsPrefUpdateRequiredForClient(ctx context.Context, key string, options segmentation.PlatformOptions) bool {
	stored, err := w.store.ReadResult(ctx, key)
	if err != nil {
		w.Logger.Errorf("%+v", err)
		return true
	}
	if stored == nil {
		return true
	}

	expiration := stored.Timestamp.Add(w.postProcessor.GetTTLForPredictedResult(stored.Result))
	return options.ForceRefreshResults || !w.now().Before(expiration)
}

func (w *CachedResultWriter) updateNewClientResult(ctx context.Context, key string, result segmentation.PredictionResult) {
	previous, err := w.store.ReadResult(ctx, key)
	if err != nil {
		w.Logger.Errorf("%+v", err)
	}

	if err := w.store.WriteResult(ctx, key, ClientResult{Result: result, Timestamp: w.now()}); err != nil {
		w.Logger.Errorf("%+v", err)
		return
	}

	var previousScores []float32
	if previous != nil {
		previousScores = previous.Result.Scores
	}
	w.Logger.Infow("Updated cached result", "segmentation_key", key, "old_scores", previousScores, "new_scores", result.Scores)
}

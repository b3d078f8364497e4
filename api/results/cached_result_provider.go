package results

import (
	"context"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// Availability of a client's persisted result at startup.
const (
	availabilityAvailable = "available"
	availabilityAbsent    = "absent"
	availabilityInvalid   = "invalid"
)

// CachedResultProvider holds the results persisted by a previous session. The store is
// read once at construction and the snapshot is never refreshed afterwards.
type CachedResultProvider struct {
	config.Config
	postProcessor *segmentation.PostProcessor
	results       map[string]segmentation.PredictionResult
}

// NewCachedResultProvider reads the persisted result of every client and keeps the valid
// ones. Read errors are logged and treated as absent results.
func NewCachedResultProvider(ctx context.Context, cfg *config.Config, store ResultStore, clients []config.ClientConfig) *CachedResultProvider {
	p := &CachedResultProvider{
		Config:        *cfg,
		postProcessor: segmentation.NewPostProcessor(),
		results:       map[string]segmentation.PredictionResult{},
	}

	for _, client := range clients {
		key := client.SegmentationKey
		stored, err := store.ReadResult(ctx, key)
		if err != nil {
			p.Logger.Errorf("%+v", err)
		}

		availability := availabilityAbsent
		switch {
		case stored == nil:
			delete(p.results, key)
		case !stored.Result.IsValid():
			availability = availabilityInvalid
			delete(p.results, key)
		default:
			availability = availabilityAvailable
			p.results[key] = stored.Result
		}
		p.Logger.Infow("Loaded cached result", "segmentation_key", key, "availability", availability)
	}
	return p
}

// GetPredictionResultForClient returns the cached result for a client, if one was valid
// at startup.
func (p *CachedResultProvider) GetPredictionResultForClient(key string) (segmentation.PredictionResult, bool) {
	result, ok := p.results[key]
	return result, ok
}

// GetCachedResultForClient returns the labelled cached result for a client. Clients
// without a usable cached result get StatusFailed.
func (p *CachedResultProvider) GetCachedResultForClient(key string) segmentation.ClassificationResult {
	result, ok := p.GetPredictionResultForClient(key)
	if !ok {
		return segmentation.ClassificationResult{Status: segmentation.StatusFailed, OrderedLabels: []string{}}
	}

	status := segmentation.StatusFailed
	if result.IsValid() {
		status = segmentation.StatusSucceeded
	}
	classification, err := p.postProcessor.GetPostProcessedClassificationResult(p.postProcessor.GetRawResult(result, status))
	if err != nil {
		p.Logger.Warnw("Cached result could not be labelled", "segmentation_key", key, "error", err)
	}
	return classification
}

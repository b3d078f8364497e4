// Package execution computes raw segment results, either from fresh stored scores or by
// running the segment's model.
package execution

import (
	"context"
	"time"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/results"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// ResultState records where a segment result came from, or why there is none.
type ResultState int

const (
	// StateUnknown is the zero state.
	StateUnknown ResultState = iota
	// StateSuccessFromDatabase means a fresh stored score was served.
	StateSuccessFromDatabase
	// StateDatabaseScoreNotReady means the stored score was missing or stale.
	StateDatabaseScoreNotReady
	// StateSignalsNotCollected means the model inputs are still being collected.
	StateSignalsNotCollected
	// StateModelScoreUsed means the model was executed.
	StateModelScoreUsed
	// StateModelExecutionFailed means the model could not be executed.
	StateModelExecutionFailed
	// StateServerModelScoreUsed means a remotely computed score was used.
	StateServerModelScoreUsed
	// StateDefaultModelScoreUsed means the fallback scores were used.
	StateDefaultModelScoreUsed
	// StateDefaultModelExecutionFailed means the fallback was unavailable too.
	StateDefaultModelExecutionFailed
)

var stateNames = map[ResultState]string{
	StateUnknown:                     "unknown",
	StateSuccessFromDatabase:         "success_from_database",
	StateDatabaseScoreNotReady:       "database_score_not_ready",
	StateSignalsNotCollected:         "signals_not_collected",
	StateModelScoreUsed:              "model_score_used",
	StateModelExecutionFailed:        "model_execution_failed",
	StateServerModelScoreUsed:        "server_model_score_used",
	StateDefaultModelScoreUsed:       "default_model_score_used",
	StateDefaultModelExecutionFailed: "default_model_execution_failed",
}

func (s ResultState) String() string {
	return stateNames[s]
}

// SegmentResult is the outcome of computing a segment.
type SegmentResult struct {
	Result segmentation.PredictionResult
	State  ResultState
}

// GetResultOptions describes one segment result request.
type GetResultOptions struct {
	SegmentationKey string
	SegmentID       segmentation.SegmentID
	// Skip stored scores and always run the model.
	IgnoreDBScores bool
	Input          segmentation.InputContext
}

// SegmentResultProvider computes segment results asynchronously. The callback is invoked
// exactly once, with nil when no result could be produced at all.
type SegmentResultProvider interface {
	GetSegmentResult(ctx context.Context, options GetResultOptions, callback func(*SegmentResult))
}

// ModelSegmentResultProvider serves a client's segment from fresh stored scores when
// allowed, and otherwise runs its model, falling back to the client's default scores.
type ModelSegmentResultProvider struct {
	config.Config
	client        config.ClientConfig
	store         results.ResultStore
	executor      ModelExecutor
	postProcessor *segmentation.PostProcessor
	now           func() time.Time
}

// NewModelSegmentResultProvider creates the provider for one client.
func NewModelSegmentResultProvider(cfg *config.Config, client config.ClientConfig, store results.ResultStore, executor ModelExecutor) *ModelSegmentResultProvider {
	return &ModelSegmentResultProvider{
		Config:        *cfg,
		client:        client,
		store:         store,
		executor:      executor,
		postProcessor: segmentation.NewPostProcessor(),
		now:           time.Now,
	}
}

// GetSegmentResult implements SegmentResultProvider. The work runs on its own goroutine.
func (p *ModelSegmentResultProvider) GetSegmentResult(ctx context.Context, options GetResultOptions, callback func(*SegmentResult)) {
	go func() {
		callback(p.getSegmentResult(ctx, options))
	}()
}

func (p *ModelSegmentResultProvider) getSegmentResult(ctx context.Context, options GetResultOptions) *SegmentResult {
	if !options.IgnoreDBScores {
		if result, ok := p.storedScore(ctx); ok {
			return &SegmentResult{Result: result, State: StateSuccessFromDatabase}
		}
	}

	scores, err := p.executor.Execute(ctx, options.SegmentID, options.Input)
	if err == nil {
		return &SegmentResult{Result: p.predictionResult(scores), State: StateModelScoreUsed}
	}
	if IsSignalsNotCollected(err) {
		return &SegmentResult{State: StateSignalsNotCollected}
	}
	p.Logger.Warnw("Model execution failed", "segment_id", options.SegmentID, "error", err)

	if len(p.client.DefaultScores) == 0 {
		return &SegmentResult{State: StateModelExecutionFailed}
	}
	defaultScores := make([]float32, len(p.client.DefaultScores))
	copy(defaultScores, p.client.DefaultScores)
	return &SegmentResult{Result: p.predictionResult(defaultScores), State: StateDefaultModelScoreUsed}
}

// storedScore returns the client's persisted result while it is within its TTL.
func (p *ModelSegmentResultProvider) storedScore(ctx context.Context) (segmentation.PredictionResult, bool) {
	stored, err := p.store.ReadResult(ctx, p.client.SegmentationKey)
	if err != nil {
		p.Logger.Errorf("%+v", err)
		return segmentation.PredictionResult{}, false
	}
	if stored == nil || !stored.Result.IsValid() {
		return segmentation.PredictionResult{}, false
	}
	expiration := stored.Timestamp.Add(p.postProcessor.GetTTLForPredictedResult(stored.Result))
	if !p.now().Before(expiration) {
		return segmentation.PredictionResult{}, false
	}
	return stored.Result, true
}

func (p *ModelSegmentResultProvider) predictionResult(scores []float32) segmentation.PredictionResult {
	outputConfig := p.client.OutputConfig
	return segmentation.PredictionResult{
		Scores:       scores,
		OutputConfig: &outputConfig,
		Timestamp:    p.now(),
	}
}

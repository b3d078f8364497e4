package dispatch

import (
	"context"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/execution"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/training"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// TrainingDataCollector is notified of every decision and returns the id that later
// feedback is joined on.
type TrainingDataCollector interface {
	OnDecisionTime(segmentID segmentation.SegmentID, input segmentation.InputContext, trigger training.TriggerType) segmentation.TrainingRequestID
}

// Handler executes on-demand prediction requests for one client.
type Handler interface {
	GetPredictionResult(ctx context.Context, options segmentation.PredictionOptions, input segmentation.InputContext, callback func(segmentation.RawResult))
}

// RequestHandler computes a client's segment and reports it as a RawResult.
type RequestHandler struct {
	config.Config
	client        config.ClientConfig
	provider      execution.SegmentResultProvider
	collector     TrainingDataCollector
	postProcessor *segmentation.PostProcessor
}

// NewRequestHandler creates the handler for a single client.
func NewRequestHandler(cfg *config.Config, client config.ClientConfig, provider execution.SegmentResultProvider, collector TrainingDataCollector) *RequestHandler {
	return &RequestHandler{
		Config:        *cfg,
		client:        client,
		provider:      provider,
		collector:     collector,
		postProcessor: segmentation.NewPostProcessor(),
	}
}

// GetPredictionResult implements Handler. The callback runs on whatever goroutine the
// segment result provider completes on.
func (h *RequestHandler) GetPredictionResult(ctx context.Context, options segmentation.PredictionOptions, input segmentation.InputContext, callback func(segmentation.RawResult)) {
	if !options.OnDemandExecution {
		h.Logger.Warnw("Request handler used for a cached request", "segmentation_key", h.client.SegmentationKey)
	}

	getOptions := execution.GetResultOptions{
		SegmentationKey: h.client.SegmentationKey,
		SegmentID:       h.client.SegmentID,
		IgnoreDBScores:  options.OnDemandExecution,
		Input:           input,
	}
	h.provider.GetSegmentResult(ctx, getOptions, func(result *execution.SegmentResult) {
		if result == nil {
			callback(segmentation.RawResult{Status: segmentation.StatusFailed})
			return
		}

		raw := h.postProcessor.GetRawResult(result.Result, predictionStatus(result.State))
		raw.RequestID = h.collector.OnDecisionTime(h.client.SegmentID, input, training.TriggerOnDemand)
		callback(raw)
	})
}

func predictionStatus(state execution.ResultState) segmentation.PredictionStatus {
	switch state {
	case execution.StateSuccessFromDatabase,
		execution.StateDefaultModelScoreUsed,
		execution.StateModelScoreUsed,
		execution.StateServerModelScoreUsed:
		return segmentation.StatusSucceeded
	case execution.StateSignalsNotCollected:
		return segmentation.StatusNotReady
	default:
		return segmentation.StatusFailed
	}
}

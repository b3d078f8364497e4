// Package results persists the last computed result of each client and decides which of
// those results are served from cache.
package results

import (
	"context"
	"time"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
)

// ClientResult is a persisted prediction result together with the time it was written.
type ClientResult struct {
	Result    segmentation.PredictionResult `json:"result"`
	Timestamp time.Time                     `json:"timestamp"`
}

// ResultStore is the persisted key/value store holding one ClientResult per
// segmentation key.
type ResultStore interface {
	// ReadResult returns the stored result for key, or nil when there is none.
	ReadResult(ctx context.Context, key string) (*ClientResult, error)
	// WriteResult replaces the stored result for key.
	WriteResult(ctx context.Context, key string, result ClientResult) error
	// Close releases the store's resources.
	Close() error
}

// Package segmentation holds the data model shared by the request pipeline: prediction
// results as produced by model execution, the output configs describing how to read them,
// and the caller-facing classification and numeric results.
package segmentation

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SegmentID identifies a model (segment) owned by exactly one client.
type SegmentID string

// TrainingRequestID correlates a served result with later training feedback.
type TrainingRequestID string

// InputContext carries caller supplied arguments for a prediction request.
type InputContext map[string]interface{}

// PredictionStatus is the outcome of a result request.
type PredictionStatus int

const (
	// StatusSucceeded means the labels or scores are ready to use.
	StatusSucceeded PredictionStatus = iota
	// StatusFailed is terminal for the request; callers fall back to a default state.
	StatusFailed
	// StatusNotReady means the signals needed by the model are still being collected.
	StatusNotReady
)

var statusNames = map[PredictionStatus]string{
	StatusSucceeded: "succeeded",
	StatusFailed:    "failed",
	StatusNotReady:  "not_ready",
}

func (s PredictionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the status by name.
func (s PredictionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *PredictionStatus) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return errors.Errorf("unknown prediction status %q", text)
}

// PredictionOptions are the per-request options supplied by callers.
type PredictionOptions struct {
	OnDemandExecution bool `json:"on_demand_execution"`
}

// PlatformOptions are process wide switches affecting result caching.
type PlatformOptions struct {
	ForceRefreshResults bool
}

// PredictionResult is the raw output of a model together with the config describing it.
type PredictionResult struct {
	Scores       []float32     `json:"scores"`
	OutputConfig *OutputConfig `json:"output_config,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// IsValid reports whether the result has scores and a well formed classifier to
// interpret them.
func (r PredictionResult) IsValid() bool {
	return len(r.Scores) > 0 && r.OutputConfig.Validate() == nil
}

// RawResult is a prediction result tagged with its status and training request id.
type RawResult struct {
	Status    PredictionStatus  `json:"status"`
	Result    PredictionResult  `json:"result"`
	RequestID TrainingRequestID `json:"request_id,omitempty"`
}

// ClassificationResult is the labelled result handed to classification callers.
type ClassificationResult struct {
	Status        PredictionStatus  `json:"status"`
	OrderedLabels []string          `json:"ordered_labels"`
	RequestID     TrainingRequestID `json:"request_id,omitempty"`
}

// AnnotatedNumericResult is the unlabelled result handed to numeric callers.
type AnnotatedNumericResult struct {
	Status    PredictionStatus  `json:"status"`
	Result    PredictionResult  `json:"result"`
	RequestID TrainingRequestID `json:"request_id,omitempty"`
}

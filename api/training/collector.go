// Package training records the decisions served to callers so that later user feedback
// can be joined with them, and uploads those records to the training data sink.
package training

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/queue"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// TriggerType is the reason a decision was taken.
type TriggerType string

const (
	// TriggerOnDemand marks decisions computed for an on-demand request.
	TriggerOnDemand TriggerType = "on_demand"
	// TriggerPeriodic marks decisions computed by a cached result refresh.
	TriggerPeriodic TriggerType = "periodic"
)

// DecisionEvent is one served decision waiting for upload. Input holds the JSON encoded
// input context so the event stays gob friendly.
type DecisionEvent struct {
	RequestID    string
	SegmentID    string
	Trigger      TriggerType
	Input        []byte
	DecisionTime time.Time
}

// Collector mints training request ids and queues the matching decision events.
type Collector struct {
	config.Config
	outbox queue.RequestQueue
	now    func() time.Time
}

// NewCollector creates a Collector writing to outbox.
func NewCollector(cfg *config.Config, outbox queue.RequestQueue) *Collector {
	return &Collector{
		Config: *cfg,
		outbox: outbox,
		now:    time.Now,
	}
}

// OnDecisionTime records a decision and returns its training request id. The caller is
// never blocked: if the event can't be queued it is dropped and only logged.
func (c *Collector) OnDecisionTime(segmentID segmentation.SegmentID, input segmentation.InputContext, trigger TriggerType) segmentation.TrainingRequestID {
	requestID := uuid.New().String()

	encodedInput, err := json.Marshal(input)
	if err != nil {
		c.Logger.Warnw("Failed to encode decision input", "segment_id", segmentID, "error", err)
		encodedInput = nil
	}

	event := DecisionEvent{
		RequestID:    requestID,
		SegmentID:    string(segmentID),
		Trigger:      trigger,
		Input:        encodedInput,
		DecisionTime: c.now(),
	}
	ok, err := c.outbox.Enqueue(event)
	if err != nil {
		c.Logger.Errorf("%+v", err)
	} else if !ok {
		c.Logger.Warnw("Training outbox full, dropping decision", "segment_id", segmentID, "request_id", requestID)
	}
	return segmentation.TrainingRequestID(requestID)
}

// Pending returns the number of decisions waiting for upload.
func (c *Collector) Pending() int {
	return c.outbox.Size()
}

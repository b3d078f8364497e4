package training

import (
	"context"
	"net/http"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
	"github.com/vova616/xxhash"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/queue"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// Uploader services the decision outbox, submitting each event to the training data sink.
type Uploader struct {
	config.Config
	client  *graphql.Client
	outbox  queue.RequestQueue
	done    chan bool
	running bool
	mutex   *sync.RWMutex
}

// NewUploader creates a new instance of a decision uploader.
func NewUploader(cfg *config.Config, outbox queue.RequestQueue) *Uploader {
	// standard http client with our timeout
	httpClient := &http.Client{Timeout: cfg.Environment.TrainingSinkTimeout()}

	// graphql client that uses our http client - our timeout is applied transitively
	graphQLClient := graphql.NewClient(cfg.Environment.TrainingSinkAddr, graphql.WithHTTPClient(httpClient))

	return &Uploader{
		Config:  *cfg,
		client:  graphQLClient,
		outbox:  outbox,
		running: false,
		mutex:   &sync.RWMutex{},
	}
}

// Start initiates outbox servicing. If it is already running the call does nothing.
func (u *Uploader) Start() {
	u.mutex.Lock()
	if u.running {
		u.mutex.Unlock()
		return
	}
	u.running = true
	done := make(chan bool)
	u.done = done
	u.mutex.Unlock()

	// Read from the outbox until we get shut down.
	go func() {
		ticker := time.NewTicker(time.Duration(u.Environment.TrainingPollIntervalSec) * time.Second)
		defer ticker.Stop()
		for {
			u.Submit()
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends outbox servicing. It never blocks; an upload pass already in progress
// finishes in the background.
func (u *Uploader) Stop() {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if !u.running {
		return
	}
	u.running = false
	close(u.done)
}

// Running indicates whether or not the uploader routine has been stopped, or is currently
// running.
func (u *Uploader) Running() bool {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.running
}

// Submit uploads the events currently in the outbox. Events that fail to upload are put
// back for the next pass. It returns the number of events uploaded.
func (u *Uploader) Submit() int {
	count := u.outbox.Size()
	uploaded := 0
	for i := 0; i < count; i++ {
		data, err := u.outbox.Dequeue()
		if err != nil {
			u.Logger.Error(err)
			return uploaded
		}
		event, ok := data.(DecisionEvent)
		if !ok {
			u.Logger.Error(errors.Errorf("unhandled outbox entry type %s", reflect.TypeOf(data)))
			continue
		}

		if err := u.submitDecision(event); err != nil {
			u.Logger.Errorf("%+v", err)
			if _, err := u.outbox.Enqueue(event); err != nil {
				u.Logger.Error(err)
			}
			continue
		}
		uploaded++
	}
	return uploaded
}

// idempotencyKey identifies an event to the sink so retried uploads aren't recorded twice.
func idempotencyKey(event DecisionEvent) string {
	return strconv.FormatUint(uint64(xxhash.Checksum32([]byte(event.RequestID))), 16)
}

type decisionSubmissionResponse struct {
	RecordDecision struct {
		ID string
	} `json:"record_decision"`
}

// submitDecision sends one decision event to the training data sink.
func (u *Uploader) submitDecision(event DecisionEvent) error {
	mutation := graphql.NewRequest(`mutation($key: String, $requestId: String!, $segmentId: String!, $trigger: String!, $input: String, $decisionTime: Int!) {
		record_decision(input: {
			idempotency_key: $key,
			request_id: $requestId,
			segment_id: $segmentId,
			trigger: $trigger,
			input: $input,
			decision_time: $decisionTime
		}) {
			id
		}
	}`)
	mutation.Var("key", idempotencyKey(event))
	mutation.Var("requestId", event.RequestID)
	mutation.Var("segmentId", event.SegmentID)
	mutation.Var("trigger", string(event.Trigger))
	mutation.Var("input", string(event.Input))
	mutation.Var("decisionTime", event.DecisionTime.Unix())

	var respData decisionSubmissionResponse
	if err := u.client.Run(context.Background(), mutation, &respData); err != nil {
		return errors.Wrapf(err, "failed to upload decision %s", event.RequestID)
	}
	return nil
}

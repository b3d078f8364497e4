package training

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/queue"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
	"go.uber.org/zap"
)

func testConfig(sinkAddr string) *config.Config {
	return &config.Config{
		Logger: zap.NewNop().Sugar(),
		Environment: &config.Environment{
			TrainingSinkAddr:        sinkAddr,
			TrainingSinkTimeoutSec:  1,
			TrainingPollIntervalSec: 1,
		},
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// sink is a fake training data sink that records uploaded mutations and fails the first
// `failures` of them.
type sink struct {
	mutex    sync.Mutex
	requests []graphQLRequest
	failures int
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)
	var request graphQLRequest
	_ = json.Unmarshal(body, &request)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failures > 0 {
		s.failures--
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"sink unavailable"}]}`))
		return
	}
	s.requests = append(s.requests, request)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"data":{"record_decision":{"id":"1"}}}`))
}

func (s *sink) uploaded() []graphQLRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]graphQLRequest{}, s.requests...)
}

func TestCollectorMintsUniqueRequestIDs(t *testing.T) {
	outbox := queue.NewListFIFOQueue(10)
	collector := NewCollector(testConfig(""), outbox)

	first := collector.OnDecisionTime("shopping_model", segmentation.InputContext{"tab_count": 3}, TriggerOnDemand)
	second := collector.OnDecisionTime("shopping_model", nil, TriggerPeriodic)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, collector.Pending())

	items, err := outbox.GetAll()
	require.NoError(t, err)
	event := items[0].(DecisionEvent)
	assert.Equal(t, string(first), event.RequestID)
	assert.Equal(t, "shopping_model", event.SegmentID)
	assert.Equal(t, TriggerOnDemand, event.Trigger)
	assert.JSONEq(t, `{"tab_count":3}`, string(event.Input))
}

func TestCollectorDropsWhenOutboxFull(t *testing.T) {
	outbox := queue.NewListFIFOQueue(1)
	collector := NewCollector(testConfig(""), outbox)

	collector.OnDecisionTime("shopping_model", nil, TriggerOnDemand)
	dropped := collector.OnDecisionTime("shopping_model", nil, TriggerOnDemand)

	// the caller still gets an id even though the event was not kept
	assert.NotEmpty(t, dropped)
	assert.Equal(t, 1, outbox.Size())
}

func TestUploaderSubmitsQueuedDecisions(t *testing.T) {
	fake := &sink{}
	server := httptest.NewServer(fake)
	defer server.Close()

	cfg := testConfig(server.URL)
	outbox := queue.NewListFIFOQueue(10)
	collector := NewCollector(cfg, outbox)
	requestID := collector.OnDecisionTime("shopping_model", segmentation.InputContext{"tab_count": 3}, TriggerOnDemand)

	uploader := NewUploader(cfg, outbox)
	assert.Equal(t, 1, uploader.Submit())
	assert.Equal(t, 0, outbox.Size())

	requests := fake.uploaded()
	require.Len(t, requests, 1)
	assert.Equal(t, string(requestID), requests[0].Variables["requestId"])
	assert.Equal(t, "shopping_model", requests[0].Variables["segmentId"])
	assert.Equal(t, "on_demand", requests[0].Variables["trigger"])
	assert.NotEmpty(t, requests[0].Variables["key"])
}

func TestUploaderRequeuesFailedDecisions(t *testing.T) {
	fake := &sink{failures: 1}
	server := httptest.NewServer(fake)
	defer server.Close()

	cfg := testConfig(server.URL)
	outbox := queue.NewListFIFOQueue(10)
	collector := NewCollector(cfg, outbox)
	collector.OnDecisionTime("shopping_model", nil, TriggerOnDemand)

	uploader := NewUploader(cfg, outbox)
	assert.Equal(t, 0, uploader.Submit())
	assert.Equal(t, 1, outbox.Size())

	assert.Equal(t, 1, uploader.Submit())
	assert.Equal(t, 0, outbox.Size())
	assert.Len(t, fake.uploaded(), 1)
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	event := DecisionEvent{RequestID: "7d1b7c1e-0c1a-4f5e-9d57-8e7f4a3b2c10"}
	assert.Equal(t, idempotencyKey(event), idempotencyKey(event))
	assert.NotEqual(t, idempotencyKey(event), idempotencyKey(DecisionEvent{RequestID: "other"}))
}

func TestUploaderStartStop(t *testing.T) {
	fake := &sink{}
	server := httptest.NewServer(fake)
	defer server.Close()

	cfg := testConfig(server.URL)
	outbox := queue.NewListFIFOQueue(10)
	NewCollector(cfg, outbox).OnDecisionTime("shopping_model", nil, TriggerOnDemand)

	uploader := NewUploader(cfg, outbox)
	uploader.Start()
	uploader.Start()
	assert.True(t, uploader.Running())

	assert.Eventually(t, func() bool { return len(fake.uploaded()) == 1 }, time.Second, 10*time.Millisecond)

	uploader.Stop()
	assert.False(t, uploader.Running())
}

func TestUploaderConcurrentStops(t *testing.T) {
	fake := &sink{}
	server := httptest.NewServer(fake)
	defer server.Close()

	uploader := NewUploader(testConfig(server.URL), queue.NewListFIFOQueue(10))
	uploader.Start()

	stopped := make(chan bool)
	for i := 0; i < 3; i++ {
		go func() {
			uploader.Stop()
			stopped <- true
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-stopped:
		case <-time.After(time.Second):
			require.FailNow(t, "stop blocked")
		}
	}
	assert.False(t, uploader.Running())

	// a stopped uploader can be started again
	uploader.Start()
	assert.True(t, uploader.Running())
	uploader.Stop()
	uploader.Stop()
	assert.False(t, uploader.Running())
}

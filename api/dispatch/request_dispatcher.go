// Package dispatch routes segmentation result requests to the cached results or to the
// per-client request handlers, holding on-demand requests until their model is ready.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/execution"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/queue"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/results"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/sequence"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// Requests still waiting on a model when this elapses after platform initialization are
// dispatched anyway.
const modelInitializationTimeout = 200 * time.Millisecond

// pendingRequest is an on-demand request held until its client's model is ready.
type pendingRequest struct {
	options  segmentation.PredictionOptions
	input    segmentation.InputContext
	callback func(segmentation.RawResult)
}

// Status is a snapshot of the dispatcher for diagnostics.
type Status struct {
	State             string         `json:"state"`
	UninitializedKeys []string       `json:"uninitialized_keys"`
	Pending           map[string]int `json:"pending"`
	ShutDown          bool           `json:"shut_down"`
}

// Option customizes a RequestDispatcher.
type Option func(*RequestDispatcher)

// WithRequestHandlers injects the per-client handlers instead of building them from the
// result providers passed to OnPlatformInitialized.
func WithRequestHandlers(handlers map[string]Handler) Option {
	return func(d *RequestDispatcher) {
		d.handlers = handlers
		d.handlersInjected = true
	}
}

// WithRefresher sets the component that persists fresh results for cached clients.
func WithRefresher(refresher Refresher) Option {
	return func(d *RequestDispatcher) {
		d.refresher = refresher
	}
}

// WithInitializationTimeout overrides how long requests wait for models after
// initialization.
func WithInitializationTimeout(timeout time.Duration) Option {
	return func(d *RequestDispatcher) {
		d.initTimeout = timeout
	}
}

// RequestDispatcher is the entry point for all segmentation result requests. Callbacks are
// always delivered asynchronously on the dispatcher's runner and exactly once per request.
// On-demand requests for one key run one at a time, in arrival order.
type RequestDispatcher struct {
	config.Config
	clients          map[string]config.ClientConfig
	segmentKeys      map[segmentation.SegmentID]string
	cachedResults    *results.CachedResultProvider
	collector        TrainingDataCollector
	runner           *sequence.Runner
	postProcessor    *segmentation.PostProcessor
	refresher        Refresher
	initTimeout      time.Duration
	pendingQueueSize int

	mutex            *sync.Mutex
	status           *platformStatus
	handlers         map[string]Handler
	handlersInjected bool
	providers        map[string]execution.SegmentResultProvider
	pending          map[string]queue.RequestQueue
	released         map[string][]pendingRequest
	inFlight         map[string]bool
	shutDown         bool

	fallback     *sequence.Runner
	fallbackOnce *sync.Once
}

// NewRequestDispatcher creates a dispatcher for the given clients. Every client starts out
// waiting for its model.
func NewRequestDispatcher(cfg *config.Config, clients []config.ClientConfig, cachedResults *results.CachedResultProvider,
	collector TrainingDataCollector, runner *sequence.Runner, opts ...Option) *RequestDispatcher {
	d := &RequestDispatcher{
		Config:           *cfg,
		clients:          map[string]config.ClientConfig{},
		segmentKeys:      map[segmentation.SegmentID]string{},
		cachedResults:    cachedResults,
		collector:        collector,
		runner:           runner,
		postProcessor:    segmentation.NewPostProcessor(),
		initTimeout:      modelInitializationTimeout,
		pendingQueueSize: cfg.Environment.PendingQueueSize,
		mutex:            &sync.Mutex{},
		handlers:         map[string]Handler{},
		providers:        map[string]execution.SegmentResultProvider{},
		pending:          map[string]queue.RequestQueue{},
		released:         map[string][]pendingRequest{},
		inFlight:         map[string]bool{},
		fallbackOnce:     &sync.Once{},
	}

	keys := make([]string, 0, len(clients))
	for _, client := range clients {
		d.clients[client.SegmentationKey] = client
		d.segmentKeys[client.SegmentID] = client.SegmentationKey
		keys = append(keys, client.SegmentationKey)
	}
	d.status = newPlatformStatus(keys)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Client returns the config registered for a segmentation key.
func (d *RequestDispatcher) Client(key string) (config.ClientConfig, bool) {
	client, ok := d.clients[key]
	return client, ok
}

// GetClassificationResult delivers the labelled result for a client.
func (d *RequestDispatcher) GetClassificationResult(key string, options segmentation.PredictionOptions, input segmentation.InputContext,
	callback func(segmentation.ClassificationResult)) {
	d.GetModelResult(key, options, input, d.wrappedCallback(key, func(raw segmentation.RawResult) {
		result, err := d.postProcessor.GetPostProcessedClassificationResult(raw)
		if err != nil {
			d.Logger.Errorw("Failed to label result", "segmentation_key", key, "error", err)
		}
		callback(result)
	}))
}

// GetAnnotatedNumericResult delivers the unlabelled result for a client.
func (d *RequestDispatcher) GetAnnotatedNumericResult(key string, options segmentation.PredictionOptions, input segmentation.InputContext,
	callback func(segmentation.AnnotatedNumericResult)) {
	d.GetModelResult(key, options, input, d.wrappedCallback(key, func(raw segmentation.RawResult) {
		callback(d.postProcessor.GetAnnotatedNumericResult(raw))
	}))
}

// wrappedCallback logs the request latency and guards against a second invocation.
func (d *RequestDispatcher) wrappedCallback(key string, callback func(segmentation.RawResult)) func(segmentation.RawResult) {
	start := time.Now()
	once := &sync.Once{}
	return func(raw segmentation.RawResult) {
		once.Do(func() {
			d.Logger.Infow("Segmentation request complete",
				"segmentation_key", key,
				"status", raw.Status.String(),
				"latency_ms", time.Since(start).Milliseconds())
			callback(raw)
		})
	}
}

// GetModelResult delivers the raw result for a client. Requests for unregistered keys are
// dropped without a callback.
func (d *RequestDispatcher) GetModelResult(key string, options segmentation.PredictionOptions, input segmentation.InputContext,
	callback func(segmentation.RawResult)) {
	if _, ok := d.clients[key]; !ok {
		d.Logger.Warnw("Dropping request for unregistered client", "segmentation_key", key)
		return
	}

	if !options.OnDemandExecution {
		d.getCachedResult(key, callback)
		return
	}

	request := pendingRequest{options: options, input: input, callback: callback}

	d.mutex.Lock()
	if d.shutDown {
		d.mutex.Unlock()
		d.fail(callback)
		return
	}
	if d.status.shouldQueue(key) {
		err := d.enqueue(key, request)
		d.mutex.Unlock()
		if err != nil {
			d.Logger.Warnw("Failed to queue request", "segmentation_key", key, "error", err)
			d.fail(callback)
		}
		return
	}
	d.mutex.Unlock()

	d.release(key, []pendingRequest{request})
}

func (d *RequestDispatcher) getCachedResult(key string, callback func(segmentation.RawResult)) {
	raw := segmentation.RawResult{Status: segmentation.StatusFailed}
	if result, ok := d.cachedResults.GetPredictionResultForClient(key); ok {
		raw = d.postProcessor.GetRawResult(result, segmentation.StatusSucceeded)
	}
	d.post(func() { callback(raw) })
}

// release hands requests that no longer have to wait to the key's dispatch chain, starting
// the chain when it is idle.
func (d *RequestDispatcher) release(key string, requests []pendingRequest) {
	d.mutex.Lock()
	d.released[key] = append(d.released[key], requests...)
	start := !d.inFlight[key] && len(d.released[key]) > 0
	if start {
		d.inFlight[key] = true
	}
	d.mutex.Unlock()

	if start {
		d.post(func() { d.dispatchNext(key) })
	}
}

// dispatchNext runs the oldest released request of a key. The following one is started
// only after this request's callback has run.
func (d *RequestDispatcher) dispatchNext(key string) {
	d.mutex.Lock()
	released := d.released[key]
	if len(released) == 0 {
		delete(d.released, key)
		d.inFlight[key] = false
		d.mutex.Unlock()
		return
	}
	request := released[0]
	d.released[key] = released[1:]
	d.mutex.Unlock()

	d.dispatch(key, request, func() { d.dispatchNext(key) })
}

// dispatch runs an on-demand request now, or fails it when initialization failed. next runs
// on the sequence right after the request's callback.
func (d *RequestDispatcher) dispatch(key string, request pendingRequest, next func()) {
	complete := func(raw segmentation.RawResult) {
		d.post(func() {
			request.callback(raw)
			next()
		})
	}

	d.mutex.Lock()
	failed := d.status.failed() || d.shutDown
	handler := d.handlers[key]
	d.mutex.Unlock()

	if failed {
		complete(segmentation.RawResult{Status: segmentation.StatusFailed})
		return
	}
	if handler == nil {
		d.Logger.Warnw("No request handler for client", "segmentation_key", key)
		complete(segmentation.RawResult{Status: segmentation.StatusFailed})
		return
	}

	handler.GetPredictionResult(context.Background(), request.options, request.input, complete)
}

// enqueue must be called with the mutex held.
func (d *RequestDispatcher) enqueue(key string, request pendingRequest) error {
	pending, ok := d.pending[key]
	if !ok {
		pending = queue.NewListFIFOQueue(d.pendingQueueSize)
		d.pending[key] = pending
	}
	ok, err := pending.Enqueue(request)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("pending queue full at %d requests", pending.Size())
	}
	return nil
}

// takePending removes the requests waiting on a key. It must be called with the mutex held.
func (d *RequestDispatcher) takePending(key string) []pendingRequest {
	pending, ok := d.pending[key]
	if !ok {
		return nil
	}
	items, err := pending.Drain()
	if err != nil {
		d.Logger.Errorf("%+v", err)
	}
	requests := make([]pendingRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, item.(pendingRequest))
	}
	return requests
}

// flush releases the requests waiting on a key in arrival order.
func (d *RequestDispatcher) flush(key string, requests []pendingRequest) {
	if len(requests) == 0 {
		return
	}
	d.Logger.Infow("Dispatching queued requests", "segmentation_key", key, "count", len(requests))
	d.release(key, requests)
}

// OnPlatformInitialized records the platform initialization outcome. Unless handlers were
// injected, one RequestHandler is built per client from providers. Requests still waiting
// when the initialization timeout fires are dispatched regardless of model readiness.
func (d *RequestDispatcher) OnPlatformInitialized(success bool, providers map[string]execution.SegmentResultProvider) {
	flushed := map[string][]pendingRequest{}

	d.mutex.Lock()
	for key, provider := range providers {
		d.providers[key] = provider
		if client, ok := d.clients[key]; ok && !d.handlersInjected {
			d.handlers[key] = NewRequestHandler(&d.Config, client, provider, d.collector)
		}
	}
	d.status.initialized(success)
	for key := range d.pending {
		if !d.status.shouldQueue(key) {
			flushed[key] = d.takePending(key)
		}
	}
	state := d.status.state
	d.mutex.Unlock()

	d.Logger.Infow("Platform initialized", "success", success, "state", state.String())
	for key, requests := range flushed {
		d.flush(key, requests)
	}

	d.runner.PostDelayed(d.initTimeout, d.onInitializationTimeout)
}

func (d *RequestDispatcher) onInitializationTimeout() {
	flushed := map[string][]pendingRequest{}

	d.mutex.Lock()
	keys := d.status.timedOut()
	for key := range d.pending {
		flushed[key] = d.takePending(key)
	}
	d.mutex.Unlock()

	if len(keys) > 0 {
		sort.Strings(keys)
		d.Logger.Warnw("Model initialization timed out", "segmentation_keys", keys)
	}
	for key, requests := range flushed {
		d.flush(key, requests)
	}
}

// OnModelUpdated marks the model of a segment as ready, dispatching the requests waiting on
// it, and refreshes the persisted result of cached clients.
func (d *RequestDispatcher) OnModelUpdated(segmentID segmentation.SegmentID) {
	key, ok := d.segmentKeys[segmentID]
	if !ok {
		d.Logger.Warnw("Model updated for unknown segment", "segment_id", segmentID)
		return
	}

	var requests []pendingRequest
	d.mutex.Lock()
	d.status.modelReady(key)
	if !d.status.shouldQueue(key) {
		requests = d.takePending(key)
	}
	provider := d.providers[key]
	d.mutex.Unlock()

	d.Logger.Infow("Model updated", "segment_id", segmentID, "segmentation_key", key)
	d.flush(key, requests)

	client := d.clients[key]
	if d.refresher != nil && provider != nil && !client.OnDemandExecution {
		d.refresher.RefreshModelResults(client, provider)
	}
}

// Status returns a snapshot of the dispatcher state.
func (d *RequestDispatcher) Status() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	keys := d.status.waitingKeys()
	sort.Strings(keys)
	pending := map[string]int{}
	for key, requests := range d.pending {
		pending[key] = requests.Size()
	}
	for key, requests := range d.released {
		pending[key] += len(requests)
	}
	return Status{
		State:             d.status.state.String(),
		UninitializedKeys: keys,
		Pending:           pending,
		ShutDown:          d.shutDown,
	}
}

// Shutdown fails every waiting request and every request made afterwards.
func (d *RequestDispatcher) Shutdown() {
	var requests []pendingRequest

	d.mutex.Lock()
	if d.shutDown {
		d.mutex.Unlock()
		return
	}
	d.shutDown = true
	for key, pending := range d.pending {
		requests = append(requests, d.takePending(key)...)
		if err := pending.Close(); err != nil {
			d.Logger.Error(err)
		}
	}
	d.pending = map[string]queue.RequestQueue{}
	for _, released := range d.released {
		requests = append(requests, released...)
	}
	d.released = map[string][]pendingRequest{}
	d.mutex.Unlock()

	d.Logger.Infow("Dispatcher shutting down", "failed_requests", len(requests))
	for _, request := range requests {
		d.fail(request.callback)
	}
}

func (d *RequestDispatcher) fail(callback func(segmentation.RawResult)) {
	d.post(func() { callback(segmentation.RawResult{Status: segmentation.StatusFailed}) })
}

// post runs a task on the runner. Once the runner has stopped, tasks go to a fallback
// sequence owned by the dispatcher so callbacks stay asynchronous and ordered.
func (d *RequestDispatcher) post(task func()) {
	if d.runner.Post(task) {
		return
	}
	d.fallbackOnce.Do(func() {
		d.Logger.Warn("Runner stopped, delivering callbacks on the fallback sequence")
		d.fallback = sequence.NewRunner()
	})
	d.fallback.Post(task)
}

package routes

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/dispatch"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// Dispatcher is the part of the request dispatcher the routes depend on.
type Dispatcher interface {
	Client(key string) (config.ClientConfig, bool)
	GetClassificationResult(key string, options segmentation.PredictionOptions, input segmentation.InputContext, callback func(segmentation.ClassificationResult))
	GetAnnotatedNumericResult(key string, options segmentation.PredictionOptions, input segmentation.InputContext, callback func(segmentation.AnnotatedNumericResult))
	OnModelUpdated(segmentID segmentation.SegmentID)
	Status() dispatch.Status
}

// PredictionRequestData is the body of a result request. When on_demand_execution is
// omitted the client's configured mode is used.
type PredictionRequestData struct {
	OnDemandExecution *bool                     `json:"on_demand_execution,omitempty"`
	InputContext      segmentation.InputContext `json:"input_context,omitempty"`
}

// parsePredictionRequest resolves the client and options of a result request, writing the
// error response itself when it fails.
func parsePredictionRequest(cfg *config.Config, dispatcher Dispatcher, w http.ResponseWriter, r *http.Request) (string, segmentation.PredictionOptions, segmentation.InputContext, bool) {
	key := chi.URLParam(r, "key")
	client, ok := dispatcher.Client(key)
	if !ok {
		handleErrorType(w, errors.Errorf("unknown segmentation key %s", key), http.StatusNotFound, cfg.Logger)
		return "", segmentation.PredictionOptions{}, nil, false
	}

	var requestData PredictionRequestData
	body, err := ioutil.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		handleErrorType(w, errors.Wrap(err, "failed to read request body"), http.StatusBadRequest, cfg.Logger)
		return "", segmentation.PredictionOptions{}, nil, false
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &requestData); err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to unmarshal request body"), http.StatusBadRequest, cfg.Logger)
			return "", segmentation.PredictionOptions{}, nil, false
		}
	}

	options := segmentation.PredictionOptions{OnDemandExecution: client.OnDemandExecution}
	if requestData.OnDemandExecution != nil {
		options.OnDemandExecution = *requestData.OnDemandExecution
	}
	return key, options, requestData.InputContext, true
}

// ClassificationRequest creates a post request handler that waits for the labelled result
// of a client, up to the configured request timeout.
func ClassificationRequest(cfg *config.Config, dispatcher Dispatcher) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		key, options, input, ok := parsePredictionRequest(cfg, dispatcher, w, r)
		if !ok {
			return
		}

		results := make(chan segmentation.ClassificationResult, 1)
		dispatcher.GetClassificationResult(key, options, input, func(result segmentation.ClassificationResult) {
			results <- result
		})

		select {
		case result := <-results:
			handleJSON(w, r, http.StatusOK, result)
		case <-time.After(cfg.Environment.RequestTimeout()):
			handleErrorType(w, errors.Errorf("timed out waiting for %s", key), http.StatusGatewayTimeout, cfg.Logger)
		case <-r.Context().Done():
			cfg.Logger.Infow("Request cancelled", "segmentation_key", key)
		}
	}
}

// NumericRequest creates a post request handler that waits for the unlabelled result of a
// client, up to the configured request timeout.
func NumericRequest(cfg *config.Config, dispatcher Dispatcher) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		key, options, input, ok := parsePredictionRequest(cfg, dispatcher, w, r)
		if !ok {
			return
		}

		results := make(chan segmentation.AnnotatedNumericResult, 1)
		dispatcher.GetAnnotatedNumericResult(key, options, input, func(result segmentation.AnnotatedNumericResult) {
			results <- result
		})

		select {
		case result := <-results:
			handleJSON(w, r, http.StatusOK, result)
		case <-time.After(cfg.Environment.RequestTimeout()):
			handleErrorType(w, errors.Errorf("timed out waiting for %s", key), http.StatusGatewayTimeout, cfg.Logger)
		case <-r.Context().Done():
			cfg.Logger.Infow("Request cancelled", "segmentation_key", key)
		}
	}
}

// ModelUpdatedRequest creates a put request handler that notifies the dispatcher a segment's
// model is ready.
func ModelUpdatedRequest(cfg *config.Config, dispatcher Dispatcher) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		segmentID := segmentation.SegmentID(chi.URLParam(r, "segmentID"))
		if segmentID == "" {
			handleErrorType(w, errors.New("segment id missing"), http.StatusBadRequest, cfg.Logger)
			return
		}
		dispatcher.OnModelUpdated(segmentID)
		w.WriteHeader(http.StatusNoContent)
	}
}

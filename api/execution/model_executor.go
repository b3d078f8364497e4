package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
)

// ErrSignalsNotCollected is returned by executors whose model inputs aren't available yet.
var ErrSignalsNotCollected = errors.New("signals not collected")

// IsSignalsNotCollected reports whether err was caused by ErrSignalsNotCollected.
func IsSignalsNotCollected(err error) bool {
	return errors.Cause(err) == ErrSignalsNotCollected
}

// ModelExecutor runs segment models.
type ModelExecutor interface {
	// Execute returns the raw scores of a segment's model.
	Execute(ctx context.Context, segmentID segmentation.SegmentID, input segmentation.InputContext) ([]float32, error)
	// Ready reports whether a segment's model is loaded and can be executed.
	Ready(ctx context.Context, segmentID segmentation.SegmentID) (bool, error)
}

// HTTPModelExecutor executes models hosted by a model server over its REST API.
type HTTPModelExecutor struct {
	addr       string
	httpClient *http.Client
}

// NewHTTPModelExecutor creates an executor for the model server at addr.
func NewHTTPModelExecutor(addr string, timeout time.Duration) *HTTPModelExecutor {
	return &HTTPModelExecutor{
		addr:       addr,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Inputs segmentation.InputContext `json:"inputs"`
}

type predictResponse struct {
	Scores []float32 `json:"scores"`
}

type statusResponse struct {
	Ready bool `json:"ready"`
}

func (e *HTTPModelExecutor) segmentURL(segmentID segmentation.SegmentID) string {
	return fmt.Sprintf("%s/v1/segments/%s", e.addr, url.PathEscape(string(segmentID)))
}

// Execute implements ModelExecutor. A 409 from the server means the model's signals
// haven't been collected yet.
func (e *HTTPModelExecutor) Execute(ctx context.Context, segmentID segmentation.SegmentID, input segmentation.InputContext) ([]float32, error) {
	if input == nil {
		input = segmentation.InputContext{}
	}
	body, err := json.Marshal(predictRequest{Inputs: input})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal predict request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.segmentURL(segmentID)+":predict", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create predict request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute segment %s", segmentID)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return nil, errors.Wrapf(ErrSignalsNotCollected, "segment %s", segmentID)
	default:
		message, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("model server error for segment %s: status=%d, body=%s", segmentID, resp.StatusCode, message)
	}

	var prediction predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, errors.Wrapf(err, "failed to decode scores for segment %s", segmentID)
	}
	return prediction.Scores, nil
}

// Ready implements ModelExecutor.
func (e *HTTPModelExecutor) Ready(ctx context.Context, segmentID segmentation.SegmentID) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.segmentURL(segmentID), nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to create status request")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "failed to fetch status of segment %s", segmentID)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("model server status error for segment %s: status=%d", segmentID, resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, errors.Wrapf(err, "failed to decode status of segment %s", segmentID)
	}
	return status.Ready, nil
}

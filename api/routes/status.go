package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/dispatch"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// TrainingUploader is the part of the training uploader the routes depend on.
type TrainingUploader interface {
	Start()
	Stop()
	Running() bool
}

// TrainingOutbox reports the number of decisions waiting for upload.
type TrainingOutbox interface {
	Pending() int
}

// StatusResponse provides the dispatcher state along with the number of decisions waiting
// for upload, and whether or not the uploader routine is running.
type StatusResponse struct {
	Dispatcher       dispatch.Status `json:"dispatcher"`
	TrainingCount    int             `json:"training_count"`
	TrainingUploader bool            `json:"training_uploader_running"`
}

// StatusRequest creates a get request handler that will return status info for the
// dispatcher and training uploader.
func StatusRequest(cfg *config.Config, dispatcher Dispatcher, outbox TrainingOutbox, uploader TrainingUploader) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handleJSON(w, r, http.StatusOK, StatusResponse{
			Dispatcher:       dispatcher.Status(),
			TrainingCount:    outbox.Pending(),
			TrainingUploader: uploader.Running(),
		})
	}
}

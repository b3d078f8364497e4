package routes

import (
	"net/http"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// StartTrainingRequest will start the training uploader task. If its already running then
// the request does nothing.
func StartTrainingRequest(cfg *config.Config, uploader TrainingUploader) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		uploader.Start()
		cfg.Logger.Infow("Training uploader started")
	}
}

// StopTrainingRequest will stop the training uploader task. Decisions keep accumulating in
// the outbox until it is started again.
func StopTrainingRequest(cfg *config.Config, uploader TrainingUploader) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		uploader.Stop()
		cfg.Logger.Infow("Training uploader stopped")
	}
}

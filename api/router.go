package api

import (
	"compress/flate"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	api_middleware "gitlab.uncharted.software/WM/wm-segmentation-queue/api/middleware"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/routes"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

// NewRouter returns a chi router with endpoints registered.
func NewRouter(cfg config.Config, dispatcher routes.Dispatcher, outbox routes.TrainingOutbox, uploader routes.TrainingUploader) (chi.Router, error) {

	// Setup the router and configure baseline middleware
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(api_middleware.Logger(cfg.Logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(flate.DefaultCompression))

	// Configure CORS handling
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Route("/segmentation", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/{key}/classification", routes.ClassificationRequest(&cfg, dispatcher))
		r.Post("/{key}/numeric", routes.NumericRequest(&cfg, dispatcher))
		r.Put("/segments/{segmentID}/model-updated", routes.ModelUpdatedRequest(&cfg, dispatcher)) // PUT instead of POST due to idempotency
		r.Get("/status", routes.StatusRequest(&cfg, dispatcher, outbox, uploader))
	})

	r.Route("/training", func(r chi.Router) {
		r.Put("/start", routes.StartTrainingRequest(&cfg, uploader))
		r.Put("/stop", routes.StopTrainingRequest(&cfg, uploader))
	})

	return r, nil
}

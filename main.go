package main

import (
	"context"
	"encoding/gob"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/dispatch"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/execution"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/queue"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/results"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/sequence"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/training"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
)

const envFile = "wm.env"

var (
	// populated at compile time based on data injected by the makefile
	version   = "unset"
	timestamp = "unset"
)

func main() {
	// Load environment
	env, err := config.Load(envFile)
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	cfg, err := config.NewConfig(env)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = cfg.Logger.Sync()
	}()
	sugar := cfg.Logger

	// Log version
	sugar.Infof("Version: %s Timestamp: %s", version, timestamp)

	// Log config
	sugar.Info(env)

	clients, err := config.LoadClients(env.ClientsFile)
	if err != nil {
		sugar.Fatalf("%+v", err)
	}
	sugar.Infof("Loaded %d segmentation clients from %s", len(clients), env.ClientsFile)

	// Setup the result store. The platform still comes up without its store, but on-demand
	// requests then fail until restart.
	ctx := context.Background()
	storageReady := true
	var store results.ResultStore
	switch env.ResultStore {
	case "redis":
		store, err = results.NewRedisStore(ctx, env.RedisAddr, env.RedisDB, env.RedisKeyPrefix)
		if err != nil {
			sugar.Errorf("%+v", err)
			store = results.NewMemoryStore()
			storageReady = false
		}
	case "memory":
		// in-memory store, results do not survive a restart
		store = results.NewMemoryStore()
	default:
		sugar.Fatalf("Invalid result store: %s", env.ResultStore)
	}
	defer func() {
		if err := store.Close(); err != nil {
			sugar.Error(err)
		}
	}()

	cachedResults := results.NewCachedResultProvider(ctx, cfg, store, clients)
	writer := results.NewCachedResultWriter(cfg, store)

	// Setup the training outbox
	var outbox queue.RequestQueue
	if env.TrainingPersistedQueue {
		// The gob package that the persisted queue uses for storing data requires a one-time registration
		// of any structures that it stores.
		gob.Register(training.DecisionEvent{})
		outbox, err = queue.NewPersistedFIFOQueue(env.TrainingQueueSize, env.TrainingQueueDir, env.TrainingQueueName)
		if err != nil {
			sugar.Fatalf("%+v", err)
		}
		sugar.Infof("Loaded training queue with %d entries from %s%s", outbox.Size(), env.TrainingQueueDir, env.TrainingQueueName)
	} else {
		// in-memory queue, data does not survive a restart
		outbox = queue.NewListFIFOQueue(env.TrainingQueueSize)
	}
	defer func() {
		if err := outbox.Close(); err != nil {
			sugar.Error(err)
		}
	}()

	collector := training.NewCollector(cfg, outbox)
	uploader := training.NewUploader(cfg, outbox)

	// Setup the dispatcher and the per-client result providers
	runner := sequence.NewRunner()
	executor := execution.NewHTTPModelExecutor(env.ModelServerAddr, env.ModelServerTimeout())
	providers := map[string]execution.SegmentResultProvider{}
	segments := make([]segmentation.SegmentID, 0, len(clients))
	for _, client := range clients {
		providers[client.SegmentationKey] = execution.NewModelSegmentResultProvider(cfg, client, store, executor)
		segments = append(segments, client.SegmentID)
	}
	refresher := dispatch.NewRefreshManager(cfg, writer, collector)
	dispatcher := dispatch.NewRequestDispatcher(cfg, clients, cachedResults, collector, runner, dispatch.WithRefresher(refresher))
	dispatcher.OnPlatformInitialized(storageReady, providers)

	// Setup router
	r, err := api.NewRouter(*cfg, dispatcher, collector, uploader)
	if err != nil {
		sugar.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Watch for models becoming ready
	prober := execution.NewProber(cfg, executor, time.Duration(env.ModelProbeIntervalMs)*time.Millisecond, dispatcher.OnModelUpdated)
	go func() {
		if err := prober.Run(ctx, segments); err != nil && err != context.Canceled {
			sugar.Errorf("%+v", err)
		}
	}()

	// Start uploading decisions
	if env.TrainingSinkAddr != "" {
		uploader.Start()
	} else {
		sugar.Warn("No training sink configured, decisions are kept in the outbox")
	}

	// Start listening
	server := &http.Server{Addr: env.Addr, Handler: r}
	go func() {
		sugar.Infof("Listening on %s", env.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatal(err)
		}
	}()

	<-ctx.Done()
	sugar.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.RequestTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Error(err)
	}
	dispatcher.Shutdown()
	runner.Stop()
	uploader.Stop()
}

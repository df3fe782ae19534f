package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentiment-backend/cmd"
	"sentiment-backend/internal/api"
	"sentiment-backend/internal/config"
	"sentiment-backend/internal/core"
	"sentiment-backend/internal/database"
	"sentiment-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	Port          int    `env:"PORT" envDefault:"8001"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"data/sentiment.db"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`
	ModelDir      string `env:"MODEL_DIR"`
	LocalModelDir string `env:"LOCAL_MODEL_DIR" envDefault:"models/runs"`
	RunWorker     bool   `env:"RUN_WORKER" envDefault:"true"`
	LogFile       string `env:"LOG_FILE"`
}

func createServer(service *api.BackendService, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", service.AddRoutes)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if cfg.LogFile != "" {
		closeLog, err := cmd.TeeLogFile(cfg.LogFile)
		if err != nil {
			log.Fatalf("error setting up logging: %v", err)
		}
		defer closeLog()
	}

	trainingCfg, err := config.LoadTraining()
	if err != nil {
		log.Fatalf("error loading training config: %v", err)
	}
	storageCfg, err := config.LoadStorage()
	if err != nil {
		log.Fatalf("error loading storage config: %v", err)
	}

	slog.Info("starting backend", "port", cfg.Port, "artifact_store", storageCfg.ArtifactStore, "model_dir", cfg.ModelDir, "run_worker", cfg.RunWorker)

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewObjectStore(storageCfg)
	if err != nil {
		log.Fatalf("Failed to create artifact store: %v", err)
	}
	if err := store.CreateBucket(context.Background(), storageCfg.ArtifactBucket); err != nil {
		log.Fatalf("Failed to create model bucket: %v", err)
	}

	queue, err := cmd.NewQueue(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}

	loaders := cmd.TokenizerLoaders()

	var defaultModel api.Predictor
	if cfg.ModelDir != "" {
		predictor, err := core.LoadPredictor(cfg.ModelDir, loaders)
		if err != nil {
			log.Fatalf("Failed to load default model: %v", err)
		}
		defer predictor.Close()
		defaultModel = predictor
	} else {
		slog.Warn("MODEL_DIR not set, predictions require a RunId")
	}

	runModels := core.NewModelCache(store, storageCfg.ArtifactBucket, cfg.LocalModelDir, loaders)
	defer runModels.Close()

	service := api.NewBackendService(db, queue.Publisher, trainingCfg, defaultModel, runModels)
	server := createServer(service, cfg.Port)

	var worker *core.TaskProcessor
	if cfg.RunWorker {
		worker = core.NewTaskProcessor(db, store, queue.Publisher, queue.Reciever, trainingCfg, cfg.LocalModelDir, storageCfg.ArtifactBucket, loaders)

		interrupted, err := database.FailInterruptedRuns(context.Background(), db)
		if err != nil {
			log.Fatalf("Failed to mark interrupted runs: %v", err)
		}
		if interrupted > 0 {
			slog.Warn("marked interrupted runs as failed", "count", interrupted)
		}

		slog.Info("starting worker")
		go worker.Start()

		if err := cmd.RequeueQueuedRuns(context.Background(), db, queue.Publisher); err != nil {
			log.Fatalf("Failed to requeue pending runs: %v", err)
		}
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		if worker != nil {
			slog.Info("shutting down worker")
			worker.Stop()
		} else {
			queue.Publisher.Close()
			queue.Reciever.Close()
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}

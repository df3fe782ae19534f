package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sentiment-backend/cmd"
	"sentiment-backend/internal/config"
	"sentiment-backend/internal/core"
	"sentiment-backend/internal/report"
	"sentiment-backend/internal/storage"
)

var (
	configPath = flag.String("config", "", "yaml file overriding the training settings from the environment")
	upload     = flag.Bool("upload", false, "upload the saved model to the configured artifact store")
	noProgress = flag.Bool("no-progress", false, "disable the per-epoch progress bars")
)

func uploadModel(ctx context.Context, dir string) error {
	storageCfg, err := config.LoadStorage()
	if err != nil {
		return err
	}

	store, err := storage.NewObjectStore(storageCfg)
	if err != nil {
		return fmt.Errorf("error creating artifact store: %w", err)
	}

	if err := store.CreateBucket(ctx, storageCfg.ArtifactBucket); err != nil {
		return err
	}

	key := filepath.Base(dir)
	if err := store.UploadDir(ctx, storageCfg.ArtifactBucket, key, dir); err != nil {
		return err
	}
	slog.Info("uploaded model", "store", storageCfg.ArtifactStore, "bucket", storageCfg.ArtifactBucket, "key", key)
	return nil
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.LoadTraining()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if *configPath != "" {
		if err := cfg.ApplyYAML(*configPath); err != nil {
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	closeLog, err := cmd.TeeLogFile(filepath.Join(cfg.ReportDir, "train.log"))
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loaders := cmd.TokenizerLoaders()

	exp, err := core.LoadExperiment(cfg, loaders)
	if err != nil {
		log.Fatalf("error preparing experiment: %v", err)
	}
	defer exp.Close()

	slog.Info("starting training", "device", exp.Device, "pretrained", exp.Pretrained, "epochs", cfg.Epochs,
		"train_samples", len(exp.TrainSamples), "test_samples", len(exp.TestSamples), "trainable_groups", exp.Model.Groups())

	console := report.NewConsole(os.Stdout, cfg.Epochs)
	observer := report.Observer(console, os.Stderr)
	if *noProgress {
		observer = report.Observer(console, nil)
	}

	history, eval, err := exp.Run(ctx, observer)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	if err := exp.Save(cfg.OutputDir, history); err != nil {
		log.Fatalf("error saving model: %v", err)
	}

	console.Evaluation(eval)

	plots, err := report.WritePlots(cfg.ReportDir, history, eval)
	if err != nil {
		log.Fatalf("error writing plots: %v", err)
	}
	for _, path := range plots {
		slog.Info("wrote plot", "path", path)
	}

	console.Samples(exp.TestSamples, eval.Predictions, cfg.SamplePredictions)

	predictor, err := core.LoadPredictor(cfg.OutputDir, loaders)
	if err != nil {
		log.Fatalf("error reloading saved model: %v", err)
	}
	defer predictor.Close()

	if cfg.InferenceText != "" {
		prediction, err := predictor.Predict(cfg.InferenceText)
		if err != nil {
			log.Fatalf("error predicting sample sentence: %v", err)
		}
		console.Inference(cfg.InferenceText, prediction.Label, prediction.Confidence)
	}

	if *upload {
		if err := uploadModel(ctx, cfg.OutputDir); err != nil {
			log.Fatalf("error uploading model: %v", err)
		}
	}
}

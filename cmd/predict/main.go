package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"sentiment-backend/cmd"
	"sentiment-backend/internal/config"
	"sentiment-backend/internal/core"
	"sentiment-backend/internal/report"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ModelDir string `env:"MODEL_DIR" envDefault:"models/bert_sentiment_model"`
}

var (
	evaluate = flag.Bool("eval", false, "re-evaluate the saved model on the held-out split and compare with the saved metrics")
)

func evaluateSaved(ctx context.Context, predictor *core.Predictor, dir string, console *report.Console) error {
	cfg, err := config.LoadTraining()
	if err != nil {
		return err
	}
	eval, err := core.EvaluateSaved(ctx, predictor, dir, cfg)
	if err != nil {
		return err
	}
	console.Evaluation(eval.Result)

	if eval.Saved != nil {
		fmt.Printf("Saved Accuracy: %.4f, F1 Score: %.4f\n", eval.Saved.Accuracy, eval.Saved.F1)
		if !eval.Matches() {
			slog.Warn("evaluation differs from saved metrics",
				"saved_accuracy", eval.Saved.Accuracy, "accuracy", eval.Result.Accuracy,
				"saved_f1", eval.Saved.F1, "f1", eval.Result.F1)
		}
	}
	return nil
}

func readTexts() ([]string, error) {
	if flag.NArg() > 0 {
		return flag.Args(), nil
	}

	var texts []string
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			texts = append(texts, line)
		}
	}
	return texts, scanner.Err()
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	predictor, err := core.LoadPredictor(cfg.ModelDir, cmd.TokenizerLoaders())
	if err != nil {
		log.Fatalf("error loading model: %v", err)
	}
	defer predictor.Close()

	console := report.NewConsole(os.Stdout, 0)

	if *evaluate {
		if err := evaluateSaved(context.Background(), predictor, cfg.ModelDir, console); err != nil {
			log.Fatalf("error evaluating model: %v", err)
		}
		return
	}

	texts, err := readTexts()
	if err != nil {
		log.Fatalf("error reading input: %v", err)
	}

	for _, text := range texts {
		prediction, err := predictor.Predict(text)
		if err != nil {
			log.Fatalf("error predicting: %v", err)
		}
		console.Inference(text, prediction.Label, prediction.Confidence)
	}
}

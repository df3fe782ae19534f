package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/tokenizer/hf"
	"sentiment-backend/internal/database"
	"sentiment-backend/internal/messaging"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// LoadEnvFile parses the command line flags and loads the file named by -env
// into the environment. Binaries declare their own flags before calling it.
func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// TeeLogFile sends log output to stderr and to path. The returned func closes
// the file.
func TeeLogFile(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("error creating directory for log file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(f, os.Stderr))
	return func() { f.Close() }, nil
}

// TokenizerLoaders registers every tokenizer backend this build supports.
func TokenizerLoaders() tokenizer.Loaders {
	loaders := tokenizer.DefaultLoaders()
	loaders[hf.Backend] = hf.Loader
	return loaders
}

type Queue struct {
	Publisher messaging.Publisher
	Reciever  messaging.Reciever
}

// NewQueue connects to RabbitMQ when url is set and otherwise falls back to an
// in process queue.
func NewQueue(url string) (Queue, error) {
	if url == "" {
		slog.Info("no queue url configured, using in-memory queue")
		queue := messaging.NewInMemoryQueue()
		return Queue{Publisher: queue, Reciever: queue}, nil
	}

	publisher, err := messaging.NewRabbitMQPublisher(url)
	if err != nil {
		return Queue{}, fmt.Errorf("error connecting publisher to RabbitMQ: %w", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(url)
	if err != nil {
		publisher.Close()
		return Queue{}, fmt.Errorf("error connecting reciever to RabbitMQ: %w", err)
	}

	return Queue{Publisher: publisher, Reciever: reciever}, nil
}

// RequeueQueuedRuns publishes a train task for every run still QUEUED. The
// in-memory queue loses its contents on restart and the processor skips runs
// that have already started, so this is safe for either queue.
func RequeueQueuedRuns(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) error {
	runs, err := database.QueuedRuns(ctx, db)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if err := publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{RunId: run.Id}); err != nil {
			return fmt.Errorf("error requeueing run %s: %w", run.Id, err)
		}
	}
	if len(runs) > 0 {
		slog.Info("requeued pending runs", "count", len(runs))
	}
	return nil
}

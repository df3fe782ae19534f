package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"sentiment-backend/internal/core/checkpoint"
	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/utils"
	"sentiment-backend/internal/storage"

	"github.com/google/uuid"
)

const maxConcurrentLoads = 16

// ModelCache loads the predictor of a trained run on first use, downloading
// the model from storage when it is not on local disk.
type ModelCache struct {
	storage       storage.ObjectStore
	modelBucket   string
	localModelDir string
	loaders       tokenizer.Loaders

	loading *utils.MutexMap

	mu         sync.RWMutex
	predictors map[uuid.UUID]*Predictor
}

func NewModelCache(storage storage.ObjectStore, modelBucket, localModelDir string, loaders tokenizer.Loaders) *ModelCache {
	return &ModelCache{
		storage:       storage,
		modelBucket:   modelBucket,
		localModelDir: localModelDir,
		loaders:       loaders,
		loading:       utils.NewMutexMap(maxConcurrentLoads),
		predictors:    make(map[uuid.UUID]*Predictor),
	}
}

func (c *ModelCache) cached(runId uuid.UUID) *Predictor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.predictors[runId]
}

func (c *ModelCache) Get(ctx context.Context, runId uuid.UUID) (*Predictor, error) {
	if p := c.cached(runId); p != nil {
		return p, nil
	}

	var predictor *Predictor
	err := c.loading.WithLock(runId.String(), func() error {
		if predictor = c.cached(runId); predictor != nil {
			return nil
		}

		localDir := RunDir(c.localModelDir, runId)
		if err := checkpoint.Verify(localDir); err != nil {
			if _, statErr := os.Stat(localDir); errors.Is(statErr, fs.ErrNotExist) {
				slog.Info("model not found locally, downloading from storage", "run_id", runId)
			} else {
				slog.Warn("local model is incomplete, downloading again", "run_id", runId, "error", err)
				if err := os.RemoveAll(localDir); err != nil {
					return fmt.Errorf("failed to remove incomplete model: %w", err)
				}
			}
			if err := c.storage.DownloadDir(ctx, c.modelBucket, runId.String(), localDir, true); err != nil {
				return fmt.Errorf("failed to download model: %w", err)
			}
		}

		p, err := LoadPredictor(localDir, c.loaders)
		if err != nil {
			return fmt.Errorf("failed to load model: %w", err)
		}

		c.mu.Lock()
		c.predictors[runId] = p
		c.mu.Unlock()
		predictor = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return predictor, nil
}

func (c *ModelCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for runId, p := range c.predictors {
		if err := p.Close(); err != nil {
			slog.Warn("error closing predictor", "run_id", runId, "error", err)
		}
	}
	c.predictors = make(map[uuid.UUID]*Predictor)
}

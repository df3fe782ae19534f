package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"sentiment-backend/internal/core/bert"
	"sentiment-backend/internal/core/model"
	"sentiment-backend/internal/core/nn"
	"sentiment-backend/internal/core/safetensors"
	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/train"
	"sentiment-backend/internal/core/types"
)

const (
	MarkerFile   = "COMPLETE"
	MetaFile     = "training_args.json"
	MetricsFile  = "metrics.json"
	markerFormat = 1
)

// Meta records how a saved model was built so it can be rebuilt for inference.
type Meta struct {
	TokenizerBackend string    `json:"tokenizer_backend"`
	MaxLen           int       `json:"max_len"`
	Dropout          float64   `json:"dropout"`
	TrainableGroups  []string  `json:"trainable_groups"`
	Labels           []string  `json:"labels"`
	Seed             int64     `json:"seed"`
	DatasetPath      string    `json:"dataset_path,omitempty"`
	TestSize         float64   `json:"test_size,omitempty"`
	BatchSize        int       `json:"batch_size,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type marker struct {
	Format        int    `json:"format"`
	WeightsSHA256 string `json:"weights_sha256"`
}

// Loaded is a model restored from disk ready for inference.
type Loaded struct {
	Classifier *model.Classifier
	Tokenizer  tokenizer.Tokenizer
	Meta       Meta
	Metrics    []train.EpochMetrics
}

// Save writes the model into a temporary sibling of dir and renames it into
// place once every file, including the COMPLETE marker, has been written. A
// previous model at dir is replaced.
func Save(dir string, clf *model.Classifier, tok tokenizer.Tokenizer, meta Meta, metrics []train.EpochMetrics) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return types.PersistenceErrorf("error creating output parent %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-")
	if err != nil {
		return types.PersistenceErrorf("error creating staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	if err := writeContents(tmp, clf, tok, meta, metrics); err != nil {
		return types.PersistenceErrorf("error saving model: %w", err)
	}
	if err := replaceDir(tmp, dir); err != nil {
		return types.PersistenceErrorf("error moving model into %s: %w", dir, err)
	}
	committed = true
	slog.Info("saved model", "dir", dir)
	return nil
}

func writeContents(dir string, clf *model.Classifier, tok tokenizer.Tokenizer, meta Meta, metrics []train.EpochMetrics) error {
	if err := bert.SaveConfig(filepath.Join(dir, bert.ConfigFile), clf.Encoder.Config); err != nil {
		return err
	}
	weightsPath := filepath.Join(dir, bert.WeightsFile)
	if err := safetensors.WriteFile(weightsPath, clf.Tensors(), map[string]string{"format": "pt"}); err != nil {
		return err
	}
	if err := tok.SaveTo(dir); err != nil {
		return fmt.Errorf("error saving tokenizer: %w", err)
	}

	meta.TokenizerBackend = tok.Backend()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	if err := writeJSON(filepath.Join(dir, MetaFile), meta); err != nil {
		return err
	}
	if metrics == nil {
		metrics = []train.EpochMetrics{}
	}
	if err := writeJSON(filepath.Join(dir, MetricsFile), metrics); err != nil {
		return err
	}

	sum, err := fileSHA256(weightsPath)
	if err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, MarkerFile), marker{Format: markerFormat, WeightsSHA256: sum})
}

func replaceDir(src, dst string) error {
	backup := ""
	if _, err := os.Stat(dst); err == nil {
		backup = dst + ".old-" + filepath.Base(src)
		if err := os.Rename(dst, backup); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		if backup != "" {
			os.Rename(backup, dst)
		}
		return err
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			slog.Warn("error removing previous model", "dir", backup, "error", err)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks that dir holds a completely written model.
func Verify(dir string) error {
	var m marker
	if err := readJSON(filepath.Join(dir, MarkerFile), &m); err != nil {
		return types.PersistenceErrorf("%s is not a complete model: %w", dir, err)
	}
	sum, err := fileSHA256(filepath.Join(dir, bert.WeightsFile))
	if err != nil {
		return types.PersistenceErrorf("error hashing weights in %s: %w", dir, err)
	}
	if sum != m.WeightsSHA256 {
		return types.PersistenceErrorf("weights in %s do not match the COMPLETE marker", dir)
	}
	return nil
}

// Load restores a model written by Save. The tokenizer is rebuilt through the
// loader registered for the saved backend.
func Load(dir string, loaders tokenizer.Loaders) (*Loaded, error) {
	if err := Verify(dir); err != nil {
		return nil, err
	}

	meta, metrics, err := LoadMetrics(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := bert.LoadConfig(filepath.Join(dir, bert.ConfigFile))
	if err != nil {
		return nil, types.PersistenceErrorf("error loading model config: %w", err)
	}
	enc, err := bert.NewEncoder(nn.NewRegistry(), cfg)
	if err != nil {
		return nil, types.PersistenceErrorf("invalid model config: %w", err)
	}
	// The head initialisation is overwritten by the saved weights.
	clf, err := model.New(enc, meta.Dropout, meta.TrainableGroups, rand.New(rand.NewSource(meta.Seed)))
	if err != nil {
		return nil, types.PersistenceErrorf("error rebuilding classifier: %w", err)
	}

	weights, err := safetensors.ReadFile(filepath.Join(dir, bert.WeightsFile))
	if err != nil {
		return nil, types.PersistenceErrorf("error loading weights: %w", err)
	}
	if err := clf.LoadTensors(weights.Tensors); err != nil {
		return nil, err
	}

	tok, err := loaders.Load(meta.TokenizerBackend, dir)
	if err != nil {
		return nil, types.PersistenceErrorf("error loading tokenizer: %w", err)
	}
	return &Loaded{Classifier: clf, Tokenizer: tok, Meta: meta, Metrics: metrics}, nil
}

// LoadMetrics reads the metrics history saved with the model in dir.
func LoadMetrics(dir string) (Meta, []train.EpochMetrics, error) {
	var meta Meta
	if err := readJSON(filepath.Join(dir, MetaFile), &meta); err != nil {
		return meta, nil, types.PersistenceErrorf("error loading model metadata: %w", err)
	}
	var metrics []train.EpochMetrics
	if err := readJSON(filepath.Join(dir, MetricsFile), &metrics); err != nil {
		return meta, nil, types.PersistenceErrorf("error loading model metrics: %w", err)
	}
	return meta, metrics, nil
}

package bert

import (
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sentiment-backend/internal/core/nn"
	"sentiment-backend/internal/core/safetensors"
	"sentiment-backend/internal/core/types"
)

const (
	ConfigFile  = "config.json"
	WeightsFile = "model.safetensors"

	// InitStd is BERT's initializer_range.
	InitStd = 0.02
)

// Prefix is the name scope of encoder weights inside a full classifier
// checkpoint, matching a torch state_dict of a module holding `self.bert`.
const Prefix = "bert."

// CanonicalName maps checkpoint tensor names onto registry names. It strips the
// encoder prefix and rewrites the TF-era LayerNorm gamma/beta spelling.
func CanonicalName(name string) string {
	name = strings.TrimPrefix(name, Prefix)
	if strings.HasSuffix(name, "LayerNorm.gamma") {
		return strings.TrimSuffix(name, "gamma") + "weight"
	}
	if strings.HasSuffix(name, "LayerNorm.beta") {
		return strings.TrimSuffix(name, "beta") + "bias"
	}
	return name
}

// AssignWeights copies tensors into matching registry parameters and returns
// the names of tensors that were not used. Every registry parameter must be
// present with a matching shape.
func AssignWeights(reg *nn.Registry, tensors map[string]safetensors.Tensor) ([]string, error) {
	byName := make(map[string]safetensors.Tensor, len(tensors))
	for name, t := range tensors {
		byName[CanonicalName(name)] = t
	}

	for _, p := range reg.All() {
		t, ok := byName[p.Name]
		if !ok {
			return nil, types.PersistenceErrorf("checkpoint is missing tensor %s", p.Name)
		}
		rows, cols := p.Dims()
		if !shapeMatches(t.Shape, rows, cols) {
			return nil, types.PersistenceErrorf("tensor %s has shape %v, expected [%d %d]", p.Name, t.Shape, rows, cols)
		}
		copy(p.Value.RawMatrix().Data, t.Data)
		delete(byName, p.Name)
	}

	unused := make([]string, 0, len(byName))
	for name := range byName {
		unused = append(unused, name)
	}
	sort.Strings(unused)
	return unused, nil
}

func shapeMatches(shape []int, rows, cols int) bool {
	switch len(shape) {
	case 1:
		return rows == 1 && shape[0] == cols
	case 2:
		return shape[0] == rows && shape[1] == cols
	}
	return false
}

// Tensors exports every registry parameter under prefix+name. Vectors are
// written 1-D like torch parameters.
func Tensors(reg *nn.Registry, prefix string) map[string]safetensors.Tensor {
	out := make(map[string]safetensors.Tensor, len(reg.All()))
	for _, p := range reg.All() {
		rows, cols := p.Dims()
		shape := []int{rows, cols}
		if isVector(p.Name) {
			shape = []int{cols}
		}
		data := make([]float64, rows*cols)
		copy(data, p.Value.RawMatrix().Data)
		out[prefix+p.Name] = safetensors.Tensor{Shape: shape, Data: data}
	}
	return out
}

func isVector(name string) bool {
	return strings.HasSuffix(name, ".bias") || strings.HasSuffix(name, "LayerNorm.weight")
}

// LoadPretrained builds an encoder from dir/config.json and dir/model.safetensors.
func LoadPretrained(dir string) (*Encoder, error) {
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, types.PersistenceErrorf("error loading pretrained config from %s: %w", dir, err)
	}
	enc, err := NewEncoder(nn.NewRegistry(), cfg)
	if err != nil {
		return nil, types.PersistenceErrorf("invalid pretrained config in %s: %w", dir, err)
	}
	weights, err := safetensors.ReadFile(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, types.PersistenceErrorf("error loading pretrained weights from %s: %w", dir, err)
	}
	unused, err := AssignWeights(enc.Params, weights.Tensors)
	if err != nil {
		return nil, err
	}
	for _, name := range unused {
		if strings.HasPrefix(name, "cls.") || strings.HasSuffix(name, "position_ids") {
			continue
		}
		slog.Debug("ignoring pretrained tensor", "name", name)
	}
	slog.Info("loaded pretrained encoder", "dir", dir, "layers", cfg.NumHiddenLayers, "hidden", cfg.HiddenSize)
	return enc, nil
}

// NewRandom builds an encoder with BERT's N(0, 0.02) initialisation.
func NewRandom(cfg Config, rng *rand.Rand) (*Encoder, error) {
	enc, err := NewEncoder(nn.NewRegistry(), cfg)
	if err != nil {
		return nil, err
	}
	enc.Params.NormalInit(rng, InitStd)
	return enc, nil
}

// HasPretrained reports whether dir looks like a pretrained checkpoint.
func HasPretrained(dir string) bool {
	if dir == "" {
		return false
	}
	for _, name := range []string{ConfigFile, WeightsFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

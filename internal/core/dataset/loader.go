package dataset

import (
	"fmt"
	"iter"
	"math/rand"

	"sentiment-backend/internal/core/utils"
)

// Source is anything that can encode samples by index.
type Source interface {
	Len() int
	Encode(i int) (EncodedSample, error)
}

// Batch holds encoded samples with the dataset indices they came from.
type Batch struct {
	Indices []int
	Samples []EncodedSample
}

func (b Batch) Len() int { return len(b.Samples) }

type Loader struct {
	source    Source
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	workers   int
}

// NewLoader batches source. With shuffle set, each pass draws a fresh
// permutation from rng; otherwise batches follow index order.
func NewLoader(source Source, batchSize int, shuffle bool, rng *rand.Rand, workers int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling loader needs a random source")
	}
	return &Loader{source: source, batchSize: batchSize, shuffle: shuffle, rng: rng, workers: max(1, workers)}, nil
}

func (l *Loader) Len() int { return l.source.Len() }

func (l *Loader) NumBatches() int {
	return (l.source.Len() + l.batchSize - 1) / l.batchSize
}

func (l *Loader) order() []int {
	if l.shuffle {
		return l.rng.Perm(l.source.Len())
	}
	order := make([]int, l.source.Len())
	for i := range order {
		order[i] = i
	}
	return order
}

// Batches yields every sample exactly once per pass. Each call starts a new
// pass; only the final batch may be short.
func (l *Loader) Batches() iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		order := l.order()
		for start := 0; start < len(order); start += l.batchSize {
			indices := order[start:min(start+l.batchSize, len(order))]
			samples, err := utils.MapOrdered(indices, l.source.Encode, l.workers)
			if err != nil {
				yield(Batch{}, err)
				return
			}
			if !yield(Batch{Indices: indices, Samples: samples}, nil) {
				return
			}
		}
	}
}

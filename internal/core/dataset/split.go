package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Split shuffles the samples with a seeded RNG and holds out ceil(n*testSize)
// of them, so the same seed always yields the same partition.
func Split(samples []Sample, testSize float64, seed int64) (train, test []Sample, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	n := len(samples)
	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest >= n {
		return nil, nil, fmt.Errorf("cannot split %d samples with test size %v: training split would be empty", n, testSize)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	test = make([]Sample, 0, nTest)
	train = make([]Sample, 0, n-nTest)
	for i, idx := range perm {
		if i < nTest {
			test = append(test, samples[idx])
		} else {
			train = append(train, samples[idx])
		}
	}
	return train, test, nil
}

package training

import (
	"fmt"
	"math/rand"
	"sync"
)

// Batch exposes a mini-batch of training examples by index. State is the
// network input, Value the scalar game outcome target, Policy the target
// move distribution.
type Batch interface {
	Len() int
	State(i int) []float64
	Value(i int) float64
	Policy(i int) []float64
}

// Example is a single self-play training example.
type Example struct {
	State  []float64
	Value  float64
	Policy []float64
}

// SliceBatch is an in-memory Batch backed by a slice of examples.
type SliceBatch []Example

func (b SliceBatch) Len() int               { return len(b) }
func (b SliceBatch) State(i int) []float64  { return b[i].State }
func (b SliceBatch) Value(i int) float64    { return b[i].Value }
func (b SliceBatch) Policy(i int) []float64 { return b[i].Policy }

// BatchLoader slices a dataset of examples into mini-batches, optionally
// reshuffling on every Reset. It is safe for concurrent use.
type BatchLoader struct {
	mu        sync.Mutex
	examples  []Example
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// NewBatchLoader creates a loader over the given examples. When shuffle is
// true the example order is randomized from seed at construction and again on
// every Reset. The final batch may be smaller than batchSize.
func NewBatchLoader(examples []Example, batchSize int, shuffle bool, seed int64) (*BatchLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive: %d", batchSize)
	}
	loader := &BatchLoader{
		examples:  examples,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   make([]int, len(examples)),
	}
	for i := range loader.indices {
		loader.indices[i] = i
	}
	if shuffle {
		loader.rng.Shuffle(len(loader.indices), func(i, j int) {
			loader.indices[i], loader.indices[j] = loader.indices[j], loader.indices[i]
		})
	}
	return loader, nil
}

// Next returns the next mini-batch, or false when the epoch is exhausted.
func (l *BatchLoader) Next() (Batch, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position >= len(l.indices) {
		return nil, false
	}

	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}

	batch := make(SliceBatch, 0, end-l.position)
	for _, idx := range l.indices[l.position:end] {
		batch = append(batch, l.examples[idx])
	}
	l.position = end
	return batch, true
}

// Reset rewinds the loader to the start of the dataset, reshuffling when
// shuffle was requested. A loader can be iterated any number of times.
func (l *BatchLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.position = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// NumBatches returns the number of batches per epoch.
func (l *BatchLoader) NumBatches() int {
	return (len(l.examples) + l.batchSize - 1) / l.batchSize
}

package dataloader

import (
	"fmt"
	"math/rand"
	"sync"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (image []float32, label int, err error)
}

// Batch is a group of samples stacked along a new leading dimension.
type Batch struct {
	Images  []float32 // len(Indices) * sample elements, sample-major
	Labels  []int32
	Indices []int // dataset index of every row, in batch order
	Shape   []int // [batch, sample shape...]
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// SampleSize returns the number of elements in one stacked image.
func (b *Batch) SampleSize() int {
	if len(b.Labels) == 0 {
		return 0
	}
	return len(b.Images) / len(b.Labels)
}

// Image returns the i-th image of the batch.
func (b *Batch) Image(i int) []float32 {
	n := b.SampleSize()
	return b.Images[i*n : (i+1)*n]
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize int
	Shuffle   bool
	// Rand draws the permutation of each pass. Ignored unless Shuffle is set;
	// a source seeded with 1 is used when nil.
	Rand *rand.Rand
	// SampleShape is the shape of one image, e.g. [3 32 32]. When empty the
	// batch shape is [batch, elements].
	SampleShape []int
	Workers     int // goroutines assembling batches in Pass (default 1)
	Prefetch    int // batches assembled ahead of the consumer in Pass (default 2)
}

// DataLoader yields every sample of a dataset exactly once per pass, in
// batches of BatchSize with a possibly shorter final batch.
type DataLoader struct {
	dataset     Dataset
	batchSize   int
	shuffle     bool
	rng         *rand.Rand
	sampleShape []int
	workers     int
	prefetch    int

	mu      sync.Mutex
	indices []int
}

// NewDataLoader creates a new data loader
func NewDataLoader(dataset Dataset, config Config) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset cannot be nil")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Prefetch <= 0 {
		config.Prefetch = 2
	}
	if config.Rand == nil {
		config.Rand = rand.New(rand.NewSource(1))
	}

	dl := &DataLoader{
		dataset:     dataset,
		batchSize:   config.BatchSize,
		shuffle:     config.Shuffle,
		rng:         config.Rand,
		sampleShape: config.SampleShape,
		workers:     config.Workers,
		prefetch:    config.Prefetch,
		indices:     make([]int, dataset.Len()),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	return dl, nil
}

// Len returns the number of batches in one pass.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Reseed replaces the permutation source. The next Pass draws from
// the new source.
func (dl *DataLoader) Reseed(seed int64) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.rng = rand.New(rand.NewSource(seed))
}

// reset draws the order of the next pass. In shuffle mode the order is a
// fresh permutation of the identity, so it depends only on the state of the
// random source.
func (dl *DataLoader) reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	for i := range dl.indices {
		dl.indices[i] = i
	}
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// groups splits the current order into consecutive index groups.
func (dl *DataLoader) groups() [][]int {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	var groups [][]int
	for start := 0; start < len(dl.indices); start += dl.batchSize {
		end := start + dl.batchSize
		if end > len(dl.indices) {
			end = len(dl.indices)
		}
		groups = append(groups, append([]int(nil), dl.indices[start:end]...))
	}
	return groups
}

// loadBatch copies the samples at indices into freshly allocated stacked
// buffers. It only reads the dataset, so any number of calls may run at once.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	first, _, err := dl.dataset.GetItem(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}
	sampleSize := len(first)

	batch := &Batch{
		Images:  make([]float32, len(indices)*sampleSize),
		Labels:  make([]int32, len(indices)),
		Indices: indices,
	}
	if len(dl.sampleShape) > 0 {
		batch.Shape = append([]int{len(indices)}, dl.sampleShape...)
	} else {
		batch.Shape = []int{len(indices), sampleSize}
	}

	for i, idx := range indices {
		image, label, err := dl.dataset.GetItem(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if len(image) != sampleSize {
			return nil, fmt.Errorf("sample %d has %d elements, batch expects %d", idx, len(image), sampleSize)
		}
		copy(batch.Images[i*sampleSize:(i+1)*sampleSize], image)
		batch.Labels[i] = int32(label)
	}

	return batch, nil
}

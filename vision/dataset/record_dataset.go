package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-trainer/trainerr"
)

// Split selects which source files of the dataset root are read.
type Split int

const (
	Train Split = iota
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("Split(%d)", int(s))
	}
}

// BatchesDir is the fixed subdirectory of the dataset root holding the
// binary batches.
const BatchesDir = "cifar-10-batches-bin"

// MetaFile lists one class name per line. It is optional.
const MetaFile = "batches.meta.txt"

// DefaultClassNames are used when the root has no MetaFile.
var DefaultClassNames = []string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// SourceFiles returns the ordered source file names for a split.
func SourceFiles(split Split) []string {
	if split == Train {
		files := make([]string, 0, 5)
		for i := 1; i <= 5; i++ {
			files = append(files, fmt.Sprintf("data_batch_%d.bin", i))
		}
		return files
	}
	return []string{"test_batch.bin"}
}

// Options tune how a split is read. The zero value reads CIFAR-10.
type Options struct {
	Geometry      Geometry
	Normalization Normalization
	// Strict rejects files whose length is not a whole number of records
	// instead of ignoring the trailing partial bytes.
	Strict bool
}

func (o *Options) withDefaults() {
	if o.Geometry == (Geometry{}) {
		o.Geometry = CIFAR10
	}
	if o.Normalization.Mean == nil && o.Normalization.Std == nil {
		o.Normalization = CIFAR10Normalization
	}
}

// RecordDataset is an immutable, index-addressable collection of decoded
// samples. It is safe for concurrent readers.
type RecordDataset struct {
	split      Split
	geometry   Geometry
	samples    []Sample
	classNames []string
	sources    []string
}

// Load reads every source file of a split under root/BatchesDir, in order,
// and concatenates their records. A missing file aborts the load with a
// FileAccessError; a split that yields zero records after all files are read
// fails with a DatasetEmptyError. Every label must index the class names.
func Load(root string, split Split, opts Options) (*RecordDataset, error) {
	opts.withDefaults()
	if err := opts.Geometry.validate(); err != nil {
		return nil, err
	}
	if err := opts.Normalization.validate(opts.Geometry.Channels); err != nil {
		return nil, err
	}

	base := filepath.Join(root, BatchesDir)
	names, err := readClassNames(filepath.Join(base, MetaFile))
	if err != nil {
		return nil, err
	}
	ds := &RecordDataset{
		split:      split,
		geometry:   opts.Geometry,
		classNames: names,
	}

	for _, name := range SourceFiles(split) {
		path := filepath.Join(base, name)
		samples, err := readFile(path, opts, len(names))
		if err != nil {
			return nil, err
		}
		ds.samples = append(ds.samples, samples...)
		ds.sources = append(ds.sources, path)
	}

	if len(ds.samples) == 0 {
		return nil, &trainerr.DatasetEmptyError{Root: base, Split: split.String()}
	}
	return ds, nil
}

// readFile decodes consecutive records until the file ends. A short final
// read means trailing partial bytes, which stop the loop without error
// unless opts.Strict is set.
func readFile(path string, opts Options, numClasses int) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &trainerr.FileAccessError{Path: path, Op: "open", Err: err}
	}
	defer file.Close()

	var count int
	if info, err := file.Stat(); err == nil {
		count = int(info.Size()) / opts.Geometry.RecordSize()
	}

	samples := make([]Sample, 0, count)
	reader := bufio.NewReaderSize(file, 1<<20)
	buf := make([]byte, opts.Geometry.RecordSize())

	for {
		_, err := io.ReadFull(reader, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if opts.Strict {
				return nil, &trainerr.FileAccessError{Path: path, Op: "read", Err: trainerr.ErrTruncatedRecord}
			}
			break
		}
		if err != nil {
			return nil, &trainerr.FileAccessError{Path: path, Op: "read", Err: err}
		}

		sample, err := DecodeRecord(buf, opts.Geometry, opts.Normalization)
		if err != nil {
			return nil, fmt.Errorf("failed to decode record %d of %s: %w", len(samples), path, err)
		}
		if sample.Label >= numClasses {
			return nil, fmt.Errorf("record %d of %s has label %d, want [0, %d): %w",
				len(samples), path, sample.Label, numClasses, trainerr.ErrLabelOutOfRange)
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

func readClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultClassNames, nil
	}
	if err != nil {
		return nil, &trainerr.FileAccessError{Path: path, Op: "read", Err: err}
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return DefaultClassNames, nil
	}
	return names, nil
}

// Len returns the number of samples in the dataset
func (d *RecordDataset) Len() int {
	return len(d.samples)
}

// GetItem returns the image and label at the given index. The image slice
// is shared with the dataset and must not be modified.
func (d *RecordDataset) GetItem(index int) ([]float32, int, error) {
	if index < 0 || index >= len(d.samples) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.samples))
	}
	s := d.samples[index]
	return s.Image, s.Label, nil
}

// Sample returns the decoded sample at index. It panics on an out of range
// index, like a slice access.
func (d *RecordDataset) Sample(index int) Sample {
	return d.samples[index]
}

// Geometry returns the image geometry of every sample.
func (d *RecordDataset) Geometry() Geometry {
	return d.geometry
}

// Split returns the split this dataset was loaded from.
func (d *RecordDataset) Split() Split {
	return d.split
}

// Sources returns the files that were read, in read order.
func (d *RecordDataset) Sources() []string {
	return d.sources
}

// NumClasses returns the number of classes
func (d *RecordDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *RecordDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the number of samples per class label.
func (d *RecordDataset) ClassDistribution() map[int]int {
	dist := make(map[int]int)
	for _, s := range d.samples {
		dist[s.Label]++
	}
	return dist
}

// Subset creates a dataset view holding only the given indices, in order.
func (d *RecordDataset) Subset(indices []int) *RecordDataset {
	subset := &RecordDataset{
		split:      d.split,
		geometry:   d.geometry,
		samples:    make([]Sample, len(indices)),
		classNames: d.classNames,
		sources:    d.sources,
	}
	for i, idx := range indices {
		subset.samples[i] = d.samples[idx]
	}
	return subset
}

// HoldOut shuffles the sample indices with rng and splits them into two
// views: rest and held, where held gets round(fraction*Len) samples. Each
// view keeps the original sample order. Both views must be non-empty.
func (d *RecordDataset) HoldOut(fraction float64, rng *rand.Rand) (rest, held *RecordDataset, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("hold-out fraction must be in (0, 1), got %g", fraction)
	}
	n := int(math.Round(fraction * float64(len(d.samples))))
	if n == 0 || n == len(d.samples) {
		return nil, nil, fmt.Errorf("hold-out fraction %g of %d samples leaves an empty split", fraction, len(d.samples))
	}

	perm := rng.Perm(len(d.samples))
	heldIdx, restIdx := perm[:n], perm[n:]
	sort.Ints(heldIdx)
	sort.Ints(restIdx)
	return d.Subset(restIdx), d.Subset(heldIdx), nil
}

// String returns a string representation of the dataset
func (d *RecordDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("RecordDataset(%s): %d samples, %d classes\n", d.split, len(d.samples), len(d.classNames)))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for label, name := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", name, dist[label]))
	}

	return sb.String()
}

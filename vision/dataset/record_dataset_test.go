package dataset

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-trainer/trainerr"
)

var tiny = Geometry{Channels: 3, Height: 2, Width: 2}

// makeRecord builds one raw record whose payload byte at plane offset i of
// channel c is pixel(c, i).
func makeRecord(g Geometry, label byte, pixel func(c, i int) byte) []byte {
	rec := make([]byte, g.RecordSize())
	rec[0] = label
	for c := 0; c < g.Channels; c++ {
		for i := 0; i < g.PlaneSize(); i++ {
			rec[1+c*g.PlaneSize()+i] = pixel(c, i)
		}
	}
	return rec
}

// createTestRoot writes a dataset root with the given number of records in
// each training file and in the test file. Labels count up from zero across
// the whole split, modulo 10.
func createTestRoot(t *testing.T, g Geometry, trainCounts []int, testCount int) string {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, BatchesDir)
	require.NoError(t, os.MkdirAll(base, 0755))

	label := 0
	for i, name := range SourceFiles(Train) {
		var data []byte
		for r := 0; r < trainCounts[i]; r++ {
			data = append(data, makeRecord(g, byte(label%10), func(c, p int) byte { return byte(c*10 + p) })...)
			label++
		}
		require.NoError(t, os.WriteFile(filepath.Join(base, name), data, 0644))
	}

	var data []byte
	for r := 0; r < testCount; r++ {
		data = append(data, makeRecord(g, byte(r%10), func(c, p int) byte { return 255 })...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(base, SourceFiles(Test)[0]), data, 0644))

	return root
}

func TestGeometry(t *testing.T) {
	assert.Equal(t, 3073, CIFAR10.RecordSize())
	assert.Equal(t, 3072, CIFAR10.ImageSize())
	assert.Equal(t, 1024, CIFAR10.PlaneSize())
	assert.Equal(t, []int{3, 32, 32}, CIFAR10.Shape())
}

func TestSourceFiles(t *testing.T) {
	assert.Equal(t, []string{
		"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin",
	}, SourceFiles(Train))
	assert.Equal(t, []string{"test_batch.bin"}, SourceFiles(Test))
}

func TestDecodeRecordPlanarLayout(t *testing.T) {
	rec := makeRecord(tiny, 7, func(c, i int) byte {
		switch c {
		case 0:
			return 255
		case 1:
			return 0
		default:
			return byte(i * 50)
		}
	})

	s, err := DecodeRecord(rec, tiny, CIFAR10Normalization)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Label)
	require.Len(t, s.Image, tiny.ImageSize())

	mean, std := CIFAR10Normalization.Mean, CIFAR10Normalization.Std
	for y := 0; y < tiny.Height; y++ {
		for x := 0; x < tiny.Width; x++ {
			assert.InDelta(t, (1-mean[0])/std[0], s.At(tiny, 0, y, x), 1e-6)
			assert.InDelta(t, (0-mean[1])/std[1], s.At(tiny, 1, y, x), 1e-6)

			raw := float32((y*tiny.Width+x)*50) / 255
			assert.InDelta(t, (raw-mean[2])/std[2], s.At(tiny, 2, y, x), 1e-6)
		}
	}
}

func TestDecodeRecordWrongLength(t *testing.T) {
	_, err := DecodeRecord(make([]byte, 5), tiny, CIFAR10Normalization)
	assert.Error(t, err)
}

func TestDecodedValuesWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 50; n++ {
		rec := makeRecord(CIFAR10, byte(rng.Intn(10)), func(c, i int) byte { return byte(rng.Intn(256)) })
		s, err := DecodeRecord(rec, CIFAR10, CIFAR10Normalization)
		require.NoError(t, err)

		for c := 0; c < CIFAR10.Channels; c++ {
			lo, hi := CIFAR10Normalization.Bounds(c)
			for _, v := range s.Image[c*CIFAR10.PlaneSize() : (c+1)*CIFAR10.PlaneSize()] {
				if v < lo-1e-5 || v > hi+1e-5 {
					t.Fatalf("channel %d value %f outside [%f, %f]", c, v, lo, hi)
				}
			}
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("TrainConcatenatesInFileOrder", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{2, 3, 0, 1, 4}, 1)

		ds, err := Load(root, Train, Options{Geometry: tiny})
		require.NoError(t, err)
		assert.Equal(t, 10, ds.Len())
		assert.Len(t, ds.Sources(), 5)

		for i := 0; i < ds.Len(); i++ {
			_, label, err := ds.GetItem(i)
			require.NoError(t, err)
			assert.Equal(t, i%10, label, "sample %d", i)
		}
	})

	t.Run("TestReadsSingleFile", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 6)

		ds, err := Load(root, Test, Options{Geometry: tiny})
		require.NoError(t, err)
		assert.Equal(t, 6, ds.Len())
		assert.Equal(t, Test, ds.Split())
		assert.Len(t, ds.Sources(), 1)
	})

	t.Run("TrailingPartialRecordIgnored", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 3)
		path := filepath.Join(root, BatchesDir, "test_batch.bin")

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.Write(make([]byte, tiny.RecordSize()-1))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		info, err := os.Stat(path)
		require.NoError(t, err)

		ds, err := Load(root, Test, Options{Geometry: tiny})
		require.NoError(t, err)
		assert.Equal(t, int(info.Size())/tiny.RecordSize(), ds.Len())
		assert.Equal(t, 3, ds.Len())
	})

	t.Run("StrictRejectsTrailingBytes", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 2)
		path := filepath.Join(root, BatchesDir, "test_batch.bin")

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.Write([]byte{1, 2, 3})
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = Load(root, Test, Options{Geometry: tiny, Strict: true})
		var fae *trainerr.FileAccessError
		require.ErrorAs(t, err, &fae)
		assert.Equal(t, path, fae.Path)
		assert.True(t, errors.Is(err, trainerr.ErrTruncatedRecord))
	})

	t.Run("MissingFile", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 1)
		missing := filepath.Join(root, BatchesDir, "data_batch_3.bin")
		require.NoError(t, os.Remove(missing))

		_, err := Load(root, Train, Options{Geometry: tiny})
		var fae *trainerr.FileAccessError
		require.ErrorAs(t, err, &fae)
		assert.Equal(t, missing, fae.Path)
		assert.Equal(t, "open", fae.Op)
	})

	t.Run("WrongRoot", func(t *testing.T) {
		_, err := Load(t.TempDir(), Test, Options{})
		var fae *trainerr.FileAccessError
		assert.ErrorAs(t, err, &fae)
	})

	t.Run("EmptySplit", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{0, 0, 0, 0, 0}, 0)

		_, err := Load(root, Train, Options{Geometry: tiny})
		var empty *trainerr.DatasetEmptyError
		require.ErrorAs(t, err, &empty)
		assert.Equal(t, "train", empty.Split)
	})

	t.Run("InvalidNormalization", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 1)
		_, err := Load(root, Test, Options{
			Geometry:      tiny,
			Normalization: Normalization{Mean: []float32{0.5}, Std: []float32{0.5}},
		})
		assert.Error(t, err)
	})
}

func TestClassNames(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 1)
		ds, err := Load(root, Test, Options{Geometry: tiny})
		require.NoError(t, err)
		assert.Equal(t, DefaultClassNames, ds.ClassNames())
		assert.Equal(t, 10, ds.NumClasses())
	})

	t.Run("FromMetaFile", func(t *testing.T) {
		root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 1)
		meta := filepath.Join(root, BatchesDir, MetaFile)
		require.NoError(t, os.WriteFile(meta, []byte("a\nb\n\nc\n"), 0644))

		ds, err := Load(root, Test, Options{Geometry: tiny})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ds.ClassNames())
	})

	t.Run("LabelWithoutName", func(t *testing.T) {
		// The fourth training record carries label 3, but only three
		// classes are named.
		root := createTestRoot(t, tiny, []int{2, 2, 0, 0, 0}, 1)
		meta := filepath.Join(root, BatchesDir, MetaFile)
		require.NoError(t, os.WriteFile(meta, []byte("a\nb\nc\n"), 0644))

		_, err := Load(root, Train, Options{Geometry: tiny})
		assert.ErrorIs(t, err, trainerr.ErrLabelOutOfRange)
		assert.ErrorContains(t, err, "record 1 of "+filepath.Join(root, BatchesDir, "data_batch_2.bin"))
		assert.ErrorContains(t, err, "label 3")
	})
}

func TestLoadRejectsLabelBeyondDefaultClasses(t *testing.T) {
	root := createTestRoot(t, tiny, []int{1, 1, 1, 1, 1}, 2)
	path := filepath.Join(root, BatchesDir, "test_batch.bin")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write(makeRecord(tiny, 12, func(c, p int) byte { return 0 }))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Load(root, Test, Options{Geometry: tiny})
	assert.True(t, errors.Is(err, trainerr.ErrLabelOutOfRange))
	assert.ErrorContains(t, err, "record 2 of "+path+" has label 12, want [0, 10)")
}

func TestHoldOut(t *testing.T) {
	root := createTestRoot(t, tiny, []int{4, 4, 4, 4, 4}, 1)
	ds, err := Load(root, Train, Options{Geometry: tiny})
	require.NoError(t, err)

	rest, held, err := ds.HoldOut(0.25, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, 15, rest.Len())
	assert.Equal(t, 5, held.Len())
	assert.Equal(t, ds.ClassNames(), held.ClassNames())
	assert.Equal(t, ds.Sources(), rest.Sources())

	// Every sample lands on exactly one side.
	seen := make(map[*float32]int)
	for _, part := range []*RecordDataset{rest, held} {
		for i := 0; i < part.Len(); i++ {
			seen[&part.Sample(i).Image[0]]++
		}
	}
	assert.Len(t, seen, ds.Len())

	again, _, err := ds.HoldOut(0.25, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	for i := 0; i < rest.Len(); i++ {
		assert.Equal(t, rest.Sample(i).Label, again.Sample(i).Label)
	}

	for _, fraction := range []float64{0, 1, -0.5, 0.01} {
		_, _, err := ds.HoldOut(fraction, rand.New(rand.NewSource(1)))
		assert.Error(t, err, "fraction %g", fraction)
	}
}

func TestRecordDatasetAccessors(t *testing.T) {
	root := createTestRoot(t, tiny, []int{2, 1, 0, 0, 0}, 1)
	ds, err := Load(root, Train, Options{Geometry: tiny})
	require.NoError(t, err)
	assert.Equal(t, tiny, ds.Geometry())

	_, _, err = ds.GetItem(-1)
	assert.Error(t, err)
	_, _, err = ds.GetItem(3)
	assert.Error(t, err)

	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, ds.ClassDistribution())

	sub := ds.Subset([]int{2, 0})
	assert.Equal(t, 2, sub.Len())
	assert.Equal(t, 2, sub.Sample(0).Label)
	assert.Equal(t, 0, sub.Sample(1).Label)
	assert.Contains(t, ds.String(), "3 samples")
	assert.Contains(t, ds.String(), "bird: 1 samples")
}

func TestBoundsMatchFormula(t *testing.T) {
	for c := 0; c < 3; c++ {
		lo, hi := CIFAR10Normalization.Bounds(c)
		assert.False(t, math.IsNaN(float64(lo)))
		assert.Less(t, lo, hi)
	}
}

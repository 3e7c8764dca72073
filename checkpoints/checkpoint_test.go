package checkpoints

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-trainer/trainerr"
)

func fixedStore(format Format) *Store {
	s := NewStore(format)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatBinary, false},
		{"binary", FormatBinary, false},
		{"JSON", FormatJSON, false},
		{"yaml", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "ckpt", FormatBinary.Extension())
	assert.Equal(t, "json", FormatJSON.Extension())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatBinary, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			store := fixedStore(format)
			path := filepath.Join(t.TempDir(), "ckpt."+format.Extension())

			in := &Checkpoint{
				Epoch:        3,
				LearnerState: []byte{0, 1, 2, 255, 128},
				Metadata: Metadata{
					Description:  "cifar10 run",
					LearningRate: 0.01,
					Seed:         -7,
				},
			}
			require.NoError(t, store.Save(path, in))

			// Load does not depend on the store's own format.
			out, found, err := NewStore(FormatBinary).Load(path)
			require.NoError(t, err)
			require.True(t, found)

			assert.Equal(t, 3, out.Epoch)
			assert.Equal(t, in.LearnerState, out.LearnerState)
			assert.Equal(t, "go-trainer", out.Metadata.Framework)
			assert.Equal(t, "1.0.0", out.Metadata.Version)
			assert.Equal(t, "cifar10 run", out.Metadata.Description)
			assert.Equal(t, 0.01, out.Metadata.LearningRate)
			assert.Equal(t, int64(-7), out.Metadata.Seed)
			assert.True(t, out.Metadata.CreatedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
		})
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	store := fixedStore(FormatBinary)
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.ckpt")

	require.NoError(t, store.Save(path, &Checkpoint{Epoch: 1, LearnerState: []byte("one")}))
	require.NoError(t, store.Save(path, &Checkpoint{Epoch: 2, LearnerState: []byte("two")}))

	out, found, err := store.Load(path)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, out.Epoch)
	assert.Equal(t, []byte("two"), out.LearnerState)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestSaveRejectsInvalidEpoch(t *testing.T) {
	store := NewStore(FormatBinary)
	path := filepath.Join(t.TempDir(), "x.ckpt")
	assert.Error(t, store.Save(path, &Checkpoint{Epoch: 0}))
	assert.Error(t, store.Save(path, nil))
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveUnwritablePath(t *testing.T) {
	store := NewStore(FormatJSON)
	path := filepath.Join(t.TempDir(), "missing", "dir", "x.json")
	err := store.Save(path, &Checkpoint{Epoch: 1})

	var fae *trainerr.FileAccessError
	require.ErrorAs(t, err, &fae)
	assert.Equal(t, path, fae.Path)
	assert.Equal(t, "write", fae.Op)
}

func TestLoadMissingFile(t *testing.T) {
	ckpt, found, err := NewStore(FormatBinary).Load(filepath.Join(t.TempDir(), "nope.ckpt"))
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, ckpt)
}

func TestLoadCorrupt(t *testing.T) {
	valid, err := encodeBinary(&Checkpoint{Epoch: 2, LearnerState: []byte("state"), Metadata: Metadata{Framework: "go-trainer"}})
	require.NoError(t, err)

	flipped := append([]byte{}, valid...)
	flipped[len(binaryMagic)+3] ^= 0xff

	zeroEpoch, err := encodeBinary(&Checkpoint{Epoch: 0, LearnerState: []byte("state")})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"Garbage", []byte("this is not a checkpoint")},
		{"Empty", nil},
		{"EmptyJSONObject", []byte("{}")},
		{"UnknownJSONField", []byte(`{"epoch":1,"weights":[1,2]}`)},
		{"TruncatedBinary", valid[:len(valid)-6]},
		{"ChecksumMismatch", flipped},
		{"HeaderOnly", binaryMagic},
		{"ZeroEpoch", zeroEpoch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.ckpt")
			require.NoError(t, os.WriteFile(path, tt.data, 0o644))

			ckpt, found, err := NewStore(FormatBinary).Load(path)
			assert.Nil(t, ckpt)
			assert.False(t, found)

			var cce *trainerr.CorruptCheckpointError
			require.ErrorAs(t, err, &cce)
			assert.Equal(t, path, cce.Path)
		})
	}
}

func TestDecodeBinarySkipsUnknownFields(t *testing.T) {
	data, err := encodeBinary(&Checkpoint{Epoch: 4, LearnerState: []byte{9}})
	require.NoError(t, err)

	// Re-frame the message with an extra varint field 15 = 1 appended.
	header := len(binaryMagic) + 1
	msg := append([]byte{}, data[header:len(data)-4]...)
	msg = append(msg, 15<<3, 1)
	framed := append(append([]byte{}, data[:header]...), msg...)
	framed = binary.BigEndian.AppendUint32(framed, crc32.ChecksumIEEE(msg))

	ckpt, err := decodeBinary(framed)
	require.NoError(t, err)
	assert.Equal(t, 4, ckpt.Epoch)
	assert.Equal(t, []byte{9}, ckpt.LearnerState)
}

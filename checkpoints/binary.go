package checkpoints

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Binary layout:
//
//	magic "GTCK" | version byte | protobuf wire message | CRC32 (IEEE, big endian) of the message
var binaryMagic = []byte("GTCK")

const binaryVersion = 1

// Field numbers of the checkpoint message.
const (
	fieldEpoch        protowire.Number = 1
	fieldLearnerState protowire.Number = 2
	fieldCreatedAt    protowire.Number = 3
	fieldFramework    protowire.Number = 4
	fieldVersion      protowire.Number = 5
	fieldDescription  protowire.Number = 6
	fieldLearningRate protowire.Number = 7
	fieldSeed         protowire.Number = 8
)

var errChecksum = errors.New("checksum mismatch")

func encodeBinary(ckpt *Checkpoint) ([]byte, error) {
	created, err := proto.Marshal(timestamppb.New(ckpt.Metadata.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal created_at: %w", err)
	}

	var msg []byte
	msg = protowire.AppendTag(msg, fieldEpoch, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(ckpt.Epoch))
	msg = protowire.AppendTag(msg, fieldLearnerState, protowire.BytesType)
	msg = protowire.AppendBytes(msg, ckpt.LearnerState)
	msg = protowire.AppendTag(msg, fieldCreatedAt, protowire.BytesType)
	msg = protowire.AppendBytes(msg, created)
	msg = protowire.AppendTag(msg, fieldFramework, protowire.BytesType)
	msg = protowire.AppendString(msg, ckpt.Metadata.Framework)
	msg = protowire.AppendTag(msg, fieldVersion, protowire.BytesType)
	msg = protowire.AppendString(msg, ckpt.Metadata.Version)
	if ckpt.Metadata.Description != "" {
		msg = protowire.AppendTag(msg, fieldDescription, protowire.BytesType)
		msg = protowire.AppendString(msg, ckpt.Metadata.Description)
	}
	msg = protowire.AppendTag(msg, fieldLearningRate, protowire.Fixed64Type)
	msg = protowire.AppendFixed64(msg, math.Float64bits(ckpt.Metadata.LearningRate))
	msg = protowire.AppendTag(msg, fieldSeed, protowire.VarintType)
	msg = protowire.AppendVarint(msg, protowire.EncodeZigZag(ckpt.Metadata.Seed))

	out := make([]byte, 0, len(binaryMagic)+1+len(msg)+4)
	out = append(out, binaryMagic...)
	out = append(out, binaryVersion)
	out = append(out, msg...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(msg))
	return out, nil
}

func decodeBinary(data []byte) (*Checkpoint, error) {
	header := len(binaryMagic) + 1
	if len(data) < header+4 || !bytes.HasPrefix(data, binaryMagic) {
		return nil, fmt.Errorf("truncated checkpoint header")
	}
	if v := data[len(binaryMagic)]; v != binaryVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", v)
	}

	msg := data[header : len(data)-4]
	sum := binary.BigEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(msg) != sum {
		return nil, errChecksum
	}

	var ckpt Checkpoint
	var sawEpoch, sawState bool

	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		msg = msg[n:]

		switch {
		case num == fieldEpoch && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if v > math.MaxInt32 {
				return nil, fmt.Errorf("epoch %d out of range", v)
			}
			ckpt.Epoch = int(v)
			sawEpoch = true
			msg = msg[n:]

		case num == fieldLearnerState && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			ckpt.LearnerState = append([]byte{}, v...)
			sawState = true
			msg = msg[n:]

		case num == fieldCreatedAt && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal created_at: %w", err)
			}
			ckpt.Metadata.CreatedAt = ts.AsTime()
			msg = msg[n:]

		case (num == fieldFramework || num == fieldVersion || num == fieldDescription) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			switch num {
			case fieldFramework:
				ckpt.Metadata.Framework = v
			case fieldVersion:
				ckpt.Metadata.Version = v
			default:
				ckpt.Metadata.Description = v
			}
			msg = msg[n:]

		case num == fieldLearningRate && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			ckpt.Metadata.LearningRate = math.Float64frombits(v)
			msg = msg[n:]

		case num == fieldSeed && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			ckpt.Metadata.Seed = protowire.DecodeZigZag(v)
			msg = msg[n:]

		default:
			// Fields from newer writers are skipped.
			n := protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
		}
	}

	if !sawEpoch || !sawState {
		return nil, fmt.Errorf("checkpoint is missing epoch or learner state")
	}
	return &ckpt, nil
}

package dataset

import (
	"fmt"
)

// Geometry describes the image payload that follows the label byte of each
// record.
type Geometry struct {
	Channels int
	Height   int
	Width    int
}

// CIFAR10 is the 3x32x32 geometry of the CIFAR-10 binary batches.
var CIFAR10 = Geometry{Channels: 3, Height: 32, Width: 32}

// PlaneSize returns the number of bytes in one channel plane.
func (g Geometry) PlaneSize() int {
	return g.Height * g.Width
}

// ImageSize returns the number of payload bytes (and decoded elements) per record.
func (g Geometry) ImageSize() int {
	return g.Channels * g.Height * g.Width
}

// RecordSize returns the full record length: one label byte plus the payload.
func (g Geometry) RecordSize() int {
	return 1 + g.ImageSize()
}

// Shape returns the [channel, row, col] shape of a decoded image.
func (g Geometry) Shape() []int {
	return []int{g.Channels, g.Height, g.Width}
}

func (g Geometry) validate() error {
	if g.Channels <= 0 || g.Height <= 0 || g.Width <= 0 {
		return fmt.Errorf("invalid record geometry %dx%dx%d", g.Channels, g.Height, g.Width)
	}
	return nil
}

// Normalization holds the fixed per-channel constants applied after pixel
// values are rescaled to [0,1].
type Normalization struct {
	Mean []float32
	Std  []float32
}

// CIFAR10Normalization are the standard CIFAR-10 channel statistics.
var CIFAR10Normalization = Normalization{
	Mean: []float32{0.4914, 0.4822, 0.4465},
	Std:  []float32{0.2470, 0.2435, 0.2616},
}

// Bounds returns the smallest and largest value a decoded element of the
// given channel can take.
func (n Normalization) Bounds(channel int) (lo, hi float32) {
	return (0 - n.Mean[channel]) / n.Std[channel], (1 - n.Mean[channel]) / n.Std[channel]
}

func (n Normalization) validate(channels int) error {
	if len(n.Mean) != channels || len(n.Std) != channels {
		return fmt.Errorf("normalization needs %d channel constants, got mean=%d std=%d",
			channels, len(n.Mean), len(n.Std))
	}
	for c, s := range n.Std {
		if s == 0 {
			return fmt.Errorf("zero standard deviation for channel %d", c)
		}
	}
	return nil
}

// Sample is a decoded record: a normalized [channel][row][col] image stored
// flat in row-major order, and its class label.
type Sample struct {
	Image []float32
	Label int
}

// At returns the element at channel c, row y, column x.
func (s Sample) At(g Geometry, c, y, x int) float32 {
	return s.Image[c*g.PlaneSize()+y*g.Width+x]
}

// DecodeRecord turns one raw record into a Sample. The payload is
// channel-planar, so the flat output index of a byte equals its payload
// offset and only the per-channel constants change along the way.
func DecodeRecord(record []byte, g Geometry, norm Normalization) (Sample, error) {
	if len(record) != g.RecordSize() {
		return Sample{}, fmt.Errorf("record has %d bytes, want %d", len(record), g.RecordSize())
	}

	payload := record[1:]
	plane := g.PlaneSize()
	image := make([]float32, g.ImageSize())

	for c := 0; c < g.Channels; c++ {
		mean, std := norm.Mean[c], norm.Std[c]
		src := payload[c*plane : (c+1)*plane]
		dst := image[c*plane : (c+1)*plane]
		for i, b := range src {
			dst[i] = (float32(b)/255.0 - mean) / std
		}
	}

	return Sample{Image: image, Label: int(record[0])}, nil
}

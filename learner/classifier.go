// Package learner provides a CPU multilayer perceptron classifier that
// plugs into training.Session.
package learner

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-trainer/layers"
	"github.com/tsawler/go-trainer/optimizer"
	"github.com/tsawler/go-trainer/training"
	"github.com/tsawler/go-trainer/vision/dataloader"
)

var (
	_ training.Learner            = (*Classifier)(nil)
	_ training.Seeder             = (*Classifier)(nil)
	_ training.LearningRateSetter = (*Classifier)(nil)
)

// Config describes the network and its optimizer.
type Config struct {
	SampleShape []int // per-sample shape, e.g. [3 32 32]
	Classes     int
	Hidden      []int   // hidden layer sizes; empty gives softmax regression
	Dropout     float64 // dropout rate on inputs and hidden activations
	Activation  string  // relu (default), leaky_relu, sigmoid or tanh
	Optimizer   optimizer.Config
	Seed        int64 // weight initialization seed
}

// Classifier is a feed-forward network trained with softmax cross-entropy.
type Classifier struct {
	net  *layers.Network
	opt  optimizer.Optimizer
	mode training.Mode
	rng  *rand.Rand
}

// snapshot is the gob payload of ExportState.
type snapshot struct {
	Params    [][]byte
	Optimizer optimizer.State
}

// New builds a classifier with freshly initialized weights.
func New(config Config) (*Classifier, error) {
	if config.Classes < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", config.Classes)
	}
	activation, err := layers.ParseActivation(config.Activation)
	if err != nil {
		return nil, err
	}
	spec, err := layers.Build(config.SampleShape, config.Hidden, config.Classes, config.Dropout, activation)
	if err != nil {
		return nil, err
	}
	net, err := layers.NewNetwork(spec, rand.New(rand.NewSource(config.Seed)))
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(config.Optimizer)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		net:  net,
		opt:  opt,
		mode: training.ModeTrain,
		rng:  rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Summary describes the network layers.
func (c *Classifier) Summary() string {
	return c.net.Spec().Summary()
}

func (c *Classifier) SetMode(mode training.Mode) {
	c.mode = mode
}

func (c *Classifier) Reseed(seed int64) {
	c.rng = rand.New(rand.NewSource(seed))
}

func (c *Classifier) SetLearningRate(lr float64) {
	c.opt.UpdateLearningRate(lr)
}

// Predict scores a batch with dropout disabled.
func (c *Classifier) Predict(batch *dataloader.Batch) (*mat.Dense, error) {
	x, err := c.inputs(batch)
	if err != nil {
		return nil, err
	}
	return c.net.Forward(x, false, nil)
}

// TrainStep runs one forward and backward pass and an optimizer step.
func (c *Classifier) TrainStep(batch *dataloader.Batch) (float64, *mat.Dense, error) {
	if c.mode != training.ModeTrain {
		return 0, nil, fmt.Errorf("train step in %s mode", c.mode)
	}
	x, err := c.inputs(batch)
	if err != nil {
		return 0, nil, err
	}
	scores, err := c.net.Forward(x, true, c.rng)
	if err != nil {
		return 0, nil, err
	}
	loss, err := training.CrossEntropy(scores, batch.Labels)
	if err != nil {
		return 0, nil, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, nil, fmt.Errorf("loss is %v", loss)
	}

	c.net.Backward(softmaxGrad(scores, batch.Labels))
	if err := c.opt.Step(c.net.Parameters(), c.net.Gradients()); err != nil {
		return 0, nil, fmt.Errorf("optimizer step: %w", err)
	}
	return loss, scores, nil
}

// softmaxGrad is d(mean cross-entropy)/d(scores): (softmax - onehot) / n.
func softmaxGrad(scores *mat.Dense, labels []int32) *mat.Dense {
	rows, cols := scores.Dims()
	grad := mat.NewDense(rows, cols, nil)
	n := float64(rows)
	for i := 0; i < rows; i++ {
		s := scores.RawRowView(i)
		g := grad.RawRowView(i)
		lse := floats.LogSumExp(s)
		for j, v := range s {
			g[j] = math.Exp(v-lse) / n
		}
		g[labels[i]] -= 1 / n
	}
	return grad
}

func (c *Classifier) inputs(batch *dataloader.Batch) (*mat.Dense, error) {
	if batch == nil || batch.Size() == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	want := c.net.Spec().InputSize()
	if batch.SampleSize() != want || len(batch.Images) != batch.Size()*want {
		return nil, fmt.Errorf("batch has %d values for %d samples, model expects %d per sample",
			len(batch.Images), batch.Size(), want)
	}
	data := make([]float64, len(batch.Images))
	for i, v := range batch.Images {
		data[i] = float64(v)
	}
	return mat.NewDense(batch.Size(), want, data), nil
}

// ExportState serializes weights and optimizer state.
func (c *Classifier) ExportState() ([]byte, error) {
	params := c.net.Parameters()
	snap := snapshot{Params: make([][]byte, len(params))}
	for i, p := range params {
		data, err := p.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal parameter %d: %w", i, err)
		}
		snap.Params[i] = data
	}
	optState, err := c.opt.GetState()
	if err != nil {
		return nil, err
	}
	snap.Optimizer = *optState

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportState restores state from ExportState. The classifier is left
// unchanged when the state does not fit this architecture.
func (c *Classifier) ImportState(state []byte) error {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	params := c.net.Parameters()
	if len(snap.Params) != len(params) {
		return fmt.Errorf("state has %d parameter matrices, model has %d", len(snap.Params), len(params))
	}
	restored := make([]*mat.Dense, len(params))
	for i, data := range snap.Params {
		m := &mat.Dense{}
		if err := m.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		pr, pc := params[i].Dims()
		mr, mc := m.Dims()
		if pr != mr || pc != mc {
			return fmt.Errorf("parameter %d is %dx%d, model expects %dx%d", i, mr, mc, pr, pc)
		}
		restored[i] = m
	}

	if err := c.opt.LoadState(&snap.Optimizer); err != nil {
		return fmt.Errorf("optimizer state: %w", err)
	}
	for i, m := range restored {
		params[i].Copy(m)
	}
	return nil
}

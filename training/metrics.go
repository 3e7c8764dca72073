package training

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
)

// MacroMetrics lists the class-averaged metrics reported after evaluation.
var MacroMetrics = []MetricType{MacroPrecision, MacroRecall, MacroF1}

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Update adds one batch of class scores to the matrix.
func (cm *ConfusionMatrix) Update(scores mat.Matrix, labels []int32) error {
	rows, cols := scores.Dims()
	if cols != cm.NumClasses {
		return fmt.Errorf("class count mismatch: expected %d, got %d", cm.NumClasses, cols)
	}
	if len(labels) != rows {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", rows, len(labels))
	}

	for i, predClass := range Predictions(scores) {
		trueClass := int(labels[i])
		if trueClass < 0 || trueClass >= cm.NumClasses {
			continue // Skip invalid samples
		}
		cm.Matrix[trueClass][predClass]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric calculates an aggregate metric from the current counts.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case MacroPrecision:
		return cm.macro(cm.precision)
	case MacroRecall:
		return cm.macro(cm.recall)
	case MacroF1:
		return f1(cm.macro(cm.precision), cm.macro(cm.recall))
	default:
		return 0.0
	}
}

// precision returns TP/(TP+FP) for class and whether it is defined.
func (cm *ConfusionMatrix) precision(class int) (float64, bool) {
	tp := float64(cm.Matrix[class][class])
	predicted := 0.0
	for trueClass := 0; trueClass < cm.NumClasses; trueClass++ {
		predicted += float64(cm.Matrix[trueClass][class])
	}
	if predicted == 0 {
		return 0, false
	}
	return tp / predicted, true
}

// recall returns TP/(TP+FN) for class and whether it is defined.
func (cm *ConfusionMatrix) recall(class int) (float64, bool) {
	tp := float64(cm.Matrix[class][class])
	actual := 0.0
	for _, n := range cm.Matrix[class] {
		actual += float64(n)
	}
	if actual == 0 {
		return 0, false
	}
	return tp / actual, true
}

func (cm *ConfusionMatrix) macro(per func(int) (float64, bool)) float64 {
	sum := 0.0
	validClasses := 0
	for class := 0; class < cm.NumClasses; class++ {
		if v, ok := per(class); ok {
			sum += v
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// PerClassAccuracy returns the recall of every class, the share of its
// samples that were classified correctly. Classes without samples report 0.
func (cm *ConfusionMatrix) PerClassAccuracy() []float64 {
	out := make([]float64, cm.NumClasses)
	for class := range out {
		out[class], _ = cm.recall(class)
	}
	return out
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

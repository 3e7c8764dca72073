package training

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CrossEntropy computes the mean softmax cross-entropy of class scores
// against integer labels.
// scores: [batch_size, num_classes] logits
// labels: [batch_size] class indices
func CrossEntropy(scores mat.Matrix, labels []int32) (float64, error) {
	rows, cols := scores.Dims()
	if err := checkScores(rows, cols, labels); err != nil {
		return 0, err
	}

	row := make([]float64, cols)
	var total float64
	for i := 0; i < rows; i++ {
		mat.Row(row, i, scores)
		// -log(softmax(x)[y]) = logsumexp(x) - x[y]
		total += floats.LogSumExp(row) - row[labels[i]]
	}
	return total / float64(rows), nil
}

// CountCorrect returns the number of rows whose arg-max equals the label.
// Ties resolve to the lowest class index.
func CountCorrect(scores mat.Matrix, labels []int32) (int, error) {
	rows, cols := scores.Dims()
	if err := checkScores(rows, cols, labels); err != nil {
		return 0, err
	}

	row := make([]float64, cols)
	correct := 0
	for i := 0; i < rows; i++ {
		mat.Row(row, i, scores)
		if floats.MaxIdx(row) == int(labels[i]) {
			correct++
		}
	}
	return correct, nil
}

// Predictions returns the arg-max class of every row.
func Predictions(scores mat.Matrix) []int {
	rows, cols := scores.Dims()
	out := make([]int, rows)
	row := make([]float64, cols)
	for i := range out {
		mat.Row(row, i, scores)
		out[i] = floats.MaxIdx(row)
	}
	return out
}

func checkScores(rows, cols int, labels []int32) error {
	if rows == 0 || cols == 0 {
		return fmt.Errorf("scores must be non-empty, got %dx%d", rows, cols)
	}
	if len(labels) != rows {
		return fmt.Errorf("batch size mismatch: scores %d, labels %d", rows, len(labels))
	}
	for i, label := range labels {
		if label < 0 || int(label) >= cols {
			return fmt.Errorf("label %d at row %d out of range [0, %d)", label, i, cols)
		}
	}
	return nil
}

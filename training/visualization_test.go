package training

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestPlotType tests PlotType constants
func TestPlotType(t *testing.T) {
	expectedTypes := map[PlotType]string{
		TrainingCurves:       "training_curves",
		LearningRateSchedule: "learning_rate_schedule",
		ConfusionMatrixPlot:  "confusion_matrix",
	}

	for plotType, expectedString := range expectedTypes {
		if string(plotType) != expectedString {
			t.Errorf("PlotType %v should equal %s, got %s", plotType, expectedString, string(plotType))
		}
	}
}

func TestGenerateTrainingCurvesPlot(t *testing.T) {
	vc := NewVisualizationCollector("softmax")
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	vc.now = func() time.Time { return fixed }

	vc.RecordEpoch(3, 2.0, 0.3, 1.9, 0.35, 0.01)
	vc.RecordEpoch(4, 1.5, 0.4, 1.6, 0.38, 0.005)

	plot := vc.GenerateTrainingCurvesPlot()
	if plot.PlotType != TrainingCurves {
		t.Errorf("Expected plot type %s, got %s", TrainingCurves, plot.PlotType)
	}
	if !plot.Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, plot.Timestamp)
	}
	if len(plot.Series) != 4 {
		t.Fatalf("Expected 4 series, got %d", len(plot.Series))
	}

	valLoss := plot.Series[2]
	if valLoss.Name != "Validation Loss" || valLoss.Style["line_style"] != "dashed" {
		t.Errorf("Unexpected validation loss series: %+v", valLoss)
	}
	if len(valLoss.Data) != 2 || valLoss.Data[0].X != 3 || valLoss.Data[1].Y != 1.6 {
		t.Errorf("Unexpected validation loss points: %+v", valLoss.Data)
	}

	lr := vc.GenerateLearningRateSchedulePlot()
	if lr.Config.YAxisScale != "log" || lr.Series[0].Data[1].Y != 0.005 {
		t.Errorf("Unexpected learning rate plot: %+v", lr)
	}
}

func TestGenerateConfusionMatrixPlot(t *testing.T) {
	vc := NewVisualizationCollector("softmax")

	if _, ok := vc.GenerateConfusionMatrixPlot(); ok {
		t.Error("Expected no confusion matrix plot before recording")
	}

	matrix := [][]int{{5, 1}, {2, 7}}
	vc.RecordConfusionMatrix(matrix, []string{"cat", "dog"})
	matrix[0][0] = 100 // the collector keeps its own copy

	plot, ok := vc.GenerateConfusionMatrixPlot()
	if !ok {
		t.Fatal("Expected confusion matrix plot")
	}
	data := plot.Series[0].Data
	if len(data) != 4 {
		t.Fatalf("Expected 4 cells, got %d", len(data))
	}
	if data[0].Z != 5 {
		t.Errorf("Expected first cell 5, got %v", data[0].Z)
	}
	if data[1].Label != "True: cat, Pred: dog" {
		t.Errorf("Unexpected label %q", data[1].Label)
	}
}

func TestWriteJSON(t *testing.T) {
	vc := NewVisualizationCollector("softmax")
	vc.RecordEpoch(1, 2.0, 0.3, 1.9, 0.35, 0.01)
	vc.RecordConfusionMatrix([][]int{{1, 0}, {0, 1}}, []string{"a", "b"})

	path := filepath.Join(t.TempDir(), "curves.json")
	if err := vc.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read curves: %v", err)
	}
	var plots []map[string]interface{}
	if err := json.Unmarshal(raw, &plots); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(plots) != 3 {
		t.Fatalf("Expected 3 plots, got %d", len(plots))
	}
	if plots[0]["plot_type"] != "training_curves" || plots[2]["plot_type"] != "confusion_matrix" {
		t.Errorf("Unexpected plot order: %v, %v", plots[0]["plot_type"], plots[2]["plot_type"])
	}
}

func TestPlotsWithoutConfusionMatrix(t *testing.T) {
	vc := NewVisualizationCollector("mlp")
	vc.RecordEpoch(1, 2.0, 0.3, 1.9, 0.35, 0.01)

	plots := vc.Plots()
	if len(plots) != 2 {
		t.Fatalf("Expected 2 plots, got %d", len(plots))
	}
	if plots[1].PlotType != LearningRateSchedule {
		t.Errorf("Expected learning rate plot, got %s", plots[1].PlotType)
	}
}

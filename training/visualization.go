package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
	ConfusionMatrixPlot  PlotType = "confusion_matrix"
)

// PlotData is the JSON document consumed by plotting tools
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "heatmap"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Z     interface{} `json:"z,omitempty"`     // For heatmaps
	Label string      `json:"label,omitempty"` // For categorical data
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel    string                 `json:"x_axis_label"`
	YAxisLabel    string                 `json:"y_axis_label"`
	XAxisScale    string                 `json:"x_axis_scale"` // "linear", "log"
	YAxisScale    string                 `json:"y_axis_scale"` // "linear", "log"
	ShowLegend    bool                   `json:"show_legend"`
	ShowGrid      bool                   `json:"show_grid"`
	Width         int                    `json:"width"`
	Height        int                    `json:"height"`
	CustomOptions map[string]interface{} `json:"custom_options,omitempty"`
}

// VisualizationCollector keeps the per-epoch history of a run
type VisualizationCollector struct {
	modelName string
	now       func() time.Time

	epochs             []int
	trainingLoss       []float64
	trainingAccuracy   []float64
	validationLoss     []float64
	validationAccuracy []float64
	learningRates      []float64

	confusionMatrix [][]int
	classNames      []string
}

// NewVisualizationCollector creates a collector labelled with modelName
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{
		modelName: modelName,
		now:       time.Now,
	}
}

// RecordEpoch records the results of one completed epoch
func (vc *VisualizationCollector) RecordEpoch(epoch int, trainLoss, trainAcc, valLoss, valAcc, learningRate float64) {
	vc.epochs = append(vc.epochs, epoch)
	vc.trainingLoss = append(vc.trainingLoss, trainLoss)
	vc.trainingAccuracy = append(vc.trainingAccuracy, trainAcc)
	vc.validationLoss = append(vc.validationLoss, valLoss)
	vc.validationAccuracy = append(vc.validationAccuracy, valAcc)
	vc.learningRates = append(vc.learningRates, learningRate)
}

// RecordConfusionMatrix replaces the stored confusion matrix
func (vc *VisualizationCollector) RecordConfusionMatrix(matrix [][]int, classNames []string) {
	vc.confusionMatrix = make([][]int, len(matrix))
	for i, row := range matrix {
		vc.confusionMatrix[i] = append([]int(nil), row...)
	}
	vc.classNames = append([]string(nil), classNames...)
}

func lineSeries(name, color string, epochs []int, values []float64, dashed bool) SeriesData {
	s := SeriesData{
		Name: name,
		Type: "line",
		Data: make([]DataPoint, len(values)),
		Style: map[string]interface{}{
			"color":      color,
			"line_width": 2,
		},
	}
	if dashed {
		s.Style["line_style"] = "dashed"
	}
	for i, v := range values {
		s.Data[i] = DataPoint{X: epochs[i], Y: v}
	}
	return s
}

// GenerateTrainingCurvesPlot generates training curves plot data
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: vc.now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			lineSeries("Training Loss", "#FF6B6B", vc.epochs, vc.trainingLoss, false),
			lineSeries("Training Accuracy", "#4ECDC4", vc.epochs, vc.trainingAccuracy, false),
			lineSeries("Validation Loss", "#FF9F43", vc.epochs, vc.validationLoss, true),
			lineSeries("Validation Accuracy", "#5F27CD", vc.epochs, vc.validationAccuracy, true),
		},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Loss / Accuracy",
			XAxisScale: "linear",
			YAxisScale: "linear",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     600,
		},
	}
}

// GenerateLearningRateSchedulePlot generates learning rate schedule plot data
func (vc *VisualizationCollector) GenerateLearningRateSchedulePlot() PlotData {
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", vc.modelName),
		Timestamp: vc.now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			lineSeries("Learning Rate", "#6C5CE7", vc.epochs, vc.learningRates, false),
		},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Learning Rate",
			XAxisScale: "linear",
			YAxisScale: "log",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     400,
		},
	}
}

// GenerateConfusionMatrixPlot generates confusion matrix plot data. It
// returns false when no matrix has been recorded.
func (vc *VisualizationCollector) GenerateConfusionMatrixPlot() (PlotData, bool) {
	if len(vc.confusionMatrix) == 0 {
		return PlotData{}, false
	}

	className := func(i int) string {
		if i < len(vc.classNames) {
			return vc.classNames[i]
		}
		return fmt.Sprintf("%d", i)
	}

	var data []DataPoint
	for i, row := range vc.confusionMatrix {
		for j, value := range row {
			data = append(data, DataPoint{
				X:     j,
				Y:     i,
				Z:     value,
				Label: fmt.Sprintf("True: %s, Pred: %s", className(i), className(j)),
			})
		}
	}

	return PlotData{
		PlotType:  ConfusionMatrixPlot,
		Title:     fmt.Sprintf("Confusion Matrix - %s", vc.modelName),
		Timestamp: vc.now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			{
				Name:  "Confusion Matrix",
				Type:  "heatmap",
				Data:  data,
				Style: map[string]interface{}{"colorscale": "Blues"},
			},
		},
		Config: PlotConfig{
			XAxisLabel: "Predicted Class",
			YAxisLabel: "True Class",
			XAxisScale: "linear",
			YAxisScale: "linear",
			Width:      600,
			Height:     600,
			CustomOptions: map[string]interface{}{
				"class_names": vc.classNames,
			},
		},
	}, true
}

// Plots returns every plot that has data.
func (vc *VisualizationCollector) Plots() []PlotData {
	plots := []PlotData{
		vc.GenerateTrainingCurvesPlot(),
		vc.GenerateLearningRateSchedulePlot(),
	}
	if cm, ok := vc.GenerateConfusionMatrixPlot(); ok {
		plots = append(plots, cm)
	}
	return plots
}

// WriteJSON writes every available plot to path as a JSON array.
func (vc *VisualizationCollector) WriteJSON(path string) error {
	data, err := json.MarshalIndent(vc.Plots(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plot data: %w", err)
	}
	return nil
}

package training

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

// ProgressBar provides PyTorch-style training progress visualization
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	loss        float64
	accuracy    float64
	now         func() time.Time
}

// NewProgressBar creates a new progress bar drawing to out
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		now:         time.Now,
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, loss, accuracy float64) {
	pb.current = step
	pb.loss = loss
	pb.accuracy = accuracy
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := pb.now().Sub(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 && elapsed > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	line += fmt.Sprintf(", loss=%.3f, accuracy=%.2f%%]", pb.loss, pb.accuracy*100)

	// Carriage return overwrites the previous line
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// LogProgress returns a ProgressFunc that writes one line per report.
func LogProgress(logger *log.Logger) ProgressFunc {
	return func(p Progress) {
		logger.Printf("epoch %d %s step %d/%d: loss=%.4f acc=%.4f",
			p.Epoch, p.Mode, p.Batch, p.Batches, p.Loss, p.Accuracy)
	}
}

// BarProgress returns a ProgressFunc that draws one progress bar per pass.
// It is meant to be used with ReportEvery set to 1.
func BarProgress(out io.Writer) ProgressFunc {
	var bar *ProgressBar
	return func(p Progress) {
		if bar == nil || p.Batch == 1 {
			desc := fmt.Sprintf("Epoch %d %s", p.Epoch, p.Mode)
			bar = NewProgressBar(out, desc, p.Batches)
		}
		bar.Update(p.Batch, p.Loss, p.Accuracy)
		if p.Batch >= p.Batches {
			bar.Finish()
			bar = nil
		}
	}
}

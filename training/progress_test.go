package training

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

// TestProgressBar tests the basic progress bar functionality
func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Testing", 10)
	start := pb.startTime
	pb.now = func() time.Time { return start.Add(5 * time.Second) }

	pb.Update(5, 0.5, 0.25)
	line := buf.String()
	if !strings.HasPrefix(line, "\rTesting:  50%|") {
		t.Errorf("Unexpected progress line: %q", line)
	}
	for _, want := range []string{"5/10", "[00:05<00:05", "1.00batch/s", "loss=0.500", "accuracy=25.00%"} {
		if !strings.Contains(line, want) {
			t.Errorf("Progress line %q does not contain %q", line, want)
		}
	}

	buf.Reset()
	pb.Finish()
	if !strings.Contains(buf.String(), "100%") || !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("Unexpected final line: %q", buf.String())
	}
}

func TestLogProgress(t *testing.T) {
	var buf bytes.Buffer
	report := LogProgress(log.New(&buf, "", 0))
	report(Progress{Mode: ModeTrain, Epoch: 2, Batch: 100, Batches: 782, Loss: 1.23456, Accuracy: 0.5})

	want := "epoch 2 train step 100/782: loss=1.2346 acc=0.5000\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestBarProgress(t *testing.T) {
	var buf bytes.Buffer
	report := BarProgress(&buf)
	for i := 1; i <= 3; i++ {
		report(Progress{Mode: ModeEval, Epoch: 1, Batch: i, Batches: 3})
	}
	out := buf.String()
	if !strings.Contains(out, "Epoch 1 eval") {
		t.Errorf("Missing description in %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("Expected the bar to finish exactly once, got %q", out)
	}
}

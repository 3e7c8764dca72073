package training

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlottingServiceConfig(t *testing.T) {
	config := DefaultPlottingServiceConfig()
	assert.Equal(t, "http://localhost:8080", config.BaseURL)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 3, config.RetryAttempts)
	assert.Equal(t, time.Second, config.RetryDelay)
}

func TestNewPlottingService(t *testing.T) {
	ps := NewPlottingService(PlottingServiceConfig{BaseURL: "http://sidecar:9000/", Timeout: time.Second})
	assert.Equal(t, "http://sidecar:9000", ps.BaseURL())
	assert.Equal(t, 1, ps.config.RetryAttempts)
	assert.Equal(t, time.Second, ps.httpClient.Timeout)
}

func testPlottingService(url string) *PlottingService {
	return NewPlottingService(PlottingServiceConfig{
		BaseURL:       url,
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
}

func TestBatchSendPlotsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		http.Error(w, "bad plot", http.StatusBadRequest)
	}))
	defer server.Close()

	ps := NewPlottingService(PlottingServiceConfig{BaseURL: server.URL, Timeout: time.Second})
	_, err := ps.BatchSendPlots(context.Background(), []PlotData{{PlotType: TrainingCurves}})
	assert.ErrorContains(t, err, "after 1 attempts")
	assert.ErrorContains(t, err, "status 400")
	assert.ErrorContains(t, err, "bad plot")
}

func TestBatchSendPlotsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/batch-plot", r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var payload struct {
			Plots []PlotData `json:"plots"`
			Batch bool       `json:"batch"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.True(t, payload.Batch)
		assert.Len(t, payload.Plots, 3)
		assert.Equal(t, TrainingCurves, payload.Plots[0].PlotType)
		assert.Equal(t, "clf", payload.Plots[0].ModelName)
		w.Write([]byte(`{"success": true, "batch_id": "b1", "dashboard_url": "/dashboard/b1", "summary": {"total_plots": 3, "successful": 3}}`))
	}))
	defer server.Close()

	vc := NewVisualizationCollector("clf")
	vc.RecordEpoch(1, 1.0, 0.5, 1.1, 0.4, 0.01)
	vc.RecordConfusionMatrix([][]int{{2, 0}, {1, 1}}, []string{"a", "b"})

	resp, err := testPlottingService(server.URL).SendCollector(context.Background(), vc)
	require.NoError(t, err)
	assert.Equal(t, "b1", resp.BatchID)
	assert.Equal(t, 3, resp.Summary.Successful)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBatchSendPlotsGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := testPlottingService(server.URL).BatchSendPlots(context.Background(), nil)
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBatchSendPlotsCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ps := NewPlottingService(PlottingServiceConfig{BaseURL: server.URL, Timeout: time.Second, RetryAttempts: 5, RetryDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ps.BatchSendPlots(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	ps := testPlottingService(server.URL)
	assert.NoError(t, ps.CheckHealth(context.Background()))

	healthy = false
	assert.ErrorContains(t, ps.CheckHealth(context.Background()), "status 503")
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Record status labels.
const (
	StatusOK         = "ok"
	StatusDegraded   = "degraded"
	StatusWriteError = "write_error"
)

var (
	Measurements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allsky_measurements_total",
			Help: "Measurements taken, by outcome",
		},
		[]string{"status"}, // ok, degraded or write_error
	)

	Exposures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allsky_exposures_total",
			Help: "Exposures taken, by outcome",
		},
		[]string{"status"},
	)

	SensorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allsky_sensor_failures_total",
			Help: "Sensor calls that failed or timed out",
		},
		[]string{"sensor"}, // camera, magnetometer, thermometer
	)

	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allsky_write_failures_total",
			Help: "Dataset slot writes that failed",
		},
		[]string{"dataset"}, // exposures, measurements
	)

	CycleOverruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "allsky_cycle_overruns_total",
			Help: "Cycles that finished after their scheduled end",
		},
	)

	Rollovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allsky_rollovers_total",
			Help: "Dataset rollovers performed",
		},
		[]string{"kind"}, // daily, hourly, frames
	)

	OutputDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allsky_output_dropped_total",
			Help: "Records dropped because an output fell behind",
		},
		[]string{"output"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "allsky_cycle_duration_seconds",
			Help:    "Time spent in one acquisition cycle before sleeping",
			Buckets: []float64{1, 5, 10, 15, 20, 25, 30, 45, 60},
		},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

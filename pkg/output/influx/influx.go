package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/ericogr/allsky-acquire/pkg/output"
	"github.com/ericogr/allsky-acquire/pkg/sensor"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

const (
	measurementEnvironment = "environment"
	measurementExposure    = "exposure"
	pingTimeout            = 5 * time.Second
)

type InfluxOutput struct {
	client influxdb2.Client
	writer influxdb2_api.WriteAPI
	runID  string
}

// NewInflux connects to the server and returns a non-blocking writer.
// Write errors surface asynchronously and are logged.
func NewInflux(cfg config.InfluxConfig, runID string, log zerolog.Logger) (output.Output, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, errors.New("influx output needs url and bucket")
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(100).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	running, err := client.Ping(ctx)
	if err == nil && !running {
		err = errors.New("server not running")
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx ping %s: %w", cfg.URL, err)
	}

	writer := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			log.Error().Err(writeErr).Str("bucket", cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}(writer.Errors())

	return &InfluxOutput{client: client, writer: writer, runID: runID}, nil
}

func (o *InfluxOutput) PublishMeasurement(m sensor.Measurement) error {
	o.writer.WritePoint(measurementPoint(m, o.runID))
	return nil
}

func (o *InfluxOutput) PublishExposure(e sensor.Exposure) error {
	o.writer.WritePoint(exposurePoint(e, o.runID))
	return nil
}

func (o *InfluxOutput) Close() error {
	o.writer.Flush()
	o.client.Close()
	return nil
}

func measurementPoint(m sensor.Measurement, runID string) *influxdb2_write.Point {
	return influxdb2.NewPointWithMeasurement(measurementEnvironment).
		AddTag("run_id", runID).
		AddField("temperature", float64(m.Temperature)).
		AddField("bx", float64(m.Field[0])).
		AddField("by", float64(m.Field[1])).
		AddField("bz", float64(m.Field[2])).
		AddField("degraded", m.Degraded).
		SetTime(m.Timestamp)
}

func exposurePoint(e sensor.Exposure, runID string) *influxdb2_write.Point {
	mean, saturated := e.Image.Stats()
	return influxdb2.NewPointWithMeasurement(measurementExposure).
		AddTag("run_id", runID).
		AddField("mean", mean).
		AddField("saturated", saturated).
		AddField("degraded", e.Degraded).
		SetTime(e.Timestamp)
}

package output

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/sensor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	measurements []sensor.Measurement
	exposures    []sensor.Exposure
	err          error
	closed       bool
}

func (r *recorder) PublishMeasurement(m sensor.Measurement) error {
	r.measurements = append(r.measurements, m)
	return r.err
}

func (r *recorder) PublishExposure(e sensor.Exposure) error {
	r.exposures = append(r.exposures, e)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return r.err
}

func TestFanoutIsolatesFailures(t *testing.T) {
	var logs bytes.Buffer
	broken := &recorder{err: errors.New("broker down")}
	healthy := &recorder{}
	f := NewFanout(zerolog.New(&logs), Entry{Name: "mqtt", Output: broken}, Entry{Name: "console", Output: healthy})

	m := sensor.Measurement{Timestamp: time.Unix(100, 0), Temperature: 3}
	f.PublishMeasurement(m)
	f.PublishExposure(sensor.Exposure{Timestamp: time.Unix(100, 0)})
	f.Close()

	assert.Equal(t, []sensor.Measurement{m}, healthy.measurements)
	assert.Len(t, healthy.exposures, 1)
	assert.Len(t, broken.measurements, 1)
	assert.True(t, healthy.closed)
	assert.True(t, broken.closed)
	assert.Contains(t, logs.String(), `"output":"mqtt"`)
	assert.Contains(t, logs.String(), "broker down")
	assert.NotContains(t, logs.String(), `"output":"console"`)
}

package acquire

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacity(t *testing.T) {
	frames := config.DefaultConfig()
	frames.Rollover = config.RolloverFrames

	custom := frames
	custom.FramesPerFile = 10
	custom.ExposureInterval = 60
	custom.ExcessMinutes = 0
	custom.MeasurementCadence = 1

	slow := config.DefaultConfig()
	slow.ExposureInterval = 7
	slow.MeasurementCadence = 0.5

	tests := []struct {
		name             string
		cfg              config.Config
		wantExposures    int
		wantMeasurements int
	}{
		{"hourly defaults", config.DefaultConfig(), 140, 8400},
		{"frames defaults", frames, 120, 8400},
		{"frames custom", custom, 10, 600},
		{"hourly slow", slow, 600, 2100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := Capacity(tt.cfg)
			assert.Equal(t, tt.wantExposures, e)
			assert.Equal(t, tt.wantMeasurements, m)
		})
	}
}

func TestExpectedMeasurements(t *testing.T) {
	assert.Equal(t, 30, ExpectedMeasurements(15*time.Second, 500*time.Millisecond))
	assert.Equal(t, 37, ExpectedMeasurements(15*time.Second, 400*time.Millisecond))
	assert.Equal(t, 0, ExpectedMeasurements(0, time.Second))
	assert.Equal(t, 0, ExpectedMeasurements(time.Second, 0))
	assert.Equal(t, 0, ExpectedMeasurements(-time.Second, time.Second))
	assert.Equal(t, 0, ExpectedMeasurements(time.Second, 2*time.Second))
}

func TestSleepFor(t *testing.T) {
	now := time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		remaining   time.Duration
		wantSleep   time.Duration
		wantOverran bool
	}{
		{"within cap", 10 * time.Second, 10 * time.Second, false},
		{"capped", 20 * time.Second, 15 * time.Second, false},
		{"on time", 0, 0, false},
		{"overran", -3 * time.Second, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, overran := sleepFor(now.Add(tt.remaining), now, 15*time.Second)
			assert.Equal(t, tt.wantSleep, d)
			assert.Equal(t, tt.wantOverran, overran)
		})
	}
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()
	var g inflight

	v, err := withTimeout(ctx, &g, time.Second, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	boom := errors.New("i2c nack")
	_, err = withTimeout(ctx, &g, time.Second, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	v, err = withTimeout(ctx, &inflight{}, 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 9, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, v)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutOneCallInFlight(t *testing.T) {
	ctx := context.Background()
	var g inflight
	release := make(chan struct{})
	var calls atomic.Int32
	slow := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	_, err := withTimeout(ctx, &g, 10*time.Millisecond, slow)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	for range 5 {
		_, err = withTimeout(ctx, &g, 10*time.Millisecond, slow)
		assert.ErrorIs(t, err, errBusy)
	}
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return !g.busy.Load() }, time.Second, time.Millisecond)
	v, err := withTimeout(ctx, &g, time.Second, func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

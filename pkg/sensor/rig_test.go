package sensor

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulationConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorSimulation
	cfg.ExposureDuration = 0.01
	cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels = 4, 5, 3
	return cfg
}

func TestOpenSimulation(t *testing.T) {
	rig, err := Open(simulationConfig(), zerolog.New(io.Discard))
	require.NoError(t, err)
	defer rig.Close()

	require.NotNil(t, rig.Camera)
	require.NotNil(t, rig.Magnetometer)
	require.NotNil(t, rig.Thermometer)

	img, err := rig.Camera.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rig.Shape, img.Shape)
	assert.Len(t, img.Pix, rig.Shape.Size())

	field, err := rig.Magnetometer.ReadField(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 45.2, field[2], 1)

	temp, err := rig.Thermometer.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10, temp, 5)

	rig.SelfTest(context.Background(), zerolog.New(io.Discard), time.Second)
}

func TestOpenOptionalDevicesMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CameraCommand = filepath.Join(t.TempDir(), "no-such-camera")
	cfg.CameraMandatory = false
	cfg.I2CBus = "no-such-bus"
	cfg.W1DevicesDir = t.TempDir()

	rig, err := Open(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.Nil(t, rig.Camera)
	assert.Nil(t, rig.Magnetometer)
	assert.Nil(t, rig.Thermometer)
	assert.NoError(t, rig.Close())
}

func TestOpenMandatoryDeviceMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CameraCommand = filepath.Join(t.TempDir(), "no-such-camera")
	cfg.CameraMandatory = false
	cfg.I2CBus = "no-such-bus"
	cfg.W1DevicesDir = t.TempDir()
	cfg.ThermometerMandatory = true

	_, err := Open(cfg, zerolog.New(io.Discard))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thermometer")
}

func TestFakeCameraHonoursContext(t *testing.T) {
	cam := NewFakeCamera(Shape{Height: 1, Width: 1, Channels: 1}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cam.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

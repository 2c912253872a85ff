package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseIntOrHex(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"32", 32, true},
		{"0x20", 32, true},
		{"0X7f", 127, true},
		{"bad", 0, false},
		{"0xzz", 0, false},
	}
	for _, tt := range tests {
		got, err := parseIntOrHex(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "allsky.json", `{
		"exposure_duration": 10,
		"exposure_interval": 20,
		"measurement_cadence": 4,
		"camera_gain": 2.5,
		"observation_start_time": "21:30",
		"observation_interval": 28800,
		"output_dir": "/media/usb_drive",
		"sensor_type": "simulation",
		"magnetometer_address": "0x23",
		"outputs": [
			{"type": "console"},
			{"type": "mqtt", "mqtt": {"server": "tcp://broker:1883", "client_id": "allsky", "state_topic": "allsky/state"}}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.ExposureTime())
	assert.Equal(t, 20*time.Second, cfg.ExposurePeriod())
	assert.Equal(t, 4.0, cfg.MeasurementCadence)
	assert.Equal(t, 2.5, cfg.CameraGain)
	assert.Equal(t, "21:30", cfg.ObservationStartTime)
	assert.Equal(t, 8*time.Hour, cfg.ObservationWindow())
	assert.Equal(t, "/media/usb_drive", cfg.OutputDir)
	assert.Equal(t, SensorSimulation, cfg.SensorType)

	addr, err := cfg.MagnetometerAddr()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x23), addr)

	require.Len(t, cfg.Outputs, 2)
	assert.Equal(t, "console", cfg.Outputs[0].Type)
	require.NotNil(t, cfg.Outputs[1].MQTT)
	assert.Equal(t, "tcp://broker:1883", cfg.Outputs[1].MQTT.Server)
	assert.Equal(t, "allsky/state", cfg.Outputs[1].MQTT.StateTopic)

	// untouched keys keep their defaults
	assert.Equal(t, 15*time.Second, cfg.MaxSleep())
	assert.Equal(t, 25*time.Second, cfg.ExposureTimeout())
	assert.Equal(t, RolloverHourly, cfg.Rollover)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "allsky.yaml", "exposure_interval: 60\nrollover: frames\nframes_per_file: 30\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.ExposurePeriod())
	assert.Equal(t, RolloverFrames, cfg.Rollover)
	assert.Equal(t, 30, cfg.FramesPerFile)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Malformed(t *testing.T) {
	path := writeConfig(t, "allsky.json", `{"exposure_interval": `)
	_, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.ExposureInterval = 0 }},
		{"negative cadence", func(c *Config) { c.MeasurementCadence = -1 }},
		{"unknown rollover", func(c *Config) { c.Rollover = "weekly" }},
		{"frames without count", func(c *Config) { c.Rollover = RolloverFrames; c.FramesPerFile = 0 }},
		{"bad sensor type", func(c *Config) { c.SensorType = "mock" }},
		{"bad address", func(c *Config) { c.MagnetometerAddress = "0x200" }},
		{"mqtt without server", func(c *Config) { c.Outputs = []OutputConfig{{Type: "mqtt"}} }},
		{"unknown output", func(c *Config) { c.Outputs = []OutputConfig{{Type: "kafka"}} }},
		{"zero timeout", func(c *Config) { c.WriteTimeoutSec = 0 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDump(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Outputs = []OutputConfig{{Type: "influx", Influx: &InfluxConfig{URL: "http://influx:8086", Token: "secret", Bucket: "allsky"}}}

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "exposure_interval: 30")
	assert.Contains(t, out, "measurement_cadence: 2")
	assert.Contains(t, out, "bucket: allsky")
	assert.NotContains(t, out, "secret")
}

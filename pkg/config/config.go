package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"

	RolloverHourly = "hourly"
	RolloverFrames = "frames"
)

type MQTTConfig struct {
	Server            string `mapstructure:"server" yaml:"server"`
	Username          string `mapstructure:"username" yaml:"username,omitempty"`
	Password          string `mapstructure:"password" yaml:"-"`
	ClientID          string `mapstructure:"client_id" yaml:"client_id"`
	StateTopic        string `mapstructure:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `mapstructure:"discovery_topic" yaml:"discovery_topic,omitempty"`
	DiscoveryName     string `mapstructure:"discovery_name" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `mapstructure:"discovery_unique_id" yaml:"discovery_unique_id,omitempty"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Token  string `mapstructure:"token" yaml:"-"`
	Org    string `mapstructure:"org" yaml:"org"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

type OutputConfig struct {
	Type   string        `mapstructure:"type" yaml:"type"`
	MQTT   *MQTTConfig   `mapstructure:"mqtt" yaml:"mqtt,omitempty"`
	Influx *InfluxConfig `mapstructure:"influx" yaml:"influx,omitempty"`
}

// Config is the flat key-value acquisition document. Durations are seconds
// and cadences are events per second.
type Config struct {
	ExposureDuration     float64 `mapstructure:"exposure_duration" yaml:"exposure_duration"`
	ExposureInterval     float64 `mapstructure:"exposure_interval" yaml:"exposure_interval"`
	MeasurementCadence   float64 `mapstructure:"measurement_cadence" yaml:"measurement_cadence"`
	CameraGain           float64 `mapstructure:"camera_gain" yaml:"camera_gain"`
	ObservationStartTime string  `mapstructure:"observation_start_time" yaml:"observation_start_time"`
	ObservationInterval  float64 `mapstructure:"observation_interval" yaml:"observation_interval"`
	OutputDir            string  `mapstructure:"output_dir" yaml:"output_dir"`

	ExcessMinutes         float64 `mapstructure:"excess_minutes" yaml:"excess_minutes"`
	MaxSleepSeconds       float64 `mapstructure:"max_sleep" yaml:"max_sleep"`
	ExposureTimeoutSec    float64 `mapstructure:"exposure_timeout" yaml:"exposure_timeout"`
	MeasurementTimeoutSec float64 `mapstructure:"measurement_timeout" yaml:"measurement_timeout"`
	WriteTimeoutSec       float64 `mapstructure:"write_timeout" yaml:"write_timeout"`
	Rollover              string  `mapstructure:"rollover" yaml:"rollover"`
	FramesPerFile         int     `mapstructure:"frames_per_file" yaml:"frames_per_file"`

	ImageHeight   int `mapstructure:"image_height" yaml:"image_height"`
	ImageWidth    int `mapstructure:"image_width" yaml:"image_width"`
	ImageChannels int `mapstructure:"image_channels" yaml:"image_channels"`
	CropLeft      int `mapstructure:"crop_left" yaml:"crop_left"`
	CropRight     int `mapstructure:"crop_right" yaml:"crop_right"`

	SensorType            string `mapstructure:"sensor_type" yaml:"sensor_type"`
	CameraMandatory       bool   `mapstructure:"camera_mandatory" yaml:"camera_mandatory"`
	MagnetometerMandatory bool   `mapstructure:"magnetometer_mandatory" yaml:"magnetometer_mandatory"`
	ThermometerMandatory  bool   `mapstructure:"thermometer_mandatory" yaml:"thermometer_mandatory"`
	I2CBus                string `mapstructure:"i2c_bus" yaml:"i2c_bus"`
	MagnetometerAddress   string `mapstructure:"magnetometer_address" yaml:"magnetometer_address"`
	MagnetometerCycles    int    `mapstructure:"magnetometer_cycle_count" yaml:"magnetometer_cycle_count"`
	W1DevicesDir          string `mapstructure:"w1_devices_dir" yaml:"w1_devices_dir"`
	CameraCommand         string `mapstructure:"camera_command" yaml:"camera_command"`

	MetricsAddress string         `mapstructure:"metrics_address" yaml:"metrics_address"`
	Outputs        []OutputConfig `mapstructure:"outputs" yaml:"outputs"`
}

func DefaultConfig() Config {
	return Config{
		ExposureDuration:      15,
		ExposureInterval:      30,
		MeasurementCadence:    2,
		CameraGain:            1.0,
		OutputDir:             "./data",
		ExcessMinutes:         10,
		MaxSleepSeconds:       15,
		ExposureTimeoutSec:    25,
		MeasurementTimeoutSec: 1,
		WriteTimeoutSec:       5,
		Rollover:              RolloverHourly,
		FramesPerFile:         120,
		ImageHeight:           1520,
		ImageWidth:            1298,
		ImageChannels:         3,
		CropLeft:              250,
		CropRight:             480,
		SensorType:            SensorReal,
		CameraMandatory:       true,
		I2CBus:                "1",
		MagnetometerAddress:   "0x20",
		MagnetometerCycles:    400,
		W1DevicesDir:          "/sys/bus/w1/devices",
		CameraCommand:         "rpicam-still",
		Outputs:               []OutputConfig{},
		MagnetometerMandatory: false,
		ThermometerMandatory:  false,
	}
}

// Load reads the configuration document at path on top of the defaults.
// The format is picked from the file extension. A missing file is reported
// through ErrNotFound together with the defaults so callers can carry on.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ErrNotFound is returned by Load when the document does not exist.
var ErrNotFound = errors.New("config file not found")

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("exposure_duration", cfg.ExposureDuration)
	v.SetDefault("exposure_interval", cfg.ExposureInterval)
	v.SetDefault("measurement_cadence", cfg.MeasurementCadence)
	v.SetDefault("camera_gain", cfg.CameraGain)
	v.SetDefault("observation_start_time", cfg.ObservationStartTime)
	v.SetDefault("observation_interval", cfg.ObservationInterval)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("excess_minutes", cfg.ExcessMinutes)
	v.SetDefault("max_sleep", cfg.MaxSleepSeconds)
	v.SetDefault("exposure_timeout", cfg.ExposureTimeoutSec)
	v.SetDefault("measurement_timeout", cfg.MeasurementTimeoutSec)
	v.SetDefault("write_timeout", cfg.WriteTimeoutSec)
	v.SetDefault("rollover", cfg.Rollover)
	v.SetDefault("frames_per_file", cfg.FramesPerFile)
	v.SetDefault("image_height", cfg.ImageHeight)
	v.SetDefault("image_width", cfg.ImageWidth)
	v.SetDefault("image_channels", cfg.ImageChannels)
	v.SetDefault("crop_left", cfg.CropLeft)
	v.SetDefault("crop_right", cfg.CropRight)
	v.SetDefault("sensor_type", cfg.SensorType)
	v.SetDefault("camera_mandatory", cfg.CameraMandatory)
	v.SetDefault("magnetometer_mandatory", cfg.MagnetometerMandatory)
	v.SetDefault("thermometer_mandatory", cfg.ThermometerMandatory)
	v.SetDefault("i2c_bus", cfg.I2CBus)
	v.SetDefault("magnetometer_address", cfg.MagnetometerAddress)
	v.SetDefault("magnetometer_cycle_count", cfg.MagnetometerCycles)
	v.SetDefault("w1_devices_dir", cfg.W1DevicesDir)
	v.SetDefault("camera_command", cfg.CameraCommand)
	v.SetDefault("metrics_address", cfg.MetricsAddress)
}

// Validate rejects documents the acquisition loop cannot run with.
func (c Config) Validate() error {
	if c.ExposureDuration <= 0 {
		return errors.New("exposure_duration must be > 0")
	}
	if c.ExposureInterval <= 0 {
		return errors.New("exposure_interval must be > 0")
	}
	if c.MeasurementCadence <= 0 {
		return errors.New("measurement_cadence must be > 0")
	}
	if c.ExcessMinutes < 0 {
		return errors.New("excess_minutes must be >= 0")
	}
	if c.MaxSleepSeconds < 0 {
		return errors.New("max_sleep must be >= 0")
	}
	if c.ExposureTimeoutSec <= 0 || c.MeasurementTimeoutSec <= 0 || c.WriteTimeoutSec <= 0 {
		return errors.New("timeouts must be > 0")
	}
	switch c.Rollover {
	case RolloverHourly:
	case RolloverFrames:
		if c.FramesPerFile <= 0 {
			return errors.New("frames_per_file must be > 0 with frames rollover")
		}
	default:
		return fmt.Errorf("unknown rollover %q", c.Rollover)
	}
	if c.ImageHeight <= 0 || c.ImageWidth <= 0 || c.ImageChannels <= 0 {
		return errors.New("image dimensions must be > 0")
	}
	if c.CropLeft < 0 || c.CropRight < 0 {
		return errors.New("crop must be >= 0")
	}
	switch c.SensorType {
	case SensorReal, SensorSimulation:
	default:
		return fmt.Errorf("unknown sensor_type %q", c.SensorType)
	}
	if _, err := c.MagnetometerAddr(); err != nil {
		return fmt.Errorf("magnetometer_address: %w", err)
	}
	if c.MagnetometerCycles <= 0 || c.MagnetometerCycles > math.MaxUint16 {
		return errors.New("magnetometer_cycle_count out of range")
	}
	for i, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "console":
		case "mqtt":
			if o.MQTT == nil || o.MQTT.Server == "" {
				return fmt.Errorf("outputs[%d]: mqtt server required", i)
			}
		case "influx":
			if o.Influx == nil || o.Influx.URL == "" || o.Influx.Bucket == "" {
				return fmt.Errorf("outputs[%d]: influx url and bucket required", i)
			}
		default:
			return fmt.Errorf("outputs[%d]: unknown type %q", i, o.Type)
		}
	}
	return nil
}

func (c Config) ExposureTime() time.Duration       { return seconds(c.ExposureDuration) }
func (c Config) ExposurePeriod() time.Duration     { return seconds(c.ExposureInterval) }
func (c Config) MaxSleep() time.Duration           { return seconds(c.MaxSleepSeconds) }
func (c Config) ExposureTimeout() time.Duration    { return seconds(c.ExposureTimeoutSec) }
func (c Config) MeasurementTimeout() time.Duration { return seconds(c.MeasurementTimeoutSec) }
func (c Config) WriteTimeout() time.Duration       { return seconds(c.WriteTimeoutSec) }
func (c Config) ObservationWindow() time.Duration  { return seconds(c.ObservationInterval) }

// MagnetometerAddr parses the configured I2C address, decimal or 0x hex.
func (c Config) MagnetometerAddr() (uint16, error) {
	v, err := parseIntOrHex(strings.TrimSpace(c.MagnetometerAddress))
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 0x7f {
		return 0, fmt.Errorf("address %#x outside 7-bit range", v)
	}
	return uint16(v), nil
}

// Dump writes the effective configuration as YAML. Secrets are omitted.
func (c Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

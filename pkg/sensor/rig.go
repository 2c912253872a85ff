package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Rig is the set of devices opened at startup. A nil handle marks a device
// that is absent for the whole run.
type Rig struct {
	Camera       Camera
	Magnetometer Magnetometer
	Thermometer  Thermometer
	Shape        Shape
}

func ShapeOf(cfg config.Config) Shape {
	return Shape{Height: cfg.ImageHeight, Width: cfg.ImageWidth, Channels: cfg.ImageChannels}
}

// Open brings up every device independently. A failing device marked
// mandatory aborts startup; any other failure is logged and the device is
// left out.
func Open(cfg config.Config, log zerolog.Logger) (*Rig, error) {
	rig := &Rig{Shape: ShapeOf(cfg)}
	var err error

	rig.Camera, err = openDevice(log, "camera", cfg.CameraMandatory, func() (Camera, error) {
		if cfg.SensorType == config.SensorSimulation {
			return NewFakeCamera(rig.Shape, cfg.ExposureTime()), nil
		}
		c, err := NewPiCamera(cfg.CameraCommand, cfg.ExposureTime(), cfg.CameraGain, cfg.CropLeft, cfg.CropRight)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, errors.Join(err, rig.Close())
	}

	rig.Magnetometer, err = openDevice(log, "magnetometer", cfg.MagnetometerMandatory, func() (Magnetometer, error) {
		if cfg.SensorType == config.SensorSimulation {
			return NewFakeMagnetometer(), nil
		}
		addr, err := cfg.MagnetometerAddr()
		if err != nil {
			return nil, err
		}
		m, err := NewRM3100(cfg.I2CBus, addr, uint16(cfg.MagnetometerCycles))
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, errors.Join(err, rig.Close())
	}

	rig.Thermometer, err = openDevice(log, "thermometer", cfg.ThermometerMandatory, func() (Thermometer, error) {
		if cfg.SensorType == config.SensorSimulation {
			return NewFakeThermometer(), nil
		}
		t, err := NewDS18B20(afero.NewOsFs(), cfg.W1DevicesDir)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return nil, errors.Join(err, rig.Close())
	}
	return rig, nil
}

func openDevice[T any](log zerolog.Logger, name string, mandatory bool, open func() (T, error)) (T, error) {
	dev, err := open()
	if err != nil {
		var zero T
		if mandatory {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		log.Warn().Err(err).Str("device", name).Msg("optional device unavailable, continuing without it")
		return zero, nil
	}
	log.Info().Str("device", name).Msg("device ready")
	return dev, nil
}

// SelfTest takes one reading from the fast sensors and logs it.
func (r *Rig) SelfTest(ctx context.Context, log zerolog.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	field, errField := ReadField(ctx, r.Magnetometer)
	temp, errTemp := ReadTemperature(ctx, r.Thermometer)
	if err := errors.Join(errField, errTemp); err != nil {
		log.Warn().Err(err).Msg("sensor self test failed")
		return
	}
	log.Info().
		Float32("temperature", temp).
		Floats32("field", field[:]).
		Bool("camera", r.Camera != nil).
		Msg("tested magnetometer and thermometer")
}

func (r *Rig) Close() error {
	var errs []error
	if r.Camera != nil {
		errs = append(errs, r.Camera.Close())
	}
	if r.Magnetometer != nil {
		errs = append(errs, r.Magnetometer.Close())
	}
	if r.Thermometer != nil {
		errs = append(errs, r.Thermometer.Close())
	}
	return errors.Join(errs...)
}

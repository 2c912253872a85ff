// Package acquire runs the observatory acquisition loop: one exposure per
// cycle with magnetometer and temperature measurements interleaved while the
// exposure is in progress, stored into rolling dataset file pairs.
package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/ericogr/allsky-acquire/pkg/dataset"
	"github.com/ericogr/allsky-acquire/pkg/logging"
	"github.com/ericogr/allsky-acquire/pkg/metrics"
	"github.com/ericogr/allsky-acquire/pkg/sensor"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Writer stores records into the slots of one file pair.
type Writer interface {
	WriteMeasurement(ctx context.Context, index int, m sensor.Measurement) error
	WriteExposure(ctx context.Context, index int, e sensor.Exposure) error
	Close() error
}

// OpenFunc allocates a new pair named name inside dir.
type OpenFunc func(dir, name string) (Writer, error)

// Publisher receives every record that was stored successfully.
type Publisher interface {
	PublishMeasurement(sensor.Measurement)
	PublishExposure(sensor.Exposure)
}

type Option func(*Loop)

func WithClock(c clock.Clock) Option { return func(l *Loop) { l.clock = c } }

func WithOpener(fn OpenFunc) Option { return func(l *Loop) { l.open = fn } }

func WithPublisher(p Publisher) Option { return func(l *Loop) { l.publisher = p } }

func WithRunID(id string) Option { return func(l *Loop) { l.runID = id } }

// Loop owns the current pair and both slot indices. It is not safe for
// concurrent use; Run is the only entry point.
type Loop struct {
	cfg       config.Config
	rig       *sensor.Rig
	log       zerolog.Logger
	clock     clock.Clock
	open      OpenFunc
	publisher Publisher
	runID     string

	roll    Rollover
	pair    Writer
	expIdx  int
	measIdx int

	magBusy   inflight
	thermBusy inflight
}

func New(cfg config.Config, rig *sensor.Rig, log zerolog.Logger, opts ...Option) *Loop {
	l := &Loop{
		cfg:   cfg,
		rig:   rig,
		log:   logging.Component(log, "acquire"),
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.open == nil {
		l.open = DatasetOpener(cfg, l.runID, l.log)
	}
	return l
}

// DatasetOpener creates real dataset pairs sized by Capacity.
func DatasetOpener(cfg config.Config, runID string, log zerolog.Logger) OpenFunc {
	exposures, measurements := Capacity(cfg)
	spec := dataset.Spec{
		Exposures:    exposures,
		Measurements: measurements,
		Shape:        sensor.ShapeOf(cfg),
		RunID:        runID,
	}
	return func(dir, name string) (Writer, error) {
		pair, err := dataset.Create(dir, name, spec)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("dir", dir).
			Str("name", pair.Name).
			Str("exposure_slots", humanize.Comma(int64(exposures))).
			Str("measurement_slots", humanize.Comma(int64(measurements))).
			Str("image_bytes", humanize.Bytes(pair.Reserved())).
			Msg("opened dataset pair")
		return pair, nil
	}
}

// Run acquires until ctx is cancelled or the observation window ends. Only
// a failure to open the first pair is returned; everything later degrades.
func (l *Loop) Run(ctx context.Context) error {
	now := l.clock.Now()
	l.roll = NewRollover(l.cfg.Rollover, l.cfg.FramesPerFile, now)
	dir, name := l.roll.Target(l.cfg.OutputDir, now)
	pair, err := l.open(dir, name)
	if err != nil {
		return fmt.Errorf("open first dataset: %w", err)
	}
	l.pair = pair
	defer func() {
		if err := l.pair.Close(); err != nil {
			l.log.Error().Err(err).Msg("closing dataset failed")
		}
	}()

	l.log.Info().
		Dur("exposure_period", l.cfg.ExposurePeriod()).
		Float64("measurement_cadence", l.cfg.MeasurementCadence).
		Int("expected_measurements", ExpectedMeasurements(l.cfg.ExposureTime(), l.attempt())).
		Msg("acquisition started")

	// the window starts once the first pair is allocated
	start := l.clock.Now()
	lim := rate.NewLimiter(rate.Limit(l.cfg.MeasurementCadence), 1)
	window := l.cfg.ObservationWindow()
	for ctx.Err() == nil {
		if window > 0 && l.clock.Since(start) >= window {
			l.log.Info().Dur("window", window).Msg("observation window over")
			break
		}
		now := l.clock.Now()
		targetEnd := now.Add(l.cfg.ExposurePeriod())

		l.rollover(now)
		l.cycle(ctx, lim)
		metrics.CycleDuration.Observe(l.clock.Since(now).Seconds())

		l.pause(ctx, targetEnd)
	}
	l.log.Info().Int("exposures", l.expIdx).Int("measurements", l.measIdx).Msg("acquisition stopped")
	return nil
}

func (l *Loop) attempt() time.Duration {
	return time.Duration(float64(time.Second) / l.cfg.MeasurementCadence)
}

// rollover switches to a new pair when one is due. If the new pair cannot
// be opened the current one stays in use and the check repeats next cycle.
func (l *Loop) rollover(now time.Time) {
	kind := l.roll.Check(now, l.expIdx)
	if kind == RolloverNone {
		return
	}
	next := l.roll
	next.Commit(kind, now)
	dir, name := next.Target(l.cfg.OutputDir, now)

	pair, err := l.open(dir, name)
	if err != nil {
		l.log.Error().Err(err).Str("kind", string(kind)).Msg("rollover failed, keeping current dataset")
		return
	}
	if err := l.pair.Close(); err != nil {
		l.log.Warn().Err(err).Msg("closing previous dataset failed")
	}
	l.pair = pair
	l.roll = next
	l.expIdx, l.measIdx = 0, 0
	metrics.Rollovers.WithLabelValues(string(kind)).Inc()
	l.log.Info().Str("kind", string(kind)).Str("dir", dir).Str("name", name).Msg("rolled over")
}

type exposureResult struct {
	img sensor.Image
	err error
}

type event int

const (
	eventSlot event = iota
	eventExposure
	eventTimeout
	eventShutdown
)

// startExposure captures on its own goroutine. The capture is detached from
// ctx so a shutdown lets it finish, bounded by exposure_timeout.
func (l *Loop) startExposure(ctx context.Context) (<-chan exposureResult, context.CancelFunc) {
	expCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ExposureTimeout())
	results := make(chan exposureResult, 1)
	go func() {
		img, err := sensor.Capture(expCtx, l.rig.Camera, l.rig.Shape)
		if err == nil && l.rig.Camera == nil {
			// keep the cycle cadence without a camera
			select {
			case <-l.clock.After(l.cfg.ExposureTime()):
			case <-expCtx.Done():
			}
		}
		results <- exposureResult{img: img, err: err}
	}()
	return results, cancel
}

func (l *Loop) cycle(ctx context.Context, lim *rate.Limiter) {
	expStart := l.clock.Now()
	results, cancel := l.startExposure(ctx)
	defer cancel()
	deadline := l.clock.NewTimer(l.cfg.ExposureTimeout())
	defer deadline.Stop()

	var (
		res      exposureResult
		timedOut bool
		sampling = ctx.Err() == nil
		taken    int
	)
wait:
	for {
		ev, r := l.waitNext(ctx, lim, sampling, results, deadline.C())
		switch ev {
		case eventSlot:
			l.writeMeasurement(ctx, l.measure(ctx))
			taken++
		case eventShutdown:
			sampling = false
			l.log.Info().Msg("shutdown requested, finishing exposure in progress")
		case eventExposure:
			res = r
			break wait
		case eventTimeout:
			timedOut = true
			break wait
		}
	}

	exp := sensor.Exposure{Timestamp: expStart, Image: res.img}
	if timedOut {
		res.err = fmt.Errorf("no frame within %s", l.cfg.ExposureTimeout())
	}
	if res.err != nil {
		l.log.Warn().Err(res.err).Str("sensor", "camera").Msg("exposure failed, storing zero image")
		metrics.SensorFailures.WithLabelValues("camera").Inc()
		exp.Image = sensor.ZeroImage(l.rig.Shape)
		exp.Degraded = true
	}
	exp.Image = sensor.Fit(exp.Image, l.rig.Shape)
	l.writeExposure(ctx, exp)

	l.log.Debug().
		Int("measurements", taken).
		Int("exposure_index", l.expIdx).
		Int("measurement_index", l.measIdx).
		Msg("cycle done")
}

// waitNext blocks until the next measurement slot is due, the exposure
// settles, or shutdown is requested. With sampling off only the exposure
// is awaited.
func (l *Loop) waitNext(ctx context.Context, lim *rate.Limiter, sampling bool, results <-chan exposureResult, deadline <-chan time.Time) (ev event, res exposureResult) {
	var slot <-chan time.Time
	var done <-chan struct{}
	if sampling {
		now := l.clock.Now()
		reservation := lim.ReserveN(now, 1)
		timer := l.clock.NewTimer(reservation.DelayFrom(now))
		defer timer.Stop()
		defer func() {
			if ev != eventSlot {
				reservation.CancelAt(l.clock.Now())
			}
		}()
		slot = timer.C()
		done = ctx.Done()
	}

	select {
	case res = <-results:
		return eventExposure, res
	case <-deadline:
		return eventTimeout, res
	case <-done:
		return eventShutdown, res
	case <-slot:
		return eventSlot, res
	}
}

// measure reads both fast sensors, each bounded by measurement_timeout. A
// failed read stores zero and marks the record degraded. Reads are detached
// from ctx so a shutdown does not fail a measurement already under way.
func (l *Loop) measure(ctx context.Context) sensor.Measurement {
	m := sensor.Measurement{Timestamp: l.clock.Now()}
	timeout := l.cfg.MeasurementTimeout()
	ctx = context.WithoutCancel(ctx)

	field, err := withTimeout(ctx, &l.magBusy, timeout, func(ctx context.Context) (sensor.Vector, error) {
		return sensor.ReadField(ctx, l.rig.Magnetometer)
	})
	if err != nil {
		l.sensorFailed("magnetometer", err)
		field = sensor.Vector{}
		m.Degraded = true
	}
	m.Field = field

	temp, err := withTimeout(ctx, &l.thermBusy, timeout, func(ctx context.Context) (float32, error) {
		return sensor.ReadTemperature(ctx, l.rig.Thermometer)
	})
	if err != nil {
		l.sensorFailed("thermometer", err)
		temp = 0
		m.Degraded = true
	}
	m.Temperature = temp
	return m
}

func (l *Loop) sensorFailed(name string, err error) {
	l.log.Warn().Err(err).Str("sensor", name).Msg("sensor read failed, storing zero")
	metrics.SensorFailures.WithLabelValues(name).Inc()
}

// writeMeasurement stores m at the next slot. The index advances even when
// the write fails.
func (l *Loop) writeMeasurement(ctx context.Context, m sensor.Measurement) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.WriteTimeout())
	defer cancel()
	idx := l.measIdx
	l.measIdx++

	if err := l.pair.WriteMeasurement(wctx, idx, m); err != nil {
		l.log.Warn().Err(err).Int("index", idx).Msg("measurement write failed")
		metrics.WriteFailures.WithLabelValues(string(dataset.KindMeasurements)).Inc()
		metrics.Measurements.WithLabelValues(metrics.StatusWriteError).Inc()
		return
	}
	metrics.Measurements.WithLabelValues(status(m.Degraded)).Inc()
	if l.publisher != nil {
		l.publisher.PublishMeasurement(m)
	}
}

func (l *Loop) writeExposure(ctx context.Context, e sensor.Exposure) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.WriteTimeout())
	defer cancel()
	idx := l.expIdx
	l.expIdx++

	if err := l.pair.WriteExposure(wctx, idx, e); err != nil {
		l.log.Warn().Err(err).Int("index", idx).Msg("exposure write failed")
		metrics.WriteFailures.WithLabelValues(string(dataset.KindExposures)).Inc()
		metrics.Exposures.WithLabelValues(metrics.StatusWriteError).Inc()
		return
	}
	metrics.Exposures.WithLabelValues(status(e.Degraded)).Inc()
	if l.publisher != nil {
		l.publisher.PublishExposure(e)
	}
}

func status(degraded bool) string {
	if degraded {
		return metrics.StatusDegraded
	}
	return metrics.StatusOK
}

// pause sleeps until the next cycle is due, at most max_sleep.
func (l *Loop) pause(ctx context.Context, targetEnd time.Time) {
	now := l.clock.Now()
	d, overran := sleepFor(targetEnd, now, l.cfg.MaxSleep())
	if overran {
		l.log.Warn().Dur("late", now.Sub(targetEnd)).Msg("cycle overran its period")
		metrics.CycleOverruns.Inc()
	}
	if d <= 0 {
		return
	}
	timer := l.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C():
	}
}

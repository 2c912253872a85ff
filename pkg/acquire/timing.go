package acquire

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/config"
)

// Capacity sizes the slot tables of one file pair so that a full rollover
// period, plus the excess margin, fits without overflowing.
func Capacity(cfg config.Config) (exposures, measurements int) {
	excess := cfg.ExcessMinutes * 60
	if cfg.Rollover == config.RolloverFrames {
		exposures = cfg.FramesPerFile
		measurements = int((float64(cfg.FramesPerFile)*cfg.ExposureInterval + excess) * cfg.MeasurementCadence)
		return exposures, measurements
	}
	window := 3600 + excess
	return int(window / cfg.ExposureInterval), int(window * cfg.MeasurementCadence)
}

// ExpectedMeasurements is how many measurement attempts fit in one exposure.
func ExpectedMeasurements(period, attempt time.Duration) int {
	if period <= 0 || attempt <= 0 {
		return 0
	}
	return int(period / attempt)
}

// sleepFor returns the pause before the next cycle, capped at maxSleep and
// never negative. overran reports a cycle that finished past its end.
func sleepFor(targetEnd, now time.Time, maxSleep time.Duration) (d time.Duration, overran bool) {
	remaining := targetEnd.Sub(now)
	if remaining <= 0 {
		return 0, remaining < 0
	}
	return min(remaining, maxSleep), false
}

// errBusy reports a device still serving a call that outlived its timeout.
var errBusy = errors.New("previous read still in progress")

// inflight admits one call at a time on a device. A call that times out
// keeps the device busy until its driver returns.
type inflight struct {
	busy atomic.Bool
}

// withTimeout bounds fn by d. fn runs on its own goroutine so a driver that
// ignores ctx still cannot hold the caller past the deadline. While an
// earlier call on g is still running fn is not started and errBusy is
// returned.
func withTimeout[T any](ctx context.Context, g *inflight, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !g.busy.CompareAndSwap(false, true) {
		return zero, errBusy
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		g.busy.Store(false)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

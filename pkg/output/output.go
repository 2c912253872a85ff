package output

import (
	"context"
	"sync"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/metrics"
	"github.com/ericogr/allsky-acquire/pkg/sensor"
	"github.com/rs/zerolog"
)

const (
	queueSize    = 64
	drainTimeout = 5 * time.Second
)

// Output receives records after they have been stored.
type Output interface {
	PublishMeasurement(sensor.Measurement) error
	PublishExposure(sensor.Exposure) error
	Close() error
}

// Entry pairs an output with the name it is logged under.
type Entry struct {
	Name   string
	Output Output
}

// record carries exactly one of a measurement or an exposure.
type record struct {
	measurement *sensor.Measurement
	exposure    *sensor.Exposure
}

type worker struct {
	Entry
	queue chan record
	done  chan struct{}
}

// Fanout hands every record to each entry on that entry's own goroutine.
// Publishing never waits on an output: when an output falls behind its
// queue fills and further records for it are dropped and counted.
type Fanout struct {
	mu      sync.RWMutex
	closed  bool
	workers []*worker
	log     zerolog.Logger
}

func NewFanout(log zerolog.Logger, entries ...Entry) *Fanout {
	f := &Fanout{log: log}
	for _, e := range entries {
		w := &worker{Entry: e, queue: make(chan record, queueSize), done: make(chan struct{})}
		f.workers = append(f.workers, w)
		go f.run(w)
	}
	return f
}

func (f *Fanout) run(w *worker) {
	defer close(w.done)
	for r := range w.queue {
		if r.measurement != nil {
			if err := w.Output.PublishMeasurement(*r.measurement); err != nil {
				f.log.Warn().Err(err).Str("output", w.Name).Msg("publish measurement failed")
			}
			continue
		}
		if err := w.Output.PublishExposure(*r.exposure); err != nil {
			f.log.Warn().Err(err).Str("output", w.Name).Msg("publish exposure failed")
		}
	}
}

func (f *Fanout) enqueue(r record) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, w := range f.workers {
		select {
		case w.queue <- r:
		default:
			metrics.OutputDropped.WithLabelValues(w.Name).Inc()
			f.log.Debug().Str("output", w.Name).Msg("output queue full, record dropped")
		}
	}
}

func (f *Fanout) PublishMeasurement(m sensor.Measurement) {
	f.enqueue(record{measurement: &m})
}

func (f *Fanout) PublishExposure(x sensor.Exposure) {
	f.enqueue(record{exposure: &x})
}

// Close stops accepting records and gives queued ones up to drainTimeout
// to go out before every output is closed.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, w := range f.workers {
		close(w.queue)
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, w := range f.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			f.log.Warn().Str("output", w.Name).Msg("output still busy at shutdown, records lost")
		}
		if err := w.Output.Close(); err != nil {
			f.log.Warn().Err(err).Str("output", w.Name).Msg("close output failed")
		}
	}
}

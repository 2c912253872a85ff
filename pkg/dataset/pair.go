package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/sensor"
)

// Spec sizes a new file pair.
type Spec struct {
	Exposures    int
	Measurements int
	Shape        sensor.Shape
	RunID        string
}

// Pair is the exposures and measurements files that share a name.
type Pair struct {
	Dir          string
	Name         string
	Exposures    *File
	Measurements *File
}

// DayDir is the directory holding all pairs started on t's UTC date.
func DayDir(root string, t time.Time) string {
	return filepath.Join(root, t.UTC().Format("2006-01-02"))
}

// HourName names a pair after the UTC hour it starts in.
func HourName(t time.Time) string {
	return fmt.Sprintf("%02d", t.UTC().Hour())
}

// SeqName names the n-th pair of a frame-count rollover run.
func SeqName(n int) string {
	return fmt.Sprintf("%04d", n)
}

func pairPaths(dir, name string) (exposures, measurements string) {
	return filepath.Join(dir, name+"-exposures.sqlite"), filepath.Join(dir, name+"-measurements.sqlite")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// freeName returns name, or name-vN with the smallest N >= 2 for which
// neither file of the pair exists yet.
func freeName(dir, name string) string {
	candidate := name
	for v := 2; ; v++ {
		e, m := pairPaths(dir, candidate)
		if !exists(e) && !exists(m) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-v%d", name, v)
	}
}

// Create makes dir if needed and allocates a new pair in it. An existing
// pair of the same name is left alone; the new one gets a version suffix.
func Create(dir, name string, spec Spec) (*Pair, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	name = freeName(dir, name)
	ePath, mPath := pairPaths(dir, name)

	exposures, err := createFile(ePath, KindExposures, spec.Exposures, spec.Shape, spec.RunID)
	if err != nil {
		return nil, err
	}
	measurements, err := createFile(mPath, KindMeasurements, spec.Measurements, sensor.Shape{}, spec.RunID)
	if err != nil {
		exposures.Close()
		removeFile(ePath)
		return nil, err
	}
	return &Pair{Dir: dir, Name: name, Exposures: exposures, Measurements: measurements}, nil
}

func (p *Pair) WriteMeasurement(ctx context.Context, index int, m sensor.Measurement) error {
	return p.Measurements.Write(ctx, index, map[string]any{
		"timestamp":   toEpoch(m.Timestamp),
		"temperature": m.Temperature,
		"field_x":     m.Field[0],
		"field_y":     m.Field[1],
		"field_z":     m.Field[2],
	})
}

func (p *Pair) WriteExposure(ctx context.Context, index int, e sensor.Exposure) error {
	if e.Image.Shape != p.Exposures.Shape {
		return fmt.Errorf("%w: got %dx%dx%d", ErrShape, e.Image.Height, e.Image.Width, e.Image.Channels)
	}
	return p.Exposures.Write(ctx, index, map[string]any{
		"timestamp": toEpoch(e.Timestamp),
		"image":     e.Image.Pix,
	})
}

// Reserved is the image payload size the exposures file can hold.
func (p *Pair) Reserved() uint64 {
	return uint64(p.Exposures.Capacity) * uint64(p.Exposures.Shape.Size())
}

func (p *Pair) Close() error {
	return errors.Join(p.Exposures.Close(), p.Measurements.Close())
}

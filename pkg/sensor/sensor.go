package sensor

import (
	"context"
	"io"
	"time"
)

// Vector is a magnetic field sample in microtesla (x, y, z).
type Vector [3]float32

// Shape is the height x width x channels layout of an exposure.
type Shape struct {
	Height   int
	Width    int
	Channels int
}

func (s Shape) Size() int { return s.Height * s.Width * s.Channels }

// Image holds 8-bit pixel intensities in height x width x channels order.
type Image struct {
	Shape
	Pix []uint8
}

type Exposure struct {
	Timestamp time.Time
	Image     Image
	Degraded  bool
}

type Measurement struct {
	Timestamp   time.Time
	Temperature float32
	Field       Vector
	Degraded    bool
}

type Camera interface {
	Capture(ctx context.Context) (Image, error)
	io.Closer
}

type Magnetometer interface {
	ReadField(ctx context.Context) (Vector, error)
	io.Closer
}

type Thermometer interface {
	ReadTemperature(ctx context.Context) (float32, error)
	io.Closer
}

// Capture takes one exposure. An absent camera yields a zeroed image of the
// given shape without touching hardware.
func Capture(ctx context.Context, c Camera, shape Shape) (Image, error) {
	if c == nil {
		return ZeroImage(shape), nil
	}
	return c.Capture(ctx)
}

// ReadField returns the zero vector for an absent magnetometer.
func ReadField(ctx context.Context, m Magnetometer) (Vector, error) {
	if m == nil {
		return Vector{}, nil
	}
	return m.ReadField(ctx)
}

// ReadTemperature returns 0 for an absent thermometer.
func ReadTemperature(ctx context.Context, t Thermometer) (float32, error) {
	if t == nil {
		return 0, nil
	}
	return t.ReadTemperature(ctx)
}

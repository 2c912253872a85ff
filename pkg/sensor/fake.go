package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// FakeCamera produces noisy frames after the configured exposure time.
type FakeCamera struct {
	shape    Shape
	exposure time.Duration
	mu       sync.Mutex
	rnd      *rand.Rand
}

func NewFakeCamera(shape Shape, exposure time.Duration) *FakeCamera {
	return &FakeCamera{shape: shape, exposure: exposure, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (f *FakeCamera) Capture(ctx context.Context) (Image, error) {
	t := time.NewTimer(f.exposure)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Image{}, ctx.Err()
	case <-t.C:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	img := ZeroImage(f.shape)
	for i := range img.Pix {
		// dark sky with a little read noise
		img.Pix[i] = uint8(min(255, max(0, int(f.rnd.NormFloat64()*4+12))))
	}
	return img, nil
}

func (f *FakeCamera) Close() error { return nil }

// FakeMagnetometer returns a nominal mid-latitude geomagnetic field with
// Gaussian noise.
type FakeMagnetometer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

var nominalField = Vector{19.5, -0.9, 45.2}

func NewFakeMagnetometer() *FakeMagnetometer {
	return &FakeMagnetometer{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (f *FakeMagnetometer) ReadField(ctx context.Context) (Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out Vector
	for i := range out {
		out[i] = nominalField[i] + float32(f.rnd.NormFloat64()*0.05)
	}
	return out, nil
}

func (f *FakeMagnetometer) Close() error { return nil }

type FakeThermometer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewFakeThermometer() *FakeThermometer {
	return &FakeThermometer{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (f *FakeThermometer) ReadTemperature(ctx context.Context) (float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return float32(10 + f.rnd.NormFloat64()*0.5), nil
}

func (f *FakeThermometer) Close() error { return nil }

package sensor

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	regPoll   = 0x00
	regCCX    = 0x04
	regMX     = 0x24
	regStatus = 0x34
	regRevID  = 0x36

	rm3100RevID = 0x22
	pollXYZ     = 0x70
	statusDRDY  = 0x80
)

// RM3100 is a PNI RM3100 magnetometer on an I2C bus, used in single
// measurement mode.
type RM3100 struct {
	dev    *i2c.Dev
	bus    i2c.BusCloser
	cycles uint16
	gain   float64
	poll   time.Duration
}

func NewRM3100(busName string, addr uint16, cycles uint16) (*RM3100, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	m, err := newRM3100(&i2c.Dev{Addr: addr, Bus: bus}, cycles)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	m.bus = bus
	return m, nil
}

func newRM3100(dev *i2c.Dev, cycles uint16) (*RM3100, error) {
	rev := make([]byte, 1)
	if err := dev.Tx([]byte{regRevID}, rev); err != nil {
		return nil, fmt.Errorf("read revid: %w", err)
	}
	if rev[0] != rm3100RevID {
		return nil, fmt.Errorf("unexpected revid %#02x", rev[0])
	}
	if err := dev.Tx(cycleCountBytes(cycles), nil); err != nil {
		return nil, fmt.Errorf("write cycle count: %w", err)
	}
	return &RM3100{dev: dev, cycles: cycles, gain: gainFor(cycles), poll: 2 * time.Millisecond}, nil
}

func (m *RM3100) Close() error {
	if m != nil && m.bus != nil {
		return m.bus.Close()
	}
	return nil
}

func (m *RM3100) ReadField(ctx context.Context) (Vector, error) {
	if m == nil {
		return Vector{}, nil
	}
	if err := m.dev.Tx([]byte{regPoll, pollXYZ}, nil); err != nil {
		return Vector{}, fmt.Errorf("start measurement: %w", err)
	}
	if err := m.waitReady(ctx); err != nil {
		return Vector{}, err
	}
	buf := make([]byte, 9)
	if err := m.dev.Tx([]byte{regMX}, buf); err != nil {
		return Vector{}, fmt.Errorf("read measurement: %w", err)
	}
	var out Vector
	for i := range out {
		out[i] = float32(float64(decode24(buf[i*3:i*3+3])) / m.gain)
	}
	return out, nil
}

func (m *RM3100) waitReady(ctx context.Context) error {
	status := make([]byte, 1)
	for {
		if err := m.dev.Tx([]byte{regStatus}, status); err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if status[0]&statusDRDY != 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for data ready: %w", ctx.Err())
		case <-time.After(m.poll):
		}
	}
}

// cycleCountBytes sets the same cycle count on all three axes, relying on the
// register auto-increment.
func cycleCountBytes(cycles uint16) []byte {
	msb, lsb := byte(cycles>>8), byte(cycles&0xFF)
	return []byte{regCCX, msb, lsb, msb, lsb, msb, lsb}
}

// gainFor is the datasheet counts-per-microtesla for a cycle count.
func gainFor(cycles uint16) float64 {
	return 0.3671*float64(cycles) + 1.5
}

// decode24 reads a big-endian two's complement 24-bit sample.
func decode24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

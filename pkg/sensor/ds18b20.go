package sensor

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const w1CRCAttempts = 3

// DS18B20 reads a Maxim DS18B20 through the kernel w1-therm sysfs file.
type DS18B20 struct {
	fs   afero.Fs
	path string
}

// NewDS18B20 binds to the first family-28 device under devicesDir.
func NewDS18B20(fs afero.Fs, devicesDir string) (*DS18B20, error) {
	matches, err := afero.Glob(fs, filepath.Join(devicesDir, "28*"))
	if err != nil {
		return nil, fmt.Errorf("scan w1 devices: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no DS18B20 found under %s", devicesDir)
	}
	return &DS18B20{fs: fs, path: filepath.Join(matches[0], "w1_slave")}, nil
}

func (t *DS18B20) Close() error { return nil }

func (t *DS18B20) ReadTemperature(ctx context.Context) (float32, error) {
	if t == nil {
		return 0, nil
	}
	for attempt := 0; attempt < w1CRCAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b, err := afero.ReadFile(t.fs, t.path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", t.path, err)
		}
		temp, ok, err := parseW1Slave(string(b))
		if err != nil {
			return 0, err
		}
		if ok {
			return temp, nil
		}
	}
	return 0, fmt.Errorf("w1 crc check failed %d times", w1CRCAttempts)
}

// parseW1Slave decodes the two-line w1_slave format. ok is false when the
// CRC line does not end in YES and the read should be retried.
func parseW1Slave(s string) (temp float32, ok bool, err error) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return 0, false, fmt.Errorf("short w1_slave read: %q", s)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, false, nil
	}
	pos := strings.Index(lines[1], "t=")
	if pos == -1 {
		return 0, false, fmt.Errorf("no temperature in %q", lines[1])
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(lines[1][pos+2:]), 32)
	if err != nil {
		return 0, false, fmt.Errorf("parse temperature: %w", err)
	}
	return float32(milli / 1000.0), true, nil
}

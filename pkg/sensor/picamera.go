package sensor

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// PiCamera captures stills through the rpicam-still CLI with manual exposure
// and gain, reading a PNG from stdout.
type PiCamera struct {
	path      string
	shutter   time.Duration
	gain      float64
	cropLeft  int
	cropRight int
}

func NewPiCamera(command string, shutter time.Duration, gain float64, cropLeft, cropRight int) (*PiCamera, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("camera command: %w", err)
	}
	return &PiCamera{path: path, shutter: shutter, gain: gain, cropLeft: cropLeft, cropRight: cropRight}, nil
}

func (c *PiCamera) args() []string {
	return []string{
		"--nopreview",
		"--immediate",
		"--timeout", "1",
		"--shutter", strconv.FormatInt(c.shutter.Microseconds(), 10),
		"--gain", strconv.FormatFloat(c.gain, 'f', -1, 64),
		"--awbgains", "1,1",
		"--encoding", "png",
		"--output", "-",
	}
}

func (c *PiCamera) Capture(ctx context.Context) (Image, error) {
	if c == nil {
		return Image{}, nil
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, c.args()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Image{}, fmt.Errorf("capture: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	frame, err := png.Decode(&stdout)
	if err != nil {
		return Image{}, fmt.Errorf("decode frame: %w", err)
	}
	return FromImage(frame, c.cropLeft, c.cropRight)
}

func (c *PiCamera) Close() error { return nil }

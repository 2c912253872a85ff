package console

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/sensor"
	"github.com/stretchr/testify/assert"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsolePublishMeasurement(t *testing.T) {
	c := NewConsole()
	ts := time.Date(2025, 9, 19, 14, 41, 54, 500_000_000, time.UTC)
	m := sensor.Measurement{Timestamp: ts, Temperature: 11.25, Field: sensor.Vector{19.5, -0.75, 45}}
	out := captureStdout(func() { _ = c.PublishMeasurement(m) })
	want := "2025-09-19T14:41:54.5Z measurement temperature=11.250 bx=19.500 by=-0.750 bz=45.000 degraded=false\n"
	assert.Equal(t, want, out)
}

func TestConsolePublishExposure(t *testing.T) {
	c := NewConsole()
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	img := sensor.Image{Shape: sensor.Shape{Height: 1, Width: 2, Channels: 1}, Pix: []uint8{255, 1}}
	out := captureStdout(func() { _ = c.PublishExposure(sensor.Exposure{Timestamp: ts, Image: img, Degraded: true}) })
	want := "2025-09-19T14:41:54Z exposure shape=1x2x1 mean=128.00 saturated=0.5000 degraded=true\n"
	assert.Equal(t, want, out)
}

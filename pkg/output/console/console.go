package console

import (
	"fmt"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/output"
	"github.com/ericogr/allsky-acquire/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) PublishMeasurement(m sensor.Measurement) error {
	fmt.Printf("%s measurement temperature=%.3f bx=%.3f by=%.3f bz=%.3f degraded=%t\n",
		m.Timestamp.UTC().Format(time.RFC3339Nano), m.Temperature, m.Field[0], m.Field[1], m.Field[2], m.Degraded)
	return nil
}

func (c *ConsoleOutput) PublishExposure(e sensor.Exposure) error {
	mean, saturated := e.Image.Stats()
	fmt.Printf("%s exposure shape=%dx%dx%d mean=%.2f saturated=%.4f degraded=%t\n",
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Image.Height, e.Image.Width, e.Image.Channels, mean, saturated, e.Degraded)
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

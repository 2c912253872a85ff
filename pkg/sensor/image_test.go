package sensor

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroImage(t *testing.T) {
	img := ZeroImage(Shape{Height: 2, Width: 3, Channels: 3})
	assert.Len(t, img.Pix, 18)
	for _, p := range img.Pix {
		assert.Zero(t, p)
	}
}

func TestFromImageCropTooWide(t *testing.T) {
	_, err := FromImage(image.NewGray(image.Rect(0, 0, 4, 4)), 2, 2)
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	src := Image{Shape: Shape{Height: 1, Width: 2, Channels: 1}, Pix: []uint8{7, 9}}

	padded := Fit(src, Shape{Height: 2, Width: 3, Channels: 1})
	assert.Equal(t, []uint8{7, 9, 0, 0, 0, 0}, padded.Pix)

	cut := Fit(src, Shape{Height: 1, Width: 1, Channels: 1})
	assert.Equal(t, []uint8{7}, cut.Pix)

	same := Fit(src, src.Shape)
	assert.Equal(t, src, same)
}

func TestStats(t *testing.T) {
	img := Image{Shape: Shape{Height: 1, Width: 4, Channels: 1}, Pix: []uint8{0, 255, 255, 90}}
	mean, sat := img.Stats()
	assert.InDelta(t, 150.0, mean, 1e-9)
	assert.InDelta(t, 0.5, sat, 1e-9)

	mean, sat = Image{}.Stats()
	assert.Zero(t, mean)
	assert.Zero(t, sat)
}

func TestAbsentDevices(t *testing.T) {
	ctx := context.Background()
	shape := Shape{Height: 2, Width: 2, Channels: 3}

	img, err := Capture(ctx, nil, shape)
	require.NoError(t, err)
	assert.Equal(t, ZeroImage(shape), img)

	field, err := ReadField(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Vector{}, field)

	temp, err := ReadTemperature(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, temp)
}

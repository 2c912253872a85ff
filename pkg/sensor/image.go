package sensor

import (
	"fmt"
	"image"
)

// ZeroImage is the sentinel exposure used when no frame is available.
func ZeroImage(shape Shape) Image {
	return Image{Shape: shape, Pix: make([]uint8, shape.Size())}
}

// FromImage converts a decoded frame into an RGB array, dropping cropLeft
// columns on the left and cropRight on the right. Those columns fall outside
// the fisheye circle on the rig camera.
func FromImage(img image.Image, cropLeft, cropRight int) (Image, error) {
	b := img.Bounds()
	width := b.Dx() - cropLeft - cropRight
	if width <= 0 {
		return Image{}, fmt.Errorf("crop %d+%d leaves no columns of %d", cropLeft, cropRight, b.Dx())
	}
	out := Image{Shape: Shape{Height: b.Dy(), Width: width, Channels: 3}}
	out.Pix = make([]uint8, out.Size())

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X + cropLeft; x < b.Max.X-cropRight; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return out, nil
}

// Fit pads or truncates img into shape so every stored exposure has the
// dataset's declared dimensions. Missing pixels are zero.
func Fit(img Image, shape Shape) Image {
	if img.Shape == shape && len(img.Pix) == shape.Size() {
		return img
	}
	out := ZeroImage(shape)
	rows := min(img.Height, shape.Height)
	cols := min(img.Width, shape.Width)
	chans := min(img.Channels, shape.Channels)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			src := (y*img.Width + x) * img.Channels
			dst := (y*shape.Width + x) * shape.Channels
			if src+chans > len(img.Pix) {
				return out
			}
			copy(out.Pix[dst:dst+chans], img.Pix[src:src+chans])
		}
	}
	return out
}

// Stats summarizes an exposure for telemetry: mean intensity and the
// fraction of saturated samples.
func (img Image) Stats() (mean, saturated float64) {
	if len(img.Pix) == 0 {
		return 0, 0
	}
	var sum, sat int
	for _, p := range img.Pix {
		sum += int(p)
		if p == 255 {
			sat++
		}
	}
	n := float64(len(img.Pix))
	return float64(sum) / n, float64(sat) / n
}

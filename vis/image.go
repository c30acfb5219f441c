package vis

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/pkg/errors"
)

// SaveImage writes a [3, H, W] channel-major buffer as a PNG. Values
// are expected in [0, 1] after the caller undid any normalization;
// out-of-range values clamp.
func SaveImage(path string, chw []float64, h, w int) error {
	if h <= 0 || w <= 0 || len(chw) < 3*h*w {
		return errors.Errorf("image needs 3x%dx%d values, got %d", h, w, len(chw))
	}

	hw := h * w
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			img.SetRGBA(x, y, color.RGBA{
				R: clamp8(chw[i]),
				G: clamp8(chw[hw+i]),
				B: clamp8(chw[2*hw+i]),
				A: 255,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create image %s", path)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return errors.Wrapf(err, "encode image %s", path)
	}
	return nil
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

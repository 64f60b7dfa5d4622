package stamps

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

const (
	BarHeight = 3
	// BarHaloOffset lifts the white halo above the bar. It is sub-pixel and
	// rounds up to one row on the pixel grid.
	BarHaloOffset = 0.2
)

var (
	AccentColor = color.RGBA{R: 0, G: 120, B: 212, A: 255}
	HaloColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// ProgressBar draws a bar along the bottom edge that reaches full width on
// the last frame. A single-frame sequence gets a full bar.
type ProgressBar struct{}

func (ProgressBar) Name() string { return "progress_bar" }

func (ProgressBar) Apply(img image.Image, f Frame) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	width := BarWidth(w, f)

	overlay := newOverlay(image.Rect(0, 0, w, h))
	if width > 0 {
		lift := int(math.Ceil(BarHaloOffset))
		halo := image.Rect(0, h-BarHeight-lift, width, h-lift)
		bar := image.Rect(0, h-BarHeight, width, h)
		draw.Draw(overlay, halo, image.NewUniform(HaloColor), image.Point{}, draw.Src)
		draw.Draw(overlay, bar, image.NewUniform(AccentColor), image.Point{}, draw.Src)
	}
	return composite(img, overlay), nil
}

// BarWidth is imageWidth * n/(count-1), truncated.
func BarWidth(imageWidth int, f Frame) int {
	if f.Count <= 1 {
		return imageWidth
	}
	n := min(max(f.Number, 0), f.Count-1)
	return int(float64(imageWidth) * (float64(n) / float64(f.Count-1)))
}

package stamps

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const DefaultBrandText = "Microsoft Planetary Computer"

var (
	brandTextColor     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	brandBackdropColor = color.RGBA{R: 0, G: 0, B: 0, A: 128}
)

// Branding writes a text watermark in the bottom right corner, above the
// progress bar area. The label is rendered once and reused for every frame.
type Branding struct {
	label  *image.RGBA
	scale  int
	margin int
}

// NewBranding renders text at the given integer scale. Frames come back
// from the tiler at tile_scale=2, so 2 keeps the label legible.
func NewBranding(text string, scale int) (*Branding, error) {
	if text == "" {
		return nil, errors.New("branding text is empty")
	}
	if scale < 1 {
		scale = 1
	}
	return &Branding{label: renderLabel(text), scale: scale, margin: 4 * scale}, nil
}

func (b *Branding) Name() string { return "branding" }

func (b *Branding) Apply(img image.Image, _ Frame) (image.Image, error) {
	ib := img.Bounds()
	w, h := ib.Dx(), ib.Dy()
	lw, lh := b.label.Bounds().Dx()*b.scale, b.label.Bounds().Dy()*b.scale

	overlay := newOverlay(image.Rect(0, 0, w, h))
	x1 := w - b.margin
	y1 := h - BarHeight - b.margin
	dst := image.Rect(x1-lw, y1-lh, x1, y1)
	if !dst.In(overlay.Bounds()) {
		// frame too small to carry the label
		return img, nil
	}
	xdraw.NearestNeighbor.Scale(overlay, dst, b.label, b.label.Bounds(), xdraw.Src, nil)
	return composite(img, overlay), nil
}

func renderLabel(text string) *image.RGBA {
	face := basicfont.Face7x13
	const pad = 2
	adv := font.MeasureString(face, text).Ceil()
	m := face.Metrics()
	lh := (m.Ascent + m.Descent).Ceil()

	label := image.NewRGBA(image.Rect(0, 0, adv+2*pad, lh+2*pad))
	draw.Draw(label, label.Bounds(), image.NewUniform(brandBackdropColor), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(brandTextColor),
		Face: face,
		Dot:  fixed.P(pad, pad+m.Ascent.Ceil()),
	}
	d.DrawString(text)
	return label
}

// Package stamps draws overlays (progress bar, branding) onto animation frames.
package stamps

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

var transparent = color.RGBA{}

// Frame identifies where a frame sits in its sequence.
type Frame struct {
	Number int // 0-based
	Count  int
}

// Stamp is a pure transform of a single frame image. Implementations must
// not mutate the input image.
type Stamp interface {
	Name() string
	Apply(img image.Image, f Frame) (image.Image, error)
}

// Pipeline applies stamps in order; later stamps draw over earlier ones.
type Pipeline []Stamp

func (p Pipeline) Apply(img image.Image, f Frame) (image.Image, error) {
	out := img
	for _, s := range p {
		next, err := s.Apply(out, f)
		if err != nil {
			return nil, fmt.Errorf("stamp %s: %w", s.Name(), err)
		}
		out = next
	}
	return out, nil
}

// ForRequest returns the stamps enabled for an animation in their fixed
// order: progress bar first, branding on top.
func ForRequest(showProgress, showBranding bool, brand *Branding) Pipeline {
	var p Pipeline
	if showProgress {
		p = append(p, ProgressBar{})
	}
	if showBranding && brand != nil {
		p = append(p, brand)
	}
	return p
}

// toRGBA copies img into a fresh RGBA with origin (0,0).
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// newOverlay returns a fully transparent layer the size of r.
func newOverlay(r image.Rectangle) *image.RGBA {
	o := image.NewRGBA(r)
	draw.Draw(o, r, image.NewUniform(transparent), image.Point{}, draw.Src)
	return o
}

// composite alpha-blends overlay onto a copy of base.
func composite(base image.Image, overlay *image.RGBA) *image.RGBA {
	out := toRGBA(base)
	draw.Draw(out, out.Bounds(), overlay, image.Point{}, draw.Over)
	return out
}

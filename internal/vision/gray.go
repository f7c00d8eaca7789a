package vision

import (
	"image"

	"golang.org/x/image/draw"
)

// toGray converts img to an 8-bit luminance image anchored at the origin.
// Images that already satisfy that are returned as is.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// downscale shrinks g by an integer factor using a bilinear kernel, which
// averages over the source footprint rather than point sampling.
func downscale(g *image.Gray, factor int) *image.Gray {
	if factor <= 1 {
		return g
	}
	w := max(g.Rect.Dx()/factor, 1)
	h := max(g.Rect.Dy()/factor, 1)
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), g, g.Bounds(), draw.Src, nil)
	return dst
}

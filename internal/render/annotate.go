// Package render draws zones and live counts onto analysed frames and
// streams the result as MJPEG.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/your-org/crowdcount/internal/zones"
)

// ZoneColor is the stroke and text colour for zone overlays.
var ZoneColor = color.RGBA{R: 0, G: 255, B: 255, A: 255}

const strokeWidth = 2

// Annotate draws every zone outline and its count onto dst.
// counts must have one entry per zone.
func Annotate(dst draw.Image, zs []zones.Zone, counts []int) {
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	src := image.NewUniform(ZoneColor)

	z := vector.NewRasterizer(w, h)
	strokes := 0
	for _, zone := range zs {
		strokes += strokePolygon(z, zone.Pixels(w, h))
	}
	if strokes > 0 {
		z.Draw(dst, b, src, image.Point{})
	}

	face := basicfont.Face7x13
	for i, zone := range zs {
		if len(zone.Points) == 0 || i >= len(counts) {
			continue
		}
		at := zone.Pixels(w, h)[0]
		d := &font.Drawer{
			Dst:  dst,
			Src:  src,
			Face: face,
			// Text sits just above the first vertex, like a caption.
			Dot: fixed.P(b.Min.X+at.X, b.Min.Y+max(at.Y-10, face.Ascent)),
		}
		d.DrawString(caption(zone, counts[i]))
	}
}

func caption(z zones.Zone, n int) string {
	if z.Label != "" {
		return fmt.Sprintf("%s: People: %d", z.Label, n)
	}
	return fmt.Sprintf("People: %d", n)
}

// strokePolygon adds a closed outline of poly to z, one quad per edge.
// It returns the number of edges added.
func strokePolygon(z *vector.Rasterizer, poly []image.Point) int {
	if len(poly) < 2 {
		return 0
	}
	n := 0
	for i := range poly {
		a, b := poly[i], poly[(i+1)%len(poly)]
		if len(poly) == 2 && i == 1 {
			break
		}
		if strokeSegment(z, a, b) {
			n++
		}
	}
	return n
}

func strokeSegment(z *vector.Rasterizer, a, b image.Point) bool {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return false
	}
	// Half-width normal, extended along the segment so corners join.
	hw := strokeWidth / 2.0
	nx, ny := -dy/length*hw, dx/length*hw
	ex, ey := dx/length*hw, dy/length*hw

	ax, ay := float64(a.X)-ex, float64(a.Y)-ey
	bx, by := float64(b.X)+ex, float64(b.Y)+ey

	size := z.Size()
	pt := func(x, y float64) (float32, float32) {
		return float32(clamp(x, float64(size.X))), float32(clamp(y, float64(size.Y)))
	}

	z.MoveTo(pt(ax+nx, ay+ny))
	z.LineTo(pt(bx+nx, by+ny))
	z.LineTo(pt(bx-nx, by-ny))
	z.LineTo(pt(ax-nx, ay-ny))
	z.ClosePath()
	return true
}

func clamp(v, hi float64) float64 {
	return math.Max(0, math.Min(v, hi))
}

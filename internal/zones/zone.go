// Package zones holds the counting zones and the geometry used to decide
// whether a detection falls inside one of them.
package zones

import (
	"fmt"
	"image"
)

// Point is a normalized (x, y) pair; each coordinate is a fraction of the
// frame width or height. It decodes from a two-element JSON array.
type Point [2]float64

func (p Point) X() float64 { return p[0] }
func (p Point) Y() float64 { return p[1] }

// Zone is a polygon over normalized frame coordinates. Its id is its index
// in the configured sequence.
type Zone struct {
	Points []Point `json:"points"`
	Label  string  `json:"label,omitempty"`
}

// Pixels projects the zone onto a w×h frame. Coordinates are truncated to
// integers.
func (z Zone) Pixels(w, h int) []image.Point {
	poly := make([]image.Point, len(z.Points))
	for i, p := range z.Points {
		poly[i] = image.Pt(int(p.X()*float64(w)), int(p.Y()*float64(h)))
	}
	return poly
}

// DisplayName returns the label, or a positional name when none was set.
func (z Zone) DisplayName(index int) string {
	if z.Label != "" {
		return z.Label
	}
	return fmt.Sprintf("Zone %d", index+1)
}

func (z Zone) clone() Zone {
	pts := make([]Point, len(z.Points))
	copy(pts, z.Points)
	return Zone{Points: pts, Label: z.Label}
}

package zones

import "image"

// Center returns the representative point of a pixel bounding box
// (x1, y1, x2, y2). Corners are truncated to integers before the midpoint is
// taken with floor division.
func Center(bbox [4]float32) image.Point {
	x1, y1 := int(bbox[0]), int(bbox[1])
	x2, y2 := int(bbox[2]), int(bbox[3])
	return image.Pt(floorHalf(x1+x2), floorHalf(y1+y2))
}

func floorHalf(v int) int {
	q := v / 2
	if v%2 != 0 && v < 0 {
		q--
	}
	return q
}

// Contains reports whether p lies inside poly or on its boundary.
//
// Polygons with fewer than three vertices have no interior: a single vertex
// only contains itself and two vertices only contain their segment.
func Contains(poly []image.Point, p image.Point) bool {
	n := len(poly)
	switch n {
	case 0:
		return false
	case 1:
		return poly[0] == p
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Y > p.Y) == (b.Y > p.Y) {
			continue
		}
		// Compare p.X with the edge's x at p.Y without dividing.
		dy := int64(b.Y - a.Y)
		lhs := int64(p.X-a.X) * dy
		rhs := int64(p.Y-a.Y) * int64(b.X-a.X)
		if (dy > 0 && lhs < rhs) || (dy < 0 && lhs > rhs) {
			inside = !inside
		}
	}
	return inside
}

func onSegment(a, b, p image.Point) bool {
	cross := int64(b.X-a.X)*int64(p.Y-a.Y) - int64(b.Y-a.Y)*int64(p.X-a.X)
	if cross != 0 {
		return false
	}
	return min(a.X, b.X) <= p.X && p.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= p.Y && p.Y <= max(a.Y, b.Y)
}

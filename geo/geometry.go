// Package geo provides the planar geometry and range predicates the
// deconfliction engine needs: polygon intersection, point-in-polygon, and
// inclusive time/altitude range overlap. Coordinates are WGS84 degrees
// treated as planar, which is adequate at the spatial scale of an
// operation volume.
package geo

// Point is a 2-D position in degrees.
type Point struct {
	Lng float64 `json:"lng" yaml:"lng"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Polygon is a simple (non-self-intersecting) ring of vertices. The ring is
// implicitly closed; the first vertex must not be repeated at the end.
type Polygon []Point

// Valid reports whether the polygon has enough vertices to enclose area.
func (p Polygon) Valid() bool {
	return len(p) >= 3
}

// Contains reports whether pt lies inside or on the boundary of the polygon,
// using the even-odd ray-casting rule with an explicit edge check so that
// boundary points count as contained.
func (p Polygon) Contains(pt Point) bool {
	if !p.Valid() {
		return false
	}

	n := len(p)
	for i := 0; i < n; i++ {
		if onSegment(p[i], p[(i+1)%n], pt) {
			return true
		}
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := p[i], p[j]
		if (pi.Lat > pt.Lat) != (pj.Lat > pt.Lat) {
			x := (pj.Lng-pi.Lng)*(pt.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lng
			if pt.Lng < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Intersects reports whether two polygons overlap: any edge crossing, or one
// polygon entirely inside the other. Touching boundaries count as an
// intersection, matching the inclusive overlap semantics of the range
// predicates.
func (p Polygon) Intersects(other Polygon) bool {
	if !p.Valid() || !other.Valid() {
		return false
	}

	for i := 0; i < len(p); i++ {
		a1 := p[i]
		a2 := p[(i+1)%len(p)]
		for j := 0; j < len(other); j++ {
			b1 := other[j]
			b2 := other[(j+1)%len(other)]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}

	// No edge crossings: either disjoint or one fully contains the other.
	return other.Contains(p[0]) || p.Contains(other[0])
}

// segmentsIntersect reports whether segments a1a2 and b1b2 share any point,
// including endpoints and collinear overlap.
func segmentsIntersect(a1, a2, b1, b2 Point) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(b1, b2, a1) {
		return true
	}
	if d2 == 0 && onSegment(b1, b2, a2) {
		return true
	}
	if d3 == 0 && onSegment(a1, a2, b1) {
		return true
	}
	if d4 == 0 && onSegment(a1, a2, b2) {
		return true
	}
	return false
}

// cross returns the z-component of (b-a) x (c-a); its sign gives the turn
// direction of c relative to the directed segment ab.
func cross(a, b, c Point) float64 {
	return (b.Lng-a.Lng)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lng-a.Lng)
}

// onSegment reports whether c lies on the closed segment ab.
func onSegment(a, b, c Point) bool {
	if cross(a, b, c) != 0 {
		return false
	}
	return min(a.Lng, b.Lng) <= c.Lng && c.Lng <= max(a.Lng, b.Lng) &&
		min(a.Lat, b.Lat) <= c.Lat && c.Lat <= max(a.Lat, b.Lat)
}

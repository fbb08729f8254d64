package geo

// Predicates answers the three-dimensional overlap questions the
// deconfliction engine poses. It is an interface so deployments can swap in
// a geodesic or PostGIS-backed implementation without touching the engine.
type Predicates interface {
	// Overlaps reports whether two volumes overlap in time, altitude, and
	// footprint simultaneously.
	Overlaps(timeA, timeB TimeRange, altA, altB AltitudeRange, polyA, polyB Polygon) bool
	// Intersects reports whether two footprints overlap, ignoring time.
	Intersects(polyA, polyB Polygon) bool
	// Contains reports whether a point falls inside a footprint.
	Contains(poly Polygon, pt Point) bool
}

// Planar implements Predicates with the package's planar geometry.
type Planar struct{}

func (Planar) Overlaps(timeA, timeB TimeRange, altA, altB AltitudeRange, polyA, polyB Polygon) bool {
	if !timeA.Overlaps(timeB) {
		return false
	}
	if !altA.Overlaps(altB) {
		return false
	}
	return polyA.Intersects(polyB)
}

func (Planar) Intersects(polyA, polyB Polygon) bool {
	return polyA.Intersects(polyB)
}

func (Planar) Contains(poly Polygon, pt Point) bool {
	return poly.Contains(pt)
}

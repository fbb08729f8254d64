package geo

import "testing"

func unitSquare() Polygon {
	return Polygon{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
}

func TestPolygonValid(t *testing.T) {
	if (Polygon{}).Valid() {
		t.Fatalf("empty polygon reported valid")
	}
	if (Polygon{{0, 0}, {1, 1}}).Valid() {
		t.Fatalf("two-vertex polygon reported valid")
	}
	if !unitSquare().Valid() {
		t.Fatalf("square reported invalid")
	}
}

func TestPolygonContains(t *testing.T) {
	sq := unitSquare()

	if !sq.Contains(Point{0.5, 0.5}) {
		t.Fatalf("interior point not contained")
	}
	if sq.Contains(Point{2, 2}) {
		t.Fatalf("exterior point contained")
	}
	// Boundary points count as contained.
	if !sq.Contains(Point{0, 0.5}) {
		t.Fatalf("edge point not contained")
	}
	if !sq.Contains(Point{1, 1}) {
		t.Fatalf("vertex not contained")
	}
}

func TestPolygonIntersectsCrossing(t *testing.T) {
	a := unitSquare()
	b := Polygon{{0.5, 0.5}, {1.5, 0.5}, {1.5, 1.5}, {0.5, 1.5}}
	if !a.Intersects(b) {
		t.Fatalf("overlapping squares reported disjoint")
	}
	if !b.Intersects(a) {
		t.Fatalf("intersection not symmetric")
	}
}

func TestPolygonIntersectsContainment(t *testing.T) {
	outer := Polygon{{-1, -1}, {2, -1}, {2, 2}, {-1, 2}}
	inner := unitSquare()
	if !outer.Intersects(inner) {
		t.Fatalf("contained polygon reported disjoint")
	}
	if !inner.Intersects(outer) {
		t.Fatalf("containing polygon reported disjoint")
	}
}

func TestPolygonIntersectsDisjoint(t *testing.T) {
	a := unitSquare()
	b := Polygon{{5, 5}, {6, 5}, {6, 6}, {5, 6}}
	if a.Intersects(b) {
		t.Fatalf("disjoint squares reported intersecting")
	}
}

func TestPolygonIntersectsTouchingEdge(t *testing.T) {
	a := unitSquare()
	b := Polygon{{1, 0}, {2, 0}, {2, 1}, {1, 1}}
	if !a.Intersects(b) {
		t.Fatalf("edge-touching squares must count as intersecting")
	}
}

func TestPolygonIntersectsInvalid(t *testing.T) {
	if unitSquare().Intersects(Polygon{{0, 0}}) {
		t.Fatalf("degenerate polygon reported intersecting")
	}
}

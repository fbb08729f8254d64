package geo

import "time"

// TimeRange is a time window. Overlap tests are inclusive: two windows that
// merely touch at a boundary instant are treated as overlapping, which errs
// on the side of reporting a conflict.
type TimeRange struct {
	Begin time.Time `json:"begin" yaml:"begin"`
	End   time.Time `json:"end" yaml:"end"`
}

// Valid reports whether the window is ordered.
func (r TimeRange) Valid() bool {
	return !r.Begin.IsZero() && !r.End.IsZero() && !r.End.Before(r.Begin)
}

// Overlaps reports whether the two windows share at least one instant,
// boundaries included.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return !r.Begin.After(other.End) && !other.Begin.After(r.End)
}

// Contains reports whether t falls within [Begin, End].
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Begin) && !t.After(r.End)
}

// AltitudeRange is a vertical extent in metres above ground. Overlap is
// inclusive, matching TimeRange.
type AltitudeRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Valid reports whether the range is ordered.
func (r AltitudeRange) Valid() bool {
	return r.Min <= r.Max
}

// Overlaps reports whether the two ranges share at least one altitude.
func (r AltitudeRange) Overlaps(other AltitudeRange) bool {
	return r.Min <= other.Max && other.Min <= r.Max
}

// Contains reports whether alt falls within [Min, Max].
func (r AltitudeRange) Contains(alt float64) bool {
	return alt >= r.Min && alt <= r.Max
}

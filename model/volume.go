package model

import (
	"time"

	"github.com/u-space/utm-core/geo"
)

// OperationVolume is one 3-D reservation belonging to an operation: a
// polygon footprint crossed with an altitude window and a time window.
// Volumes are owned exclusively by their operation and share its lifetime.
type OperationVolume struct {
	// Ordinal orders sibling volumes. Zero means unordered; uniqueness is
	// only enforced when any sibling declares one.
	Ordinal int `json:"ordinal,omitempty"`

	EffectiveTimeBegin time.Time `json:"effective_time_begin"`
	EffectiveTimeEnd   time.Time `json:"effective_time_end"`

	MinAltitude float64 `json:"min_altitude"`
	MaxAltitude float64 `json:"max_altitude"`

	Footprint geo.Polygon `json:"footprint"`

	NearStructure          bool `json:"near_structure"`
	BeyondVisualLineOfSight bool `json:"beyond_visual_line_of_sight"`
}

// TimeRange returns the volume's time window.
func (v *OperationVolume) TimeRange() geo.TimeRange {
	return geo.TimeRange{Begin: v.EffectiveTimeBegin, End: v.EffectiveTimeEnd}
}

// AltitudeRange returns the volume's vertical extent.
func (v *OperationVolume) AltitudeRange() geo.AltitudeRange {
	return geo.AltitudeRange{Min: v.MinAltitude, Max: v.MaxAltitude}
}

// Validate checks the volume invariants: a real footprint, ordered time
// window, and ordered altitude window.
func (v *OperationVolume) Validate() error {
	if !v.Footprint.Valid() {
		return ErrInvalidVolume
	}
	if !v.TimeRange().Valid() {
		return ErrInvalidVolume
	}
	if !v.AltitudeRange().Valid() {
		return ErrInvalidVolume
	}
	return nil
}

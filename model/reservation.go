package model

import (
	"time"

	"github.com/u-space/utm-core/geo"
)

// ReservationType distinguishes binding restrictions from advisories.
type ReservationType string

const (
	// DynamicRestriction is a binding keep-out volume; its creation triggers
	// a reactive scan of overlapping operations.
	DynamicRestriction ReservationType = "DYNAMIC_RESTRICTION"
	// StaticAdvisory is informational only and never triggers reactive
	// transitions.
	StaticAdvisory ReservationType = "STATIC_ADVISORY"
)

// VolumeReservation ("UVR") is a volume reservation independent of any
// operation: the same 3-D shape plus a type and cause. Reservations are
// soft-deleted, never purged.
type VolumeReservation struct {
	ID    string          `json:"id"`
	Type  ReservationType `json:"type"`
	Cause string          `json:"cause"`

	EffectiveTimeBegin time.Time `json:"effective_time_begin"`
	EffectiveTimeEnd   time.Time `json:"effective_time_end"`

	MinAltitude float64 `json:"min_altitude"`
	MaxAltitude float64 `json:"max_altitude"`

	Footprint geo.Polygon `json:"footprint"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeRange returns the reservation's time window.
func (r *VolumeReservation) TimeRange() geo.TimeRange {
	return geo.TimeRange{Begin: r.EffectiveTimeBegin, End: r.EffectiveTimeEnd}
}

// AltitudeRange returns the reservation's vertical extent.
func (r *VolumeReservation) AltitudeRange() geo.AltitudeRange {
	return geo.AltitudeRange{Min: r.MinAltitude, Max: r.MaxAltitude}
}

// RestrictedFlightVolume ("RFV") is a permanent no-fly polygon with an
// altitude window and no time bound: it is always active for intersection
// purposes. Soft-deletable.
type RestrictedFlightVolume struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`

	MinAltitude float64 `json:"min_altitude"`
	MaxAltitude float64 `json:"max_altitude"`

	Footprint geo.Polygon `json:"footprint"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// AltitudeRange returns the restricted volume's vertical extent.
func (r *RestrictedFlightVolume) AltitudeRange() geo.AltitudeRange {
	return geo.AltitudeRange{Min: r.MinAltitude, Max: r.MaxAltitude}
}

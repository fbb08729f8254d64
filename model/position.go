package model

import (
	"time"

	"github.com/u-space/utm-core/geo"
)

// PositionReport is a single telemetry fix from a vehicle. Reports are
// immutable once stored; the engine only reads them to drive conformance.
type PositionReport struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	// Gufi is the operation the vehicle claims to be flying under, when
	// known. Empty when the ingestion layer could not resolve one.
	Gufi      string    `json:"gufi,omitempty"`
	Location  geo.Point `json:"location"`
	Altitude  float64   `json:"altitude"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

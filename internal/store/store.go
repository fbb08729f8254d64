// Package store defines the reservation store: transactional CRUD plus
// range/polygon-filtered queries over operations, volume reservations, and
// restricted flight volumes. It is the only shared mutable resource in the
// engine; the admission protocol, scheduler, and conformance monitor all
// read and write through it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/u-space/utm-core/geo"
	"github.com/u-space/utm-core/model"
)

var (
	// ErrNotFound indicates a referenced operation, reservation, or
	// restricted volume is absent.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates an insert collided with an existing ID.
	ErrAlreadyExists = errors.New("already exists")
	// ErrIllegalTransition indicates a state change not permitted by the
	// operation state machine.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// VolumeFilter is the three-dimensional query shape used by the
// deconfliction evaluator: overlap in time AND altitude AND footprint.
type VolumeFilter struct {
	Time      geo.TimeRange
	Altitude  geo.AltitudeRange
	Footprint geo.Polygon
}

// FilterForVolume builds a filter matching an operation volume.
func FilterForVolume(v *model.OperationVolume) VolumeFilter {
	return VolumeFilter{
		Time:      v.TimeRange(),
		Altitude:  v.AltitudeRange(),
		Footprint: v.Footprint,
	}
}

// Store is the reservation store contract. Implementations must make
// Atomically strong enough that two concurrent admissions cannot both pass
// conflict evaluation against each other's not-yet-committed volume.
type Store interface {
	// CreateOperation inserts a new operation with its volumes.
	CreateOperation(ctx context.Context, op *model.Operation) error
	// GetOperation returns a copy of the operation with the given GUFI.
	GetOperation(ctx context.Context, gufi string) (*model.Operation, error)
	// TransitionOperation moves an operation to next, appending comment to
	// its trail. It fails with ErrIllegalTransition when the state machine
	// forbids the edge, and returns the updated operation.
	TransitionOperation(ctx context.Context, gufi string, next model.OperationState, comment string) (*model.Operation, error)
	// ListOperationsByState returns copies of all operations in any of the
	// given states.
	ListOperationsByState(ctx context.Context, states ...model.OperationState) ([]*model.Operation, error)
	// OperationsIntersecting returns operations in any of the given states
	// that have at least one volume overlapping the filter in all three
	// dimensions, excluding the operation with excludeGufi when non-empty.
	OperationsIntersecting(ctx context.Context, f VolumeFilter, states []model.OperationState, excludeGufi string) ([]*model.Operation, error)
	// OperationsIntersectingFootprint returns operations in any of the given
	// states with at least one volume overlapping the altitude range and
	// footprint, ignoring time. Used for restricted-volume scans, which have
	// no time dimension.
	OperationsIntersectingFootprint(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon, states []model.OperationState) ([]*model.Operation, error)
	// ActivatedOperationsAt returns ACTIVATED operations whose volumes
	// contain the point, altitude, and instant.
	ActivatedOperationsAt(ctx context.Context, pt geo.Point, alt float64, t time.Time) ([]*model.Operation, error)

	// CreateReservation inserts a volume reservation.
	CreateReservation(ctx context.Context, r *model.VolumeReservation) error
	// SoftDeleteReservation marks a reservation deleted without purging it.
	SoftDeleteReservation(ctx context.Context, id string) error
	// ReservationsIntersecting returns non-deleted reservations overlapping
	// the filter in all three dimensions.
	ReservationsIntersecting(ctx context.Context, f VolumeFilter) ([]*model.VolumeReservation, error)

	// CreateRestrictedVolume inserts a restricted flight volume.
	CreateRestrictedVolume(ctx context.Context, r *model.RestrictedFlightVolume) error
	// SoftDeleteRestrictedVolume marks a restricted volume deleted.
	SoftDeleteRestrictedVolume(ctx context.Context, id string) error
	// RestrictedVolumesIntersecting returns non-deleted restricted volumes
	// overlapping the altitude range and footprint. Restricted volumes have
	// no time dimension.
	RestrictedVolumesIntersecting(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon) ([]*model.RestrictedFlightVolume, error)

	// SavePositionReport appends an immutable position report.
	SavePositionReport(ctx context.Context, pr *model.PositionReport) error

	// Atomically runs fn with exclusive access to the store; no other
	// mutation or query observes an intermediate state. fn receives a
	// transactional view; an error aborts the whole unit.
	Atomically(ctx context.Context, fn func(tx Store) error) error

	Close() error
}

// StateCountsRecorder receives operation-count-by-state updates so a metrics
// collector can expose gauges without polling the store.
type StateCountsRecorder interface {
	SetOperationStateCounts(counts map[model.OperationState]int)
}

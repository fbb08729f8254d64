// Package deconflict implements the deconfliction evaluator: given a
// candidate volume, it asks the reservation store which live operations,
// volume reservations, and restricted flight volumes overlap it in time,
// altitude, and footprint, and renders a verdict. The evaluator never picks
// a destination state; callers apply their own policy to a CONFLICT.
package deconflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/internal/store"
	"github.com/u-space/utm-core/model"
)

// Verdict lists everything a candidate volume collides with. A verdict with
// no entries is CLEAR.
type Verdict struct {
	// Operations holds the GUFIs of conflicting live operations.
	Operations []string
	// Reservations holds the IDs of conflicting volume reservations.
	Reservations []string
	// Restricted holds the IDs of intersected restricted flight volumes.
	Restricted []string
}

// Clear reports whether the candidate volume conflicts with nothing.
func (v Verdict) Clear() bool {
	return len(v.Operations) == 0 && len(v.Reservations) == 0 && len(v.Restricted) == 0
}

// Explain renders a human-readable conflict summary for comment trails.
func (v Verdict) Explain() string {
	if v.Clear() {
		return "no conflicts"
	}
	parts := make([]string, 0, 3)
	if len(v.Operations) > 0 {
		parts = append(parts, fmt.Sprintf("conflicts with operations [%s]", strings.Join(v.Operations, ", ")))
	}
	if len(v.Reservations) > 0 {
		parts = append(parts, fmt.Sprintf("conflicts with volume reservations [%s]", strings.Join(v.Reservations, ", ")))
	}
	if len(v.Restricted) > 0 {
		parts = append(parts, fmt.Sprintf("intersects restricted flight volumes [%s]", strings.Join(v.Restricted, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Evaluator runs the three-way overlap checks against a reservation store.
type Evaluator struct {
	store store.Store
	log   logging.Logger
}

// New constructs an evaluator over the given store. The admission protocol
// builds one over its transactional view so the checks and the subsequent
// insert observe the same state.
func New(st store.Store, log logging.Logger) *Evaluator {
	if log == nil {
		log = logging.Noop()
	}
	return &Evaluator{store: st, log: log}
}

// Evaluate checks a candidate volume against live operations (excluding
// excludeGufi when non-empty), all non-deleted volume reservations, and all
// non-deleted restricted flight volumes. Boundary-touching ranges count as
// overlap. The reservation check is type-agnostic; call sites that only care
// about dynamic restrictions filter on their side.
func (e *Evaluator) Evaluate(ctx context.Context, vol *model.OperationVolume, excludeGufi string) (Verdict, error) {
	if vol == nil {
		return Verdict{}, fmt.Errorf("candidate volume is nil: %w", model.ErrInvalidVolume)
	}
	if err := vol.Validate(); err != nil {
		return Verdict{}, err
	}

	f := store.FilterForVolume(vol)

	ops, err := e.store.OperationsIntersecting(ctx, f, model.LiveStates, excludeGufi)
	if err != nil {
		return Verdict{}, fmt.Errorf("query overlapping operations: %w", err)
	}
	uvrs, err := e.store.ReservationsIntersecting(ctx, f)
	if err != nil {
		return Verdict{}, fmt.Errorf("query overlapping reservations: %w", err)
	}
	rfvs, err := e.store.RestrictedVolumesIntersecting(ctx, f.Altitude, f.Footprint)
	if err != nil {
		return Verdict{}, fmt.Errorf("query restricted volumes: %w", err)
	}

	var v Verdict
	for _, op := range ops {
		v.Operations = append(v.Operations, op.Gufi)
	}
	for _, r := range uvrs {
		v.Reservations = append(v.Reservations, r.ID)
	}
	for _, r := range rfvs {
		v.Restricted = append(v.Restricted, r.ID)
	}

	if !v.Clear() {
		e.log.Debug(ctx, "conflict detected",
			logging.String("exclude", excludeGufi),
			logging.Int("operations", len(v.Operations)),
			logging.Int("reservations", len(v.Reservations)),
			logging.Int("restricted", len(v.Restricted)),
		)
	}
	return v, nil
}

// EvaluateRestricted runs only the restricted-flight-volume check for a
// candidate volume. The scheduler uses it as a separate pass when
// re-evaluating PROPOSED operations.
func (e *Evaluator) EvaluateRestricted(ctx context.Context, vol *model.OperationVolume) ([]string, error) {
	if vol == nil {
		return nil, fmt.Errorf("candidate volume is nil: %w", model.ErrInvalidVolume)
	}
	rfvs, err := e.store.RestrictedVolumesIntersecting(ctx, vol.AltitudeRange(), vol.Footprint)
	if err != nil {
		return nil, fmt.Errorf("query restricted volumes: %w", err)
	}
	ids := make([]string, 0, len(rfvs))
	for _, r := range rfvs {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

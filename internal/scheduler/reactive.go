package scheduler

import (
	"context"
	"fmt"

	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/internal/store"
	"github.com/u-space/utm-core/model"
)

// OnReservationCreated demotes every operation overlapping a newly created
// volume reservation, following the ReservationTriggered table directly and
// bypassing the evaluator. Only dynamic restrictions trigger the scan;
// static advisories are informational.
func (s *Scheduler) OnReservationCreated(ctx context.Context, r *model.VolumeReservation) error {
	if r == nil {
		return nil
	}
	if r.Type != model.DynamicRestriction {
		return nil
	}

	f := store.VolumeFilter{
		Time:      r.TimeRange(),
		Altitude:  r.AltitudeRange(),
		Footprint: r.Footprint,
	}
	ops, err := s.store.OperationsIntersecting(ctx, f, model.SweepStates, "")
	if err != nil {
		return fmt.Errorf("scan operations for reservation %s: %w", r.ID, err)
	}

	reason := fmt.Sprintf("dynamic restriction %s intersects operation volume", r.ID)
	return s.applyReactive(ctx, ops, ReservationTriggered, reason)
}

// OnRestrictedVolumeCreated demotes every operation overlapping a newly
// created restricted flight volume, following the RestrictedTriggered
// table. Restricted volumes have no time bound, so the scan matches on
// altitude and footprint only.
func (s *Scheduler) OnRestrictedVolumeCreated(ctx context.Context, r *model.RestrictedFlightVolume) error {
	if r == nil {
		return nil
	}

	ops, err := s.store.OperationsIntersectingFootprint(ctx, r.AltitudeRange(), r.Footprint, model.SweepStates)
	if err != nil {
		return fmt.Errorf("scan operations for restricted volume %s: %w", r.ID, err)
	}

	reason := fmt.Sprintf("restricted flight volume %s intersects operation volume", r.ID)
	return s.applyReactive(ctx, ops, RestrictedTriggered, reason)
}

// applyReactive walks the matched operations and applies the table edge for
// each, isolating per-operation failures the same way the sweep does.
func (s *Scheduler) applyReactive(ctx context.Context, ops []*model.Operation, table ReactiveTransitions, reason string) error {
	for _, op := range ops {
		next, ok := table.Next(op.State)
		if !ok || next == op.State {
			continue
		}
		if _, err := s.transition(ctx, op, next, reason); err != nil {
			s.log.Error(ctx, "reactive transition failed",
				logging.String("gufi", op.Gufi),
				logging.String("next_state", string(next)),
				logging.Err(err),
			)
			s.alertAdmin(ctx, "reactive transition failed",
				fmt.Sprintf("operation %s could not move to %s: %v", op.Gufi, next, err))
		}
	}
	return nil
}

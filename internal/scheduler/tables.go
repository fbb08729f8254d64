package scheduler

import "github.com/u-space/utm-core/model"

// ReactiveTransitions maps an operation's current state to the state it is
// demoted to when a newly created airspace restriction overlaps it. The
// reactive scans apply these edges directly, bypassing the evaluator.
type ReactiveTransitions map[model.OperationState]model.OperationState

// Next returns the destination state for s, or false when the table leaves
// operations in state s untouched.
func (t ReactiveTransitions) Next(s model.OperationState) (model.OperationState, bool) {
	next, ok := t[s]
	return next, ok
}

// ReservationTriggered governs demotion when a dynamic volume reservation is
// created. Airborne operations are flagged ROGUE rather than closed so the
// conformance pipeline keeps tracking them.
//
// This table intentionally disagrees with RestrictedTriggered on where
// PROPOSED and ACTIVATED lead; the two trigger kinds have distinct policies
// and must not be unified without product clarification.
var ReservationTriggered = ReactiveTransitions{
	model.StateProposed:  model.StatePending,
	model.StateAccepted:  model.StateClosed,
	model.StateActivated: model.StateRogue,
}

// RestrictedTriggered governs demotion when a restricted flight volume is
// created. A permanent no-fly zone leaves nothing to wait for, so every
// overlapped operation is closed outright.
var RestrictedTriggered = ReactiveTransitions{
	model.StateProposed:  model.StateClosed,
	model.StatePending:   model.StateClosed,
	model.StateAccepted:  model.StateClosed,
	model.StateActivated: model.StateClosed,
}

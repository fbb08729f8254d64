package model

import (
	"errors"
	"time"

	"github.com/u-space/utm-core/geo"
)

// OperationState is the lifecycle state of an Operation.
type OperationState string

const (
	// StateProposed is the initial state of every operation that did not go
	// through the single-volume admission fast path.
	StateProposed OperationState = "PROPOSED"
	// StatePending means the operation conflicts with other airspace users
	// and is waiting for resolution or explicit approval.
	StatePending OperationState = "PENDING"
	// StateAccepted means the operation is clear to fly but its time window
	// has not started yet.
	StateAccepted OperationState = "ACCEPTED"
	// StateActivated means the operation's time window is open and the
	// flight may be airborne.
	StateActivated OperationState = "ACTIVATED"
	// StateNonconforming means telemetry shows the flight deviating from its
	// declared volumes but not yet treated as a hazard.
	StateNonconforming OperationState = "NONCONFORMING"
	// StateRogue means the flight is outside its volumes or overlapped by a
	// dynamic restriction and must be treated as a hazard.
	StateRogue OperationState = "ROGUE"
	// StateClosed is terminal: the operation ended, expired, or was shut
	// down administratively.
	StateClosed OperationState = "CLOSED"
	// StateNotAccepted is terminal: the operation was rejected
	// administratively and never flew.
	StateNotAccepted OperationState = "NOT_ACCEPTED"
)

// LiveStates is the universe of states considered by the deconfliction
// evaluator: operations in these states hold a claim on airspace.
var LiveStates = []OperationState{StateAccepted, StateActivated, StateRogue, StatePending}

// SweepStates is the universe of states visited by the lifecycle scheduler.
var SweepStates = []OperationState{StateProposed, StateAccepted, StateActivated, StateRogue, StatePending}

// transitions is the legal-edge table of the operation state machine.
// CLOSED is reachable from every non-terminal state (time expiry,
// administrative closure, or unrecoverable error).
var transitions = map[OperationState][]OperationState{
	StateProposed:      {StatePending, StateAccepted, StateNotAccepted, StateClosed},
	StatePending:       {StateAccepted, StateNotAccepted, StateClosed},
	StateAccepted:      {StateActivated, StateClosed},
	StateActivated:     {StateNonconforming, StateRogue, StateClosed},
	StateNonconforming: {StateActivated, StateRogue, StateClosed},
	StateRogue:         {StateClosed},
	StateClosed:        {},
	StateNotAccepted:   {},
}

// Terminal reports whether no further transitions are possible.
func (s OperationState) Terminal() bool {
	return s == StateClosed || s == StateNotAccepted
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next.
func (s OperationState) CanTransitionTo(next OperationState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

var (
	// ErrNoVolumes indicates an operation without a single volume, which the
	// engine rejects before any conflict evaluation.
	ErrNoVolumes = errors.New("operation has no volumes")
	// ErrInvalidVolume indicates a volume with a malformed footprint, time
	// window, or altitude range.
	ErrInvalidVolume = errors.New("invalid operation volume")
)

// Operation is a registered drone flight: an owner's claim on one or more
// spatio-temporal-altitude volumes, advanced through its lifecycle by the
// admission protocol, the scheduler, and the conformance monitor.
type Operation struct {
	// Gufi is the globally-unique flight identifier.
	Gufi     string         `json:"gufi"`
	Name     string         `json:"name"`
	Owner    string         `json:"owner"`
	Creator  string         `json:"creator"`
	State    OperationState `json:"state"`
	Comments string         `json:"comments"`

	// Volumes is the ordered list of reserved volumes. Invariant: never
	// empty once persisted.
	Volumes []OperationVolume `json:"volumes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveBegin is the earliest volume start across the operation.
func (o *Operation) EffectiveBegin() time.Time {
	var begin time.Time
	for _, v := range o.Volumes {
		if begin.IsZero() || v.EffectiveTimeBegin.Before(begin) {
			begin = v.EffectiveTimeBegin
		}
	}
	return begin
}

// EffectiveEnd is the latest volume end across the operation.
func (o *Operation) EffectiveEnd() time.Time {
	var end time.Time
	for _, v := range o.Volumes {
		if v.EffectiveTimeEnd.After(end) {
			end = v.EffectiveTimeEnd
		}
	}
	return end
}

// Validate checks the structural invariants: at least one volume, each
// volume well-formed, and ordinals unique when any sibling declares one.
func (o *Operation) Validate() error {
	if len(o.Volumes) == 0 {
		return ErrNoVolumes
	}
	seen := make(map[int]bool, len(o.Volumes))
	for i := range o.Volumes {
		v := &o.Volumes[i]
		if err := v.Validate(); err != nil {
			return err
		}
		if v.Ordinal != 0 {
			if seen[v.Ordinal] {
				return ErrInvalidVolume
			}
			seen[v.Ordinal] = true
		}
	}
	return nil
}

// PrependComment pushes an explanation onto the front of the comment trail.
func (o *Operation) PrependComment(comment string) {
	if o.Comments == "" {
		o.Comments = comment
		return
	}
	o.Comments = comment + "\n" + o.Comments
}

// AppendComment adds an explanation to the end of the comment trail.
func (o *Operation) AppendComment(comment string) {
	if o.Comments == "" {
		o.Comments = comment
		return
	}
	o.Comments = o.Comments + "\n" + comment
}

// Clone returns a deep copy so store snapshots cannot be mutated by callers.
func (o *Operation) Clone() *Operation {
	cp := *o
	cp.Volumes = make([]OperationVolume, len(o.Volumes))
	copy(cp.Volumes, o.Volumes)
	for i := range cp.Volumes {
		cp.Volumes[i].Footprint = append(geo.Polygon(nil), o.Volumes[i].Footprint...)
	}
	return &cp
}

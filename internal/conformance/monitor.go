// Package conformance implements the real-time conformance monitor: for
// each inbound position report it locates the activated operation owning the
// reported point, altitude, and time, and demotes the reporting vehicle's
// operation to ROGUE when the position falls outside its reserved volume.
package conformance

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/u-space/utm-core/internal/clock"
	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/internal/notify"
	"github.com/u-space/utm-core/internal/registry"
	"github.com/u-space/utm-core/internal/store"
	"github.com/u-space/utm-core/model"
)

// ErrAmbiguousAirspace indicates more than one ACTIVATED operation contains
// the same point, altitude, and time. Two activated operations must never
// legitimately share airspace; this is a data-consistency failure and is
// surfaced, never silently resolved.
var ErrAmbiguousAirspace = errors.New("multiple activated operations occupy the reported position")

// RogueReason is the transition reason recorded when a vehicle reports
// outside its operation's volume.
const RogueReason = "position outside operation volume"

// Recorder counts conformance outcomes for the metrics collector.
type Recorder interface {
	RecordConformance(outcome string)
}

// Monitor checks position reports against reserved volumes.
type Monitor struct {
	store    store.Store
	registry registry.Registry
	notifier notify.Notifier
	clock    clock.Clock
	log      logging.Logger
	metrics  Recorder
	tracer   trace.Tracer
}

// Option customises Monitor construction.
type Option func(*Monitor)

// WithRecorder attaches a conformance outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.metrics = r }
}

// New constructs a conformance monitor.
func New(st store.Store, reg registry.Registry, notifier notify.Notifier, clk clock.Clock, log logging.Logger, opts ...Option) *Monitor {
	if log == nil {
		log = logging.Noop()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	m := &Monitor{
		store:    st,
		registry: reg,
		notifier: notifier,
		clock:    clk,
		log:      log,
		tracer:   otel.Tracer("utm-core/conformance"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// HandlePositionReport persists the report and checks it against the
// activated operations occupying the reported position.
//
// Exactly one authorized match is the conforming case and changes nothing.
// Zero matches, or a match that does not authorize the reporting vehicle,
// demotes the vehicle's bound operation to ROGUE (idempotently). More than
// one match is ErrAmbiguousAirspace.
func (m *Monitor) HandlePositionReport(ctx context.Context, pr *model.PositionReport) error {
	ctx, span := m.tracer.Start(ctx, "conformance.HandlePositionReport")
	defer span.End()

	if pr == nil {
		return fmt.Errorf("position report is nil")
	}
	span.SetAttributes(attribute.String("vehicle_id", pr.VehicleID))

	report := *pr
	if report.Timestamp.IsZero() {
		report.Timestamp = m.clock.Now().UTC()
	}
	if err := m.store.SavePositionReport(ctx, &report); err != nil {
		// The report is evidence, not a precondition; conformance checking
		// proceeds even when journaling it fails.
		m.log.Warn(ctx, "failed to persist position report",
			logging.String("vehicle_id", report.VehicleID),
			logging.Err(err),
		)
	}

	owners, err := m.store.ActivatedOperationsAt(ctx, report.Location, report.Altitude, report.Timestamp)
	if err != nil {
		return fmt.Errorf("locate activated operations: %w", err)
	}

	if len(owners) > 1 {
		gufis := make([]string, len(owners))
		for i, op := range owners {
			gufis[i] = op.Gufi
		}
		m.record("ambiguous")
		return fmt.Errorf("position of vehicle %s matches operations %v: %w",
			report.VehicleID, gufis, ErrAmbiguousAirspace)
	}

	if len(owners) == 1 && m.registry.IsAuthorized(owners[0].Gufi, report.VehicleID) {
		m.record("conforming")
		return nil
	}

	// Outside any volume the vehicle is authorized for: demote its bound
	// operation.
	gufi := report.Gufi
	if gufi == "" {
		bound, ok := m.registry.BoundOperation(report.VehicleID)
		if !ok {
			m.record("unknown")
			m.log.Debug(ctx, "nonconforming report from vehicle with no bound operation",
				logging.String("vehicle_id", report.VehicleID),
			)
			return nil
		}
		gufi = bound
	}

	return m.demote(ctx, gufi, report.VehicleID)
}

// demote moves the bound operation to ROGUE unless it already is, or unless
// its state no longer permits the edge.
func (m *Monitor) demote(ctx context.Context, gufi, vehicleID string) error {
	op, err := m.store.GetOperation(ctx, gufi)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.record("unknown")
			m.log.Warn(ctx, "bound operation not found",
				logging.String("gufi", gufi),
				logging.String("vehicle_id", vehicleID),
			)
			return nil
		}
		return err
	}

	if op.State == model.StateRogue {
		// Already flagged; repeated reports must not produce duplicate
		// transitions or notifications.
		m.record("rogue")
		return nil
	}
	if !op.State.CanTransitionTo(model.StateRogue) {
		m.record("unknown")
		m.log.Debug(ctx, "nonconforming report for operation not in flight",
			logging.String("gufi", gufi),
			logging.String("state", string(op.State)),
		)
		return nil
	}

	if _, err := m.store.TransitionOperation(ctx, gufi, model.StateRogue, RogueReason); err != nil {
		return fmt.Errorf("demote operation %s: %w", gufi, err)
	}
	m.record("rogue")
	m.log.Info(ctx, "operation demoted to rogue",
		logging.String("gufi", gufi),
		logging.String("vehicle_id", vehicleID),
	)
	if err := m.notifier.NotifyStateChange(ctx, gufi, op.State, model.StateRogue, RogueReason); err != nil {
		m.log.Warn(ctx, "state change notification failed",
			logging.String("gufi", gufi),
			logging.Err(err),
		)
	}
	return nil
}

func (m *Monitor) record(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordConformance(outcome)
	}
}

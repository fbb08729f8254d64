// Package scheduler implements the lifecycle scheduler: a periodic
// reconciliation sweep that ages operations through their wall-clock
// transitions and re-evaluates proposed operations, plus the reactive scans
// triggered by newly created airspace restrictions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/u-space/utm-core/internal/clock"
	"github.com/u-space/utm-core/internal/deconflict"
	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/internal/notify"
	"github.com/u-space/utm-core/internal/store"
	"github.com/u-space/utm-core/model"
)

// Config governs sweep cadence and the two policy knobs left open by the
// product.
type Config struct {
	// Interval is the sweep cadence.
	Interval time.Duration
	// DefaultAccept moves clear PROPOSED operations to ACCEPTED (and
	// cascades into activation within the same cycle). When false they move
	// to PENDING and wait for explicit approval.
	DefaultAccept bool
	// AutoClosePending closes PENDING operations whose time window has
	// elapsed even though the underlying conflict was never resolved. This
	// mirrors observed behaviour; disable it to keep expired pending
	// operations visible.
	AutoClosePending bool
}

// DefaultConfig returns the sweep defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		DefaultAccept:    true,
		AutoClosePending: true,
	}
}

// Recorder receives sweep timings and transition counts.
type Recorder interface {
	RecordSweep(duration time.Duration, transitions int)
}

// Scheduler drives time-based lifecycle transitions. It assumes a single
// active sweep at a time; Run never overlaps sweeps, and deployments running
// multiple instances must guard externally.
type Scheduler struct {
	store    store.Store
	eval     *deconflict.Evaluator
	notifier notify.Notifier
	clock    clock.Clock
	log      logging.Logger
	cfg      Config
	metrics  Recorder
	tracer   trace.Tracer
}

// Option customises Scheduler construction.
type Option func(*Scheduler)

// WithRecorder attaches a sweep metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// New constructs a scheduler. All collaborators are explicit; there are no
// ambient singletons.
func New(st store.Store, notifier notify.Notifier, clk clock.Clock, log logging.Logger, cfg Config, opts ...Option) *Scheduler {
	if log == nil {
		log = logging.Noop()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	s := &Scheduler{
		store:    st,
		eval:     deconflict.New(st, log),
		notifier: notifier,
		clock:    clk,
		log:      log,
		cfg:      cfg,
		tracer:   otel.Tracer("utm-core/scheduler"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error(ctx, "sweep failed", logging.Err(err))
			}
		}
	}
}

// Sweep fetches every operation in a non-terminal sweep state and processes
// each independently. A failure on one operation force-closes it and the
// sweep continues; a single malfunctioning record never aborts the sweep.
func (s *Scheduler) Sweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.Sweep")
	defer span.End()

	start := time.Now()
	ops, err := s.store.ListOperationsByState(ctx, model.SweepStates...)
	if err != nil {
		return fmt.Errorf("list operations for sweep: %w", err)
	}

	transitions := 0
	for _, op := range ops {
		n, err := s.sweepOperation(ctx, op)
		transitions += n
		if err != nil {
			s.quarantine(ctx, op, err)
			transitions++
		}
	}

	span.SetAttributes(attribute.Int("operations", len(ops)), attribute.Int("transitions", transitions))
	if s.metrics != nil {
		s.metrics.RecordSweep(time.Since(start), transitions)
	}
	s.log.Debug(ctx, "sweep complete",
		logging.Int("operations", len(ops)),
		logging.Int("transitions", transitions),
	)
	return nil
}

// sweepOperation applies the state-specific handling for one operation and
// returns how many transitions it performed.
func (s *Scheduler) sweepOperation(ctx context.Context, op *model.Operation) (int, error) {
	now := s.clock.Now()

	switch op.State {
	case model.StateProposed:
		return s.sweepProposed(ctx, op, now)

	case model.StateAccepted:
		begin, end := op.EffectiveBegin(), op.EffectiveEnd()
		if !now.Before(end) {
			return s.transition(ctx, op, model.StateClosed, "time window elapsed")
		}
		if !now.Before(begin) {
			return s.transition(ctx, op, model.StateActivated, "time window open")
		}
		return 0, nil

	case model.StateActivated, model.StateRogue:
		if !now.Before(op.EffectiveEnd()) {
			return s.transition(ctx, op, model.StateClosed, "time window elapsed")
		}
		return 0, nil

	case model.StatePending:
		if s.cfg.AutoClosePending && !now.Before(op.EffectiveEnd()) {
			return s.transition(ctx, op, model.StateClosed, "expired while pending")
		}
		return 0, nil
	}
	return 0, nil
}

// sweepProposed re-evaluates every volume of a proposed operation. Any
// conflict, including a restricted-volume hit, parks it PENDING and stops
// processing for this cycle. A fully clear operation is auto-accepted when
// configured, cascading into the accepted handling within the same cycle.
func (s *Scheduler) sweepProposed(ctx context.Context, op *model.Operation, now time.Time) (int, error) {
	for i := range op.Volumes {
		vol := &op.Volumes[i]
		verdict, err := s.eval.Evaluate(ctx, vol, op.Gufi)
		if err != nil {
			return 0, err
		}
		rfvs, err := s.eval.EvaluateRestricted(ctx, vol)
		if err != nil {
			return 0, err
		}
		if !verdict.Clear() || len(rfvs) > 0 {
			verdict.Restricted = rfvs
			n, err := s.transition(ctx, op, model.StatePending, "conflict during re-evaluation: "+verdict.Explain())
			if err != nil {
				return n, err
			}
			s.alertAdmin(ctx, "operation pending",
				fmt.Sprintf("operation %s moved to PENDING: %s", op.Gufi, verdict.Explain()))
			return n, nil
		}
	}

	if !s.cfg.DefaultAccept {
		return s.transition(ctx, op, model.StatePending, "pending by scheduler")
	}

	n, err := s.transition(ctx, op, model.StateAccepted, "auto-accepted by scheduler")
	if err != nil {
		return n, err
	}
	accepted, err := s.store.GetOperation(ctx, op.Gufi)
	if err != nil {
		return n, err
	}
	m, err := s.sweepOperation(ctx, accepted)
	return n + m, err
}

// transition applies one state change, logging it and announcing it.
func (s *Scheduler) transition(ctx context.Context, op *model.Operation, next model.OperationState, reason string) (int, error) {
	_, err := s.store.TransitionOperation(ctx, op.Gufi, next, reason)
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "operation transitioned",
		logging.String("gufi", op.Gufi),
		logging.String("old_state", string(op.State)),
		logging.String("new_state", string(next)),
		logging.String("reason", reason),
	)
	s.announce(ctx, op.Gufi, op.State, next, reason)
	return 1, nil
}

// quarantine force-closes an operation the sweep could not process and
// alerts the administrator. Errors here are logged and swallowed; the sweep
// must keep going.
func (s *Scheduler) quarantine(ctx context.Context, op *model.Operation, cause error) {
	s.log.Error(ctx, "sweep failed for operation; force-closing",
		logging.String("gufi", op.Gufi),
		logging.Err(cause),
	)
	_, err := s.store.TransitionOperation(ctx, op.Gufi, model.StateClosed,
		"force-closed after sweep error: "+cause.Error())
	if err != nil && !errors.Is(err, store.ErrIllegalTransition) {
		s.log.Error(ctx, "force-close failed",
			logging.String("gufi", op.Gufi),
			logging.Err(err),
		)
	}
	s.announce(ctx, op.Gufi, op.State, model.StateClosed, "sweep error")
	s.alertAdmin(ctx, "operation force-closed",
		fmt.Sprintf("operation %s force-closed after sweep error: %v", op.Gufi, cause))
}

func (s *Scheduler) announce(ctx context.Context, gufi string, oldState, newState model.OperationState, reason string) {
	if err := s.notifier.NotifyStateChange(ctx, gufi, oldState, newState, reason); err != nil {
		s.log.Warn(ctx, "state change notification failed",
			logging.String("gufi", gufi),
			logging.Err(err),
		)
	}
}

func (s *Scheduler) alertAdmin(ctx context.Context, subject, body string) {
	if err := s.notifier.NotifyAdmin(ctx, subject, body); err != nil {
		s.log.Warn(ctx, "admin notification failed",
			logging.String("subject", subject),
			logging.Err(err),
		)
	}
}

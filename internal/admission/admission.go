// Package admission implements the operation admission protocol: the
// single-volume fast path that evaluates conflicts and admits, activates, or
// parks a new operation inside one atomic store transaction.
package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
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

// ErrInvalidInput indicates a malformed request: no volumes, multiple
// volumes on the fast path, or an invalid volume shape. Nothing is
// persisted.
var ErrInvalidInput = errors.New("invalid input")

// Recorder counts admission outcomes for the metrics collector.
type Recorder interface {
	RecordAdmission(outcome string)
}

// Protocol admits new operations. All collaborators are injected at
// construction; there is no ambient state.
type Protocol struct {
	store    store.Store
	notifier notify.Notifier
	clock    clock.Clock
	log      logging.Logger
	metrics  Recorder
	tracer   trace.Tracer
}

// Option customises Protocol construction.
type Option func(*Protocol)

// WithRecorder attaches an admission outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Protocol) { p.metrics = r }
}

// New constructs the admission protocol.
func New(st store.Store, notifier notify.Notifier, clk clock.Clock, log logging.Logger, opts ...Option) *Protocol {
	if log == nil {
		log = logging.Noop()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	p := &Protocol{
		store:    st,
		notifier: notifier,
		clock:    clk,
		log:      log,
		tracer:   otel.Tracer("utm-core/admission"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Admit runs the single-volume fast path. The operation must carry exactly
// one volume; anything else is ErrInvalidInput. Conflict evaluation, state
// assignment, and the insert all happen inside one Atomically unit, so no
// concurrent admission can pass evaluation against this operation's
// not-yet-committed volume. On success the persisted operation is returned
// and a lifecycle notification is dispatched fire-and-forget.
func (p *Protocol) Admit(ctx context.Context, op *model.Operation) (*model.Operation, error) {
	ctx, span := p.tracer.Start(ctx, "admission.Admit")
	defer span.End()

	if op == nil {
		p.record("rejected")
		return nil, fmt.Errorf("operation is nil: %w", ErrInvalidInput)
	}
	if len(op.Volumes) != 1 {
		p.record("rejected")
		return nil, fmt.Errorf("fast path requires exactly one volume, got %d: %w", len(op.Volumes), ErrInvalidInput)
	}
	if err := op.Volumes[0].Validate(); err != nil {
		p.record("rejected")
		return nil, fmt.Errorf("%s: %w", err, ErrInvalidInput)
	}

	admitted := op.Clone()
	if admitted.Gufi == "" {
		admitted.Gufi = uuid.NewString()
	}
	span.SetAttributes(attribute.String("gufi", admitted.Gufi))

	now := p.clock.Now()
	admitted.CreatedAt = now.UTC()
	admitted.UpdatedAt = now.UTC()

	err := p.store.Atomically(ctx, func(tx store.Store) error {
		eval := deconflict.New(tx, p.log)
		verdict, err := eval.Evaluate(ctx, &admitted.Volumes[0], "")
		if err != nil {
			return err
		}

		if !verdict.Clear() {
			admitted.State = model.StatePending
			admitted.PrependComment("Conflict detected during admission: " + verdict.Explain())
		} else {
			begin := admitted.EffectiveBegin()
			end := admitted.EffectiveEnd()
			switch {
			case !end.After(now):
				admitted.State = model.StateClosed
				admitted.AppendComment("operation window already elapsed at admission")
			case !begin.After(now):
				admitted.State = model.StateActivated
			default:
				admitted.State = model.StateAccepted
			}
		}

		return tx.CreateOperation(ctx, admitted)
	})
	if err != nil {
		p.record("error")
		return nil, err
	}

	span.SetAttributes(attribute.String("state", string(admitted.State)))
	p.record(outcomeFor(admitted.State))
	p.log.Info(ctx, "operation admitted",
		logging.String("gufi", admitted.Gufi),
		logging.String("state", string(admitted.State)),
	)
	p.announce(ctx, admitted.Gufi, model.StateProposed, admitted.State, "admission")

	return admitted, nil
}

// SubmitProposed persists a multi-volume operation as PROPOSED without
// automatic activation; the lifecycle scheduler picks it up on its next
// sweep.
func (p *Protocol) SubmitProposed(ctx context.Context, op *model.Operation) (*model.Operation, error) {
	ctx, span := p.tracer.Start(ctx, "admission.SubmitProposed")
	defer span.End()

	if op == nil {
		return nil, fmt.Errorf("operation is nil: %w", ErrInvalidInput)
	}
	submitted := op.Clone()
	if submitted.Gufi == "" {
		submitted.Gufi = uuid.NewString()
	}
	if err := submitted.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrInvalidInput)
	}
	span.SetAttributes(attribute.String("gufi", submitted.Gufi))

	now := p.clock.Now().UTC()
	submitted.State = model.StateProposed
	submitted.CreatedAt = now
	submitted.UpdatedAt = now

	if err := p.store.CreateOperation(ctx, submitted); err != nil {
		return nil, err
	}
	p.record("proposed")
	p.log.Info(ctx, "operation submitted as proposed",
		logging.String("gufi", submitted.Gufi),
		logging.Int("volumes", len(submitted.Volumes)),
	)
	return submitted, nil
}

func (p *Protocol) announce(ctx context.Context, gufi string, oldState, newState model.OperationState, reason string) {
	if err := p.notifier.NotifyStateChange(ctx, gufi, oldState, newState, reason); err != nil {
		p.log.Warn(ctx, "state change notification failed",
			logging.String("gufi", gufi),
			logging.Err(err),
		)
	}
}

func (p *Protocol) record(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordAdmission(outcome)
	}
}

func outcomeFor(state model.OperationState) string {
	switch state {
	case model.StateActivated:
		return "activated"
	case model.StateAccepted:
		return "accepted"
	case model.StatePending:
		return "pending"
	case model.StateClosed:
		return "closed"
	default:
		return string(state)
	}
}

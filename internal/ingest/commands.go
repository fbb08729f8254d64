package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/u-space/utm-core/internal/admission"
	"github.com/u-space/utm-core/internal/clock"
	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/internal/scheduler"
	"github.com/u-space/utm-core/internal/store"
	"github.com/u-space/utm-core/model"
)

// Administrative command subjects. Requests carry a JSON payload and receive
// a CommandReply on the reply inbox.
const (
	SubjectCmdPrefix = "utm.cmd."

	SubjectCmdOperationSubmit = "utm.cmd.operation.submit"
	SubjectCmdOperationClose  = "utm.cmd.operation.close"
	SubjectCmdReservationNew  = "utm.cmd.uvr.create"
	SubjectCmdReservationDel  = "utm.cmd.uvr.delete"
	SubjectCmdRestrictedNew   = "utm.cmd.rfv.create"
	SubjectCmdRestrictedDel   = "utm.cmd.rfv.delete"
)

// CommandReply is the JSON response to every administrative command.
type CommandReply struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// closeRequest identifies an operation to force-close.
type closeRequest struct {
	Gufi   string `json:"gufi"`
	Reason string `json:"reason"`
}

// deleteRequest identifies a reservation or restricted volume to soft-delete.
type deleteRequest struct {
	ID string `json:"id"`
}

// Commands serves the administrative command subjects.
type Commands struct {
	nc        *nats.Conn
	store     store.Store
	protocol  *admission.Protocol
	scheduler *scheduler.Scheduler
	clock     clock.Clock
	log       logging.Logger

	sub *nats.Subscription
}

// NewCommands constructs the command handler.
func NewCommands(nc *nats.Conn, st store.Store, protocol *admission.Protocol, sched *scheduler.Scheduler, clk clock.Clock, log logging.Logger) *Commands {
	if log == nil {
		log = logging.Noop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Commands{
		nc:        nc,
		store:     st,
		protocol:  protocol,
		scheduler: sched,
		clock:     clk,
		log:       log,
	}
}

// Start subscribes to the command subject tree.
func (c *Commands) Start(ctx context.Context) error {
	sub, err := c.nc.Subscribe(SubjectCmdPrefix+">", func(msg *nats.Msg) {
		c.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s>: %w", SubjectCmdPrefix, err)
	}
	c.sub = sub
	c.log.Info(ctx, "command handler started", logging.String("subject", SubjectCmdPrefix+">"))
	return nil
}

// Stop unsubscribes from the command subjects.
func (c *Commands) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
}

func (c *Commands) dispatch(ctx context.Context, msg *nats.Msg) {
	var reply CommandReply
	switch msg.Subject {
	case SubjectCmdOperationSubmit:
		reply = c.submitOperation(ctx, msg.Data)
	case SubjectCmdOperationClose:
		reply = c.closeOperation(ctx, msg.Data)
	case SubjectCmdReservationNew:
		reply = c.createReservation(ctx, msg.Data)
	case SubjectCmdReservationDel:
		reply = c.deleteReservation(ctx, msg.Data)
	case SubjectCmdRestrictedNew:
		reply = c.createRestricted(ctx, msg.Data)
	case SubjectCmdRestrictedDel:
		reply = c.deleteRestricted(ctx, msg.Data)
	default:
		reply = CommandReply{Error: fmt.Sprintf("unknown command subject %s", msg.Subject)}
	}

	if msg.Reply == "" {
		if reply.Error != "" {
			c.log.Warn(ctx, "command failed with no reply inbox",
				logging.String("subject", msg.Subject),
				logging.String("error", reply.Error),
			)
		}
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		c.log.Error(ctx, "command reply marshal failed", logging.Err(err))
		return
	}
	if err := msg.Respond(payload); err != nil {
		c.log.Warn(ctx, "command reply failed",
			logging.String("subject", msg.Subject),
			logging.Err(err),
		)
	}
}

// submitOperation admits a single-volume operation through the fast path and
// routes multi-volume operations through the proposed path for the scheduler
// to pick up.
func (c *Commands) submitOperation(ctx context.Context, data []byte) CommandReply {
	var op model.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return CommandReply{Error: fmt.Sprintf("malformed operation: %v", err)}
	}

	var (
		admitted *model.Operation
		err      error
	)
	if len(op.Volumes) == 1 {
		admitted, err = c.protocol.Admit(ctx, &op)
	} else {
		admitted, err = c.protocol.SubmitProposed(ctx, &op)
	}
	if err != nil {
		if errors.Is(err, admission.ErrInvalidInput) {
			return CommandReply{Error: err.Error()}
		}
		c.log.Error(ctx, "operation submit failed", logging.Err(err))
		return CommandReply{Error: err.Error()}
	}
	return CommandReply{OK: true, ID: admitted.Gufi, State: string(admitted.State)}
}

func (c *Commands) closeOperation(ctx context.Context, data []byte) CommandReply {
	var req closeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return CommandReply{Error: fmt.Sprintf("malformed close request: %v", err)}
	}
	if req.Gufi == "" {
		return CommandReply{Error: "gufi is required"}
	}
	reason := req.Reason
	if reason == "" {
		reason = "closed by administrator"
	}

	op, err := c.store.TransitionOperation(ctx, req.Gufi, model.StateClosed, reason)
	if err != nil {
		return CommandReply{Error: err.Error()}
	}
	c.log.Info(ctx, "operation closed by command",
		logging.String("gufi", req.Gufi),
		logging.String("reason", reason),
	)
	return CommandReply{OK: true, ID: op.Gufi, State: string(op.State)}
}

// createReservation persists the reservation and then runs the reactive scan
// so overlapping operations are demoted immediately rather than on the next
// sweep.
func (c *Commands) createReservation(ctx context.Context, data []byte) CommandReply {
	var r model.VolumeReservation
	if err := json.Unmarshal(data, &r); err != nil {
		return CommandReply{Error: fmt.Sprintf("malformed reservation: %v", err)}
	}
	if r.Type != model.DynamicRestriction && r.Type != model.StaticAdvisory {
		return CommandReply{Error: fmt.Sprintf("unknown reservation type %q", r.Type)}
	}
	if !r.Footprint.Valid() {
		return CommandReply{Error: "reservation footprint is not a valid polygon"}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Deleted = false
	r.CreatedAt = c.clock.Now().UTC()

	if err := c.store.CreateReservation(ctx, &r); err != nil {
		return CommandReply{Error: err.Error()}
	}
	c.log.Info(ctx, "reservation created",
		logging.String("id", r.ID),
		logging.String("type", string(r.Type)),
	)

	if err := c.scheduler.OnReservationCreated(ctx, &r); err != nil {
		c.log.Error(ctx, "reactive scan for reservation failed",
			logging.String("id", r.ID),
			logging.Err(err),
		)
		return CommandReply{OK: true, ID: r.ID, Error: fmt.Sprintf("reservation stored but reactive scan failed: %v", err)}
	}
	return CommandReply{OK: true, ID: r.ID}
}

func (c *Commands) deleteReservation(ctx context.Context, data []byte) CommandReply {
	var req deleteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return CommandReply{Error: fmt.Sprintf("malformed delete request: %v", err)}
	}
	if req.ID == "" {
		return CommandReply{Error: "id is required"}
	}
	if err := c.store.SoftDeleteReservation(ctx, req.ID); err != nil {
		return CommandReply{Error: err.Error()}
	}
	c.log.Info(ctx, "reservation deleted", logging.String("id", req.ID))
	return CommandReply{OK: true, ID: req.ID}
}

func (c *Commands) createRestricted(ctx context.Context, data []byte) CommandReply {
	var r model.RestrictedFlightVolume
	if err := json.Unmarshal(data, &r); err != nil {
		return CommandReply{Error: fmt.Sprintf("malformed restricted volume: %v", err)}
	}
	if !r.Footprint.Valid() {
		return CommandReply{Error: "restricted volume footprint is not a valid polygon"}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Deleted = false
	r.CreatedAt = c.clock.Now().UTC()

	if err := c.store.CreateRestrictedVolume(ctx, &r); err != nil {
		return CommandReply{Error: err.Error()}
	}
	c.log.Info(ctx, "restricted volume created", logging.String("id", r.ID))

	if err := c.scheduler.OnRestrictedVolumeCreated(ctx, &r); err != nil {
		c.log.Error(ctx, "reactive scan for restricted volume failed",
			logging.String("id", r.ID),
			logging.Err(err),
		)
		return CommandReply{OK: true, ID: r.ID, Error: fmt.Sprintf("restricted volume stored but reactive scan failed: %v", err)}
	}
	return CommandReply{OK: true, ID: r.ID}
}

func (c *Commands) deleteRestricted(ctx context.Context, data []byte) CommandReply {
	var req deleteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return CommandReply{Error: fmt.Sprintf("malformed delete request: %v", err)}
	}
	if req.ID == "" {
		return CommandReply{Error: "id is required"}
	}
	if err := c.store.SoftDeleteRestrictedVolume(ctx, req.ID); err != nil {
		return CommandReply{Error: err.Error()}
	}
	c.log.Info(ctx, "restricted volume deleted", logging.String("id", req.ID))
	return CommandReply{OK: true, ID: req.ID}
}

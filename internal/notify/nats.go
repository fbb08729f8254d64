package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/model"
)

const (
	// SubjectStateChange carries operation lifecycle events.
	SubjectStateChange = "utm.operation.state"
	// SubjectAdminAlert carries administrative alerts.
	SubjectAdminAlert = "utm.admin.alert"
)

// StateChangeEvent is the wire shape of a lifecycle notification.
type StateChangeEvent struct {
	Gufi     string               `json:"gufi"`
	OldState model.OperationState `json:"old_state"`
	NewState model.OperationState `json:"new_state"`
	Reason   string               `json:"reason"`
	At       time.Time            `json:"at"`
}

// AdminAlertEvent is the wire shape of an administrative alert.
type AdminAlertEvent struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	At      time.Time `json:"at"`
}

// NATSNotifier publishes notifications to a NATS broker.
type NATSNotifier struct {
	nc  *nats.Conn
	log logging.Logger
}

// NewNATSNotifier connects to the broker at url with indefinite reconnects.
func NewNATSNotifier(url string, log logging.Logger) (*NATSNotifier, error) {
	if log == nil {
		log = logging.Noop()
	}
	opts := []nats.Option{
		nats.Name("utm-core"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(context.Background(), "nats disconnected", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(context.Background(), "nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", url, err)
	}
	return &NATSNotifier{nc: nc, log: log}, nil
}

func (n *NATSNotifier) NotifyStateChange(ctx context.Context, gufi string, oldState, newState model.OperationState, reason string) error {
	if n.nc == nil || n.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(StateChangeEvent{
		Gufi:     gufi,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.nc.Publish(SubjectStateChange, payload)
}

func (n *NATSNotifier) NotifyAdmin(ctx context.Context, subject, body string) error {
	if n.nc == nil || n.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(AdminAlertEvent{
		Subject: subject,
		Body:    body,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.nc.Publish(SubjectAdminAlert, payload)
}

// Conn exposes the underlying connection so ingest subscribers can share it.
func (n *NATSNotifier) Conn() *nats.Conn { return n.nc }

// Close drains and closes the connection.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		n.nc.Drain()
		n.nc.Close()
	}
}

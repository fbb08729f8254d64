// Package notify carries lifecycle and administrative notifications out of
// the engine. Dispatch is fire-and-forget: a failed notification is logged
// by the caller and must never roll back or block a state transition.
package notify

import (
	"context"

	"github.com/u-space/utm-core/model"
)

// Notifier is the notification collaborator contract.
type Notifier interface {
	// NotifyStateChange announces an operation transition.
	NotifyStateChange(ctx context.Context, gufi string, oldState, newState model.OperationState, reason string) error
	// NotifyAdmin raises an administrative alert.
	NotifyAdmin(ctx context.Context, subject, body string) error
}

// Noop drops all notifications. Used in tests and when no broker is
// configured.
type Noop struct{}

func (Noop) NotifyStateChange(context.Context, string, model.OperationState, model.OperationState, string) error {
	return nil
}

func (Noop) NotifyAdmin(context.Context, string, string) error { return nil }

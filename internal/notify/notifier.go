// Package notify delivers templated notifications. The core hands over a recipient, a
// template name and a data payload; transport details stay behind the Notifier interface.
package notify

import (
	"context"
	"errors"
)

// Template names understood by the renderer.
const (
	TemplateRegistration        = "training-registration"
	TemplateTrainingReminder    = "training-reminder"
	TemplateDeclarationReminder = "declaration-reminder"
)

// Data is the payload rendered into a template.
type Data map[string]any

// Notifier sends one notification. A nil error means the notifier accepted it.
type Notifier interface {
	Send(ctx context.Context, to, template string, data Data) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, to, template string, data Data) error

// Send implements Notifier.
func (f Func) Send(ctx context.Context, to, template string, data Data) error {
	return f(ctx, to, template, data)
}

// ErrNoRecipient is returned when a notification has no address.
var ErrNoRecipient = errors.New("notify: recipient address required")

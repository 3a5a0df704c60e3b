// Package notify defines the outbound notification contract the engine and
// scheduler use, plus the Telegram implementation. No formatting logic leaks
// into the core: callers hand over an event and a payload, the channel
// renders it.
package notify

import "context"

// Event names a user- or operator-facing notification.
type Event string

const (
	EventOrderCreated   Event = "order_created"
	EventOrderVerified  Event = "order_verified"
	EventOrderExpired   Event = "order_expired"
	EventTrialGranted   Event = "trial_granted"
	EventTrafficWarning Event = "traffic_warning"
	EventExpiryWarning  Event = "expiry_warning"
	EventOperatorAlert  Event = "operator_alert"
	EventRenewalFailed  Event = "renewal_failed"
)

// Payload carries event parameters to the renderer.
type Payload map[string]any

// Notifier delivers events to a chat and cleans up ephemeral messages.
type Notifier interface {
	// Notify renders and sends the event, returning the message reference
	// for later cleanup.
	Notify(ctx context.Context, chatID int64, event Event, payload Payload) (int, error)

	// DeleteMessage removes an earlier message. Failures are non-fatal for
	// callers; refs are ephemeral.
	DeleteMessage(ctx context.Context, chatID int64, msgRef int) error
}

package channels

import "context"

// MessageRef identifies a message delivered through an executor, so it can
// be edited or deleted later.
type MessageRef struct {
	Channel   string `json:"channel"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

// SendOptions carries the platform-independent delivery knobs.
type SendOptions struct {
	// ReplyTo references a platform message to reply to, 0 for none.
	ReplyTo int64
	// ParseMode is passed through to the platform (e.g. "HTML",
	// "MarkdownV2"); rendering semantics are the platform's business.
	ParseMode string
	// Dismissable attaches the standard "delete this notification"
	// affordance to the outgoing message.
	Dismissable bool
}

// InboundMessage is a platform event normalized to the fields the
// bot-handling component cares about.
type InboundMessage struct {
	Channel   string
	UserID    int64
	ChatID    int64
	MessageID int64
	Text      string
	Payload   string // callback/button payload, empty for plain messages
}

// UpdateHandler receives inbound messages from an executor's polling loop.
type UpdateHandler func(ctx context.Context, msg InboundMessage)

// DeliveryMetrics counts executor activity. Implementations must tolerate
// concurrent calls; executors treat a nil recorder as a no-op.
type DeliveryMetrics interface {
	RecordAttempt(channel string)
	RecordFailure(channel string)
	RecordPollRestart(channel string)
	RecordInbound(channel string)
}

// Executor is a pluggable messaging backend: it can deliver, edit, and
// delete messages on one platform and run its own inbound-event polling
// loop. Implementations must be safe for concurrent use.
type Executor interface {
	SendMessage(ctx context.Context, userID int64, text string, opts SendOptions) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// StartPolling runs the inbound-event loop until ctx is cancelled or
	// the loop fails terminally.
	StartPolling(ctx context.Context) error

	// IsAvailable reports whether the executor is configured well enough
	// to be registered (token present, etc.).
	IsAvailable() bool

	// Type returns the registry name, e.g. "telegram" or "vk".
	Type() string
}

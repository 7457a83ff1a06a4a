package scene

import (
	"context"
	"time"
)

// Session is one user's active multi-step chat interaction. The concrete
// implementation is owned by the bot-handling component; the directory and
// the broadcast path treat its page name and data bag as opaque state.
//
// UpdateMessage and End may perform network I/O and can block; the directory
// never calls them while holding its lock.
type Session interface {
	UserID() int64
	SceneName() string
	CurrentPage() string
	Data() map[string]any
	UpdateMessage(ctx context.Context) error
	End(ctx context.Context) error
}

// Factory constructs a Session for Directory.Create and Directory.Replace.
// It runs under the directory lock, so it must not block on I/O.
type Factory func() (Session, error)

// EventType tags a scene lifecycle event.
type EventType string

const (
	EventCreated  EventType = "scene_created"
	EventRemoved  EventType = "scene_removed"
	EventReplaced EventType = "scene_replaced"
)

// Event describes a scene lifecycle change. Events are emitted outside the
// directory lock and delivered to at most one listener.
type Event struct {
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id"`
	SceneName string    `json:"scene_name,omitempty"`
	At        time.Time `json:"at"`
}

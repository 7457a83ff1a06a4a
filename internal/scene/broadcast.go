package scene

import (
	"context"
	"fmt"
	"time"

	"scenehub/internal/errors"
	"scenehub/internal/logging"
)

// Action selects what a broadcast does with each matching session.
type Action string

const (
	// ActionUpdate asks each matching session to re-render its message.
	ActionUpdate Action = "update"
	// ActionClose ends each matching session and removes it from the
	// directory.
	ActionClose Action = "close"
)

// ParseAction maps the wire value to an Action. An empty value defaults to
// update, matching the cross-service protocol.
func ParseAction(raw string) (Action, error) {
	switch raw {
	case "", string(ActionUpdate):
		return ActionUpdate, nil
	case string(ActionClose):
		return ActionClose, nil
	default:
		return "", fmt.Errorf("unknown action %q", raw)
	}
}

// Filter selects sessions for a broadcast. Zero-valued criteria impose no
// constraint; the zero Filter matches every active session.
type Filter struct {
	SceneName string
	PageName  string
	DataKey   string
	DataValue string
	UserIDs   []int64
}

// Matches reports whether s satisfies every supplied criterion. Data values
// are compared as strings after coercion.
func (f Filter) Matches(s Session) bool {
	if f.SceneName != "" && s.SceneName() != f.SceneName {
		return false
	}
	if f.PageName != "" && s.CurrentPage() != f.PageName {
		return false
	}
	if f.DataKey != "" {
		value, ok := s.Data()[f.DataKey]
		if !ok || fmt.Sprint(value) != f.DataValue {
			return false
		}
	}
	if len(f.UserIDs) > 0 {
		found := false
		for _, id := range f.UserIDs {
			if id == s.UserID() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// BroadcastMetrics receives broadcast outcome measurements.
type BroadcastMetrics interface {
	RecordBroadcast(ctx context.Context, action string, total, updated int, elapsed time.Duration)
}

// Broadcaster applies a bulk filter-and-act operation across the directory.
// Broadcast is best-effort: a stale or half-torn-down session never blocks
// refreshing the rest of the cohort.
type Broadcaster struct {
	dir           *Directory
	logger        logging.Logger
	metrics       BroadcastMetrics
	actionTimeout time.Duration
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithActionTimeout bounds each per-session action. A hung UpdateMessage or
// End becomes a reported per-item failure instead of stalling the batch.
func WithActionTimeout(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.actionTimeout = d }
}

// WithBroadcastMetrics wires broadcast counters.
func WithBroadcastMetrics(m BroadcastMetrics) BroadcasterOption {
	return func(b *Broadcaster) { b.metrics = m }
}

// NewBroadcaster constructs a Broadcaster over dir.
func NewBroadcaster(dir *Directory, logger logging.Logger, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		dir:           dir,
		logger:        logging.OrNop(logger),
		actionTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Apply takes a directory snapshot, applies action to every session matching
// filter, and returns the total active session count alongside the number of
// successfully actioned sessions. Per-session failures (including panics in
// session code) are logged and skipped.
func (b *Broadcaster) Apply(ctx context.Context, filter Filter, action Action) (total, updated int) {
	start := time.Now()
	sessions := b.dir.Snapshot()
	total = len(sessions)

	for _, s := range sessions {
		if !filter.Matches(s) {
			continue
		}
		if err := b.applyOne(ctx, s, action); err != nil {
			b.logger.Warn("broadcast: %v", errors.NewActionError(s.UserID(), string(action), err))
			continue
		}
		if action == ActionClose {
			b.dir.Remove(s.UserID())
		}
		updated++
	}

	b.logger.Info("broadcast %s: total=%d updated=%d scene=%q page=%q",
		action, total, updated, filter.SceneName, filter.PageName)
	if b.metrics != nil {
		b.metrics.RecordBroadcast(ctx, string(action), total, updated, time.Since(start))
	}
	return total, updated
}

func (b *Broadcaster) applyOne(ctx context.Context, s Session, action Action) (err error) {
	if b.actionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.actionTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()

	switch action {
	case ActionClose:
		return s.End(ctx)
	default:
		return s.UpdateMessage(ctx)
	}
}

package scene

import (
	"context"
	"sync"
	"time"

	"scenehub/internal/errors"
	"scenehub/internal/logging"
)

// DirectoryMetrics receives active-scene gauge updates.
type DirectoryMetrics interface {
	IncActiveScenes(ctx context.Context)
	DecActiveScenes(ctx context.Context)
}

type entry struct {
	session   Session
	createdAt time.Time
	touchedAt time.Time
}

// Directory is the process-wide registry mapping user IDs to their active
// Session. At most one Session exists per user at any time. All operations
// are safe for concurrent use; the internal lock is never held across a
// Session method call.
type Directory struct {
	mu     sync.RWMutex
	scenes map[int64]*entry

	logger   logging.Logger
	metrics  DirectoryMetrics
	listener func(Event)
	now      func() time.Time
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithDirectoryMetrics wires the active-scene gauge.
func WithDirectoryMetrics(m DirectoryMetrics) DirectoryOption {
	return func(d *Directory) { d.metrics = m }
}

// WithEventListener registers a listener for scene lifecycle events.
func WithEventListener(fn func(Event)) DirectoryOption {
	return func(d *Directory) { d.listener = fn }
}

// WithClock overrides the time source. Tests use this.
func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) { d.now = now }
}

// NewDirectory constructs an empty scene directory.
func NewDirectory(logger logging.Logger, opts ...DirectoryOption) *Directory {
	d := &Directory{
		scenes: make(map[int64]*entry),
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create constructs and registers a Session for userID. It fails with
// errors.ErrAlreadyActive when a Session is already registered, so two
// racing calls for the same user yield exactly one success.
func (d *Directory) Create(userID int64, factory Factory) (Session, error) {
	d.mu.Lock()
	if _, ok := d.scenes[userID]; ok {
		d.mu.Unlock()
		return nil, errors.ErrAlreadyActive
	}
	session, err := factory()
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	now := d.now()
	d.scenes[userID] = &entry{session: session, createdAt: now, touchedAt: now}
	d.mu.Unlock()

	d.logger.Debug("scene created: user=%d scene=%s", userID, session.SceneName())
	if d.metrics != nil {
		d.metrics.IncActiveScenes(context.Background())
	}
	d.emit(Event{Type: EventCreated, UserID: userID, SceneName: session.SceneName(), At: now})
	return session, nil
}

// Replace atomically swaps the user's Session for a freshly constructed one.
// The previous Session, if any, is ended best-effort after the swap; its
// End error is logged, not returned. This is the safe variant of the racy
// end-then-create pattern.
func (d *Directory) Replace(ctx context.Context, userID int64, factory Factory) (Session, error) {
	d.mu.Lock()
	session, err := factory()
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	var old Session
	if prev, ok := d.scenes[userID]; ok {
		old = prev.session
	}
	now := d.now()
	d.scenes[userID] = &entry{session: session, createdAt: now, touchedAt: now}
	d.mu.Unlock()

	if old != nil {
		if err := old.End(ctx); err != nil {
			d.logger.Warn("replaced scene end failed: user=%d err=%v", userID, err)
		}
	} else if d.metrics != nil {
		d.metrics.IncActiveScenes(context.Background())
	}
	d.emit(Event{Type: EventReplaced, UserID: userID, SceneName: session.SceneName(), At: now})
	return session, nil
}

// Get returns the user's active Session, if any.
func (d *Directory) Get(userID int64) (Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.scenes[userID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Touch refreshes the user's last-activity timestamp. Page-transition glue
// calls this so IdleLongerThan reflects real interaction recency.
func (d *Directory) Touch(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.scenes[userID]; ok {
		e.touchedAt = d.now()
	}
}

// Remove deregisters the user's Session. Removing an absent user is a no-op.
func (d *Directory) Remove(userID int64) {
	d.mu.Lock()
	e, ok := d.scenes[userID]
	var sceneName string
	if ok {
		sceneName = e.session.SceneName()
		delete(d.scenes, userID)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	d.logger.Debug("scene removed: user=%d scene=%s", userID, sceneName)
	if d.metrics != nil {
		d.metrics.DecActiveScenes(context.Background())
	}
	d.emit(Event{Type: EventRemoved, UserID: userID, SceneName: sceneName, At: d.now()})
}

// Snapshot returns a point-in-time copy of all active sessions. The slice is
// safe to iterate while the directory is concurrently mutated; sessions
// created after the call are not included.
func (d *Directory) Snapshot() []Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Session, 0, len(d.scenes))
	for _, e := range d.scenes {
		out = append(out, e.session)
	}
	return out
}

// Len reports the number of active sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.scenes)
}

// IdleLongerThan returns sessions whose last activity is older than maxIdle.
// Scenes are never evicted automatically; operators close leaked ones via a
// broadcast with the close action over this set.
func (d *Directory) IdleLongerThan(maxIdle time.Duration) []Session {
	cutoff := d.now().Add(-maxIdle)
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Session
	for _, e := range d.scenes {
		if e.touchedAt.Before(cutoff) {
			out = append(out, e.session)
		}
	}
	return out
}

func (d *Directory) emit(ev Event) {
	if d.listener != nil {
		d.listener(ev)
	}
}

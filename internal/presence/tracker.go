package presence

import (
	"context"
	"sync"
	"time"

	"scenehub/internal/logging"
)

const (
	// DefaultTTL is how long a viewer entry stays visible after its last
	// touch.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxPerItem caps viewer entries per item; the oldest entry is
	// evicted beyond the cap so a hot item cannot grow without bound.
	DefaultMaxPerItem = 64
)

type viewerEntry struct {
	displayName string
	lastSeen    time.Time
}

// TrackerMetrics receives heartbeat counts.
type TrackerMetrics interface {
	RecordPresenceTouch(ctx context.Context)
}

// Tracker records which users are currently viewing a given item. Entries
// expire after a TTL; pruning is lazy, triggered only by Touch or Viewers on
// the same item, never by a background sweep.
type Tracker struct {
	mu    sync.Mutex
	items map[string]map[int64]*viewerEntry

	ttl        time.Duration
	maxPerItem int
	logger     logging.Logger
	metrics    TrackerMetrics
	now        func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTTL overrides the staleness threshold.
func WithTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithMaxPerItem overrides the per-item entry cap.
func WithMaxPerItem(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxPerItem = n
		}
	}
}

// WithClock overrides the time source. Tests use this.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithMetrics wires heartbeat counters.
func WithMetrics(m TrackerMetrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker constructs an empty presence tracker.
func NewTracker(logger logging.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		items:      make(map[string]map[int64]*viewerEntry),
		ttl:        DefaultTTL,
		maxPerItem: DefaultMaxPerItem,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Touch upserts the viewer's entry for itemID with a fresh timestamp, then
// prunes stale entries for that item.
func (t *Tracker) Touch(itemID string, userID int64, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	bucket, ok := t.items[itemID]
	if !ok {
		bucket = make(map[int64]*viewerEntry)
		t.items[itemID] = bucket
	}
	bucket[userID] = &viewerEntry{displayName: displayName, lastSeen: now}

	t.pruneLocked(itemID, now)
	t.enforceCapLocked(itemID)

	if t.metrics != nil {
		t.metrics.RecordPresenceTouch(context.Background())
	}
}

// Viewers prunes stale entries for itemID and returns the display names of
// the remaining viewers, excluding excludeUserID (pass 0 to exclude nobody).
// Order is not specified.
func (t *Tracker) Viewers(itemID string, excludeUserID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked(itemID, t.now())
	bucket, ok := t.items[itemID]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(bucket))
	for userID, entry := range bucket {
		if excludeUserID != 0 && userID == excludeUserID {
			continue
		}
		names = append(names, entry.displayName)
	}
	return names
}

// Items reports the number of items with at least one (possibly stale)
// entry. Stale buckets linger until the next access touches them.
func (t *Tracker) Items() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// pruneLocked drops entries older than the TTL and deletes the bucket once
// it is empty. An entry once pruned never reappears without a fresh Touch.
func (t *Tracker) pruneLocked(itemID string, now time.Time) {
	bucket, ok := t.items[itemID]
	if !ok {
		return
	}
	for userID, entry := range bucket {
		if now.Sub(entry.lastSeen) > t.ttl {
			delete(bucket, userID)
		}
	}
	if len(bucket) == 0 {
		delete(t.items, itemID)
	}
}

// enforceCapLocked evicts the oldest entries beyond the per-item cap.
func (t *Tracker) enforceCapLocked(itemID string) {
	bucket, ok := t.items[itemID]
	if !ok {
		return
	}
	for len(bucket) > t.maxPerItem {
		var oldestID int64
		var oldestSeen time.Time
		first := true
		for userID, entry := range bucket {
			if first || entry.lastSeen.Before(oldestSeen) {
				oldestID = userID
				oldestSeen = entry.lastSeen
				first = false
			}
		}
		delete(bucket, oldestID)
		t.logger.Debug("presence cap eviction: item=%s user=%d", itemID, oldestID)
	}
}

package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Distributor fans mutations out to the feed store and to in-process
// push subscribers. It owns timestamp assignment: a mutex plus a
// last-issued guard keeps timestamps strictly increasing even when the
// wall clock ties, so no two events share a cursor position.
type Distributor struct {
	store     Store
	sessions  *SessionStore
	retention time.Duration
	now       func() time.Time

	mu     sync.Mutex
	lastTS int64
	subs   map[int64]map[chan Event]struct{}
}

func NewDistributor(store Store, sessions *SessionStore, retention time.Duration) *Distributor {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Distributor{
		store:     store,
		sessions:  sessions,
		retention: retention,
		now:       time.Now,
		subs:      map[int64]map[chan Event]struct{}{},
	}
}

func (d *Distributor) Sessions() *SessionStore {
	return d.sessions
}

// Record appends one event and pushes it to subscribers. Recording is
// best-effort relative to the mutation it describes: a feed failure is
// logged, never surfaced to the writer.
func (d *Distributor) Record(ctx context.Context, projectID int64, changeType, resourceType string, resourceID int64, payload map[string]any) {
	event := Event{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Timestamp:    d.nextTimestamp(),
		ChangeType:   changeType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
	}

	if err := d.store.Append(ctx, event); err != nil {
		log.Printf("event append failed: project=%d type=%s: %v", projectID, changeType, err)
		return
	}
	cutoff := d.now().Add(-d.retention).UnixMicro()
	if err := d.store.Prune(ctx, projectID, cutoff); err != nil {
		log.Printf("event prune failed: project=%d: %v", projectID, err)
	}

	d.broadcast(event)
}

// nextTimestamp issues epoch microseconds. Nanoseconds would overflow
// the float64 ZSET score in the feed store and collapse adjacent
// cursor positions.
func (d *Distributor) nextTimestamp() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := d.now().UnixMicro()
	if ts <= d.lastTS {
		ts = d.lastTS + 1
	}
	d.lastTS = ts
	return ts
}

// PollSince returns up to limit events after the cursor, the next
// cursor value, and whether more events remain. An empty page returns
// the caller's own cursor back.
func (d *Distributor) PollSince(ctx context.Context, projectID int64, since int64, limit int) ([]Event, int64, bool, error) {
	query := 0
	if limit > 0 {
		query = limit + 1
	}
	items, err := d.store.QuerySince(ctx, projectID, since, query)
	if err != nil {
		return nil, 0, false, err
	}
	hasMore := false
	if limit > 0 && len(items) > limit {
		items = items[:limit]
		hasMore = true
	}
	next := since
	if len(items) > 0 {
		next = items[len(items)-1].Timestamp
	}
	return items, next, hasMore, nil
}

// Subscribe registers an in-process push channel for a project. The
// returned cancel must be called exactly once; after it returns the
// channel is closed.
func (d *Distributor) Subscribe(projectID int64) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	d.mu.Lock()
	if d.subs[projectID] == nil {
		d.subs[projectID] = map[chan Event]struct{}{}
	}
	d.subs[projectID][ch] = struct{}{}
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		if _, ok := d.subs[projectID][ch]; ok {
			delete(d.subs[projectID], ch)
			close(ch)
		}
		d.mu.Unlock()
	}
	return ch, cancel
}

// broadcast delivers without blocking; a subscriber that cannot keep up
// drops events and re-syncs via polling.
func (d *Distributor) broadcast(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.subs[event.ProjectID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Package events is the append-only change feed behind live grid
// updates. Every successful mutation lands here once, keyed by a
// strictly increasing timestamp that doubles as the polling cursor.
package events

import "context"

// Event is one recorded change. Timestamp is microseconds since the
// epoch and unique per project; clients poll with the last timestamp
// they saw and receive strictly newer events. Microseconds keep the
// value exactly representable as a Redis ZSET score (float64 holds
// integers up to 2^53).
type Event struct {
	ID           string         `json:"id"`
	ProjectID    int64          `json:"projectId"`
	Timestamp    int64          `json:"timestamp"`
	ChangeType   string         `json:"changeType"`
	ResourceType string         `json:"resourceType"`
	ResourceID   int64          `json:"resourceId"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Store is the persistence behind the feed.
type Store interface {
	Append(ctx context.Context, event Event) error
	// QuerySince returns events with Timestamp strictly greater than
	// since, oldest first. A limit <= 0 returns everything.
	QuerySince(ctx context.Context, projectID int64, since int64, limit int) ([]Event, error)
	Prune(ctx context.Context, projectID int64, olderThan int64) error
}

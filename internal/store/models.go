package store

import (
	"time"

	"releasegrid/api/internal/hierarchy"
)

// Issue is a work item on the grid. LockVersion is the optimistic
// concurrency counter; it increments by exactly one on every successful
// row mutation.
type Issue struct {
	ID             int64
	ProjectID      int64
	Tracker        hierarchy.Tracker
	Subject        string
	Description    string
	Status         string
	Priority       string
	Assignee       *string
	ParentID       *int64
	VersionID      *int64
	StartDate      *time.Time
	DueDate        *time.Time
	EstimatedHours float64
	DoneRatio      int
	// VersionPinned marks a version explicitly chosen by a human; a
	// non-forced cascade never overwrites it.
	VersionPinned bool
	LockVersion   int
	DeletedAt     *time.Time
	DeleteReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Version struct {
	ID            int64
	ProjectID     int64
	Name          string
	Description   string
	EffectiveDate *time.Time
	Status        string // open, locked, closed
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Project struct {
	ID         int64
	Identifier string
	Name       string
	ParentID   *int64
	CreatedAt  time.Time
}

// IssueRelation is a non-hierarchical link between two issues
// (blocks, relates, duplicates). Relations keep soft-deleted issues
// referenced for audit.
type IssueRelation struct {
	ID           int64
	IssueFromID  int64
	IssueToID    int64
	RelationType string
}

// BatchOperationRecord is one audit row per batch operation, written
// after every issue in the batch has been processed.
type BatchOperationRecord struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"projectId"`
	OperationType string    `json:"operationType"`
	Actor         string    `json:"actor"`
	AffectedCount int       `json:"affectedCount"`
	SuccessCount  int       `json:"successCount"`
	ErrorCount    int       `json:"errorCount"`
	DurationMS    int64     `json:"durationMs"`
	Summary       string    `json:"summary"`
	CreatedAt     time.Time `json:"createdAt"`
}

const (
	VersionStatusOpen   = "open"
	VersionStatusLocked = "locked"
	VersionStatusClosed = "closed"
)

package mutation

import "fmt"

// ConflictError is the optimistic-lock failure. It is raised before any
// write when the caller's expected lock value is stale, and never
// retried or merged by the engine.
type ConflictError struct {
	ResourceID       int64
	CurrentVersion   int
	AttemptedVersion int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("issue %d: lock_version is %d, caller expected %d",
		e.ResourceID, e.CurrentVersion, e.AttemptedVersion)
}

// HierarchyError covers illegal parent-tracker pairings and cycles.
type HierarchyError struct {
	IssueID int64
	Reason  string
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("issue %d: %s", e.IssueID, e.Reason)
}

// WorkflowError is a disallowed status transition.
type WorkflowError struct {
	IssueID    int64
	Tracker    string
	FromStatus string
	ToStatus   string
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("issue %d: %s may not move from %q to %q",
		e.IssueID, e.Tracker, e.FromStatus, e.ToStatus)
}

// ValidationError is a field-level input failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// BatchCapError rejects an oversized batch before any work begins.
type BatchCapError struct {
	Requested int
	Cap       int
}

func (e *BatchCapError) Error() string {
	return fmt.Sprintf("batch of %d exceeds cap of %d", e.Requested, e.Cap)
}

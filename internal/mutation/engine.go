// Package mutation executes guarded single and batched issue mutations.
package mutation

import (
	"context"
	"time"

	"releasegrid/api/internal/hierarchy"
	"releasegrid/api/internal/store"
	"releasegrid/api/internal/versioning"
)

type dataStore interface {
	GetIssue(ctx context.Context, issueID int64) (store.Issue, error)
	ListChildren(ctx context.Context, parentID int64) ([]store.Issue, error)
	InsertIssue(ctx context.Context, item store.Issue) (store.Issue, error)
	UpdateIssueRow(ctx context.Context, item store.Issue) (store.Issue, error)
	SoftDeleteIssueRow(ctx context.Context, issueID int64, lockVersion int, reason string) (store.Issue, error)
	ListRelations(ctx context.Context, issueID int64) ([]store.IssueRelation, error)
	InsertBatchOperation(ctx context.Context, rec store.BatchOperationRecord) (store.BatchOperationRecord, error)
}

// eventRecorder receives one call per successful write. The distributor
// behind it assigns the authoritative timestamp.
type eventRecorder interface {
	Record(ctx context.Context, projectID int64, changeType, resourceType string, resourceID int64, payload map[string]any)
}

type Engine struct {
	store       dataStore
	propagation *versioning.Service
	events      eventRecorder
	batchCap    int
}

func NewEngine(st dataStore, propagation *versioning.Service, events eventRecorder, batchCap int) *Engine {
	if batchCap <= 0 {
		batchCap = 100
	}
	return &Engine{store: st, propagation: propagation, events: events, batchCap: batchCap}
}

type CreateRequest struct {
	ProjectID      int64
	Tracker        string
	Subject        string
	Description    string
	Priority       string
	Assignee       *string
	ParentID       *int64
	VersionID      *int64
	EstimatedHours float64
	Actor          string
}

// Create inserts a new issue. A child without an explicit version
// inherits its parent's version, matching drag-free creation on the
// grid.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (store.Issue, error) {
	tracker, err := hierarchy.ParseTracker(req.Tracker)
	if err != nil {
		return store.Issue{}, &ValidationError{Field: "tracker", Reason: err.Error()}
	}
	if req.Subject == "" {
		return store.Issue{}, &ValidationError{Field: "subject", Reason: "subject is required"}
	}

	item := store.Issue{
		ProjectID:      req.ProjectID,
		Tracker:        tracker,
		Subject:        req.Subject,
		Description:    req.Description,
		Status:         StatusNew,
		Priority:       req.Priority,
		Assignee:       req.Assignee,
		ParentID:       req.ParentID,
		VersionID:      req.VersionID,
		EstimatedHours: req.EstimatedHours,
	}
	if item.Priority == "" {
		item.Priority = "Normal"
	}

	if req.ParentID != nil {
		parent, err := e.store.GetIssue(ctx, *req.ParentID)
		if err != nil {
			return store.Issue{}, err
		}
		if err := hierarchy.ValidateParent(tracker, parent.Tracker); err != nil {
			return store.Issue{}, &HierarchyError{IssueID: 0, Reason: err.Error()}
		}
		if item.VersionID == nil {
			item.VersionID = parent.VersionID
		}
	}

	created, err := e.store.InsertIssue(ctx, item)
	if err != nil {
		return store.Issue{}, err
	}
	e.emit(ctx, created, "issue_created")
	return created, nil
}

type MoveRequest struct {
	IssueID int64
	// ParentSet distinguishes "leave parent alone" from "clear parent".
	ParentSet bool
	ParentID  *int64
	// VersionSet likewise; a set nil version clears the column.
	VersionSet          bool
	VersionID           *int64
	ExpectedLock        *int
	PropagateToChildren bool
	Force               bool
	Actor               string
}

type MoveResult struct {
	Issue       store.Issue
	Propagation *versioning.CascadeResult
}

// Move reassigns parent and/or version in one step (drag-and-drop).
// Hierarchy is validated first, including the descendant-cycle check;
// the version change then runs through the propagation service.
func (e *Engine) Move(ctx context.Context, req MoveRequest) (MoveResult, error) {
	issue, err := e.store.GetIssue(ctx, req.IssueID)
	if err != nil {
		return MoveResult{}, err
	}
	if err := checkLock(issue, req.ExpectedLock); err != nil {
		return MoveResult{}, err
	}

	if req.ParentSet && req.ParentID != nil {
		parent, err := e.store.GetIssue(ctx, *req.ParentID)
		if err != nil {
			return MoveResult{}, err
		}
		if err := hierarchy.ValidateParent(issue.Tracker, parent.Tracker); err != nil {
			return MoveResult{}, &HierarchyError{IssueID: issue.ID, Reason: err.Error()}
		}
		if err := e.checkCycle(ctx, issue.ID, parent); err != nil {
			return MoveResult{}, err
		}
	}

	result := MoveResult{}
	expected := req.ExpectedLock
	if req.ParentSet {
		issue.ParentID = req.ParentID
		updated, err := e.store.UpdateIssueRow(ctx, issue)
		if err != nil {
			return MoveResult{}, e.asConflict(ctx, err, issue.ID, issue.LockVersion)
		}
		issue = updated
	}

	if req.VersionSet {
		// The caller's expected lock stays in force across the re-read
		// inside the propagation service; after a parent write it follows
		// the bumped row.
		if expected != nil {
			lock := issue.LockVersion
			expected = &lock
		}
		cascade, err := e.propagation.ChangeVersionWithDates(ctx, issue.ID, req.VersionID, versioning.Options{
			UpdateParent:        true,
			PropagateToChildren: req.PropagateToChildren,
			Force:               req.Force,
			ManualPin:           true,
			ExpectedLock:        expected,
			Actor:               req.Actor,
		})
		if err != nil {
			return MoveResult{}, e.asConflict(ctx, err, issue.ID, issue.LockVersion)
		}
		issue = cascade.Issue
		result.Propagation = &cascade
		for i := range cascade.Children {
			e.emit(ctx, cascade.Children[i], "issue_updated")
		}
		if cascade.Parent != nil {
			e.emit(ctx, *cascade.Parent, "issue_updated")
		}
	}

	result.Issue = issue
	e.emit(ctx, issue, "issue_moved")
	return result, nil
}

// checkCycle refuses a proposed parent that sits in the issue's own
// subtree. The visited set keeps a corrupted parent chain from looping
// the walk.
func (e *Engine) checkCycle(ctx context.Context, issueID int64, proposedParent store.Issue) error {
	visited := map[int64]bool{}
	current := proposedParent
	for {
		if current.ID == issueID {
			return &HierarchyError{IssueID: issueID, Reason: "proposed parent is a descendant of the issue"}
		}
		if visited[current.ID] {
			return &HierarchyError{IssueID: issueID, Reason: "parent chain contains a cycle"}
		}
		visited[current.ID] = true
		if current.ParentID == nil {
			return nil
		}
		next, err := e.store.GetIssue(ctx, *current.ParentID)
		if err != nil {
			return err
		}
		current = next
	}
}

// Fields is a partial issue edit; nil members leave columns untouched.
type Fields struct {
	Subject        *string
	Description    *string
	Status         *string
	Priority       *string
	Assignee       *string
	AssigneeSet    bool
	DoneRatio      *int
	EstimatedHours *float64
	StartDate      *time.Time
	DueDate        *time.Time
}

type UpdateRequest struct {
	IssueID            int64
	Fields             Fields
	ExpectedLock       *int
	WorkflowValidation bool
	Role               string
	Actor              string
}

func (e *Engine) Update(ctx context.Context, req UpdateRequest) (store.Issue, error) {
	issue, err := e.store.GetIssue(ctx, req.IssueID)
	if err != nil {
		return store.Issue{}, err
	}
	if err := checkLock(issue, req.ExpectedLock); err != nil {
		return store.Issue{}, err
	}
	if err := applyFields(&issue, req.Fields, req.WorkflowValidation, req.Role); err != nil {
		return store.Issue{}, err
	}

	updated, err := e.store.UpdateIssueRow(ctx, issue)
	if err != nil {
		return store.Issue{}, e.asConflict(ctx, err, issue.ID, issue.LockVersion)
	}
	e.emit(ctx, updated, "issue_updated")
	return updated, nil
}

func applyFields(issue *store.Issue, fields Fields, workflowValidation bool, role string) error {
	if fields.Status != nil {
		if !KnownStatus(*fields.Status) {
			return &ValidationError{Field: "status", Reason: "unknown status " + *fields.Status}
		}
		if workflowValidation && !CanTransition(role, issue.Status, *fields.Status) {
			return &WorkflowError{
				IssueID:    issue.ID,
				Tracker:    issue.Tracker.String(),
				FromStatus: issue.Status,
				ToStatus:   *fields.Status,
			}
		}
		issue.Status = *fields.Status
	}
	if fields.Subject != nil {
		if *fields.Subject == "" {
			return &ValidationError{Field: "subject", Reason: "subject cannot be blank"}
		}
		issue.Subject = *fields.Subject
	}
	if fields.Description != nil {
		issue.Description = *fields.Description
	}
	if fields.Priority != nil {
		issue.Priority = *fields.Priority
	}
	if fields.AssigneeSet {
		issue.Assignee = fields.Assignee
	}
	if fields.DoneRatio != nil {
		if *fields.DoneRatio < 0 || *fields.DoneRatio > 100 {
			return &ValidationError{Field: "doneRatio", Reason: "done ratio must be between 0 and 100"}
		}
		issue.DoneRatio = *fields.DoneRatio
	}
	if fields.EstimatedHours != nil {
		if *fields.EstimatedHours < 0 {
			return &ValidationError{Field: "estimatedHours", Reason: "estimated hours cannot be negative"}
		}
		issue.EstimatedHours = *fields.EstimatedHours
	}
	if fields.StartDate != nil {
		issue.StartDate = fields.StartDate
	}
	if fields.DueDate != nil {
		issue.DueDate = fields.DueDate
	}
	if issue.StartDate != nil && issue.DueDate != nil && issue.StartDate.After(*issue.DueDate) {
		return &ValidationError{Field: "startDate", Reason: "start date cannot be after due date"}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, issue store.Issue, changeType string) {
	if e.events == nil {
		return
	}
	e.events.Record(ctx, issue.ProjectID, changeType, "issue", issue.ID, map[string]any{
		"issueId":     issue.ID,
		"tracker":     issue.Tracker.String(),
		"subject":     issue.Subject,
		"status":      issue.Status,
		"parentId":    issue.ParentID,
		"versionId":   issue.VersionID,
		"lockVersion": issue.LockVersion,
	})
}

package mutation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"releasegrid/api/internal/store"
	"releasegrid/api/internal/versioning"
)

// BatchFailure identifies one item that could not be mutated. The rest
// of the batch is unaffected; there is no rollback across items.
type BatchFailure struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type BatchSummary struct {
	Total        int   `json:"total"`
	SuccessCount int   `json:"successCount"`
	ErrorCount   int   `json:"errorCount"`
	ElapsedMS    int64 `json:"elapsedMs"`
}

type BatchResult struct {
	Succeeded []store.Issue  `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
	// Cascaded lists rows changed as a side effect of a succeeded item:
	// propagated children and date-bracketed parents.
	Cascaded []store.Issue `json:"cascaded,omitempty"`
	Summary  BatchSummary  `json:"summary"`
}

type BatchUpdateItem struct {
	IssueID      int64
	Fields       Fields
	ExpectedLock *int
}

type BatchUpdateRequest struct {
	ProjectID          int64
	Items              []BatchUpdateItem
	WorkflowValidation bool
	Role               string
	Actor              string
}

// BatchUpdate edits up to batchCap issues independently. Items are
// processed in request order; a failure records the item and moves on.
func (e *Engine) BatchUpdate(ctx context.Context, req BatchUpdateRequest) (BatchResult, error) {
	if err := e.checkCap(len(req.Items)); err != nil {
		return BatchResult{}, err
	}
	started := time.Now()
	result := BatchResult{Succeeded: []store.Issue{}, Failed: []BatchFailure{}}

	for _, item := range req.Items {
		updated, err := e.Update(ctx, UpdateRequest{
			IssueID:            item.IssueID,
			Fields:             item.Fields,
			ExpectedLock:       item.ExpectedLock,
			WorkflowValidation: req.WorkflowValidation,
			Role:               req.Role,
			Actor:              req.Actor,
		})
		if err != nil {
			result.Failed = append(result.Failed, failureFor(item.IssueID, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, updated)
	}

	e.finishBatch(ctx, &result, len(req.Items), started)
	e.recordBatch(ctx, req.ProjectID, "batch_update", req.Actor, result)
	return result, nil
}

type BatchVersionAssignItem struct {
	IssueID      int64
	ExpectedLock *int
}

type BatchVersionAssignRequest struct {
	ProjectID           int64
	Items               []BatchVersionAssignItem
	VersionID           *int64
	PropagateToChildren bool
	Force               bool
	Actor               string
}

// BatchVersionAssign moves a set of issues to one version, cascading
// per the propagation rules. Issues already covered by an earlier
// item's cascade are still processed; the second assignment is a
// no-op at the row level.
func (e *Engine) BatchVersionAssign(ctx context.Context, req BatchVersionAssignRequest) (BatchResult, error) {
	if err := e.checkCap(len(req.Items)); err != nil {
		return BatchResult{}, err
	}
	started := time.Now()
	result := BatchResult{Succeeded: []store.Issue{}, Failed: []BatchFailure{}}

	for _, item := range req.Items {
		cascade, err := e.propagation.ChangeVersionWithDates(ctx, item.IssueID, req.VersionID, versioning.Options{
			UpdateParent:        true,
			PropagateToChildren: req.PropagateToChildren,
			Force:               req.Force,
			ManualPin:           true,
			ExpectedLock:        item.ExpectedLock,
			Actor:               req.Actor,
		})
		if err != nil {
			attempted := 0
			if item.ExpectedLock != nil {
				attempted = *item.ExpectedLock
			}
			err = e.asConflict(ctx, err, item.IssueID, attempted)
			result.Failed = append(result.Failed, failureFor(item.IssueID, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, cascade.Issue)
		e.emit(ctx, cascade.Issue, "issue_moved")
		for i := range cascade.Children {
			e.emit(ctx, cascade.Children[i], "issue_updated")
			result.Cascaded = append(result.Cascaded, cascade.Children[i])
		}
		if cascade.Parent != nil {
			e.emit(ctx, *cascade.Parent, "issue_updated")
			result.Cascaded = append(result.Cascaded, *cascade.Parent)
		}
	}

	e.finishBatch(ctx, &result, len(req.Items), started)
	e.recordBatch(ctx, req.ProjectID, "batch_version_assign", req.Actor, result)
	return result, nil
}

type BatchStatusTransitionRequest struct {
	ProjectID          int64
	IssueIDs           []int64
	ToStatus           string
	WorkflowValidation bool
	Role               string
	Actor              string
}

type BatchStatusResult struct {
	BatchResult
	// WorkflowViolations duplicates the workflow-coded entries from
	// Failed so clients can surface them separately.
	WorkflowViolations []BatchFailure `json:"workflowViolations"`
}

// BatchStatusTransition moves every listed issue to one target status.
func (e *Engine) BatchStatusTransition(ctx context.Context, req BatchStatusTransitionRequest) (BatchStatusResult, error) {
	if err := e.checkCap(len(req.IssueIDs)); err != nil {
		return BatchStatusResult{}, err
	}
	if !KnownStatus(req.ToStatus) {
		return BatchStatusResult{}, &ValidationError{Field: "status", Reason: "unknown status " + req.ToStatus}
	}
	started := time.Now()
	result := BatchStatusResult{
		BatchResult:        BatchResult{Succeeded: []store.Issue{}, Failed: []BatchFailure{}},
		WorkflowViolations: []BatchFailure{},
	}

	toStatus := req.ToStatus
	for _, issueID := range req.IssueIDs {
		updated, err := e.Update(ctx, UpdateRequest{
			IssueID:            issueID,
			Fields:             Fields{Status: &toStatus},
			WorkflowValidation: req.WorkflowValidation,
			Role:               req.Role,
			Actor:              req.Actor,
		})
		if err != nil {
			failure := failureFor(issueID, err)
			result.Failed = append(result.Failed, failure)
			if failure.Code == "WORKFLOW_VIOLATION" {
				result.WorkflowViolations = append(result.WorkflowViolations, failure)
			}
			continue
		}
		result.Succeeded = append(result.Succeeded, updated)
	}

	e.finishBatch(ctx, &result.BatchResult, len(req.IssueIDs), started)
	e.recordBatch(ctx, req.ProjectID, "batch_status_transition", req.Actor, result.BatchResult)
	return result, nil
}

type DeleteRequest struct {
	IssueID      int64
	Reason       string
	ExpectedLock *int
	Actor        string
}

type DeleteResult struct {
	Issue store.Issue
	// Deleted lists the soft-deleted subtree, root included.
	Deleted []store.Issue
	// PreservedRelations names relations that kept a child alive.
	PreservedRelations []store.IssueRelation
}

// SoftDelete marks the issue deleted and cascades to children that
// carry no issue relations. A related child survives with its
// relations intact and is reported, not deleted.
func (e *Engine) SoftDelete(ctx context.Context, req DeleteRequest) (DeleteResult, error) {
	issue, err := e.store.GetIssue(ctx, req.IssueID)
	if err != nil {
		return DeleteResult{}, err
	}
	if err := checkLock(issue, req.ExpectedLock); err != nil {
		return DeleteResult{}, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "deleted by " + req.Actor
	}

	deleted, err := e.store.SoftDeleteIssueRow(ctx, issue.ID, issue.LockVersion, reason)
	if err != nil {
		return DeleteResult{}, e.asConflict(ctx, err, issue.ID, issue.LockVersion)
	}

	result := DeleteResult{
		Issue:              deleted,
		Deleted:            []store.Issue{deleted},
		PreservedRelations: []store.IssueRelation{},
	}
	if err := e.deleteChildren(ctx, issue.ID, reason, &result); err != nil {
		return DeleteResult{}, err
	}

	e.emit(ctx, deleted, "issue_deleted")
	return result, nil
}

func (e *Engine) deleteChildren(ctx context.Context, parentID int64, reason string, result *DeleteResult) error {
	children, err := e.store.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	for i := range children {
		child := children[i]
		relations, err := e.store.ListRelations(ctx, child.ID)
		if err != nil {
			return err
		}
		if len(relations) > 0 {
			result.PreservedRelations = append(result.PreservedRelations, relations...)
			continue
		}
		deleted, err := e.store.SoftDeleteIssueRow(ctx, child.ID, child.LockVersion, reason)
		if err != nil {
			if errors.Is(err, store.ErrStaleRow) {
				// Child changed under the cascade; leave it standing.
				continue
			}
			return err
		}
		result.Deleted = append(result.Deleted, deleted)
		e.emit(ctx, deleted, "issue_deleted")
		if err := e.deleteChildren(ctx, child.ID, reason, result); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkCap(n int) error {
	if n == 0 {
		return &ValidationError{Field: "items", Reason: "batch is empty"}
	}
	if n > e.batchCap {
		return &BatchCapError{Requested: n, Cap: e.batchCap}
	}
	return nil
}

func (e *Engine) finishBatch(ctx context.Context, result *BatchResult, total int, started time.Time) {
	result.Summary = BatchSummary{
		Total:        total,
		SuccessCount: len(result.Succeeded),
		ErrorCount:   len(result.Failed),
		ElapsedMS:    time.Since(started).Milliseconds(),
	}
}

// recordBatch writes the audit row after the whole batch has run.
// Audit failures are logged by the store; they never fail the batch.
func (e *Engine) recordBatch(ctx context.Context, projectID int64, opType, actor string, result BatchResult) {
	summary := fmt.Sprintf("%d ok, %d failed", result.Summary.SuccessCount, result.Summary.ErrorCount)
	_, _ = e.store.InsertBatchOperation(ctx, store.BatchOperationRecord{
		ProjectID:     projectID,
		OperationType: opType,
		Actor:         actor,
		AffectedCount: result.Summary.Total,
		SuccessCount:  result.Summary.SuccessCount,
		ErrorCount:    result.Summary.ErrorCount,
		DurationMS:    result.Summary.ElapsedMS,
		Summary:       summary,
	})
}

// FailureCode maps an engine error to its wire code.
func FailureCode(err error) string {
	var conflict *ConflictError
	var hier *HierarchyError
	var workflow *WorkflowError
	var validation *ValidationError
	var notAssignable *versioning.NotAssignableError
	switch {
	case errors.As(err, &conflict):
		return "CONCURRENCY_CONFLICT"
	case errors.As(err, &workflow):
		return "WORKFLOW_VIOLATION"
	case errors.As(err, &hier):
		return "INVALID_HIERARCHY"
	case errors.As(err, &notAssignable):
		return "VERSION_NOT_ASSIGNABLE"
	case errors.As(err, &validation):
		return "VALIDATION_ERROR"
	case errors.Is(err, sql.ErrNoRows):
		return "NOT_FOUND"
	default:
		return "SERVER_ERROR"
	}
}

func failureFor(issueID int64, err error) BatchFailure {
	return BatchFailure{ID: issueID, Code: FailureCode(err), Reason: err.Error()}
}

package app

import (
	"context"
	"time"

	"releasegrid/api/internal/events"
	"releasegrid/api/internal/grid"
	"releasegrid/api/internal/mutation"
	"releasegrid/api/internal/search"
	"releasegrid/api/internal/store"
	"releasegrid/api/internal/versioning"
)

type dataStore interface {
	Ping(ctx context.Context) error
	GetIssue(ctx context.Context, issueID int64) (store.Issue, error)
	ListChildren(ctx context.Context, parentID int64) ([]store.Issue, error)
	ListProjectIssues(ctx context.Context, projectID int64) ([]store.Issue, error)
	InsertIssue(ctx context.Context, item store.Issue) (store.Issue, error)
	UpdateIssueRow(ctx context.Context, item store.Issue) (store.Issue, error)
	SoftDeleteIssueRow(ctx context.Context, issueID int64, lockVersion int, reason string) (store.Issue, error)
	ListRelations(ctx context.Context, issueID int64) ([]store.IssueRelation, error)
	GetVersion(ctx context.Context, versionID int64) (store.Version, error)
	ListProjectVersions(ctx context.Context, projectID int64) ([]store.Version, error)
	InsertVersion(ctx context.Context, item store.Version) (store.Version, error)
	UpdateVersion(ctx context.Context, item store.Version) (store.Version, error)
	GetProject(ctx context.Context, projectID int64) (store.Project, error)
	InsertBatchOperation(ctx context.Context, rec store.BatchOperationRecord) (store.BatchOperationRecord, error)
	ListBatchOperations(ctx context.Context, projectID int64, operationType, actor string, limit, offset int) ([]store.BatchOperationRecord, int, error)
}

// Service wires the engine, propagation, event feed, and search behind
// the HTTP surface.
type Service struct {
	store       dataStore
	engine      *mutation.Engine
	propagation *versioning.Service
	events      *events.Distributor
	search      *search.Service
}

func NewService(st dataStore, engine *mutation.Engine, propagation *versioning.Service, distributor *events.Distributor, searcher *search.Service) *Service {
	return &Service{
		store:       st,
		engine:      engine,
		propagation: propagation,
		events:      distributor,
		search:      searcher,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Events() *events.Distributor {
	return s.events
}

// IssueView is the wire shape of an issue. lockVersion travels on every
// card so clients can send it back on the next write.
type IssueView struct {
	ID             int64    `json:"id"`
	ProjectID      int64    `json:"projectId"`
	Tracker        string   `json:"tracker"`
	Subject        string   `json:"subject"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	KanbanColumn   string   `json:"kanbanColumn"`
	Priority       string   `json:"priority"`
	Assignee       *string  `json:"assignee"`
	ParentID       *int64   `json:"parentId"`
	VersionID      *int64   `json:"versionId"`
	StartDate      *string  `json:"startDate"`
	DueDate        *string  `json:"dueDate"`
	EstimatedHours float64  `json:"estimatedHours"`
	DoneRatio      int      `json:"doneRatio"`
	VersionPinned  bool     `json:"versionPinned"`
	LockVersion    int      `json:"lockVersion"`
	UpdatedAt      string   `json:"updatedAt"`
	Warnings       []string `json:"warnings,omitempty"`
}

func issueView(item store.Issue) IssueView {
	view := IssueView{
		ID:             item.ID,
		ProjectID:      item.ProjectID,
		Tracker:        item.Tracker.String(),
		Subject:        item.Subject,
		Description:    item.Description,
		Status:         item.Status,
		KanbanColumn:   grid.KanbanColumn(item.Status),
		Priority:       item.Priority,
		Assignee:       item.Assignee,
		ParentID:       item.ParentID,
		VersionID:      item.VersionID,
		EstimatedHours: item.EstimatedHours,
		DoneRatio:      item.DoneRatio,
		VersionPinned:  item.VersionPinned,
		LockVersion:    item.LockVersion,
		UpdatedAt:      item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if item.StartDate != nil {
		d := item.StartDate.Format("2006-01-02")
		view.StartDate = &d
	}
	if item.DueDate != nil {
		d := item.DueDate.Format("2006-01-02")
		view.DueDate = &d
	}
	return view
}

func issueViews(items []store.Issue) []IssueView {
	out := make([]IssueView, 0, len(items))
	for _, item := range items {
		out = append(out, issueView(item))
	}
	return out
}

type VersionView struct {
	ID            int64   `json:"id"`
	ProjectID     int64   `json:"projectId"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	EffectiveDate *string `json:"effectiveDate"`
	Status        string  `json:"status"`
}

func versionView(v store.Version) VersionView {
	view := VersionView{
		ID:          v.ID,
		ProjectID:   v.ProjectID,
		Name:        v.Name,
		Description: v.Description,
		Status:      v.Status,
	}
	if v.EffectiveDate != nil {
		d := v.EffectiveDate.Format("2006-01-02")
		view.EffectiveDate = &d
	}
	return view
}

func versionViews(items []store.Version) []VersionView {
	out := make([]VersionView, 0, len(items))
	for _, v := range items {
		out = append(out, versionView(v))
	}
	return out
}

func (s *Service) GetIssue(ctx context.Context, issueID int64) (IssueView, error) {
	item, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return IssueView{}, err
	}
	return issueView(item), nil
}

func (s *Service) ListIssues(ctx context.Context, projectID int64) ([]IssueView, error) {
	items, err := s.store.ListProjectIssues(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return issueViews(items), nil
}

func (s *Service) CreateIssue(ctx context.Context, req mutation.CreateRequest) (IssueView, error) {
	created, err := s.engine.Create(ctx, req)
	if err != nil {
		return IssueView{}, err
	}
	s.indexIssue(created)
	return issueView(created), nil
}

func (s *Service) UpdateIssue(ctx context.Context, req mutation.UpdateRequest) (IssueView, error) {
	updated, err := s.engine.Update(ctx, req)
	if err != nil {
		return IssueView{}, err
	}
	s.indexIssue(updated)
	return issueView(updated), nil
}

// MoveOutcome carries the moved issue plus everything the cascade
// touched, so the client can patch its board in one pass.
type MoveOutcome struct {
	Issue            IssueView                 `json:"issue"`
	Children         []IssueView               `json:"children"`
	SkippedChildren  []versioning.SkippedChild `json:"skippedChildren"`
	Parent           *IssueView                `json:"parent,omitempty"`
	ParentSkipped    bool                      `json:"parentSkipped,omitempty"`
	ParentSkipReason string                    `json:"parentSkipReason,omitempty"`
	Warnings         []string                  `json:"warnings,omitempty"`
}

func (s *Service) MoveIssue(ctx context.Context, req mutation.MoveRequest) (MoveOutcome, error) {
	result, err := s.engine.Move(ctx, req)
	if err != nil {
		return MoveOutcome{}, err
	}
	s.indexIssue(result.Issue)

	outcome := MoveOutcome{
		Issue:           issueView(result.Issue),
		Children:        []IssueView{},
		SkippedChildren: []versioning.SkippedChild{},
	}
	if result.Propagation != nil {
		cascade := result.Propagation
		outcome.Children = issueViews(cascade.Children)
		if cascade.SkippedChildren != nil {
			outcome.SkippedChildren = cascade.SkippedChildren
		}
		if cascade.Parent != nil {
			parent := issueView(*cascade.Parent)
			outcome.Parent = &parent
			s.indexIssue(*cascade.Parent)
		}
		outcome.ParentSkipped = cascade.ParentSkipped
		outcome.ParentSkipReason = cascade.ParentSkipReason
		outcome.Warnings = cascade.Warnings
		for _, child := range cascade.Children {
			s.indexIssue(child)
		}
	}
	return outcome, nil
}

type DeleteOutcome struct {
	Issue              IssueView             `json:"issue"`
	Deleted            []IssueView           `json:"deleted"`
	PreservedRelations []store.IssueRelation `json:"preservedRelations"`
}

func (s *Service) DeleteIssue(ctx context.Context, req mutation.DeleteRequest) (DeleteOutcome, error) {
	result, err := s.engine.SoftDelete(ctx, req)
	if err != nil {
		return DeleteOutcome{}, err
	}
	for _, deleted := range result.Deleted {
		if s.search != nil {
			s.search.DeleteIssue(deleted.ID)
		}
	}
	return DeleteOutcome{
		Issue:              issueView(result.Issue),
		Deleted:            issueViews(result.Deleted),
		PreservedRelations: result.PreservedRelations,
	}, nil
}

func (s *Service) AssignableVersions(ctx context.Context, issueID int64) ([]VersionView, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	versions, err := s.propagation.AssignableVersions(ctx, issue)
	if err != nil {
		return nil, err
	}
	return versionViews(versions), nil
}

func (s *Service) Grid(ctx context.Context, projectID int64) (grid.Board, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return grid.Board{}, err
	}
	issues, err := s.store.ListProjectIssues(ctx, projectID)
	if err != nil {
		return grid.Board{}, err
	}
	versions, err := s.store.ListProjectVersions(ctx, projectID)
	if err != nil {
		return grid.Board{}, err
	}
	return grid.Build(projectID, issues, versions), nil
}

func (s *Service) ListVersions(ctx context.Context, projectID int64) ([]VersionView, error) {
	items, err := s.store.ListProjectVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return versionViews(items), nil
}

type VersionInput struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	EffectiveDate *string `json:"effectiveDate"`
	Status        string  `json:"status"`
}

func parseVersionInput(projectID, versionID int64, input VersionInput) (store.Version, error) {
	item := store.Version{
		ID:          versionID,
		ProjectID:   projectID,
		Name:        input.Name,
		Description: input.Description,
		Status:      input.Status,
	}
	if item.Name == "" {
		return store.Version{}, domainError(422, "VALIDATION_ERROR", "name is required", nil)
	}
	switch item.Status {
	case "", store.VersionStatusOpen, store.VersionStatusLocked, store.VersionStatusClosed:
	default:
		return store.Version{}, domainError(422, "VALIDATION_ERROR", "status must be open, locked, or closed", nil)
	}
	if input.EffectiveDate != nil && *input.EffectiveDate != "" {
		parsed, err := time.Parse("2006-01-02", *input.EffectiveDate)
		if err != nil {
			return store.Version{}, domainError(422, "VALIDATION_ERROR", "effectiveDate must be YYYY-MM-DD", nil)
		}
		item.EffectiveDate = &parsed
	}
	return item, nil
}

func (s *Service) CreateVersion(ctx context.Context, projectID int64, input VersionInput) (VersionView, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return VersionView{}, err
	}
	item, err := parseVersionInput(projectID, 0, input)
	if err != nil {
		return VersionView{}, err
	}
	created, err := s.store.InsertVersion(ctx, item)
	if err != nil {
		return VersionView{}, err
	}
	return versionView(created), nil
}

func (s *Service) UpdateVersion(ctx context.Context, versionID int64, input VersionInput) (VersionView, error) {
	current, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return VersionView{}, err
	}
	item, err := parseVersionInput(current.ProjectID, versionID, input)
	if err != nil {
		return VersionView{}, err
	}
	updated, err := s.store.UpdateVersion(ctx, item)
	if err != nil {
		return VersionView{}, err
	}
	return versionView(updated), nil
}

// BatchResultView is the wire shape of a batch outcome; succeeded rows
// travel as full issue views.
type BatchResultView struct {
	Succeeded []IssueView             `json:"succeeded"`
	Failed    []mutation.BatchFailure `json:"failed"`
	Cascaded  []IssueView             `json:"cascaded"`
	Summary   mutation.BatchSummary   `json:"summary"`
}

func batchResultView(result mutation.BatchResult) BatchResultView {
	view := BatchResultView{
		Succeeded: issueViews(result.Succeeded),
		Failed:    result.Failed,
		Cascaded:  issueViews(result.Cascaded),
		Summary:   result.Summary,
	}
	if view.Failed == nil {
		view.Failed = []mutation.BatchFailure{}
	}
	return view
}

type BatchStatusResultView struct {
	BatchResultView
	WorkflowViolations []mutation.BatchFailure `json:"workflowViolations"`
}

func (s *Service) BatchUpdate(ctx context.Context, req mutation.BatchUpdateRequest) (BatchResultView, error) {
	result, err := s.engine.BatchUpdate(ctx, req)
	if err != nil {
		return BatchResultView{}, err
	}
	for _, item := range result.Succeeded {
		s.indexIssue(item)
	}
	return batchResultView(result), nil
}

func (s *Service) BatchVersionAssign(ctx context.Context, req mutation.BatchVersionAssignRequest) (BatchResultView, error) {
	result, err := s.engine.BatchVersionAssign(ctx, req)
	if err != nil {
		return BatchResultView{}, err
	}
	for _, item := range result.Succeeded {
		s.indexIssue(item)
	}
	for _, item := range result.Cascaded {
		s.indexIssue(item)
	}
	return batchResultView(result), nil
}

func (s *Service) BatchStatusTransition(ctx context.Context, req mutation.BatchStatusTransitionRequest) (BatchStatusResultView, error) {
	result, err := s.engine.BatchStatusTransition(ctx, req)
	if err != nil {
		return BatchStatusResultView{}, err
	}
	for _, item := range result.Succeeded {
		s.indexIssue(item)
	}
	view := BatchStatusResultView{
		BatchResultView:    batchResultView(result.BatchResult),
		WorkflowViolations: result.WorkflowViolations,
	}
	if view.WorkflowViolations == nil {
		view.WorkflowViolations = []mutation.BatchFailure{}
	}
	return view, nil
}

type BatchHistory struct {
	Items []store.BatchOperationRecord `json:"items"`
	Total int                          `json:"total"`
}

func (s *Service) BatchHistory(ctx context.Context, projectID int64, operationType, actor string, limit, offset int) (BatchHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := s.store.ListBatchOperations(ctx, projectID, operationType, actor, limit, offset)
	if err != nil {
		return BatchHistory{}, err
	}
	return BatchHistory{Items: items, Total: total}, nil
}

type EventPage struct {
	Events     []events.Event `json:"events"`
	NextCursor int64          `json:"nextCursor"`
	HasMore    bool           `json:"hasMore"`
}

func (s *Service) PollEvents(ctx context.Context, projectID int64, since int64, limit int) (EventPage, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	items, cursor, hasMore, err := s.events.PollSince(ctx, projectID, since, limit)
	if err != nil {
		return EventPage{}, err
	}
	if items == nil {
		items = []events.Event{}
	}
	return EventPage{Events: items, NextCursor: cursor, HasMore: hasMore}, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) indexIssue(item store.Issue) {
	if s.search == nil {
		return
	}
	s.search.IndexIssue(search.IssueRecord{
		ID:          item.ID,
		ProjectID:   item.ProjectID,
		Tracker:     item.Tracker.String(),
		Subject:     item.Subject,
		Description: item.Description,
		Status:      item.Status,
		VersionID:   item.VersionID,
		Assignee:    item.Assignee,
	})
}

package versioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"releasegrid/api/internal/store"
)

// SkipReasonManuallyPinned marks a descendant whose human-chosen version
// a non-forced cascade refused to overwrite.
const SkipReasonManuallyPinned = "manually_pinned"

// SkipReasonOutsideVersionWindow marks a parent whose date bracketing was
// skipped because it would escape the parent's own version window.
const SkipReasonOutsideVersionWindow = "outside_parent_version_window"

// NotAssignableError reports a version outside the issue's assignable
// set, carrying the full set as diagnostic detail.
type NotAssignableError struct {
	IssueID    int64
	VersionID  int64
	Assignable []store.Version
}

func (e *NotAssignableError) Error() string {
	return fmt.Sprintf("version %d is not assignable to issue %d", e.VersionID, e.IssueID)
}

type issueStore interface {
	GetIssue(ctx context.Context, issueID int64) (store.Issue, error)
	ListChildren(ctx context.Context, parentID int64) ([]store.Issue, error)
	UpdateIssueRow(ctx context.Context, item store.Issue) (store.Issue, error)
	GetVersion(ctx context.Context, versionID int64) (store.Version, error)
	ListProjectVersions(ctx context.Context, projectID int64) ([]store.Version, error)
	GetProject(ctx context.Context, projectID int64) (store.Project, error)
}

// Options controls one version change. PropagateToChildren defaults to
// true at the API boundary. Force bypasses the manual-pin skip rule for
// the downward cascade only; the parent bracketing step is never forced.
type Options struct {
	UpdateParent        bool
	PropagateToChildren bool
	Force               bool
	// ManualPin records the assignment as a human choice, protecting it
	// from later non-forced cascades. Automation leaves it false.
	ManualPin bool
	// ExpectedLock, when set, conditions the root issue's write on the
	// caller's observed lock_version. A mismatch surfaces
	// store.ErrStaleRow before any write; nil proceeds unconditionally.
	ExpectedLock *int
	Actor        string
}

type SkippedChild struct {
	IssueID int64  `json:"issueId"`
	Reason  string `json:"reason"`
}

// CascadeResult is the structured outcome of ChangeVersionWithDates.
// Siblings received no change; they are listed so callers can invalidate
// caches that join on the parent.
type CascadeResult struct {
	Issue            store.Issue
	IssueChanged     bool
	Dates            *DatePair
	Parent           *store.Issue
	ParentSkipped    bool
	ParentSkipReason string
	Siblings         []store.Issue
	Children         []store.Issue
	SkippedChildren  []SkippedChild
	Warnings         []string
}

// Service orchestrates version assignment: assignability, date
// derivation, downward cascade, optional parent date bracketing.
type Service struct {
	store  issueStore
	strict bool
}

func NewService(st issueStore, strictVersionPolicy bool) *Service {
	return &Service{store: st, strict: strictVersionPolicy}
}

// AssignableVersions returns the versions the issue may legally adopt:
// its own project's versions plus versions inherited from ancestor
// projects (sub-project inheritance).
func (s *Service) AssignableVersions(ctx context.Context, issue store.Issue) ([]store.Version, error) {
	versions, err := s.store.ListProjectVersions(ctx, issue.ProjectID)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{issue.ProjectID: true}
	projectID := issue.ProjectID
	for {
		project, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return nil, err
		}
		if project.ParentID == nil || seen[*project.ParentID] {
			break
		}
		seen[*project.ParentID] = true
		projectID = *project.ParentID

		inherited, err := s.store.ListProjectVersions(ctx, projectID)
		if err != nil {
			return nil, err
		}
		versions = append(versions, inherited...)
	}
	return versions, nil
}

// ChangeVersionWithDates assigns a version (nil versionID clears it) to
// the issue, recomputes its dates, cascades depth-first to descendants,
// and optionally brackets the parent's dates around its children.
func (s *Service) ChangeVersionWithDates(ctx context.Context, issueID int64, versionID *int64, opts Options) (CascadeResult, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return CascadeResult{}, err
	}
	if opts.ExpectedLock != nil && *opts.ExpectedLock != issue.LockVersion {
		return CascadeResult{}, store.ErrStaleRow
	}

	var version *store.Version
	result := CascadeResult{Issue: issue}

	if versionID != nil {
		target, err := s.store.GetVersion(ctx, *versionID)
		if err != nil {
			return CascadeResult{}, err
		}
		version = &target

		assignable, err := s.AssignableVersions(ctx, issue)
		if err != nil {
			return CascadeResult{}, err
		}
		if !containsVersion(assignable, target.ID) {
			return CascadeResult{}, &NotAssignableError{
				IssueID:    issue.ID,
				VersionID:  target.ID,
				Assignable: assignable,
			}
		}

		if target.Status != store.VersionStatusOpen {
			warning := fmt.Sprintf("version %q is %s", target.Name, target.Status)
			if s.strict {
				return CascadeResult{}, &NotAssignableError{
					IssueID:    issue.ID,
					VersionID:  target.ID,
					Assignable: assignable,
				}
			}
			result.Warnings = append(result.Warnings, warning)
		}
	}

	changed := !sameVersionRef(issue.VersionID, versionID)
	issue.VersionID = versionID
	if dates, ok := ComputeDates(issue, version); ok {
		issue.StartDate = &dates.Start
		issue.DueDate = &dates.Due
		result.Dates = &dates
		changed = true
	}
	if opts.ManualPin && versionID != nil {
		issue.VersionPinned = true
		changed = true
	}

	updated, err := s.store.UpdateIssueRow(ctx, issue)
	if err != nil {
		return CascadeResult{}, err
	}
	result.Issue = updated
	result.IssueChanged = changed

	if opts.PropagateToChildren {
		visited := map[int64]bool{updated.ID: true}
		if err := s.cascade(ctx, updated.ID, versionID, version, opts.Force, visited, &result); err != nil {
			return CascadeResult{}, err
		}
	}

	if opts.UpdateParent && updated.ParentID != nil {
		if err := s.bracketParent(ctx, *updated.ParentID, updated.ID, &result); err != nil {
			return CascadeResult{}, err
		}
	}

	return result, nil
}

// cascade walks descendants depth-first. Depth is bounded by the 4-level
// hierarchy; the visited set guards against caller-corrupted parent
// pointers all the same.
func (s *Service) cascade(ctx context.Context, parentID int64, versionID *int64, version *store.Version, force bool, visited map[int64]bool, result *CascadeResult) error {
	children, err := s.store.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	for i := range children {
		child := children[i]
		if visited[child.ID] {
			continue
		}
		visited[child.ID] = true

		if child.VersionPinned && !force && !sameVersionRef(child.VersionID, versionID) {
			result.SkippedChildren = append(result.SkippedChildren, SkippedChild{
				IssueID: child.ID,
				Reason:  SkipReasonManuallyPinned,
			})
			// Pinned children keep their subtree as-is too.
			continue
		}

		changed := !sameVersionRef(child.VersionID, versionID)
		child.VersionID = versionID
		if dates, ok := ComputeDates(child, version); ok {
			child.StartDate = &dates.Start
			child.DueDate = &dates.Due
			changed = true
		}
		if force && child.VersionPinned {
			child.VersionPinned = false
		}

		if changed {
			updatedChild, err := s.store.UpdateIssueRow(ctx, child)
			if err != nil {
				return err
			}
			result.Children = append(result.Children, updatedChild)
			log.Printf("version propagated: %s#%d -> %s#%d version=%s",
				result.Issue.Tracker, result.Issue.ID, updatedChild.Tracker, updatedChild.ID, versionLabel(version))
		}

		if err := s.cascade(ctx, child.ID, versionID, version, force, visited, result); err != nil {
			return err
		}
	}
	return nil
}

// bracketParent widens the parent's dates to span the union of its
// children's ranges. The parent's version is never changed by a
// child-driven cascade; when bracketing would escape the parent's own
// version window the update is skipped and reported.
func (s *Service) bracketParent(ctx context.Context, parentID, changedChildID int64, result *CascadeResult) error {
	parent, err := s.store.GetIssue(ctx, parentID)
	if err != nil {
		return err
	}
	children, err := s.store.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}

	for i := range children {
		if children[i].ID != changedChildID {
			result.Siblings = append(result.Siblings, children[i])
		}
	}

	bracket, ok := bracketChildren(children)
	if !ok {
		result.ParentSkipped = true
		result.ParentSkipReason = "children_have_no_dates"
		return nil
	}

	if parent.VersionID != nil {
		parentVersion, err := s.store.GetVersion(ctx, *parent.VersionID)
		if err != nil {
			return err
		}
		if parentVersion.EffectiveDate != nil && bracket.Due.After(*parentVersion.EffectiveDate) {
			result.ParentSkipped = true
			result.ParentSkipReason = SkipReasonOutsideVersionWindow
			return nil
		}
	}

	changed := false
	if parent.StartDate == nil || bracket.Start.Before(*parent.StartDate) {
		parent.StartDate = &bracket.Start
		changed = true
	}
	if parent.DueDate == nil || bracket.Due.After(*parent.DueDate) {
		parent.DueDate = &bracket.Due
		changed = true
	}
	if !changed {
		return nil
	}

	updated, err := s.store.UpdateIssueRow(ctx, parent)
	if err != nil {
		return err
	}
	result.Parent = &updated
	return nil
}

func containsVersion(versions []store.Version, versionID int64) bool {
	for i := range versions {
		if versions[i].ID == versionID {
			return true
		}
	}
	return false
}

func sameVersionRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func versionLabel(version *store.Version) string {
	if version == nil {
		return "none"
	}
	return version.Name
}

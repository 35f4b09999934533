package versioning

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"releasegrid/api/internal/hierarchy"
	"releasegrid/api/internal/store"
)

// memStore is an in-memory issueStore for cascade tests.
type memStore struct {
	issues   map[int64]store.Issue
	versions map[int64]store.Version
	projects map[int64]store.Project
}

func newMemStore() *memStore {
	return &memStore{
		issues:   map[int64]store.Issue{},
		versions: map[int64]store.Version{},
		projects: map[int64]store.Project{},
	}
}

func (m *memStore) GetIssue(_ context.Context, issueID int64) (store.Issue, error) {
	item, ok := m.issues[issueID]
	if !ok {
		return store.Issue{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ListChildren(_ context.Context, parentID int64) ([]store.Issue, error) {
	var children []store.Issue
	for _, item := range m.issues {
		if item.ParentID != nil && *item.ParentID == parentID {
			children = append(children, item)
		}
	}
	return children, nil
}

func (m *memStore) UpdateIssueRow(_ context.Context, item store.Issue) (store.Issue, error) {
	current, ok := m.issues[item.ID]
	if !ok || current.LockVersion != item.LockVersion {
		return store.Issue{}, store.ErrStaleRow
	}
	item.LockVersion++
	m.issues[item.ID] = item
	return item, nil
}

func (m *memStore) GetVersion(_ context.Context, versionID int64) (store.Version, error) {
	v, ok := m.versions[versionID]
	if !ok {
		return store.Version{}, sql.ErrNoRows
	}
	return v, nil
}

func (m *memStore) ListProjectVersions(_ context.Context, projectID int64) ([]store.Version, error) {
	var out []store.Version
	for _, v := range m.versions {
		if v.ProjectID == projectID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) GetProject(_ context.Context, projectID int64) (store.Project, error) {
	p, ok := m.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func ptr[T any](v T) *T { return &v }

// seedTree builds project 1 with an epic > feature > story chain and
// version 10 (effective 2026-03-20) in the project.
func seedTree(m *memStore) {
	m.projects[1] = store.Project{ID: 1, Identifier: "grid", Name: "Grid"}
	effective := day("2026-03-20")
	m.versions[10] = store.Version{ID: 10, ProjectID: 1, Name: "R1", EffectiveDate: &effective, Status: store.VersionStatusOpen}
	m.issues[1] = store.Issue{ID: 1, ProjectID: 1, Tracker: hierarchy.TrackerEpic, Subject: "epic"}
	m.issues[2] = store.Issue{ID: 2, ProjectID: 1, Tracker: hierarchy.TrackerFeature, Subject: "feature", ParentID: ptr(int64(1))}
	m.issues[3] = store.Issue{ID: 3, ProjectID: 1, Tracker: hierarchy.TrackerUserStory, Subject: "story", ParentID: ptr(int64(2)), EstimatedHours: 16}
}

func TestChangeVersionCascades(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	svc := NewService(m, false)

	result, err := svc.ChangeVersionWithDates(context.Background(), 2, ptr(int64(10)), Options{
		PropagateToChildren: true,
		ManualPin:           true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.IssueChanged {
		t.Fatal("expected issue change")
	}
	if result.Issue.VersionID == nil || *result.Issue.VersionID != 10 {
		t.Fatalf("feature version = %v, want 10", result.Issue.VersionID)
	}
	if !result.Issue.VersionPinned {
		t.Fatal("manual assignment should pin the version")
	}
	if len(result.Children) != 1 {
		t.Fatalf("children updated = %d, want 1", len(result.Children))
	}

	story := m.issues[3]
	if story.VersionID == nil || *story.VersionID != 10 {
		t.Fatalf("story version = %v, want 10", story.VersionID)
	}
	if story.DueDate == nil || story.DueDate.Format("2006-01-02") != "2026-03-20" {
		t.Fatalf("story due = %v, want 2026-03-20", story.DueDate)
	}
	if story.StartDate == nil || story.StartDate.Format("2006-01-02") != "2026-03-18" {
		t.Fatalf("story start = %v, want 2026-03-18 (16h estimate)", story.StartDate)
	}
	if story.VersionPinned {
		t.Fatal("cascaded child must not be pinned")
	}
}

func TestCascadeSkipsPinnedChildSubtree(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	other := day("2026-06-01")
	m.versions[11] = store.Version{ID: 11, ProjectID: 1, Name: "R2", EffectiveDate: &other, Status: store.VersionStatusOpen}
	pinned := m.issues[3]
	pinned.VersionID = ptr(int64(11))
	pinned.VersionPinned = true
	m.issues[3] = pinned
	m.issues[4] = store.Issue{ID: 4, ProjectID: 1, Tracker: hierarchy.TrackerTask, Subject: "task", ParentID: ptr(int64(3))}

	svc := NewService(m, false)
	result, err := svc.ChangeVersionWithDates(context.Background(), 2, ptr(int64(10)), Options{PropagateToChildren: true})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.SkippedChildren) != 1 || result.SkippedChildren[0].IssueID != 3 {
		t.Fatalf("skipped = %+v, want issue 3", result.SkippedChildren)
	}
	if result.SkippedChildren[0].Reason != SkipReasonManuallyPinned {
		t.Fatalf("skip reason = %q", result.SkippedChildren[0].Reason)
	}
	if *m.issues[3].VersionID != 11 {
		t.Fatal("pinned child version must survive")
	}
	if m.issues[4].VersionID != nil {
		t.Fatal("pinned child's subtree must be untouched")
	}
}

func TestForceOverridesPin(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	other := day("2026-06-01")
	m.versions[11] = store.Version{ID: 11, ProjectID: 1, Name: "R2", EffectiveDate: &other, Status: store.VersionStatusOpen}
	pinned := m.issues[3]
	pinned.VersionID = ptr(int64(11))
	pinned.VersionPinned = true
	m.issues[3] = pinned

	svc := NewService(m, false)
	result, err := svc.ChangeVersionWithDates(context.Background(), 2, ptr(int64(10)), Options{
		PropagateToChildren: true,
		Force:               true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.SkippedChildren) != 0 {
		t.Fatalf("forced cascade skipped %+v", result.SkippedChildren)
	}
	story := m.issues[3]
	if *story.VersionID != 10 {
		t.Fatalf("story version = %d, want 10", *story.VersionID)
	}
	if story.VersionPinned {
		t.Fatal("force must clear the pin")
	}
}

func TestCascadeIdempotent(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	svc := NewService(m, false)

	if _, err := svc.ChangeVersionWithDates(context.Background(), 2, ptr(int64(10)), Options{PropagateToChildren: true}); err != nil {
		t.Fatal(err)
	}
	before := map[int64]store.Issue{}
	for id, item := range m.issues {
		before[id] = item
	}

	if _, err := svc.ChangeVersionWithDates(context.Background(), 2, ptr(int64(10)), Options{PropagateToChildren: true}); err != nil {
		t.Fatal(err)
	}
	for id, item := range m.issues {
		prev := before[id]
		if !sameVersionRef(item.VersionID, prev.VersionID) {
			t.Fatalf("issue %d version changed on repeat cascade", id)
		}
		if (item.StartDate == nil) != (prev.StartDate == nil) ||
			(item.StartDate != nil && !item.StartDate.Equal(*prev.StartDate)) {
			t.Fatalf("issue %d start date drifted on repeat cascade", id)
		}
	}
}

func TestClearVersionKeepsDates(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	svc := NewService(m, false)

	if _, err := svc.ChangeVersionWithDates(context.Background(), 3, ptr(int64(10)), Options{}); err != nil {
		t.Fatal(err)
	}
	result, err := svc.ChangeVersionWithDates(context.Background(), 3, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Issue.VersionID != nil {
		t.Fatal("version should be cleared")
	}
	if result.Issue.StartDate == nil || result.Issue.DueDate == nil {
		t.Fatal("clearing the version must leave dates in place")
	}
}

func TestChangeVersionRejectsStaleExpectedLock(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	svc := NewService(m, false)

	_, err := svc.ChangeVersionWithDates(context.Background(), 2, ptr(int64(10)), Options{
		PropagateToChildren: true,
		ExpectedLock:        ptr(5),
	})
	if !errors.Is(err, store.ErrStaleRow) {
		t.Fatalf("err = %v, want ErrStaleRow", err)
	}
	if m.issues[2].VersionID != nil {
		t.Fatal("stale write must leave the row unchanged")
	}
	if m.issues[3].VersionID != nil {
		t.Fatal("stale write must not cascade")
	}

	// The matching lock proceeds.
	result, err := svc.ChangeVersionWithDates(context.Background(), 2, ptr(int64(10)), Options{
		PropagateToChildren: true,
		ExpectedLock:        ptr(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Issue.LockVersion != 1 {
		t.Fatalf("lock = %d, want 1", result.Issue.LockVersion)
	}
}

func TestNotAssignableVersion(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	m.projects[2] = store.Project{ID: 2, Identifier: "other", Name: "Other"}
	eff := day("2026-05-01")
	m.versions[20] = store.Version{ID: 20, ProjectID: 2, Name: "X1", EffectiveDate: &eff, Status: store.VersionStatusOpen}

	svc := NewService(m, false)
	_, err := svc.ChangeVersionWithDates(context.Background(), 3, ptr(int64(20)), Options{})
	var notAssignable *NotAssignableError
	if !errors.As(err, &notAssignable) {
		t.Fatalf("err = %v, want NotAssignableError", err)
	}
	if notAssignable.VersionID != 20 || notAssignable.IssueID != 3 {
		t.Fatalf("error detail = %+v", notAssignable)
	}
	if len(notAssignable.Assignable) != 1 {
		t.Fatalf("assignable = %d versions, want 1", len(notAssignable.Assignable))
	}
}

func TestAssignableVersionsInheritFromAncestors(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	m.projects[2] = store.Project{ID: 2, Identifier: "sub", Name: "Sub", ParentID: ptr(int64(1))}
	eff := day("2026-05-01")
	m.versions[30] = store.Version{ID: 30, ProjectID: 2, Name: "S1", EffectiveDate: &eff, Status: store.VersionStatusOpen}
	m.issues[9] = store.Issue{ID: 9, ProjectID: 2, Tracker: hierarchy.TrackerTask, Subject: "sub task"}

	svc := NewService(m, false)
	versions, err := svc.AssignableVersions(context.Background(), m.issues[9])
	if err != nil {
		t.Fatal(err)
	}
	ids := map[int64]bool{}
	for _, v := range versions {
		ids[v.ID] = true
	}
	if !ids[30] || !ids[10] {
		t.Fatalf("assignable ids = %v, want own 30 and inherited 10", ids)
	}
}

func TestLockedVersionPolicy(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	locked := m.versions[10]
	locked.Status = store.VersionStatusLocked
	m.versions[10] = locked

	lenient := NewService(m, false)
	result, err := lenient.ChangeVersionWithDates(context.Background(), 3, ptr(int64(10)), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one", result.Warnings)
	}

	strict := NewService(m, true)
	_, err = strict.ChangeVersionWithDates(context.Background(), 3, ptr(int64(10)), Options{})
	var notAssignable *NotAssignableError
	if !errors.As(err, &notAssignable) {
		t.Fatalf("strict err = %v, want NotAssignableError", err)
	}
}

func TestParentBracketing(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	svc := NewService(m, false)

	result, err := svc.ChangeVersionWithDates(context.Background(), 3, ptr(int64(10)), Options{UpdateParent: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Parent == nil {
		t.Fatal("expected parent update")
	}
	parent := m.issues[2]
	if parent.DueDate == nil || parent.DueDate.Format("2006-01-02") != "2026-03-20" {
		t.Fatalf("parent due = %v, want bracketed to 2026-03-20", parent.DueDate)
	}
	if parent.VersionID != nil {
		t.Fatal("bracketing must never change the parent's version")
	}
}

func TestParentBracketingSkippedOutsideWindow(t *testing.T) {
	m := newMemStore()
	seedTree(m)
	early := day("2026-02-01")
	m.versions[12] = store.Version{ID: 12, ProjectID: 1, Name: "R0", EffectiveDate: &early, Status: store.VersionStatusOpen}
	parent := m.issues[2]
	parent.VersionID = ptr(int64(12))
	m.issues[2] = parent

	svc := NewService(m, false)
	result, err := svc.ChangeVersionWithDates(context.Background(), 3, ptr(int64(10)), Options{UpdateParent: true})
	if err != nil {
		t.Fatal(err)
	}
	if !result.ParentSkipped {
		t.Fatal("expected parent skip")
	}
	if result.ParentSkipReason != SkipReasonOutsideVersionWindow {
		t.Fatalf("skip reason = %q", result.ParentSkipReason)
	}
	if m.issues[2].DueDate != nil {
		t.Fatal("skipped parent must keep its dates")
	}
}

package grid

import (
	"testing"
	"time"

	"releasegrid/api/internal/hierarchy"
	"releasegrid/api/internal/store"
)

func ptr[T any](v T) *T { return &v }

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestCellKey(t *testing.T) {
	if got := CellKey(7, ptr(int64(10))); got != "7:10" {
		t.Fatalf("key = %q", got)
	}
	if got := CellKey(7, nil); got != "7:none" {
		t.Fatalf("key = %q", got)
	}
}

func TestKanbanColumn(t *testing.T) {
	tests := []struct{ status, want string }{
		{"New", "todo"},
		{"Ready", "todo"},
		{"In Progress", "in_progress"},
		{"Review", "in_progress"},
		{"Testing", "testing"},
		{"Resolved", "done"},
		{"Closed", "done"},
		{"Bogus", "todo"},
	}
	for _, tt := range tests {
		if got := KanbanColumn(tt.status); got != tt.want {
			t.Errorf("KanbanColumn(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestBuildBoard(t *testing.T) {
	issues := []store.Issue{
		{ID: 1, Tracker: hierarchy.TrackerEpic, Subject: "epic", Status: "New"},
		{ID: 2, Tracker: hierarchy.TrackerFeature, Subject: "feature", Status: "In Progress", ParentID: ptr(int64(1)), VersionID: ptr(int64(10)), LockVersion: 3},
		{ID: 3, Tracker: hierarchy.TrackerUserStory, Subject: "story", Status: "New", ParentID: ptr(int64(2))},
		{ID: 4, Tracker: hierarchy.TrackerTask, Subject: "stray", Status: "New"},
	}
	versions := []store.Version{
		{ID: 11, Name: "Later", EffectiveDate: day("2026-06-01"), Status: store.VersionStatusOpen},
		{ID: 10, Name: "Sooner", EffectiveDate: day("2026-03-01"), Status: store.VersionStatusOpen},
		{ID: 12, Name: "Someday", Status: store.VersionStatusOpen},
	}

	board := Build(1, issues, versions)

	if len(board.Rows) != 1 || board.Rows[0].Epic.ID != 1 {
		t.Fatalf("rows = %+v", board.Rows)
	}

	keys := make([]string, 0, len(board.Columns))
	for _, col := range board.Columns {
		keys = append(keys, col.Key)
	}
	want := []string{"10", "11", "12", "none"}
	if len(keys) != len(want) {
		t.Fatalf("columns = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("columns = %v, want %v", keys, want)
		}
	}

	cell := board.Cells["1:10"]
	if len(cell) != 1 || cell[0].ID != 2 {
		t.Fatalf("cell 1:10 = %+v", cell)
	}
	if cell[0].LockVersion != 3 {
		t.Fatal("card must carry lockVersion")
	}
	if cell[0].KanbanColumn != "in_progress" {
		t.Fatalf("kanban column = %q", cell[0].KanbanColumn)
	}

	// The story has no version of its own: unscheduled column, epic row.
	unscheduled := board.Cells["1:none"]
	if len(unscheduled) != 1 || unscheduled[0].ID != 3 {
		t.Fatalf("cell 1:none = %+v", unscheduled)
	}

	if len(board.Orphans) != 1 || board.Orphans[0].ID != 4 {
		t.Fatalf("orphans = %+v", board.Orphans)
	}
}

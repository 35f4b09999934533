// Package grid assembles the release-planning board: epic rows crossed
// with version columns, plus the kanban lane derived from status.
package grid

import (
	"sort"
	"strconv"

	"releasegrid/api/internal/hierarchy"
	"releasegrid/api/internal/store"
)

// UnscheduledColumn is the trailing column for issues without a
// version.
const UnscheduledColumn = "none"

// CellKey identifies a grid cell. A nil version maps to the
// unscheduled column.
func CellKey(epicID int64, versionID *int64) string {
	column := UnscheduledColumn
	if versionID != nil {
		column = strconv.FormatInt(*versionID, 10)
	}
	return strconv.FormatInt(epicID, 10) + ":" + column
}

// KanbanColumn maps an issue status onto its board lane.
func KanbanColumn(status string) string {
	switch status {
	case "New", "Ready":
		return "todo"
	case "In Progress", "Review":
		return "in_progress"
	case "Testing":
		return "testing"
	case "Resolved", "Closed":
		return "done"
	default:
		return "todo"
	}
}

type Card struct {
	ID           int64   `json:"id"`
	Tracker      string  `json:"tracker"`
	Subject      string  `json:"subject"`
	Status       string  `json:"status"`
	KanbanColumn string  `json:"kanbanColumn"`
	Priority     string  `json:"priority"`
	Assignee     *string `json:"assignee"`
	ParentID     *int64  `json:"parentId"`
	VersionID    *int64  `json:"versionId"`
	StartDate    *string `json:"startDate"`
	DueDate      *string `json:"dueDate"`
	DoneRatio    int     `json:"doneRatio"`
	LockVersion  int     `json:"lockVersion"`
}

type Column struct {
	Key           string  `json:"key"`
	VersionID     *int64  `json:"versionId"`
	Name          string  `json:"name"`
	EffectiveDate *string `json:"effectiveDate"`
	Status        string  `json:"status,omitempty"`
}

type Row struct {
	Epic Card `json:"epic"`
}

// Board is the fully assembled grid. Cells maps CellKey to the cards in
// that cell; cards beneath an epic land in its row regardless of depth.
type Board struct {
	ProjectID int64             `json:"projectId"`
	Rows      []Row             `json:"rows"`
	Columns   []Column          `json:"columns"`
	Cells     map[string][]Card `json:"cells"`
	// Orphans are non-epic issues whose ancestry reaches no epic.
	Orphans []Card `json:"orphans"`
}

func toCard(item store.Issue) Card {
	card := Card{
		ID:           item.ID,
		Tracker:      item.Tracker.String(),
		Subject:      item.Subject,
		Status:       item.Status,
		KanbanColumn: KanbanColumn(item.Status),
		Priority:     item.Priority,
		Assignee:     item.Assignee,
		ParentID:     item.ParentID,
		VersionID:    item.VersionID,
		DoneRatio:    item.DoneRatio,
		LockVersion:  item.LockVersion,
	}
	if item.StartDate != nil {
		s := item.StartDate.Format("2006-01-02")
		card.StartDate = &s
	}
	if item.DueDate != nil {
		s := item.DueDate.Format("2006-01-02")
		card.DueDate = &s
	}
	return card
}

// Build assembles the board from a project's issues and versions.
// Columns are ordered by effective date (dateless versions after dated
// ones, by name) with the unscheduled column last. Rows are epics by ID.
func Build(projectID int64, issues []store.Issue, versions []store.Version) Board {
	board := Board{
		ProjectID: projectID,
		Rows:      []Row{},
		Columns:   []Column{},
		Cells:     map[string][]Card{},
		Orphans:   []Card{},
	}

	sorted := make([]store.Version, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.EffectiveDate == nil && b.EffectiveDate == nil:
			return a.Name < b.Name
		case a.EffectiveDate == nil:
			return false
		case b.EffectiveDate == nil:
			return true
		case !a.EffectiveDate.Equal(*b.EffectiveDate):
			return a.EffectiveDate.Before(*b.EffectiveDate)
		default:
			return a.Name < b.Name
		}
	})
	for i := range sorted {
		v := sorted[i]
		col := Column{
			Key:       strconv.FormatInt(v.ID, 10),
			VersionID: &v.ID,
			Name:      v.Name,
			Status:    v.Status,
		}
		if v.EffectiveDate != nil {
			s := v.EffectiveDate.Format("2006-01-02")
			col.EffectiveDate = &s
		}
		board.Columns = append(board.Columns, col)
	}
	board.Columns = append(board.Columns, Column{Key: UnscheduledColumn, Name: "Unscheduled"})

	byID := map[int64]store.Issue{}
	for _, item := range issues {
		byID[item.ID] = item
	}

	var epics []store.Issue
	for _, item := range issues {
		if item.Tracker == hierarchy.TrackerEpic {
			epics = append(epics, item)
		}
	}
	sort.Slice(epics, func(i, j int) bool { return epics[i].ID < epics[j].ID })
	for _, epic := range epics {
		board.Rows = append(board.Rows, Row{Epic: toCard(epic)})
	}

	for _, item := range issues {
		if item.Tracker == hierarchy.TrackerEpic {
			continue
		}
		epicID, ok := rootEpic(item, byID)
		if !ok {
			board.Orphans = append(board.Orphans, toCard(item))
			continue
		}
		key := CellKey(epicID, item.VersionID)
		board.Cells[key] = append(board.Cells[key], toCard(item))
	}

	for key := range board.Cells {
		cards := board.Cells[key]
		sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
		board.Cells[key] = cards
	}
	return board
}

// rootEpic walks the parent chain to the owning epic. The visited set
// keeps a corrupted chain from looping.
func rootEpic(item store.Issue, byID map[int64]store.Issue) (int64, bool) {
	visited := map[int64]bool{}
	current := item
	for {
		if current.Tracker == hierarchy.TrackerEpic {
			return current.ID, true
		}
		if current.ParentID == nil || visited[current.ID] {
			return 0, false
		}
		visited[current.ID] = true
		parent, ok := byID[*current.ParentID]
		if !ok {
			return 0, false
		}
		current = parent
	}
}

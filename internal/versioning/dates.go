// Package versioning cascades version assignments and their derived
// schedule dates through the issue tree.
package versioning

import (
	"math"
	"time"

	"releasegrid/api/internal/store"
)

// hoursPerWorkday converts estimated hours into a duration in days when
// deriving a start date from a version due date.
const hoursPerWorkday = 8.0

type DatePair struct {
	Start time.Time `json:"start"`
	Due   time.Time `json:"due"`
}

// ComputeDates derives schedule dates for an issue adopting the given
// version. due is the version's effective date. start is the later of the
// issue's existing start date and due minus the estimated-hours-derived
// duration (minimum one day), clamped to never fall after due.
//
// A version without an effective date forces no date change at all;
// ok=false means leave both dates untouched.
func ComputeDates(issue store.Issue, version *store.Version) (DatePair, bool) {
	if version == nil || version.EffectiveDate == nil {
		return DatePair{}, false
	}
	due := *version.EffectiveDate

	days := 1
	if issue.EstimatedHours > 0 {
		days = int(math.Ceil(issue.EstimatedHours / hoursPerWorkday))
		if days < 1 {
			days = 1
		}
	}
	start := due.AddDate(0, 0, -days)

	if issue.StartDate != nil && issue.StartDate.After(start) {
		start = *issue.StartDate
	}
	if start.After(due) {
		start = due
	}
	return DatePair{Start: start, Due: due}, true
}

// bracketChildren returns the date range spanning all children that carry
// dates. ok=false when no child has any date set.
func bracketChildren(children []store.Issue) (DatePair, bool) {
	var start, due *time.Time
	for i := range children {
		child := children[i]
		if child.StartDate != nil && (start == nil || child.StartDate.Before(*start)) {
			start = child.StartDate
		}
		if child.DueDate != nil && (due == nil || child.DueDate.After(*due)) {
			due = child.DueDate
		}
	}
	if start == nil && due == nil {
		return DatePair{}, false
	}
	pair := DatePair{}
	if start != nil {
		pair.Start = *start
	}
	if due != nil {
		pair.Due = *due
	}
	if start == nil {
		pair.Start = pair.Due
	}
	if due == nil {
		pair.Due = pair.Start
	}
	return pair, true
}

// Package hierarchy holds the fixed tracker hierarchy rules for the
// Epic → Feature → UserStory → {Task, Test, Bug} tree.
package hierarchy

import "fmt"

// Tracker is one of the six fixed tracker types.
type Tracker int

const (
	TrackerUnknown Tracker = iota
	TrackerEpic
	TrackerFeature
	TrackerUserStory
	TrackerTask
	TrackerTest
	TrackerBug
)

var trackerNames = map[Tracker]string{
	TrackerEpic:      "Epic",
	TrackerFeature:   "Feature",
	TrackerUserStory: "UserStory",
	TrackerTask:      "Task",
	TrackerTest:      "Test",
	TrackerBug:       "Bug",
}

var trackersByName = map[string]Tracker{
	"Epic":      TrackerEpic,
	"Feature":   TrackerFeature,
	"UserStory": TrackerUserStory,
	"Task":      TrackerTask,
	"Test":      TrackerTest,
	"Bug":       TrackerBug,
}

func (t Tracker) String() string {
	if name, ok := trackerNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseTracker converts a wire string into a Tracker. Matching is exact;
// trackers outside the six managed types are not grid material.
func ParseTracker(name string) (Tracker, error) {
	if t, ok := trackersByName[name]; ok {
		return t, nil
	}
	return TrackerUnknown, fmt.Errorf("unknown tracker %q", name)
}

// allowedParents is the closed pairing table. Epic has no parent.
var allowedParents = map[Tracker][]Tracker{
	TrackerEpic:      {},
	TrackerFeature:   {TrackerEpic},
	TrackerUserStory: {TrackerFeature},
	TrackerTask:      {TrackerUserStory},
	TrackerTest:      {TrackerUserStory},
	TrackerBug:       {TrackerUserStory},
}

// AllowedParents returns the tracker types a child of the given type may
// be parented under. The returned slice must not be mutated.
func AllowedParents(child Tracker) []Tracker {
	return allowedParents[child]
}

// AllowedChildren returns the tracker types that may be parented under
// the given type.
func AllowedChildren(parent Tracker) []Tracker {
	var children []Tracker
	for child, parents := range allowedParents {
		for _, p := range parents {
			if p == parent {
				children = append(children, child)
			}
		}
	}
	return children
}

// Level returns the hierarchy depth: Epic=0, Feature=1, UserStory=2,
// Task/Test/Bug=3. Unknown trackers sort below everything.
func Level(t Tracker) int {
	switch t {
	case TrackerEpic:
		return 0
	case TrackerFeature:
		return 1
	case TrackerUserStory:
		return 2
	case TrackerTask, TrackerTest, TrackerBug:
		return 3
	default:
		return 4
	}
}

// ValidParent reports whether parent may directly own child.
func ValidParent(child, parent Tracker) bool {
	for _, allowed := range allowedParents[child] {
		if allowed == parent {
			return true
		}
	}
	return false
}

// ValidateParent returns a descriptive error when the pairing is illegal.
func ValidateParent(child, parent Tracker) error {
	if ValidParent(child, parent) {
		return nil
	}
	if len(allowedParents[child]) == 0 {
		return fmt.Errorf("%s cannot have a parent", child)
	}
	return fmt.Errorf("%s cannot be parented under %s", child, parent)
}

package mutation

// Fixed status set shared by all six trackers. Column derivation for the
// grid maps these onto kanban lanes.
const (
	StatusNew        = "New"
	StatusReady      = "Ready"
	StatusInProgress = "In Progress"
	StatusReview     = "Review"
	StatusTesting    = "Testing"
	StatusResolved   = "Resolved"
	StatusClosed     = "Closed"
)

var knownStatuses = map[string]bool{
	StatusNew:        true,
	StatusReady:      true,
	StatusInProgress: true,
	StatusReview:     true,
	StatusTesting:    true,
	StatusResolved:   true,
	StatusClosed:     true,
}

// allowedTransitions is the forward path plus the rework loops. Closed
// reopens only to New.
var allowedTransitions = map[string][]string{
	StatusNew:        {StatusReady, StatusInProgress, StatusClosed},
	StatusReady:      {StatusNew, StatusInProgress, StatusClosed},
	StatusInProgress: {StatusReady, StatusReview, StatusTesting, StatusResolved, StatusClosed},
	StatusReview:     {StatusInProgress, StatusTesting, StatusResolved},
	StatusTesting:    {StatusInProgress, StatusResolved, StatusClosed},
	StatusResolved:   {StatusInProgress, StatusClosed},
	StatusClosed:     {StatusNew},
}

func KnownStatus(status string) bool {
	return knownStatuses[status]
}

// CanTransition checks the allowed-transition table for the actor's
// role. Viewers never transition; every other role shares the table.
// Finer role policy belongs to the host application.
func CanTransition(role, from, to string) bool {
	if role == "viewer" {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

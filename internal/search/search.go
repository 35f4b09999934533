package search

// Result is a single issue hit returned to the caller.
type Result struct {
	ID        int64   `json:"id"`
	ProjectID int64   `json:"projectId"`
	Tracker   string  `json:"tracker"`
	Subject   string  `json:"subject"`
	Snippet   string  `json:"snippet"`
	Status    string  `json:"status"`
	VersionID *int64  `json:"versionId"`
	Assignee  *string `json:"assignee"`
}

// Query describes a search request scoped to one project.
type Query struct {
	ProjectID     int64
	Text          string
	FilterTracker string // empty = all trackers
	FilterStatus  string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over issues.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push issues into a search index.
type Indexer interface {
	IndexIssue(rec IssueRecord) error
	DeleteIssue(id int64) error
}

// IssueRecord is the data we index per issue.
type IssueRecord struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"projectId"`
	Tracker     string  `json:"tracker"`
	Subject     string  `json:"subject"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	VersionID   *int64  `json:"versionId"`
	Assignee    *string `json:"assignee"`
}

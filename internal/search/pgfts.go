package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the issues table as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is
// down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over subject and description with
// ts_headline snippets, scoped to the project.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `project_id = $1
		AND deleted_at IS NULL
		AND to_tsvector('simple', subject || ' ' || description) @@ plainto_tsquery('simple', $2)`
	args := []any{q.ProjectID, q.Text}
	if q.FilterTracker != "" {
		args = append(args, q.FilterTracker)
		where += fmt.Sprintf(" AND tracker = $%d", len(args))
	}
	if q.FilterStatus != "" {
		args = append(args, q.FilterStatus)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx,
		"SELECT count(*) FROM issues WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, project_id, tracker, subject,
			ts_headline('simple', coalesce(description, ''), plainto_tsquery('simple', $2),
				'MaxFragments=1,MaxWords=30') AS snippet,
			status, version_id, assignee
		FROM issues
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', subject || ' ' || description),
			plainto_tsquery('simple', $2)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(
			&r.ID, &r.ProjectID, &r.Tracker, &r.Subject,
			&r.Snippet, &r.Status, &r.VersionID, &r.Assignee,
		); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all live issues for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IssueRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, tracker, subject, description, status, version_id, assignee
		FROM issues
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	defer rows.Close()

	records := make([]IssueRecord, 0)
	for rows.Next() {
		var rec IssueRecord
		if err := rows.Scan(
			&rec.ID, &rec.ProjectID, &rec.Tracker, &rec.Subject,
			&rec.Description, &rec.Status, &rec.VersionID, &rec.Assignee,
		); err != nil {
			return nil, fmt.Errorf("scan issue record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue records: %w", err)
	}
	return records, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"releasegrid/api/internal/hierarchy"
)

// ErrStaleRow is returned when a conditional issue update matched no row
// because another writer advanced lock_version first. Callers refetch to
// distinguish a genuine conflict from a deleted issue.
var ErrStaleRow = errors.New("stale row: lock_version advanced")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const issueColumns = `
	id, project_id, tracker, subject, description, status, priority,
	assignee, parent_id, version_id, start_date, due_date,
	estimated_hours, done_ratio, version_pinned, lock_version,
	deleted_at, delete_reason, created_at, updated_at
`

func scanIssue(row interface{ Scan(...any) error }) (Issue, error) {
	var item Issue
	var tracker string
	err := row.Scan(
		&item.ID, &item.ProjectID, &tracker, &item.Subject, &item.Description,
		&item.Status, &item.Priority, &item.Assignee, &item.ParentID,
		&item.VersionID, &item.StartDate, &item.DueDate,
		&item.EstimatedHours, &item.DoneRatio, &item.VersionPinned,
		&item.LockVersion, &item.DeletedAt, &item.DeleteReason,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Issue{}, err
	}
	parsed, err := hierarchy.ParseTracker(tracker)
	if err != nil {
		return Issue{}, fmt.Errorf("issue %d: %w", item.ID, err)
	}
	item.Tracker = parsed
	return item, nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, issueID int64) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE id=$1 AND deleted_at IS NULL
	`, issueID)
	return scanIssue(row)
}

func (s *PostgresStore) ListChildren(ctx context.Context, parentID int64) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE parent_id=$1 AND deleted_at IS NULL
		ORDER BY id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()
	return collectIssues(rows)
}

func (s *PostgresStore) ListProjectIssues(ctx context.Context, projectID int64) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE project_id=$1 AND deleted_at IS NULL
		ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project issues: %w", err)
	}
	defer rows.Close()
	return collectIssues(rows)
}

func collectIssues(rows *sql.Rows) ([]Issue, error) {
	items := make([]Issue, 0)
	for rows.Next() {
		item, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertIssue(ctx context.Context, item Issue) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO issues (
			project_id, tracker, subject, description, status, priority,
			assignee, parent_id, version_id, start_date, due_date,
			estimated_hours, done_ratio, version_pinned
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+issueColumns+`
	`,
		item.ProjectID, item.Tracker.String(), item.Subject, item.Description,
		item.Status, item.Priority, item.Assignee, item.ParentID,
		item.VersionID, item.StartDate, item.DueDate,
		item.EstimatedHours, item.DoneRatio, item.VersionPinned,
	)
	inserted, err := scanIssue(row)
	if err != nil {
		return Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	return inserted, nil
}

// UpdateIssueRow writes every mutable column of the issue, conditioned on
// the lock_version the caller read. lock_version increments by exactly 1
// in the same statement, so the check-then-write is a single atomic
// row update. ErrStaleRow means another writer got there first.
func (s *PostgresStore) UpdateIssueRow(ctx context.Context, item Issue) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE issues
		SET tracker=$3, subject=$4, description=$5, status=$6, priority=$7,
			assignee=$8, parent_id=$9, version_id=$10, start_date=$11,
			due_date=$12, estimated_hours=$13, done_ratio=$14,
			version_pinned=$15, lock_version=lock_version+1, updated_at=NOW()
		WHERE id=$1 AND lock_version=$2 AND deleted_at IS NULL
		RETURNING `+issueColumns+`
	`,
		item.ID, item.LockVersion, item.Tracker.String(), item.Subject,
		item.Description, item.Status, item.Priority, item.Assignee,
		item.ParentID, item.VersionID, item.StartDate, item.DueDate,
		item.EstimatedHours, item.DoneRatio, item.VersionPinned,
	)
	updated, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Issue{}, ErrStaleRow
	}
	if err != nil {
		return Issue{}, fmt.Errorf("update issue %d: %w", item.ID, err)
	}
	return updated, nil
}

// SoftDeleteIssueRow marks the issue logically deleted under the same
// optimistic condition as UpdateIssueRow. Relations and history rows
// stay in place for audit.
func (s *PostgresStore) SoftDeleteIssueRow(ctx context.Context, issueID int64, lockVersion int, reason string) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE issues
		SET deleted_at=NOW(), delete_reason=$3,
			lock_version=lock_version+1, updated_at=NOW()
		WHERE id=$1 AND lock_version=$2 AND deleted_at IS NULL
		RETURNING `+issueColumns+`
	`, issueID, lockVersion, reason)
	deleted, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Issue{}, ErrStaleRow
	}
	if err != nil {
		return Issue{}, fmt.Errorf("soft delete issue %d: %w", issueID, err)
	}
	return deleted, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID int64) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, description, effective_date, status, created_at, updated_at
		FROM versions
		WHERE id=$1
	`, versionID).Scan(
		&item.ID, &item.ProjectID, &item.Name, &item.Description,
		&item.EffectiveDate, &item.Status, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Version{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjectVersions(ctx context.Context, projectID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, effective_date, status, created_at, updated_at
		FROM versions
		WHERE project_id=$1
		ORDER BY effective_date NULLS LAST, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var item Version
		if err := rows.Scan(
			&item.ID, &item.ProjectID, &item.Name, &item.Description,
			&item.EffectiveDate, &item.Status, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, item Version) (Version, error) {
	status := item.Status
	if status == "" {
		status = VersionStatusOpen
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO versions (project_id, name, description, effective_date, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, project_id, name, description, effective_date, status, created_at, updated_at
	`, item.ProjectID, item.Name, item.Description, item.EffectiveDate, status)
	var inserted Version
	if err := row.Scan(
		&inserted.ID, &inserted.ProjectID, &inserted.Name, &inserted.Description,
		&inserted.EffectiveDate, &inserted.Status, &inserted.CreatedAt, &inserted.UpdatedAt,
	); err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) UpdateVersion(ctx context.Context, item Version) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE versions
		SET name=$2, description=$3, effective_date=$4, status=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING id, project_id, name, description, effective_date, status, created_at, updated_at
	`, item.ID, item.Name, item.Description, item.EffectiveDate, item.Status)
	var updated Version
	if err := row.Scan(
		&updated.ID, &updated.ProjectID, &updated.Name, &updated.Description,
		&updated.EffectiveDate, &updated.Status, &updated.CreatedAt, &updated.UpdatedAt,
	); err != nil {
		return Version{}, err
	}
	return updated, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID int64) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, identifier, name, parent_id, created_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Identifier, &item.Name, &item.ParentID, &item.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListRelations(ctx context.Context, issueID int64) ([]IssueRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_from_id, issue_to_id, relation_type
		FROM issue_relations
		WHERE issue_from_id=$1 OR issue_to_id=$1
		ORDER BY id
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	items := make([]IssueRelation, 0)
	for rows.Next() {
		var item IssueRelation
		if err := rows.Scan(&item.ID, &item.IssueFromID, &item.IssueToID, &item.RelationType); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertBatchOperation(ctx context.Context, rec BatchOperationRecord) (BatchOperationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO batch_operations (
			project_id, operation_type, actor, affected_count,
			success_count, error_count, duration_ms, summary
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at
	`,
		rec.ProjectID, rec.OperationType, rec.Actor, rec.AffectedCount,
		rec.SuccessCount, rec.ErrorCount, rec.DurationMS, rec.Summary,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return BatchOperationRecord{}, fmt.Errorf("insert batch operation: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListBatchOperations(ctx context.Context, projectID int64, operationType, actor string, limit, offset int) ([]BatchOperationRecord, int, error) {
	conditions := []string{"project_id=$1"}
	args := []any{projectID}
	if operationType != "" {
		args = append(args, operationType)
		conditions = append(conditions, fmt.Sprintf("operation_type=$%d", len(args)))
	}
	if actor != "" {
		args = append(args, actor)
		conditions = append(conditions, fmt.Sprintf("actor=$%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batch_operations WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batch operations: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, project_id, operation_type, actor, affected_count,
			success_count, error_count, duration_ms, summary, created_at
		FROM batch_operations
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list batch operations: %w", err)
	}
	defer rows.Close()

	items := make([]BatchOperationRecord, 0)
	for rows.Next() {
		var rec BatchOperationRecord
		if err := rows.Scan(
			&rec.ID, &rec.ProjectID, &rec.OperationType, &rec.Actor,
			&rec.AffectedCount, &rec.SuccessCount, &rec.ErrorCount,
			&rec.DurationMS, &rec.Summary, &rec.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan batch operation: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batch operations: %w", err)
	}
	return items, total, nil
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
	"github.com/sagaforge/sagaforge/internal/platform/dberr"
	"github.com/sagaforge/sagaforge/pkg/pagination"
)

// PostgresRepository implements [Repository] using a pgxpool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository returns a fully wired postgres implementation.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const issueColumns = `id, scopeid, kind, severity, primaryentityid, relatedentityid,
	description, suggestion, origin, confidence, status, resolvedby, resolvedat,
	context, detectedat`

// severityRank orders critical → info inside SQL, mirroring Severity.Rank.
const severityRank = `
	CASE severity
		WHEN 'critical' THEN 0
		WHEN 'high' THEN 1
		WHEN 'medium' THEN 2
		WHEN 'low' THEN 3
		ELSE 4
	END`

/*
InsertIssue persists a new issue record.

Description: The fingerprint is computed once at insert time and stored
alongside the record so deduplication never recomputes hashes in SQL.

Parameters:
  - context: context.Context
  - issue: Issue

Returns:
  - Issue: Stored issue with generated id
  - error: Insertion failures
*/
func (repository *PostgresRepository) InsertIssue(context context.Context, issue Issue) (Issue, error) {

	const query = `
		INSERT INTO consistency.issue
			(scopeid, kind, severity, primaryentityid, relatedentityid,
			 description, suggestion, origin, confidence, status, context, fingerprint, detectedat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id;
	`

	err := repository.db.QueryRow(context, query,
		issue.ScopeID, issue.Kind, issue.Severity, issue.PrimaryEntityID, issue.RelatedEntityID,
		issue.Description, issue.Suggestion, issue.Origin, issue.Confidence, issue.Status,
		issue.Context, issue.Fingerprint(), issue.DetectedAt,
	).Scan(&issue.ID)

	if err != nil {
		return Issue{}, dberr.Wrap(err, "insert_issue")
	}

	return issue, nil
}

/*
GetIssue retrieves a single issue by its primary key.
*/
func (repository *PostgresRepository) GetIssue(context context.Context, id int64) (Issue, error) {

	const query = `SELECT ` + issueColumns + ` FROM consistency.issue WHERE id = $1;`

	issue, err := scanIssue(repository.db.QueryRow(context, query, id))
	if err != nil {
		return Issue{}, dberr.Wrap(err, "get_issue")
	}

	return issue, nil
}

/*
ListIssues retrieves a paginated list of a scope's issues.

Description: Ordering matches the in-memory sort: severity rank first, then
detection time, then id. An optional status filter narrows the page and its
companion count.

Parameters:
  - context: context.Context
  - scopeID: int64
  - status: *Status (nil for all)
  - p: pagination.Params

Returns:
  - []Issue: Page of issues
  - int: Total matching count
  - error: Database execution or scanning errors
*/
func (repository *PostgresRepository) ListIssues(context context.Context, scopeID int64, status *Status, p pagination.Params) ([]Issue, int, error) {

	query := `SELECT ` + issueColumns + ` FROM consistency.issue WHERE scopeid = $1`
	countQuery := `SELECT COUNT(*) FROM consistency.issue WHERE scopeid = $1`
	args := []any{scopeID}

	if status != nil {
		query += ` AND status = $2`
		countQuery += ` AND status = $2`
		args = append(args, *status)
	}

	query += ` ORDER BY ` + severityRank + ` ASC, detectedat ASC, id ASC`

	pageArgs := append(append([]any{}, args...), p.Limit, p.Offset())
	switch len(args) {
	case 1:
		query += ` LIMIT $2 OFFSET $3;`
	default:
		query += ` LIMIT $3 OFFSET $4;`
	}

	rows, err := repository.db.Query(context, query, pageArgs...)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_issues")
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, dberr.Wrap(err, "scan_issue")
		}
		issues = append(issues, issue)
	}

	var total int
	if err := repository.db.QueryRow(context, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_issues")
	}

	return issues, total, nil
}

/*
TransitionIssue atomically moves an open issue into a terminal state.

Description: The open precondition lives in the WHERE clause, so two
concurrent transitions race on the row update and exactly one wins. The
loser gets a conflict (issue exists but is closed) or a not-found.

Parameters:
  - context: context.Context
  - id: int64
  - target: Status (terminal)
  - actorID: string
  - at: time.Time

Returns:
  - Issue: The issue after the transition
  - error: Not-found, conflict, or execution failures
*/
func (repository *PostgresRepository) TransitionIssue(context context.Context, id int64, target Status, actorID string, at time.Time) (Issue, error) {

	if !target.IsTerminal() {
		return Issue{}, apperr.Unprocessable("Transition target must be a terminal status")
	}

	const query = `
		UPDATE consistency.issue
		SET status = $2, resolvedby = $3, resolvedat = $4
		WHERE id = $1 AND status = 'open'
		RETURNING ` + issueColumns + `;`

	issue, err := scanIssue(repository.db.QueryRow(context, query, id, target, actorID, at))
	if err == nil {
		return issue, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Issue{}, dberr.Wrap(err, "transition_issue")
	}

	// No open row matched: distinguish "gone" from "already closed".
	var exists bool
	if err := repository.db.QueryRow(context, `SELECT EXISTS (SELECT 1 FROM consistency.issue WHERE id = $1);`, id).Scan(&exists); err != nil {
		return Issue{}, dberr.Wrap(err, "transition_issue_check")
	}
	if !exists {
		return Issue{}, dberr.ErrNotFound
	}

	return Issue{}, apperr.Conflict("Issue is already closed")
}

/*
ActiveFingerprints returns the fingerprints whose status suppresses
re-detection within a scope.

Description: Open, dismissed, and false_positive issues suppress; resolved
issues do not, so a condition that reappears after being fixed opens fresh.
*/
func (repository *PostgresRepository) ActiveFingerprints(context context.Context, scopeID int64) (map[string]bool, error) {

	const query = `
		SELECT DISTINCT fingerprint
		FROM consistency.issue
		WHERE scopeid = $1 AND status IN ('open', 'dismissed', 'false_positive');
	`

	rows, err := repository.db.Query(context, query, scopeID)
	if err != nil {
		return nil, dberr.Wrap(err, "active_fingerprints")
	}
	defer rows.Close()

	fingerprints := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, dberr.Wrap(err, "scan_fingerprint")
		}
		fingerprints[fp] = true
	}

	return fingerprints, nil
}

/*
Statistics aggregates a scope's issue counts in a single grouped query.
*/
func (repository *PostgresRepository) Statistics(context context.Context, scopeID int64) (*Statistics, error) {

	const query = `
		SELECT status, severity, kind, COUNT(*), MAX(detectedat)
		FROM consistency.issue
		WHERE scopeid = $1
		GROUP BY status, severity, kind;
	`

	rows, err := repository.db.Query(context, query, scopeID)
	if err != nil {
		return nil, dberr.Wrap(err, "issue_statistics")
	}
	defer rows.Close()

	stats := &Statistics{
		ScopeID:    scopeID,
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
		ByKind:     make(map[IssueKind]int),
	}

	for rows.Next() {
		var (
			status   Status
			severity Severity
			kind     IssueKind
			count    int
			latest   time.Time
		)
		if err := rows.Scan(&status, &severity, &kind, &count, &latest); err != nil {
			return nil, dberr.Wrap(err, "scan_statistics")
		}

		stats.Total += count
		stats.ByStatus[status] += count
		stats.BySeverity[severity] += count
		stats.ByKind[kind] += count

		if stats.LastDetectedAt == nil || latest.After(*stats.LastDetectedAt) {
			t := latest
			stats.LastDetectedAt = &t
		}
	}

	return stats, nil
}

// scanIssue hydrates one issue row from either a Row or Rows source.
func scanIssue(row pgx.Row) (Issue, error) {
	var issue Issue
	err := row.Scan(
		&issue.ID, &issue.ScopeID, &issue.Kind, &issue.Severity,
		&issue.PrimaryEntityID, &issue.RelatedEntityID,
		&issue.Description, &issue.Suggestion, &issue.Origin, &issue.Confidence,
		&issue.Status, &issue.ResolvedBy, &issue.ResolvedAt,
		&issue.Context, &issue.DetectedAt,
	)
	return issue, err
}

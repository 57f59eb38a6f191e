// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"time"

	"github.com/sagaforge/sagaforge/pkg/pagination"
)

// Statistics aggregates the issue set of one scope.
type Statistics struct {
	ScopeID    int64             `json:"scope_id"`
	Total      int               `json:"total"`
	ByStatus   map[Status]int    `json:"by_status"`
	BySeverity map[Severity]int  `json:"by_severity"`
	ByKind     map[IssueKind]int `json:"by_kind"`

	// LastDetectedAt is the newest detection across the scope, nil when
	// the scope has no issues.
	LastDetectedAt *time.Time `json:"last_detected_at"`
}

// Repository persists consistency issues.
type Repository interface {
	// InsertIssue stores a new issue and returns it with its id assigned.
	InsertIssue(ctx context.Context, issue Issue) (Issue, error)

	// GetIssue fetches one issue by id.
	GetIssue(ctx context.Context, id int64) (Issue, error)

	// ListIssues returns a page of a scope's issues ordered by severity
	// then detection time, optionally filtered by status.
	ListIssues(ctx context.Context, scopeID int64, status *Status, p pagination.Params) ([]Issue, int, error)

	// TransitionIssue atomically moves an open issue into a terminal
	// state. The open precondition is enforced in the store so two
	// concurrent transitions cannot both succeed.
	TransitionIssue(ctx context.Context, id int64, target Status, actorID string, at time.Time) (Issue, error)

	// ActiveFingerprints returns the fingerprints of a scope's issues
	// whose status suppresses re-detection (everything except resolved).
	ActiveFingerprints(ctx context.Context, scopeID int64) (map[string]bool, error)

	// Statistics aggregates a scope's issue counts.
	Statistics(ctx context.Context, scopeID int64) (*Statistics, error)
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package saga

import "context"

// # Saga Data Access

// Repository defines the data access contract for saga entities,
// relationships, and timeline points.
type Repository interface {

	// ## Entity Data Access

	/*
		ListEntities retrieves a paginated list of entities within a scope.

		Parameters:
		  - context: context.Context
		  - scopeID: int64
		  - limit, offset: int (Pagination bounds)

		Returns:
		  - []*Entity: Paginated matching results
		  - int: Total matching count for pagination metadata
		  - error: Database execution errors
	*/
	ListEntities(context context.Context, scopeID int64, limit, offset int) ([]*Entity, int, error)

	/*
		GetEntity retrieves a single entity by its primary key.

		Parameters:
		  - context: context.Context
		  - id: int64 identifier

		Returns:
		  - *Entity: Hydrated entity
		  - error: dberr.ErrNotFound if missing
	*/
	GetEntity(context context.Context, id int64) (*Entity, error)

	// CreateEntity persists a new entity record and assigns its ID.
	CreateEntity(context context.Context, e *Entity) error

	// UpdateEntity applies modifications to an existing entity record.
	UpdateEntity(context context.Context, e *Entity) error

	// DeleteEntity removes an entity. Relationships and timeline points
	// referencing it are deliberately left in place (soft references).
	DeleteEntity(context context.Context, id int64) error

	// ## Relationship Data Access

	// ListRelationships retrieves a paginated list of relationships within a scope.
	ListRelationships(context context.Context, scopeID int64, limit, offset int) ([]*Relationship, int, error)

	// GetRelationship retrieves a single relationship by its primary key.
	GetRelationship(context context.Context, id int64) (*Relationship, error)

	// CreateRelationship persists a new relationship record and assigns its ID.
	CreateRelationship(context context.Context, r *Relationship) error

	// DeleteRelationship removes a relationship record.
	DeleteRelationship(context context.Context, id int64) error

	// ## Timeline Data Access

	// ListTimelinePoints retrieves a paginated list of timeline points within a scope.
	ListTimelinePoints(context context.Context, scopeID int64, limit, offset int) ([]*TimelinePoint, int, error)

	// GetTimelinePoint retrieves a single timeline point by its primary key.
	GetTimelinePoint(context context.Context, id int64) (*TimelinePoint, error)

	// CreateTimelinePoint persists a new timeline point and assigns its ID.
	CreateTimelinePoint(context context.Context, p *TimelinePoint) error

	// DeleteTimelinePoint removes a timeline point record.
	DeleteTimelinePoint(context context.Context, id int64) error

	// ## Analysis Batch Access

	/*
		FetchAnalysisBatch assembles the bounded input set for a consistency run.

		Description: Issues one bulk query per record type plus one
		set-membership query resolving every referenced entity id, so the
		rule evaluator never touches storage row by row.

		Parameters:
		  - context: context.Context
		  - scopeID: int64
		  - entityLimit, relationshipLimit, timelineLimit: int (Fetch bounds)

		Returns:
		  - *AnalysisBatch: Bounded snapshot of the scope
		  - error: Database execution errors
	*/
	FetchAnalysisBatch(context context.Context, scopeID int64, entityLimit, relationshipLimit, timelineLimit int) (*AnalysisBatch, error)
}

// AnalysisBatch is the bounded, pre-fetched snapshot a consistency run
// operates on. Once assembled, rule evaluation is pure computation.
type AnalysisBatch struct {
	ScopeID       int64
	Entities      []*Entity
	Relationships []*Relationship
	Timeline      []*TimelinePoint

	// KnownEntityIDs answers existence for every entity id referenced by
	// the batch's relationships and timeline points, regardless of whether
	// the entity itself made it into the bounded Entities slice.
	KnownEntityIDs map[int64]bool
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package saga

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagaforge/sagaforge/internal/platform/dberr"
)

// PostgresRepository implements [Repository] using a pgxpool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository returns a fully wired postgres implementation.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// # Entity Data Access

/*
ListEntities retrieves a paginated list of entities within a scope.

Description: Selects entity records ordered by their primary identifier and
issues a companion COUNT for pagination metadata.

Parameters:
  - context: context.Context
  - scopeID: int64
  - limit, offset: int

Returns:
  - []*Entity: Page of hydrated entities
  - int: Total matching count
  - error: Database execution or scanning errors
*/
func (repository *PostgresRepository) ListEntities(context context.Context, scopeID int64, limit, offset int) ([]*Entity, int, error) {

	// Define entity retrieval query
	const query = `
		SELECT id, scopeid, kind, name, slug, importance, attributes, summary, createdat, updatedat
		FROM saga.entity
		WHERE scopeid = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3;
	`
	const countQuery = `SELECT COUNT(*) FROM saga.entity WHERE scopeid = $1;`

	// Execute retrieval against connection pool
	rows, err := repository.db.Query(context, query, scopeID, limit, offset)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_entities")
	}
	defer rows.Close()

	// Iterate results and hydrate entity slice
	var entities []*Entity
	for rows.Next() {
		e := &Entity{}
		if err := rows.Scan(&e.ID, &e.ScopeID, &e.Kind, &e.Name, &e.Slug, &e.Importance, &e.Attributes, &e.Summary, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_entity")
		}
		entities = append(entities, e)
	}

	// Companion count for pagination metadata
	var total int
	if err := repository.db.QueryRow(context, countQuery, scopeID).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_entities")
	}

	return entities, total, nil
}

/*
GetEntity retrieves a single entity by its primary key.

Parameters:
  - context: context.Context
  - id: int64

Returns:
  - *Entity: Hydrated entity
  - error: Not found or execution errors
*/
func (repository *PostgresRepository) GetEntity(context context.Context, id int64) (*Entity, error) {

	// Prepare single-row selection
	const query = `
		SELECT id, scopeid, kind, name, slug, importance, attributes, summary, createdat, updatedat
		FROM saga.entity
		WHERE id = $1;
	`

	// Execute query and scan directly into entity
	e := &Entity{}
	err := repository.db.QueryRow(context, query, id).
		Scan(&e.ID, &e.ScopeID, &e.Kind, &e.Name, &e.Slug, &e.Importance, &e.Attributes, &e.Summary, &e.CreatedAt, &e.UpdatedAt)

	if err != nil {
		return nil, dberr.Wrap(err, "get_entity")
	}

	return e, nil
}

/*
CreateEntity persists a new entity record.

Description: Inserts the record and backfills the generated identifier and
timestamps into the passed entity.

Parameters:
  - context: context.Context
  - e: *Entity

Returns:
  - error: Insertion failures
*/
func (repository *PostgresRepository) CreateEntity(context context.Context, e *Entity) error {

	const query = `
		INSERT INTO saga.entity (scopeid, kind, name, slug, importance, attributes, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, createdat, updatedat;
	`

	err := repository.db.QueryRow(context, query,
		e.ScopeID, e.Kind, e.Name, e.Slug, e.Importance, e.Attributes, e.Summary,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)

	return dberr.Wrap(err, "create_entity")
}

/*
UpdateEntity applies modifications to an existing entity record.

Parameters:
  - context: context.Context
  - e: *Entity

Returns:
  - error: Not found or execution failures
*/
func (repository *PostgresRepository) UpdateEntity(context context.Context, e *Entity) error {

	const query = `
		UPDATE saga.entity
		SET kind = $2, name = $3, slug = $4, importance = $5, attributes = $6, summary = $7, updatedat = NOW()
		WHERE id = $1
		RETURNING updatedat;
	`

	err := repository.db.QueryRow(context, query,
		e.ID, e.Kind, e.Name, e.Slug, e.Importance, e.Attributes, e.Summary,
	).Scan(&e.UpdatedAt)

	return dberr.Wrap(err, "update_entity")
}

/*
DeleteEntity removes an entity record.

Description: Referencing relationships and timeline points are left intact;
the consistency rule evaluator reports them as orphaned references.

Parameters:
  - context: context.Context
  - id: int64

Returns:
  - error: Execution failures
*/
func (repository *PostgresRepository) DeleteEntity(context context.Context, id int64) error {

	const query = `DELETE FROM saga.entity WHERE id = $1;`

	tag, err := repository.db.Exec(context, query, id)
	if err != nil {
		return dberr.Wrap(err, "delete_entity")
	}

	if tag.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}

	return nil
}

// # Relationship Data Access

/*
ListRelationships retrieves a paginated list of relationships within a scope.
*/
func (repository *PostgresRepository) ListRelationships(context context.Context, scopeID int64, limit, offset int) ([]*Relationship, int, error) {

	const query = `
		SELECT id, scopeid, sourceid, targetid, kind, strength, startmarker, endmarker, createdat
		FROM saga.relationship
		WHERE scopeid = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3;
	`
	const countQuery = `SELECT COUNT(*) FROM saga.relationship WHERE scopeid = $1;`

	rows, err := repository.db.Query(context, query, scopeID, limit, offset)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_relationships")
	}
	defer rows.Close()

	var relationships []*Relationship
	for rows.Next() {
		r := &Relationship{}
		if err := rows.Scan(&r.ID, &r.ScopeID, &r.SourceID, &r.TargetID, &r.Kind, &r.Strength, &r.StartMarker, &r.EndMarker, &r.CreatedAt); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_relationship")
		}
		relationships = append(relationships, r)
	}

	var total int
	if err := repository.db.QueryRow(context, countQuery, scopeID).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_relationships")
	}

	return relationships, total, nil
}

/*
GetRelationship retrieves a single relationship by its primary key.
*/
func (repository *PostgresRepository) GetRelationship(context context.Context, id int64) (*Relationship, error) {

	const query = `
		SELECT id, scopeid, sourceid, targetid, kind, strength, startmarker, endmarker, createdat
		FROM saga.relationship
		WHERE id = $1;
	`

	r := &Relationship{}
	err := repository.db.QueryRow(context, query, id).
		Scan(&r.ID, &r.ScopeID, &r.SourceID, &r.TargetID, &r.Kind, &r.Strength, &r.StartMarker, &r.EndMarker, &r.CreatedAt)

	if err != nil {
		return nil, dberr.Wrap(err, "get_relationship")
	}

	return r, nil
}

/*
CreateRelationship persists a new relationship record.

Description: Source and target ids are stored as given — existence of the
referenced entities is deliberately not checked (soft references).
*/
func (repository *PostgresRepository) CreateRelationship(context context.Context, r *Relationship) error {

	const query = `
		INSERT INTO saga.relationship (scopeid, sourceid, targetid, kind, strength, startmarker, endmarker)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, createdat;
	`

	err := repository.db.QueryRow(context, query,
		r.ScopeID, r.SourceID, r.TargetID, r.Kind, r.Strength, r.StartMarker, r.EndMarker,
	).Scan(&r.ID, &r.CreatedAt)

	return dberr.Wrap(err, "create_relationship")
}

/*
DeleteRelationship removes a relationship record.
*/
func (repository *PostgresRepository) DeleteRelationship(context context.Context, id int64) error {

	const query = `DELETE FROM saga.relationship WHERE id = $1;`

	tag, err := repository.db.Exec(context, query, id)
	if err != nil {
		return dberr.Wrap(err, "delete_relationship")
	}

	if tag.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}

	return nil
}

// # Timeline Data Access

/*
ListTimelinePoints retrieves a paginated list of timeline points within a scope.
*/
func (repository *PostgresRepository) ListTimelinePoints(context context.Context, scopeID int64, limit, offset int) ([]*TimelinePoint, int, error) {

	const query = `
		SELECT id, scopeid, entityid, title, marker, endmarker, createdat
		FROM saga.timelinepoint
		WHERE scopeid = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3;
	`
	const countQuery = `SELECT COUNT(*) FROM saga.timelinepoint WHERE scopeid = $1;`

	rows, err := repository.db.Query(context, query, scopeID, limit, offset)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_timeline_points")
	}
	defer rows.Close()

	var points []*TimelinePoint
	for rows.Next() {
		p := &TimelinePoint{}
		if err := rows.Scan(&p.ID, &p.ScopeID, &p.EntityID, &p.Title, &p.Marker, &p.EndMarker, &p.CreatedAt); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_timeline_point")
		}
		points = append(points, p)
	}

	var total int
	if err := repository.db.QueryRow(context, countQuery, scopeID).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_timeline_points")
	}

	return points, total, nil
}

/*
GetTimelinePoint retrieves a single timeline point by its primary key.
*/
func (repository *PostgresRepository) GetTimelinePoint(context context.Context, id int64) (*TimelinePoint, error) {

	const query = `
		SELECT id, scopeid, entityid, title, marker, endmarker, createdat
		FROM saga.timelinepoint
		WHERE id = $1;
	`

	p := &TimelinePoint{}
	err := repository.db.QueryRow(context, query, id).
		Scan(&p.ID, &p.ScopeID, &p.EntityID, &p.Title, &p.Marker, &p.EndMarker, &p.CreatedAt)

	if err != nil {
		return nil, dberr.Wrap(err, "get_timeline_point")
	}

	return p, nil
}

/*
CreateTimelinePoint persists a new timeline point record.
*/
func (repository *PostgresRepository) CreateTimelinePoint(context context.Context, p *TimelinePoint) error {

	const query = `
		INSERT INTO saga.timelinepoint (scopeid, entityid, title, marker, endmarker)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, createdat;
	`

	err := repository.db.QueryRow(context, query,
		p.ScopeID, p.EntityID, p.Title, p.Marker, p.EndMarker,
	).Scan(&p.ID, &p.CreatedAt)

	return dberr.Wrap(err, "create_timeline_point")
}

/*
DeleteTimelinePoint removes a timeline point record.
*/
func (repository *PostgresRepository) DeleteTimelinePoint(context context.Context, id int64) error {

	const query = `DELETE FROM saga.timelinepoint WHERE id = $1;`

	tag, err := repository.db.Exec(context, query, id)
	if err != nil {
		return dberr.Wrap(err, "delete_timeline_point")
	}

	if tag.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}

	return nil
}

// # Analysis Batch Access

/*
FetchAnalysisBatch assembles the bounded input set for a consistency run.

Description: Three bounded bulk selects (entities, relationships, timeline)
plus one set-membership query resolving every referenced entity id. The
rule evaluator runs purely against the returned batch.

Parameters:
  - context: context.Context
  - scopeID: int64
  - entityLimit, relationshipLimit, timelineLimit: int

Returns:
  - *AnalysisBatch: Bounded snapshot of the scope
  - error: Database execution errors
*/
func (repository *PostgresRepository) FetchAnalysisBatch(context context.Context, scopeID int64, entityLimit, relationshipLimit, timelineLimit int) (*AnalysisBatch, error) {

	batch := &AnalysisBatch{
		ScopeID:        scopeID,
		KnownEntityIDs: make(map[int64]bool),
	}

	// Bounded bulk fetches, ordered by id for deterministic evaluation.
	entities, _, err := repository.ListEntities(context, scopeID, entityLimit, 0)
	if err != nil {
		return nil, err
	}
	batch.Entities = entities

	relationships, _, err := repository.ListRelationships(context, scopeID, relationshipLimit, 0)
	if err != nil {
		return nil, err
	}
	batch.Relationships = relationships

	points, _, err := repository.ListTimelinePoints(context, scopeID, timelineLimit, 0)
	if err != nil {
		return nil, err
	}
	batch.Timeline = points

	// Collect every referenced entity id across the batch.
	referenced := make(map[int64]bool)
	for _, r := range relationships {
		referenced[r.SourceID] = true
		referenced[r.TargetID] = true
	}
	for _, p := range points {
		if p.EntityID != nil {
			referenced[*p.EntityID] = true
		}
	}

	if len(referenced) == 0 {
		return batch, nil
	}

	ids := make([]int64, 0, len(referenced))
	for id := range referenced {
		ids = append(ids, id)
	}

	// One set-membership query answers existence for the whole batch, so
	// the orphaned-reference rule never queries row by row.
	const existsQuery = `SELECT id FROM saga.entity WHERE scopeid = $1 AND id = ANY($2);`

	rows, err := repository.db.Query(context, existsQuery, scopeID, ids)
	if err != nil {
		return nil, dberr.Wrap(err, "resolve_entity_refs")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.Wrap(err, "scan_entity_ref")
		}
		batch.KnownEntityIDs[id] = true
	}

	return batch, nil
}

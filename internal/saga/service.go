// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package saga

import (
	"context"
	"log/slog"

	"github.com/sagaforge/sagaforge/internal/platform/ctxutil"
	"github.com/sagaforge/sagaforge/internal/platform/validate"
	"github.com/sagaforge/sagaforge/pkg/slug"
)

// # Analysis Invalidation

// AnalysisInvalidator is notified after every structural mutation so cached
// analysis results and aggregate statistics for the scope are dropped eagerly
// rather than waiting out their TTL.
//
// Implemented by the consistency cache; declared here so this package stays
// decoupled from the consistency subsystem.
type AnalysisInvalidator interface {
	InvalidateScope(ctx context.Context, scopeID int64) error
}

// # Service Layer

// Service orchestrates business rules for saga records.
//
// It validates incoming entities, generates slugs, and keeps the analysis
// cache honest by invalidating the scope after every mutation.
type Service struct {
	repo        Repository
	invalidator AnalysisInvalidator
}

// NewService constructs a new saga [Service].
func NewService(repo Repository, invalidator AnalysisInvalidator) *Service {
	return &Service{repo: repo, invalidator: invalidator}
}

// # Entity Methods

/*
ListEntities returns a paginated page of entities within a scope.

Parameters:
  - context: context.Context
  - scopeID: int64
  - limit, offset: int

Returns:
  - []*Entity: Page of entities
  - int: Total record count for pagination
  - error: Retrieval errors
*/
func (service *Service) ListEntities(context context.Context, scopeID int64, limit, offset int) ([]*Entity, int, error) {
	return service.repo.ListEntities(context, scopeID, limit, offset)
}

/*
GetEntity retrieves a single entity by its primary identifier.

Parameters:
  - context: context.Context
  - id: int64

Returns:
  - *Entity: Hydrated entity
  - error: apperr.NotFound or storage errors
*/
func (service *Service) GetEntity(context context.Context, id int64) (*Entity, error) {
	return service.repo.GetEntity(context, id)
}

/*
CreateEntity validates business constraints before persisting a new entity.

Description: Generates the slug from the name when absent. Duplicate slugs
within a scope are allowed — the consistency rule evaluator reports them.

Parameters:
  - context: context.Context
  - entity: *Entity

Returns:
  - error: Validation failures or storage errors
*/
func (service *Service) CreateEntity(context context.Context, entity *Entity) error {

	// Derive the slug before validation so a generated slug is validated too.
	if entity.Slug == "" {
		entity.Slug = slug.From(entity.Name)
	}
	if entity.Attributes == nil {
		entity.Attributes = make(map[string]string)
	}

	validator := &validate.Validator{}
	validator.Required(FieldName, entity.Name).MaxLen(FieldName, entity.Name, 200)
	validator.Custom(FieldKind, !entity.Kind.IsValid(), "Unknown entity kind")
	validator.Slug(FieldSlug, entity.Slug)
	validator.Range(FieldImportance, entity.Importance, 0, 100)

	if err := validator.Err(); err != nil {
		return err
	}

	if err := service.repo.CreateEntity(context, entity); err != nil {
		return err
	}

	service.invalidate(context, entity.ScopeID)
	return nil
}

/*
UpdateEntity applies metadata changes to an existing entity record.

Parameters:
  - context: context.Context
  - id: int64
  - entity: *Entity

Returns:
  - error: Validation or execution failures
*/
func (service *Service) UpdateEntity(context context.Context, id int64, entity *Entity) error {
	entity.ID = id

	if entity.Slug == "" {
		entity.Slug = slug.From(entity.Name)
	}

	validator := &validate.Validator{}
	validator.Required(FieldName, entity.Name).MaxLen(FieldName, entity.Name, 200)
	validator.Custom(FieldKind, !entity.Kind.IsValid(), "Unknown entity kind")
	validator.Slug(FieldSlug, entity.Slug)
	validator.Range(FieldImportance, entity.Importance, 0, 100)

	if err := validator.Err(); err != nil {
		return err
	}

	if err := service.repo.UpdateEntity(context, entity); err != nil {
		return err
	}

	service.invalidate(context, entity.ScopeID)
	return nil
}

/*
DeleteEntity removes an entity from the catalogue.

Description: Relationships and timeline points referencing it are kept —
they become orphaned references for the rule evaluator to find.

Parameters:
  - context: context.Context
  - id: int64

Returns:
  - error: Not found or execution failures
*/
func (service *Service) DeleteEntity(context context.Context, id int64) error {

	// Resolve the scope before the row disappears.
	entity, err := service.repo.GetEntity(context, id)
	if err != nil {
		return err
	}

	if err := service.repo.DeleteEntity(context, id); err != nil {
		return err
	}

	service.invalidate(context, entity.ScopeID)
	return nil
}

// # Relationship Methods

/*
ListRelationships returns a paginated page of relationships within a scope.
*/
func (service *Service) ListRelationships(context context.Context, scopeID int64, limit, offset int) ([]*Relationship, int, error) {
	return service.repo.ListRelationships(context, scopeID, limit, offset)
}

/*
GetRelationship retrieves a single relationship by its primary identifier.
*/
func (service *Service) GetRelationship(context context.Context, id int64) (*Relationship, error) {
	return service.repo.GetRelationship(context, id)
}

/*
CreateRelationship validates and persists a new relationship.

Description: Source and target existence is deliberately not checked (soft
references). Self-references and out-of-range strengths are accepted at
write time and reported by the rule evaluator — the catalogue records what
authors wrote, the analyzer judges it.

Parameters:
  - context: context.Context
  - relationship: *Relationship

Returns:
  - error: Validation failures or storage errors
*/
func (service *Service) CreateRelationship(context context.Context, relationship *Relationship) error {

	validator := &validate.Validator{}
	validator.Required(FieldKind, relationship.Kind).MaxLen(FieldKind, relationship.Kind, 100)
	validator.Custom(FieldSourceID, relationship.SourceID <= 0, "Must be a positive entity id")
	validator.Custom(FieldTargetID, relationship.TargetID <= 0, "Must be a positive entity id")

	if err := validator.Err(); err != nil {
		return err
	}

	if err := service.repo.CreateRelationship(context, relationship); err != nil {
		return err
	}

	service.invalidate(context, relationship.ScopeID)
	return nil
}

/*
DeleteRelationship removes a relationship record.
*/
func (service *Service) DeleteRelationship(context context.Context, id int64) error {

	relationship, err := service.repo.GetRelationship(context, id)
	if err != nil {
		return err
	}

	if err := service.repo.DeleteRelationship(context, id); err != nil {
		return err
	}

	service.invalidate(context, relationship.ScopeID)
	return nil
}

// # Timeline Methods

/*
ListTimelinePoints returns a paginated page of timeline points within a scope.
*/
func (service *Service) ListTimelinePoints(context context.Context, scopeID int64, limit, offset int) ([]*TimelinePoint, int, error) {
	return service.repo.ListTimelinePoints(context, scopeID, limit, offset)
}

/*
GetTimelinePoint retrieves a single timeline point by its primary identifier.
*/
func (service *Service) GetTimelinePoint(context context.Context, id int64) (*TimelinePoint, error) {
	return service.repo.GetTimelinePoint(context, id)
}

/*
CreateTimelinePoint validates and persists a new timeline point.

Description: The temporal marker is stored as free text; parseability is a
consistency concern, not a write-time constraint.
*/
func (service *Service) CreateTimelinePoint(context context.Context, point *TimelinePoint) error {

	validator := &validate.Validator{}
	validator.Required(FieldTitle, point.Title).MaxLen(FieldTitle, point.Title, 300)
	validator.MaxLen(FieldMarker, point.Marker, 100)

	if err := validator.Err(); err != nil {
		return err
	}

	if err := service.repo.CreateTimelinePoint(context, point); err != nil {
		return err
	}

	service.invalidate(context, point.ScopeID)
	return nil
}

/*
DeleteTimelinePoint removes a timeline point record.
*/
func (service *Service) DeleteTimelinePoint(context context.Context, id int64) error {

	point, err := service.repo.GetTimelinePoint(context, id)
	if err != nil {
		return err
	}

	if err := service.repo.DeleteTimelinePoint(context, id); err != nil {
		return err
	}

	service.invalidate(context, point.ScopeID)
	return nil
}

// # Helpers

// invalidate drops cached analysis state for the scope. Failures are logged
// and swallowed — cache invalidation must never fail a catalogue write.
func (service *Service) invalidate(ctx context.Context, scopeID int64) {
	if service.invalidator == nil {
		return
	}
	if err := service.invalidator.InvalidateScope(ctx, scopeID); err != nil {
		ctxutil.GetLogger(ctx).Warn("analysis_invalidation_failed",
			slog.Int64("scope_id", scopeID),
			slog.Any("error", err),
		)
	}
}

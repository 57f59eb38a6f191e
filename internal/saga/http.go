// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package saga

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
	"github.com/sagaforge/sagaforge/internal/platform/middleware"
	requestutil "github.com/sagaforge/sagaforge/internal/platform/request"
	"github.com/sagaforge/sagaforge/internal/platform/respond"
	"github.com/sagaforge/sagaforge/internal/platform/sec"
	"github.com/sagaforge/sagaforge/pkg/pagination"
)

// Handler implements the HTTP layer for the saga catalogue.
// It translates web requests into domain service calls.
type Handler struct {
	service *Service
}

// NewHandler constructs a new saga [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a [chi.Router] configured with the saga catalogue endpoints.
//
// It is mounted under /api/v1/scopes/{scopeID}.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// # Entity Endpoints
	router.Route("/entities", func(entityRoute chi.Router) {
		// Public
		entityRoute.Get("/", handler.listEntities)
		entityRoute.Get("/{id}", handler.getEntity)

		// Curator Only
		entityRoute.Group(func(curatorRoute chi.Router) {
			curatorRoute.Use(middleware.RequireRole(sec.RoleCurator))

			curatorRoute.Post("/", handler.createEntity)
			curatorRoute.Patch("/{id}", handler.updateEntity)
			curatorRoute.Delete("/{id}", handler.deleteEntity)
		})
	})

	// # Relationship Endpoints
	router.Route("/relationships", func(relRoute chi.Router) {
		relRoute.Get("/", handler.listRelationships)
		relRoute.Get("/{id}", handler.getRelationship)

		relRoute.Group(func(curatorRoute chi.Router) {
			curatorRoute.Use(middleware.RequireRole(sec.RoleCurator))

			curatorRoute.Post("/", handler.createRelationship)
			curatorRoute.Delete("/{id}", handler.deleteRelationship)
		})
	})

	// # Timeline Endpoints
	router.Route("/timeline", func(tlRoute chi.Router) {
		tlRoute.Get("/", handler.listTimelinePoints)
		tlRoute.Get("/{id}", handler.getTimelinePoint)

		tlRoute.Group(func(curatorRoute chi.Router) {
			curatorRoute.Use(middleware.RequireRole(sec.RoleCurator))

			curatorRoute.Post("/", handler.createTimelinePoint)
			curatorRoute.Delete("/{id}", handler.deleteTimelinePoint)
		})
	})

	return router
}

// # Request Payloads

type entityPayload struct {
	Kind       EntityKind        `json:"kind"`
	Name       string            `json:"name"`
	Slug       string            `json:"slug"`
	Importance int               `json:"importance"`
	Attributes map[string]string `json:"attributes"`
	Summary    *string           `json:"summary"`
}

type relationshipPayload struct {
	SourceID    int64   `json:"source_id"`
	TargetID    int64   `json:"target_id"`
	Kind        string  `json:"kind"`
	Strength    int     `json:"strength"`
	StartMarker *string `json:"start_marker"`
	EndMarker   *string `json:"end_marker"`
}

type timelinePayload struct {
	EntityID  *int64  `json:"entity_id"`
	Title     string  `json:"title"`
	Marker    string  `json:"marker"`
	EndMarker *string `json:"end_marker"`
}

// # Entity Handlers

/*
GET /api/v1/scopes/{scopeID}/entities.

Description: Retrieves a paginated list of entities within the scope.

Response:
  - 200: []Entity with pagination metadata
*/
func (handler *Handler) listEntities(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	params := pagination.FromRequest(request)

	entities, total, err := handler.service.ListEntities(request.Context(), scopeID, params.Limit, params.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, entities, pagination.NewMeta(params.Page, params.Limit, total))
}

/*
GET /api/v1/scopes/{scopeID}/entities/{id}.
*/
func (handler *Handler) getEntity(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	entity, err := handler.service.GetEntity(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, entity)
}

/*
POST /api/v1/scopes/{scopeID}/entities.

Description: Creates a new saga entity. Requires the curator role.

Response:
  - 201: Entity: Created record with assigned id
  - 400: Validation failure
*/
func (handler *Handler) createEntity(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var payload entityPayload
	if err := requestutil.DecodeJSON(request, &payload); err != nil {
		respond.Error(writer, request, err)
		return
	}

	entity := &Entity{
		ScopeID:    scopeID,
		Kind:       payload.Kind,
		Name:       payload.Name,
		Slug:       payload.Slug,
		Importance: payload.Importance,
		Attributes: payload.Attributes,
		Summary:    payload.Summary,
	}

	if err := handler.service.CreateEntity(request.Context(), entity); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, entity)
}

/*
PATCH /api/v1/scopes/{scopeID}/entities/{id}.
*/
func (handler *Handler) updateEntity(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var payload entityPayload
	if err := requestutil.DecodeJSON(request, &payload); err != nil {
		respond.Error(writer, request, err)
		return
	}

	entity := &Entity{
		ScopeID:    scopeID,
		Kind:       payload.Kind,
		Name:       payload.Name,
		Slug:       payload.Slug,
		Importance: payload.Importance,
		Attributes: payload.Attributes,
		Summary:    payload.Summary,
	}

	if err := handler.service.UpdateEntity(request.Context(), id, entity); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, entity)
}

/*
DELETE /api/v1/scopes/{scopeID}/entities/{id}.
*/
func (handler *Handler) deleteEntity(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.DeleteEntity(request.Context(), id); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// # Relationship Handlers

/*
GET /api/v1/scopes/{scopeID}/relationships.
*/
func (handler *Handler) listRelationships(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	params := pagination.FromRequest(request)

	relationships, total, err := handler.service.ListRelationships(request.Context(), scopeID, params.Limit, params.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, relationships, pagination.NewMeta(params.Page, params.Limit, total))
}

/*
GET /api/v1/scopes/{scopeID}/relationships/{id}.
*/
func (handler *Handler) getRelationship(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	relationship, err := handler.service.GetRelationship(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, relationship)
}

/*
POST /api/v1/scopes/{scopeID}/relationships.
*/
func (handler *Handler) createRelationship(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var payload relationshipPayload
	if err := requestutil.DecodeJSON(request, &payload); err != nil {
		respond.Error(writer, request, err)
		return
	}

	relationship := &Relationship{
		ScopeID:     scopeID,
		SourceID:    payload.SourceID,
		TargetID:    payload.TargetID,
		Kind:        payload.Kind,
		Strength:    payload.Strength,
		StartMarker: payload.StartMarker,
		EndMarker:   payload.EndMarker,
	}

	if err := handler.service.CreateRelationship(request.Context(), relationship); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, relationship)
}

/*
DELETE /api/v1/scopes/{scopeID}/relationships/{id}.
*/
func (handler *Handler) deleteRelationship(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.DeleteRelationship(request.Context(), id); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// # Timeline Handlers

/*
GET /api/v1/scopes/{scopeID}/timeline.
*/
func (handler *Handler) listTimelinePoints(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	params := pagination.FromRequest(request)

	points, total, err := handler.service.ListTimelinePoints(request.Context(), scopeID, params.Limit, params.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, points, pagination.NewMeta(params.Page, params.Limit, total))
}

/*
GET /api/v1/scopes/{scopeID}/timeline/{id}.
*/
func (handler *Handler) getTimelinePoint(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	point, err := handler.service.GetTimelinePoint(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, point)
}

/*
POST /api/v1/scopes/{scopeID}/timeline.
*/
func (handler *Handler) createTimelinePoint(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var payload timelinePayload
	if err := requestutil.DecodeJSON(request, &payload); err != nil {
		respond.Error(writer, request, err)
		return
	}

	point := &TimelinePoint{
		ScopeID:   scopeID,
		EntityID:  payload.EntityID,
		Title:     payload.Title,
		Marker:    payload.Marker,
		EndMarker: payload.EndMarker,
	}

	if err := handler.service.CreateTimelinePoint(request.Context(), point); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, point)
}

/*
DELETE /api/v1/scopes/{scopeID}/timeline/{id}.
*/
func (handler *Handler) deleteTimelinePoint(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.DeleteTimelinePoint(request.Context(), id); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// # Parameter Helpers

// scopeParam parses the {scopeID} route parameter.
func scopeParam(request *http.Request) (int64, error) {
	raw := requestutil.Param(request, "scopeID")
	scopeID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || scopeID <= 0 {
		return 0, apperr.ValidationError("Invalid scopeID parameter")
	}
	return scopeID, nil
}

// idParam parses the {id} route parameter.
func idParam(request *http.Request) (int64, error) {
	raw := requestutil.Param(request, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ValidationError("Invalid id parameter")
	}
	return id, nil
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

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

// Handler implements the HTTP layer for the consistency subsystem.
// It translates web requests into orchestrator calls.
type Handler struct {
	service *Service
}

// NewHandler constructs a new consistency [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a [chi.Router] configured with the consistency endpoints.
//
// It is mounted under /api/v1/scopes/{scopeID}/consistency.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public reads
	router.Get("/issues", handler.listIssues)
	router.Get("/issues/{id}", handler.getIssue)
	router.Get("/statistics", handler.getStatistics)

	// Curator Only
	router.Group(func(curatorRoute chi.Router) {
		curatorRoute.Use(middleware.RequireRole(sec.RoleCurator))

		curatorRoute.Post("/analysis", handler.analyze)
		curatorRoute.Post("/issues/{id}/resolve", handler.resolveIssue)
		curatorRoute.Post("/issues/{id}/dismiss", handler.dismissIssue)
	})

	return router
}

// # Request Payloads

type analyzePayload struct {
	Kinds             []IssueKind `json:"kinds"`
	UseAI             bool        `json:"use_ai"`
	EntityLimit       int         `json:"entity_limit"`
	RelationshipLimit int         `json:"relationship_limit"`
	TimelineLimit     int         `json:"timeline_limit"`
}

type dismissPayload struct {
	FalsePositive bool `json:"false_positive"`
}

// # Analysis Handlers

/*
POST /api/v1/scopes/{scopeID}/consistency/analysis.

Description: Runs a full consistency analysis over the scope. The rule
battery always runs; AI analysis is opt-in via use_ai and subject to the
actor's budget. An exhausted budget degrades the run to rule-only results
with ai_skip_reason "rate_limited". Requires the curator role.

Response:
  - 200: AnalysisReport with ordered findings and run metadata
*/
func (handler *Handler) analyze(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	actor, err := requestutil.RequiredActor(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var payload analyzePayload
	if request.ContentLength > 0 {
		if err := requestutil.DecodeJSON(request, &payload); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	report, err := handler.service.Analyze(request.Context(), scopeID, actor.ActorID, AnalyzeOptions{
		Kinds:             payload.Kinds,
		UseAI:             payload.UseAI,
		EntityLimit:       payload.EntityLimit,
		RelationshipLimit: payload.RelationshipLimit,
		TimelineLimit:     payload.TimelineLimit,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, report)
}

// # Issue Handlers

/*
GET /api/v1/scopes/{scopeID}/consistency/issues.

Description: Retrieves a paginated list of the scope's issues ordered by
severity then detection time. An optional ?status= query narrows the page.

Response:
  - 200: []Issue with pagination metadata
*/
func (handler *Handler) listIssues(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var status *Status
	if raw := request.URL.Query().Get("status"); raw != "" {
		s := Status(raw)
		status = &s
	}

	params := pagination.FromRequest(request)

	issues, total, err := handler.service.ListIssues(request.Context(), scopeID, status, params)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, issues, pagination.NewMeta(params.Page, params.Limit, total))
}

/*
GET /api/v1/scopes/{scopeID}/consistency/issues/{id}.
*/
func (handler *Handler) getIssue(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	issue, err := handler.service.GetIssue(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, issue)
}

/*
POST /api/v1/scopes/{scopeID}/consistency/issues/{id}/resolve.

Description: Moves an open issue into the resolved state. Requires the
curator role.

Response:
  - 200: Issue after the transition
  - 409: Issue is already closed
*/
func (handler *Handler) resolveIssue(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	actor, err := requestutil.RequiredActor(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	issue, err := handler.service.ResolveIssue(request.Context(), id, actor.ActorID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, issue)
}

/*
POST /api/v1/scopes/{scopeID}/consistency/issues/{id}/dismiss.

Description: Moves an open issue into the dismissed state, or into
false_positive when the payload flags it. Requires the curator role.
*/
func (handler *Handler) dismissIssue(writer http.ResponseWriter, request *http.Request) {
	id, err := idParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	actor, err := requestutil.RequiredActor(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var payload dismissPayload
	if request.ContentLength > 0 {
		if err := requestutil.DecodeJSON(request, &payload); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	issue, err := handler.service.DismissIssue(request.Context(), id, actor.ActorID, payload.FalsePositive)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, issue)
}

// # Statistics Handlers

/*
GET /api/v1/scopes/{scopeID}/consistency/statistics.

Description: Aggregated issue counts for the scope, memoized briefly.

Response:
  - 200: Statistics
*/
func (handler *Handler) getStatistics(writer http.ResponseWriter, request *http.Request) {
	scopeID, err := scopeParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	stats, err := handler.service.GetStatistics(request.Context(), scopeID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, stats)
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

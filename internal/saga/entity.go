// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

/*
Package saga manages the entities of a fictional universe.

It handles the lifecycle and retrieval of the records the consistency
subsystem analyzes: typed entities (characters, locations, events, factions,
artifacts, concepts), the relationships between them, and timeline points.

# Core Responsibility

  - Catalogue: CRUD over [Entity], [Relationship], and [TimelinePoint].
  - Soft References: relationships and timeline points refer to entities by
    id with no enforced existence — a referenced entity may legitimately be
    missing at read time. The consistency rule evaluator exists precisely
    because of this.
  - Invalidation: every structural mutation notifies the analysis cache so
    stale "no issues found" results are never served after an edit.

This package provides the raw material the consistency subsystem reasons over.
*/
package saga

import "time"

// # Entity Kinds

// EntityKind classifies a saga entity.
type EntityKind string

const (
	KindCharacter EntityKind = "character"
	KindLocation  EntityKind = "location"
	KindEvent     EntityKind = "event"
	KindFaction   EntityKind = "faction"
	KindArtifact  EntityKind = "artifact"
	KindConcept   EntityKind = "concept"
)

// Kinds lists every valid entity kind, in canonical order.
func Kinds() []EntityKind {
	return []EntityKind{KindCharacter, KindLocation, KindEvent, KindFaction, KindArtifact, KindConcept}
}

// IsValid reports whether the kind belongs to the closed enum.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindCharacter, KindLocation, KindEvent, KindFaction, KindArtifact, KindConcept:
		return true
	}
	return false
}

// # Entity Domain

// Entity represents a single element of a saga's universe.
type Entity struct {
	ID      int64      `json:"id"`
	ScopeID int64      `json:"scope_id"`
	Kind    EntityKind `json:"kind"`
	Name    string     `json:"name"`

	// Slug is the human-readable identifier. Uniqueness within a scope is
	// NOT enforced at the storage layer; duplicates are surfaced by the
	// logical consistency rule instead.
	Slug string `json:"slug"`

	// Importance ranks the entity within its saga on a 0-100 scale.
	Importance int `json:"importance"`

	// Attributes holds free-form descriptive key/value pairs
	// (e.g. "eye_color" → "grey", "allegiance" → "Ashen Circle").
	Attributes map[string]string `json:"attributes"`

	Summary   *string   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Relationship connects two entities within the same scope.
//
// SourceID and TargetID are soft references: neither is guaranteed to
// resolve to an existing entity.
type Relationship struct {
	ID       int64  `json:"id"`
	ScopeID  int64  `json:"scope_id"`
	SourceID int64  `json:"source_id"`
	TargetID int64  `json:"target_id"`
	Kind     string `json:"kind"`

	// Strength expresses how significant the bond is on a 0-100 scale.
	Strength int `json:"strength"`

	// StartMarker/EndMarker bound the relationship in in-universe time.
	// Both are free-text temporal markers (see [chronology.Parse]) and
	// both are optional.
	StartMarker *string `json:"start_marker"`
	EndMarker   *string `json:"end_marker"`

	CreatedAt time.Time `json:"created_at"`
}

// TimelinePoint places a moment on a saga's timeline.
type TimelinePoint struct {
	ID      int64 `json:"id"`
	ScopeID int64 `json:"scope_id"`

	// EntityID optionally links the point to an entity (soft reference).
	EntityID *int64 `json:"entity_id"`

	Title string `json:"title"`

	// Marker is the free-text in-universe date of the point.
	Marker string `json:"marker"`

	// EndMarker, when set, makes the point a range.
	EndMarker *string `json:"end_marker"`

	CreatedAt time.Time `json:"created_at"`
}

// # Field Identifiers

// Global field names for validation and dynamic query mapping in the saga domain.
const (
	FieldName       = "name"
	FieldKind       = "kind"
	FieldSlug       = "slug"
	FieldImportance = "importance"
	FieldStrength   = "strength"
	FieldTitle      = "title"
	FieldMarker     = "marker"
	FieldSourceID   = "source_id"
	FieldTargetID   = "target_id"
)

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sagaforge/sagaforge/internal/saga"
)

// RuleEvaluator runs the deterministic check battery over a pre-fetched
// analysis batch. It performs no I/O: every check works purely on the batch,
// so a run's output is fully determined by its input.
type RuleEvaluator struct {
	logger *slog.Logger
}

// NewRuleEvaluator creates a RuleEvaluator.
func NewRuleEvaluator(logger *slog.Logger) *RuleEvaluator {
	return &RuleEvaluator{logger: logger.With(slog.String("component", "rule_evaluator"))}
}

/*
Evaluate runs every check the options ask for and returns the findings as
open, unpersisted issues in deterministic order.

Parameters:
  - batch: the bounded entity/relationship/timeline snapshot for one scope.
  - opts: normalized run options; the kind filter limits which checks run.

Returns:
  - []Issue: rule-origin findings, possibly empty, never nil.
*/
func (e *RuleEvaluator) Evaluate(batch *saga.AnalysisBatch, opts AnalyzeOptions) []Issue {
	issues := make([]Issue, 0, 8)

	if opts.WantsKind(KindTimeline) {
		issues = append(issues, e.checkChronology(batch)...)
	}
	if opts.WantsKind(KindRelationship) {
		issues = append(issues, e.checkRelationships(batch)...)
	}
	if opts.WantsKind(KindCharacter) {
		issues = append(issues, e.checkCharacters(batch)...)
	}
	if opts.WantsKind(KindLocation) {
		issues = append(issues, e.checkLocations(batch)...)
	}
	if opts.WantsKind(KindLogical) {
		issues = append(issues, e.checkImportance(batch)...)
		issues = append(issues, e.checkDuplicateSlugs(batch)...)
	}

	e.logger.Debug("rule battery complete",
		slog.Int64("scope_id", batch.ScopeID),
		slog.Int("findings", len(issues)))

	return issues
}

// checkChronology flags timeline points whose markers cannot be parsed,
// points referencing entities that do not exist, and ranges that end before
// they start. Relationship start/end markers go through the same inversion
// check.
func (e *RuleEvaluator) checkChronology(batch *saga.AnalysisBatch) []Issue {
	var issues []Issue

	for _, point := range batch.Timeline {
		if point.EntityID != nil && !batch.KnownEntityIDs[*point.EntityID] {
			issue := e.mustRuleIssue(batch.ScopeID, KindTimeline, SeverityCritical,
				fmt.Sprintf("Timeline point %q references entity %d which does not exist", point.Title, *point.EntityID))
			issue.PrimaryEntityID = point.EntityID
			issue.Context = map[string]any{"timeline_point_id": point.ID}
			issues = append(issues, issue)
		}

		start, ok := saga.ParseMarker(point.Marker)
		if !ok {
			issue := e.mustRuleIssue(batch.ScopeID, KindTimeline, SeverityMedium,
				fmt.Sprintf("Timeline point %q has a marker %q that does not contain a recognizable year", point.Title, point.Marker))
			issue.PrimaryEntityID = point.EntityID
			issue.Context = map[string]any{"timeline_point_id": point.ID, "marker": point.Marker}
			issues = append(issues, issue)
			continue
		}

		if point.EndMarker == nil {
			continue
		}
		end, ok := saga.ParseMarker(*point.EndMarker)
		if !ok {
			issue := e.mustRuleIssue(batch.ScopeID, KindTimeline, SeverityMedium,
				fmt.Sprintf("Timeline point %q has an end marker %q that does not contain a recognizable year", point.Title, *point.EndMarker))
			issue.PrimaryEntityID = point.EntityID
			issue.Context = map[string]any{"timeline_point_id": point.ID, "end_marker": *point.EndMarker}
			issues = append(issues, issue)
			continue
		}

		if end < start {
			issue := e.mustRuleIssue(batch.ScopeID, KindTimeline, SeverityHigh,
				fmt.Sprintf("Timeline point %q ends (%s) before it starts (%s)", point.Title, *point.EndMarker, point.Marker))
			issue.PrimaryEntityID = point.EntityID
			issue.Context = map[string]any{"timeline_point_id": point.ID, "marker": point.Marker, "end_marker": *point.EndMarker}
			issues = append(issues, issue)
		}
	}

	for _, rel := range batch.Relationships {
		if rel.StartMarker == nil || rel.EndMarker == nil {
			continue
		}
		start, okStart := saga.ParseMarker(*rel.StartMarker)
		end, okEnd := saga.ParseMarker(*rel.EndMarker)
		if okStart && okEnd && end < start {
			issue := e.mustRuleIssue(batch.ScopeID, KindTimeline, SeverityHigh,
				fmt.Sprintf("Relationship %q ends (%s) before it starts (%s)", rel.Kind, *rel.EndMarker, *rel.StartMarker))
			issue.PrimaryEntityID = &rel.SourceID
			issue.RelatedEntityID = &rel.TargetID
			issue.Context = map[string]any{"relationship_id": rel.ID}
			issues = append(issues, issue)
		}
	}

	return issues
}

// checkRelationships flags references to missing entities, self references,
// and strength values outside the accepted range.
func (e *RuleEvaluator) checkRelationships(batch *saga.AnalysisBatch) []Issue {
	var issues []Issue

	for _, rel := range batch.Relationships {
		if rel.SourceID == rel.TargetID {
			issue := e.mustRuleIssue(batch.ScopeID, KindRelationship, SeverityCritical,
				fmt.Sprintf("Relationship %q connects entity %d to itself", rel.Kind, rel.SourceID))
			issue.PrimaryEntityID = &rel.SourceID
			issue.Context = map[string]any{"relationship_id": rel.ID}
			issues = append(issues, issue)
		} else {
			// Endpoint checks are skipped for self references: the finding
			// above already pinpoints the row, and a missing endpoint would
			// otherwise be reported twice for the same id.
			for _, ref := range []struct {
				side string
				id   int64
			}{{"source", rel.SourceID}, {"target", rel.TargetID}} {
				if batch.KnownEntityIDs[ref.id] {
					continue
				}
				refID := ref.id
				issue := e.mustRuleIssue(batch.ScopeID, KindRelationship, SeverityCritical,
					fmt.Sprintf("Relationship %q references %s entity %d which does not exist", rel.Kind, ref.side, ref.id))
				issue.PrimaryEntityID = &refID
				issue.Context = map[string]any{"relationship_id": rel.ID, "side": ref.side}
				issues = append(issues, issue)
			}
		}

		if rel.Strength < 0 || rel.Strength > 100 {
			issue := e.mustRuleIssue(batch.ScopeID, KindRelationship, SeverityMedium,
				fmt.Sprintf("Relationship %q has strength %d outside 0-100", rel.Kind, rel.Strength))
			issue.PrimaryEntityID = &rel.SourceID
			issue.RelatedEntityID = &rel.TargetID
			issue.Context = map[string]any{"relationship_id": rel.ID, "strength": rel.Strength}
			issues = append(issues, issue)
		}
	}

	return issues
}

// checkCharacters flags characters with no descriptive attributes at all.
// Blank-valued keys do not count as defined.
func (e *RuleEvaluator) checkCharacters(batch *saga.AnalysisBatch) []Issue {
	var issues []Issue

	for _, entity := range batch.Entities {
		if entity.Kind != saga.KindCharacter {
			continue
		}

		defined := 0
		for _, value := range entity.Attributes {
			if strings.TrimSpace(value) != "" {
				defined++
			}
		}
		if defined > 0 {
			continue
		}

		entityID := entity.ID
		issue := e.mustRuleIssue(batch.ScopeID, KindCharacter, SeverityMedium,
			fmt.Sprintf("Character %q has no descriptive attributes defined", entity.Name))
		issue.PrimaryEntityID = &entityID
		issues = append(issues, issue)
	}

	return issues
}

// checkImportance flags entities whose importance falls outside 0-100.
// Boundary values 0 and 100 are accepted.
func (e *RuleEvaluator) checkImportance(batch *saga.AnalysisBatch) []Issue {
	var issues []Issue

	for _, entity := range batch.Entities {
		if entity.Importance >= 0 && entity.Importance <= 100 {
			continue
		}
		entityID := entity.ID
		issue := e.mustRuleIssue(batch.ScopeID, KindLogical, SeverityMedium,
			fmt.Sprintf("Entity %q has importance %d outside 0-100", entity.Name, entity.Importance))
		issue.PrimaryEntityID = &entityID
		issue.Context = map[string]any{"importance": entity.Importance}
		issues = append(issues, issue)
	}

	return issues
}

// checkLocations flags locations nothing else in the saga references.
func (e *RuleEvaluator) checkLocations(batch *saga.AnalysisBatch) []Issue {
	referenced := make(map[int64]bool, len(batch.Relationships)*2)
	for _, rel := range batch.Relationships {
		referenced[rel.SourceID] = true
		referenced[rel.TargetID] = true
	}
	for _, point := range batch.Timeline {
		if point.EntityID != nil {
			referenced[*point.EntityID] = true
		}
	}

	var issues []Issue
	for _, entity := range batch.Entities {
		if entity.Kind != saga.KindLocation || referenced[entity.ID] {
			continue
		}
		entityID := entity.ID
		issue := e.mustRuleIssue(batch.ScopeID, KindLocation, SeverityLow,
			fmt.Sprintf("Location %q is not referenced by any relationship or timeline point", entity.Name))
		issue.PrimaryEntityID = &entityID
		issues = append(issues, issue)
	}

	return issues
}

// checkDuplicateSlugs flags entities sharing a slug within the scope. The
// catalogue does not enforce uniqueness at write time, so collisions surface
// here instead.
func (e *RuleEvaluator) checkDuplicateSlugs(batch *saga.AnalysisBatch) []Issue {
	bySlug := make(map[string][]*saga.Entity, len(batch.Entities))
	for _, entity := range batch.Entities {
		bySlug[entity.Slug] = append(bySlug[entity.Slug], entity)
	}

	slugs := make([]string, 0, len(bySlug))
	for slugValue, entities := range bySlug {
		if len(entities) >= 2 {
			slugs = append(slugs, slugValue)
		}
	}
	sort.Strings(slugs)

	var issues []Issue
	for _, slugValue := range slugs {
		entities := bySlug[slugValue]
		// Report against the oldest holder; the rest are the collisions.
		for _, dup := range entities[1:] {
			dupID := dup.ID
			firstID := entities[0].ID
			issue := e.mustRuleIssue(batch.ScopeID, KindLogical, SeverityHigh,
				fmt.Sprintf("Entity %q duplicates slug %q already used by %q", dup.Name, slugValue, entities[0].Name))
			issue.PrimaryEntityID = &dupID
			issue.RelatedEntityID = &firstID
			issues = append(issues, issue)
		}
	}

	return issues
}

// mustRuleIssue builds a rule issue from trusted, enum-constant inputs.
// Construction can only fail on a programming error, which is logged and
// surfaced as an info-severity marker rather than panicking mid-run.
func (e *RuleEvaluator) mustRuleIssue(scopeID int64, kind IssueKind, severity Severity, description string) Issue {
	issue, err := NewRuleIssue(scopeID, kind, severity, description)
	if err != nil {
		e.logger.Error("rule issue construction failed", slog.Any("error", err))
		fallback, _ := NewRuleIssue(scopeID, KindLogical, SeverityInfo, "Internal rule produced an invalid finding")
		return fallback
	}
	return issue
}

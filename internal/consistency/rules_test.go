// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaforge/sagaforge/internal/saga"
	"github.com/sagaforge/sagaforge/pkg/pointer"
)

func testEvaluator() *RuleEvaluator {
	return NewRuleEvaluator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func allKinds() AnalyzeOptions {
	opts, _ := AnalyzeOptions{}.Normalized()
	return opts
}

func batchWithEntities(entities ...*saga.Entity) *saga.AnalysisBatch {
	known := make(map[int64]bool, len(entities))
	for _, e := range entities {
		known[e.ID] = true
	}
	return &saga.AnalysisBatch{ScopeID: 7, Entities: entities, KnownEntityIDs: known}
}

func findByKind(issues []Issue, kind IssueKind) []Issue {
	var out []Issue
	for _, issue := range issues {
		if issue.Kind == kind {
			out = append(out, issue)
		}
	}
	return out
}

func TestEvaluateCleanBatch(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira", Importance: 80,
			Attributes: map[string]string{"role": "protagonist", "status": "alive"}},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Veldt", Slug: "veldt", Importance: 40},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 1, TargetID: 2, Kind: "resides_in", Strength: 60},
	}
	batch.Timeline = []*saga.TimelinePoint{
		{ID: 20, ScopeID: 7, EntityID: pointer.To(int64(1)), Title: "Birth of Mira", Marker: "Year 412"},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	assert.Empty(t, issues)
}

func TestChronologyRangeInversion(t *testing.T) {
	batch := batchWithEntities()
	batch.Timeline = []*saga.TimelinePoint{
		{ID: 20, ScopeID: 7, Title: "The Long War", Marker: "520 AE", EndMarker: pointer.To("480 AE")},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	timeline := findByKind(issues, KindTimeline)
	require.Len(t, timeline, 1)
	assert.Equal(t, SeverityHigh, timeline[0].Severity)
}

func TestChronologyBeforeEraMarkersOrderCorrectly(t *testing.T) {
	// 1204 BE precedes 512 AE, so this range is NOT inverted.
	batch := batchWithEntities()
	batch.Timeline = []*saga.TimelinePoint{
		{ID: 20, ScopeID: 7, Title: "The Founding Age", Marker: "1204 BE", EndMarker: pointer.To("Year 512")},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	assert.Empty(t, findByKind(issues, KindTimeline))
}

func TestChronologyUnparsableMarker(t *testing.T) {
	batch := batchWithEntities()
	batch.Timeline = []*saga.TimelinePoint{
		{ID: 20, ScopeID: 7, Title: "The Sundering", Marker: "long ago"},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	timeline := findByKind(issues, KindTimeline)
	require.Len(t, timeline, 1)
	assert.Equal(t, SeverityMedium, timeline[0].Severity)
}

func TestRelationshipBrokenReference(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira"},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 1, TargetID: 999, Kind: "ally_of", Strength: 50},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	rels := findByKind(issues, KindRelationship)
	require.Len(t, rels, 1)
	assert.Equal(t, SeverityCritical, rels[0].Severity)
	require.NotNil(t, rels[0].PrimaryEntityID)
	assert.Equal(t, int64(999), *rels[0].PrimaryEntityID)
}

func TestRelationshipSelfReference(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira"},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 1, TargetID: 1, Kind: "rival_of", Strength: 50},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	rels := findByKind(issues, KindRelationship)
	require.Len(t, rels, 1)
	assert.Equal(t, SeverityCritical, rels[0].Severity)
	assert.Contains(t, rels[0].Description, "itself")
}

func TestSelfReferenceToUnknownEntityYieldsOneIssue(t *testing.T) {
	// A self reference whose entity does not exist must not also produce
	// endpoint findings for the same id.
	batch := batchWithEntities()
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 42, TargetID: 42, Kind: "rival_of"},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	require.Len(t, issues, 1)
	assert.Equal(t, KindRelationship, issues[0].Kind)
	assert.Equal(t, SeverityCritical, issues[0].Severity)
	assert.Contains(t, issues[0].Description, "itself")
}

func TestTimelineOrphanEntityReference(t *testing.T) {
	batch := batchWithEntities()
	batch.Timeline = []*saga.TimelinePoint{
		{ID: 20, ScopeID: 7, EntityID: pointer.To(int64(77)), Title: "The Coronation", Marker: "Year 300"},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	require.Len(t, issues, 1)
	assert.Equal(t, KindTimeline, issues[0].Kind)
	assert.Equal(t, SeverityCritical, issues[0].Severity)
	require.NotNil(t, issues[0].PrimaryEntityID)
	assert.Equal(t, int64(77), *issues[0].PrimaryEntityID)
}

func TestRelationshipStrengthOutOfRange(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira"},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindCharacter, Name: "Theron", Slug: "theron"},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 1, TargetID: 2, Kind: "ally_of", Strength: 140},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	rels := findByKind(issues, KindRelationship)
	require.Len(t, rels, 1)
	assert.Equal(t, SeverityMedium, rels[0].Severity)
}

func TestCharacterWithoutAttributes(t *testing.T) {
	batch := batchWithEntities(
		// Any defined attribute satisfies the rule, whatever its key.
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira", Importance: 70,
			Attributes: map[string]string{"eye_color": "grey"}},
		// No attributes at all: flagged regardless of importance.
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindCharacter, Name: "Innkeeper", Slug: "innkeeper", Importance: 0},
		// Blank values do not count as defined.
		&saga.Entity{ID: 3, ScopeID: 7, Kind: saga.KindCharacter, Name: "Stranger", Slug: "stranger", Importance: 90,
			Attributes: map[string]string{"role": "  "}},
		// Non-characters are never subject to the attribute rule.
		&saga.Entity{ID: 4, ScopeID: 7, Kind: saga.KindArtifact, Name: "The Shard", Slug: "shard", Importance: 30},
	)

	issues := testEvaluator().Evaluate(batch, allKinds())
	chars := findByKind(issues, KindCharacter)
	require.Len(t, chars, 2)
	for _, issue := range chars {
		assert.Equal(t, SeverityMedium, issue.Severity)
		assert.Contains(t, issue.Description, "no descriptive attributes")
	}
	assert.Equal(t, int64(2), *chars[0].PrimaryEntityID)
	assert.Equal(t, int64(3), *chars[1].PrimaryEntityID)
}

func TestImportanceBoundaries(t *testing.T) {
	cases := []struct {
		importance int
		flagged    bool
	}{
		{0, false},
		{100, false},
		{101, true},
		{-1, true},
	}
	for _, tc := range cases {
		entity := &saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindEvent, Name: "The Fall", Slug: "fall",
			Importance: tc.importance}

		opts, err := AnalyzeOptions{Kinds: []IssueKind{KindLogical}}.Normalized()
		require.NoError(t, err)

		issues := testEvaluator().Evaluate(batchWithEntities(entity), opts)
		if !tc.flagged {
			assert.Empty(t, issues, "importance %d", tc.importance)
			continue
		}
		require.Len(t, issues, 1, "importance %d", tc.importance)
		assert.Equal(t, KindLogical, issues[0].Kind)
		assert.Equal(t, SeverityMedium, issues[0].Severity)
	}
}

func TestLocationIsolated(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira"},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Veldt", Slug: "veldt"},
		&saga.Entity{ID: 3, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 1, TargetID: 2, Kind: "resides_in", Strength: 60},
	}

	issues := testEvaluator().Evaluate(batch, allKinds())
	locs := findByKind(issues, KindLocation)
	require.Len(t, locs, 1)
	assert.Equal(t, SeverityLow, locs[0].Severity)
	assert.Contains(t, locs[0].Description, "Harbor")
}

func TestDuplicateSlugs(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira"},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindFaction, Name: "Mira (order)", Slug: "mira"},
	)

	issues := testEvaluator().Evaluate(batch, allKinds())
	dups := findByKind(issues, KindLogical)
	require.Len(t, dups, 1)
	assert.Equal(t, SeverityHigh, dups[0].Severity)
	require.NotNil(t, dups[0].PrimaryEntityID)
	assert.Equal(t, int64(2), *dups[0].PrimaryEntityID)
}

func TestKindFilterLimitsChecks(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Veldt", Slug: "veldt"},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 5, TargetID: 5, Kind: "rival_of", Strength: 50},
	}

	opts, err := AnalyzeOptions{Kinds: []IssueKind{KindLocation}}.Normalized()
	require.NoError(t, err)

	issues := testEvaluator().Evaluate(batch, opts)
	require.Len(t, issues, 1)
	assert.Equal(t, KindLocation, issues[0].Kind)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "twin"},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira II", Slug: "twin"},
		&saga.Entity{ID: 3, ScopeID: 7, Kind: saga.KindLocation, Name: "Veldt", Slug: "veldt"},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 1, TargetID: 99, Kind: "ally_of", Strength: 50},
	}

	first := testEvaluator().Evaluate(batch, allKinds())
	for range 5 {
		again := testEvaluator().Evaluate(batch, allKinds())
		require.Len(t, again, len(first))
		for i := range first {
			assert.Equal(t, first[i].Description, again[i].Description)
		}
	}
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
	"github.com/sagaforge/sagaforge/internal/saga"
	"github.com/sagaforge/sagaforge/pkg/pagination"
)

// # Fakes

type fakeBatches struct {
	batch *saga.AnalysisBatch
}

func (f *fakeBatches) FetchAnalysisBatch(_ context.Context, scopeID int64, _, _, _ int) (*saga.AnalysisBatch, error) {
	if f.batch != nil {
		return f.batch, nil
	}
	return &saga.AnalysisBatch{ScopeID: scopeID, KnownEntityIDs: map[int64]bool{}}, nil
}

type fakeRepo struct {
	nextID int64
	issues map[int64]Issue
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, issues: make(map[int64]Issue)}
}

func (f *fakeRepo) InsertIssue(_ context.Context, issue Issue) (Issue, error) {
	issue.ID = f.nextID
	f.nextID++
	f.issues[issue.ID] = issue
	return issue, nil
}

func (f *fakeRepo) GetIssue(_ context.Context, id int64) (Issue, error) {
	issue, ok := f.issues[id]
	if !ok {
		return Issue{}, apperr.NotFound("Issue")
	}
	return issue, nil
}

func (f *fakeRepo) ListIssues(_ context.Context, scopeID int64, status *Status, p pagination.Params) ([]Issue, int, error) {
	var all []Issue
	for _, issue := range f.issues {
		if issue.ScopeID != scopeID {
			continue
		}
		if status != nil && issue.Status != *status {
			continue
		}
		all = append(all, issue)
	}
	SortIssues(all)
	return all, len(all), nil
}

func (f *fakeRepo) TransitionIssue(_ context.Context, id int64, target Status, actorID string, at time.Time) (Issue, error) {
	issue, ok := f.issues[id]
	if !ok {
		return Issue{}, apperr.NotFound("Issue")
	}
	next, err := issue.transition(target, actorID, at)
	if err != nil {
		return Issue{}, err
	}
	f.issues[id] = next
	return next, nil
}

func (f *fakeRepo) ActiveFingerprints(_ context.Context, scopeID int64) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, issue := range f.issues {
		if issue.ScopeID == scopeID && issue.Status != StatusResolved {
			out[issue.Fingerprint()] = true
		}
	}
	return out, nil
}

func (f *fakeRepo) Statistics(_ context.Context, scopeID int64) (*Statistics, error) {
	stats := &Statistics{
		ScopeID:    scopeID,
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
		ByKind:     make(map[IssueKind]int),
	}
	for _, issue := range f.issues {
		if issue.ScopeID != scopeID {
			continue
		}
		stats.Total++
		stats.ByStatus[issue.Status]++
		stats.BySeverity[issue.Severity]++
		stats.ByKind[issue.Kind]++
	}
	return stats, nil
}

type fakeClient struct {
	issues []Issue
	err    error
	calls  int
}

func (f *fakeClient) Analyze(_ context.Context, _ *saga.AnalysisBatch, _ AnalyzeOptions) ([]Issue, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.issues, "primary", nil
}

type fakeCache struct {
	results map[string]CachedResult
	budget  int
	spent   int
	down    bool
}

func newFakeCache(budget int) *fakeCache {
	return &fakeCache{results: make(map[string]CachedResult), budget: budget}
}

func (f *fakeCache) key(scopeID int64, opts AnalyzeOptions) string {
	return fmt.Sprintf("%d:%s", scopeID, opts.Fingerprint())
}

func (f *fakeCache) GetResult(_ context.Context, scopeID int64, opts AnalyzeOptions) (*CachedResult, error) {
	if f.down {
		return nil, errors.New("redis unavailable")
	}
	if result, ok := f.results[f.key(scopeID, opts)]; ok {
		return &result, nil
	}
	return nil, nil
}

func (f *fakeCache) SetResult(_ context.Context, scopeID int64, opts AnalyzeOptions, result CachedResult) error {
	if f.down {
		return errors.New("redis unavailable")
	}
	f.results[f.key(scopeID, opts)] = result
	return nil
}

func (f *fakeCache) ConsumeBudget(_ context.Context, _ string) (int, error) {
	if f.down {
		return 0, errors.New("redis unavailable")
	}
	f.spent++
	if f.spent > f.budget {
		return 0, apperr.RateLimited(3600)
	}
	return f.budget - f.spent, nil
}

// # Harness

type harness struct {
	service *Service
	repo    *fakeRepo
	client  *fakeClient
	cache   *fakeCache
}

func newHarness(batch *saga.AnalysisBatch, aiIssues []Issue, budget int) *harness {
	repo := newFakeRepo()
	client := &fakeClient{issues: aiIssues}
	cache := newFakeCache(budget)
	service := NewService(&fakeBatches{batch: batch}, repo, testEvaluator(), client, cache, true, discardLogger())
	return &harness{service: service, repo: repo, client: client, cache: cache}
}

func mustAIIssue(t *testing.T, scopeID int64, kind IssueKind, description string, confidence float64) Issue {
	t.Helper()
	issue, err := NewAIIssue(scopeID, kind, SeverityMedium, description, confidence)
	require.NoError(t, err)
	return issue
}

// # Tests

func TestAnalyzeRuleOnlyRun(t *testing.T) {
	batch := batchWithEntities(
		// Attribute-less at default importance: still a character finding.
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira"},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, nil, 10)

	report, err := h.service.Analyze(context.Background(), 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)

	// The undescribed character plus the isolated location.
	assert.Equal(t, 2, report.RuleFindings)
	assert.Equal(t, 2, report.NewIssues)
	assert.False(t, report.AIUsed)
	assert.Equal(t, "not_requested", report.AISkipReason)
	assert.Equal(t, 0, h.client.calls)

	// Severity ordering: the character finding (medium) outranks the
	// isolated location (low).
	require.Len(t, report.Issues, 2)
	assert.Equal(t, KindCharacter, report.Issues[0].Kind)
	assert.Equal(t, KindLocation, report.Issues[1].Kind)
}

func TestAnalyzeCachesAIResult(t *testing.T) {
	aiIssue := mustAIIssue(t, 7, KindLogical, "Mira's eye color changes between arcs", 0.7)
	h := newHarness(nil, []Issue{aiIssue}, 10)

	opts := AnalyzeOptions{UseAI: true}

	first, err := h.service.Analyze(context.Background(), 7, "curator-1", opts)
	require.NoError(t, err)
	assert.True(t, first.AIUsed)
	assert.False(t, first.AICached)
	assert.Equal(t, "primary", first.AIProvider)

	second, err := h.service.Analyze(context.Background(), 7, "curator-1", opts)
	require.NoError(t, err)
	assert.True(t, second.AIUsed)
	assert.True(t, second.AICached)
	assert.Equal(t, "primary", second.AIProvider)

	// The provider answered the question exactly once.
	assert.Equal(t, 1, h.client.calls)
	assert.Equal(t, 1, h.cache.spent)

	// The second run found the same condition, already on file.
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 0, second.NewIssues)
}

func TestAnalyzeBudgetExhaustedDegrades(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, []Issue{mustAIIssue(t, 7, KindLogical, "finding", 0.7)}, 2)
	ctx := context.Background()

	// Each run uses different limits so no run hits the cache.
	for i := 1; i <= 2; i++ {
		report, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{UseAI: true, EntityLimit: i})
		require.NoError(t, err)
		assert.True(t, report.AIUsed)
	}

	// The third run exceeds the budget: rule findings still come back,
	// with a skip reason distinguishing "no budget" from "nothing found".
	report, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{UseAI: true, EntityLimit: 3})
	require.NoError(t, err)
	assert.False(t, report.AIUsed)
	assert.Equal(t, "rate_limited", report.AISkipReason)
	assert.Equal(t, 1, report.RuleFindings)

	// The limited run consumed no provider call.
	assert.Equal(t, 2, h.client.calls)
}

func TestAnalyzeDegradesWhenProvidersFail(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, nil, 10)
	h.client.err = ErrAllProvidersFailed

	report, err := h.service.Analyze(context.Background(), 7, "curator-1", AnalyzeOptions{UseAI: true})
	require.NoError(t, err)

	assert.False(t, report.AIUsed)
	assert.Equal(t, "providers_unavailable", report.AISkipReason)
	// Rule findings still made it through.
	assert.Equal(t, 1, report.RuleFindings)
	assert.Equal(t, 1, report.NewIssues)
}

func TestAnalyzeDegradesWhenCacheDown(t *testing.T) {
	h := newHarness(nil, []Issue{mustAIIssue(t, 7, KindLogical, "finding", 0.7)}, 10)
	h.cache.down = true

	report, err := h.service.Analyze(context.Background(), 7, "curator-1", AnalyzeOptions{UseAI: true})
	require.NoError(t, err)

	assert.False(t, report.AIUsed)
	assert.Equal(t, "cache_unavailable", report.AISkipReason)
	assert.Equal(t, 0, h.client.calls)
}

func TestAnalyzeAIDisabled(t *testing.T) {
	repo := newFakeRepo()
	service := NewService(&fakeBatches{}, repo, testEvaluator(), nil, newFakeCache(10), false, discardLogger())

	report, err := service.Analyze(context.Background(), 7, "curator-1", AnalyzeOptions{UseAI: true})
	require.NoError(t, err)
	assert.Equal(t, "ai_disabled", report.AISkipReason)
}

func TestAnalyzeFiltersAIFindingsByKind(t *testing.T) {
	aiIssues := []Issue{
		mustAIIssue(t, 7, KindTimeline, "Battle happens before the city is founded", 0.8),
		mustAIIssue(t, 7, KindCharacter, "Mira acts against her established oath", 0.6),
	}
	h := newHarness(nil, aiIssues, 10)

	report, err := h.service.Analyze(context.Background(), 7, "curator-1",
		AnalyzeOptions{UseAI: true, Kinds: []IssueKind{KindTimeline}})
	require.NoError(t, err)

	require.Len(t, report.Issues, 1)
	assert.Equal(t, KindTimeline, report.Issues[0].Kind)
}

func TestResolveIssueLifecycle(t *testing.T) {
	batch := batchWithEntities()
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 3, TargetID: 3, Kind: "rival_of", Strength: 50},
	}
	h := newHarness(batch, nil, 10)
	ctx := context.Background()

	report, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, report.Issues)
	id := report.Issues[0].ID

	resolved, err := h.service.ResolveIssue(ctx, id, "curator-2")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "curator-2", *resolved.ResolvedBy)

	// Second resolve conflicts: terminal states are final.
	_, err = h.service.ResolveIssue(ctx, id, "curator-2")
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, 409, appErr.HTTPStatus)
}

func TestDismissedIssueSuppressesRedetection(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, nil, 10)
	ctx := context.Background()

	first, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, first.NewIssues)

	_, err = h.service.DismissIssue(ctx, first.Issues[0].ID, "curator-1", false)
	require.NoError(t, err)

	// The dismissed finding stays suppressed on the next run.
	second, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewIssues)
	assert.Equal(t, 1, second.Duplicates)
}

func TestResolvedIssueDoesNotSuppressRedetection(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, nil, 10)
	ctx := context.Background()

	first, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, first.NewIssues)

	_, err = h.service.ResolveIssue(ctx, first.Issues[0].ID, "curator-1")
	require.NoError(t, err)

	// The condition is still present in the batch, so a fresh open issue
	// appears: resolution claimed a fix that did not happen.
	second, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.NewIssues)
}

func TestDismissAsFalsePositive(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, nil, 10)
	ctx := context.Background()

	report, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)

	dismissed, err := h.service.DismissIssue(ctx, report.Issues[0].ID, "curator-1", true)
	require.NoError(t, err)
	assert.Equal(t, StatusFalsePositive, dismissed.Status)
}

func TestGetStatistics(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira", Importance: 70},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, nil, 10)
	ctx := context.Background()

	_, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)

	stats, err := h.service.GetStatistics(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[StatusOpen])
	assert.Equal(t, 1, stats.BySeverity[SeverityMedium])
	assert.Equal(t, 1, stats.BySeverity[SeverityLow])

	// Transitions invalidate the memoized aggregate.
	issues, _, err := h.service.ListIssues(ctx, 7, nil, pagination.Params{Page: 1, Limit: 20})
	require.NoError(t, err)
	_, err = h.service.ResolveIssue(ctx, issues[0].ID, "curator-1")
	require.NoError(t, err)

	stats, err = h.service.GetStatistics(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[StatusOpen])
	assert.Equal(t, 1, stats.ByStatus[StatusResolved])
}

func TestListIssuesRejectsUnknownStatus(t *testing.T) {
	h := newHarness(nil, nil, 10)

	bad := Status("archived")
	_, _, err := h.service.ListIssues(context.Background(), 7, &bad, pagination.Params{Page: 1, Limit: 20})
	require.Error(t, err)
}

func TestAnalyzeMergePrefersRuleOverAIDuplicate(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	// An AI finding with a distinct fingerprint still coexists.
	aiIssue := mustAIIssue(t, 7, KindLogical, "Harbor is described as both coastal and landlocked", 0.9)
	h := newHarness(batch, []Issue{aiIssue}, 10)

	report, err := h.service.Analyze(context.Background(), 7, "curator-1", AnalyzeOptions{UseAI: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.RuleFindings)
	assert.Equal(t, 1, report.AIFindings)
	assert.Equal(t, 2, report.NewIssues)

	origins := map[Origin]int{}
	for _, issue := range report.Issues {
		origins[issue.Origin]++
	}
	assert.Equal(t, 1, origins[OriginRule])
	assert.Equal(t, 1, origins[OriginAI])
}

func TestAnalyzeRejectsInvalidScope(t *testing.T) {
	h := newHarness(nil, nil, 10)
	_, err := h.service.Analyze(context.Background(), 0, "curator-1", AnalyzeOptions{})
	require.Error(t, err)
}

func TestAnalyzeScenarioOrdering(t *testing.T) {
	// A saga with one major character missing attributes, one isolated
	// location, and a relationship pointing at a deleted entity. The
	// orphaned reference (critical) leads, then the character (medium),
	// then the location (low).
	batch := batchWithEntities(
		&saga.Entity{ID: 1, ScopeID: 7, Kind: saga.KindCharacter, Name: "Mira", Slug: "mira", Importance: 90},
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	batch.Relationships = []*saga.Relationship{
		{ID: 10, ScopeID: 7, SourceID: 1, TargetID: 404, Kind: "ally_of", Strength: 50},
	}
	h := newHarness(batch, nil, 10)

	report, err := h.service.Analyze(context.Background(), 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)

	require.Len(t, report.Issues, 3)
	assert.Equal(t, SeverityCritical, report.Issues[0].Severity)
	assert.Equal(t, KindCharacter, report.Issues[1].Kind)
	assert.Equal(t, KindLocation, report.Issues[2].Kind)
}

func TestSuppressedDuplicatesKeepStoredIssueOut(t *testing.T) {
	batch := batchWithEntities(
		&saga.Entity{ID: 2, ScopeID: 7, Kind: saga.KindLocation, Name: "Harbor", Slug: "harbor"},
	)
	h := newHarness(batch, nil, 10)
	ctx := context.Background()

	_, err := h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)
	_, err = h.service.Analyze(ctx, 7, "curator-1", AnalyzeOptions{})
	require.NoError(t, err)

	// Two runs, one stored issue.
	_, total, err := h.service.ListIssues(ctx, 7, nil, pagination.Params{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
	"github.com/sagaforge/sagaforge/internal/platform/constants"
	"github.com/sagaforge/sagaforge/internal/saga"
	"github.com/sagaforge/sagaforge/pkg/pagination"
)

// BatchFetcher supplies the bounded scope snapshot a run works on. The
// saga catalogue's repository satisfies it.
type BatchFetcher interface {
	FetchAnalysisBatch(ctx context.Context, scopeID int64, entityLimit, relationshipLimit, timelineLimit int) (*saga.AnalysisBatch, error)
}

// AnalysisClient is the external AI analysis dependency.
type AnalysisClient interface {
	Analyze(ctx context.Context, batch *saga.AnalysisBatch, opts AnalyzeOptions) ([]Issue, string, error)
}

// ResultCache is the Redis-backed cache and budget dependency.
type ResultCache interface {
	GetResult(ctx context.Context, scopeID int64, opts AnalyzeOptions) (*CachedResult, error)
	SetResult(ctx context.Context, scopeID int64, opts AnalyzeOptions, result CachedResult) error
	ConsumeBudget(ctx context.Context, actorID string) (int, error)
}

// Reasons a run proceeded without AI findings, reported verbatim to the
// caller so a degraded run is distinguishable from a clean one.
const (
	skipNotRequested    = "not_requested"
	skipDisabled        = "ai_disabled"
	skipCacheDown       = "cache_unavailable"
	skipProvidersFailed = "providers_unavailable"
	skipRateLimited     = "rate_limited"
)

// AnalysisReport is the outcome of one orchestrated run.
type AnalysisReport struct {
	ScopeID int64 `json:"scope_id"`

	// Issues holds the findings persisted by this run in display order:
	// severity first, then detection time. Re-detections suppressed by
	// deduplication are counted in Duplicates but not listed.
	Issues []Issue `json:"issues"`

	RuleFindings int `json:"rule_findings"`
	AIFindings   int `json:"ai_findings"`

	// NewIssues counts findings persisted by this run; Duplicates counts
	// re-detections suppressed by fingerprint.
	NewIssues  int `json:"new_issues"`
	Duplicates int `json:"duplicates"`

	// AIUsed reports whether AI findings contributed. When false,
	// AISkipReason says why. AICached marks a served-from-cache result.
	AIUsed       bool   `json:"ai_used"`
	AIProvider   string `json:"ai_provider,omitempty"`
	AICached     bool   `json:"ai_cached"`
	AISkipReason string `json:"ai_skip_reason,omitempty"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Service is the consistency analysis orchestrator. It owns the full run:
// fetch the batch, run the rule battery, add AI findings when allowed,
// merge, deduplicate, persist, and serve the issue lifecycle.
type Service struct {
	batches   BatchFetcher
	repo      Repository
	evaluator *RuleEvaluator
	client    AnalysisClient
	cache     ResultCache
	aiEnabled bool

	// statsMemo keeps hot statistics reads off Postgres between writes.
	statsMemo *gocache.Cache
	logger    *slog.Logger
}

// NewService wires the orchestrator. The client may be nil when AI analysis
// is disabled by configuration.
func NewService(batches BatchFetcher, repo Repository, evaluator *RuleEvaluator, client AnalysisClient, cache ResultCache, aiEnabled bool, logger *slog.Logger) *Service {
	return &Service{
		batches:   batches,
		repo:      repo,
		evaluator: evaluator,
		client:    client,
		cache:     cache,
		aiEnabled: aiEnabled && client != nil,
		statsMemo: gocache.New(constants.StatsCacheTTL, 2*constants.StatsCacheTTL),
		logger:    logger.With(slog.String("component", "consistency_service")),
	}
}

// # Analysis

/*
Analyze runs one full consistency analysis over a scope.

Description: The rule battery always runs. AI analysis is additive: it
requires the caller to ask for it, configuration to allow it, budget to
remain, and a provider to answer — failing any of those degrades the run to
rule-only results rather than failing it. An exhausted budget is still
actionable: the report carries the "rate_limited" skip reason so callers
can tell "no budget" from "nothing found" without losing the rule findings.

Parameters:
  - ctx: request context.
  - scopeID: the saga scope to analyze.
  - actorID: authenticated actor, charged for AI usage.
  - opts: run options (kind filter, batch bounds, AI opt-in).

Returns:
  - *AnalysisReport: ordered findings plus run metadata.
  - error: validation or persistence failure.
*/
func (service *Service) Analyze(ctx context.Context, scopeID int64, actorID string, opts AnalyzeOptions) (*AnalysisReport, error) {
	if scopeID <= 0 {
		return nil, apperr.ValidationError("Scope id must be positive")
	}

	normalized, err := opts.Normalized()
	if err != nil {
		return nil, err
	}

	batch, err := service.batches.FetchAnalysisBatch(ctx, scopeID, normalized.EntityLimit, normalized.RelationshipLimit, normalized.TimelineLimit)
	if err != nil {
		return nil, err
	}

	report := &AnalysisReport{
		ScopeID:      scopeID,
		AnalyzedAt:   time.Now().UTC(),
		AISkipReason: skipNotRequested,
	}

	ruleIssues := service.evaluator.Evaluate(batch, normalized)
	report.RuleFindings = len(ruleIssues)

	aiIssues := service.runAI(ctx, batch, actorID, normalized, report)
	if report.AIUsed {
		report.AISkipReason = ""
	}

	merged := service.merge(ruleIssues, aiIssues, normalized)
	if err := service.persist(ctx, scopeID, merged, report); err != nil {
		return nil, err
	}

	SortIssues(report.Issues)
	service.statsMemo.Delete(statsKey(scopeID))

	service.logger.Info("analysis complete",
		slog.Int64("scope_id", scopeID),
		slog.Int("rule_findings", report.RuleFindings),
		slog.Int("ai_findings", report.AIFindings),
		slog.Int("new_issues", report.NewIssues),
		slog.Int("duplicates", report.Duplicates),
		slog.Bool("ai_used", report.AIUsed),
		slog.Bool("ai_cached", report.AICached))

	return report, nil
}

// runAI produces the AI finding set for a run. Every AI-path failure
// (disabled, cache down, budget exhausted, providers down) returns no
// findings and sets a skip reason on the report; the run itself never fails
// on the AI side.
func (service *Service) runAI(ctx context.Context, batch *saga.AnalysisBatch, actorID string, opts AnalyzeOptions, report *AnalysisReport) []Issue {
	if !opts.UseAI {
		report.AISkipReason = skipNotRequested
		return nil
	}
	if !service.aiEnabled {
		report.AISkipReason = skipDisabled
		return nil
	}

	// A cache hit serves the stored result without touching the budget:
	// the cached call was already paid for.
	cached, err := service.cache.GetResult(ctx, batch.ScopeID, opts)
	if err != nil {
		service.logger.Warn("analysis cache unavailable, degrading to rule-only",
			slog.Int64("scope_id", batch.ScopeID), slog.Any("error", err))
		report.AISkipReason = skipCacheDown
		return nil
	}
	if cached != nil {
		report.AIUsed = true
		report.AICached = true
		report.AIProvider = cached.Provider
		report.AIFindings = len(cached.Issues)
		return cached.Issues
	}

	remaining, err := service.cache.ConsumeBudget(ctx, actorID)
	if err != nil {
		if apperr.IsRateLimited(err) {
			// The actor spent the window's budget. Rule findings still go
			// through; the skip reason tells the caller when to retry AI.
			service.logger.Info("ai budget exhausted, degrading to rule-only",
				slog.String("actor_id", actorID))
			report.AISkipReason = skipRateLimited
			return nil
		}
		service.logger.Warn("budget check unavailable, degrading to rule-only",
			slog.String("actor_id", actorID), slog.Any("error", err))
		report.AISkipReason = skipCacheDown
		return nil
	}

	issues, providerName, err := service.client.Analyze(ctx, batch, opts)
	if err != nil {
		// Both providers down: the run still succeeds on rules alone.
		service.logger.Warn("ai analysis unavailable, degrading to rule-only",
			slog.Int64("scope_id", batch.ScopeID), slog.Any("error", err))
		report.AISkipReason = skipProvidersFailed
		return nil
	}

	report.AIUsed = true
	report.AIProvider = providerName
	report.AIFindings = len(issues)

	if err := service.cache.SetResult(ctx, batch.ScopeID, opts, CachedResult{Issues: issues, Provider: providerName}); err != nil {
		service.logger.Warn("caching analysis result failed",
			slog.Int64("scope_id", batch.ScopeID), slog.Any("error", err))
	}

	service.logger.Debug("ai analysis complete",
		slog.Int64("scope_id", batch.ScopeID),
		slog.String("provider", providerName),
		slog.Int("budget_remaining", remaining))

	return issues
}

// merge combines rule and AI findings. AI findings outside the requested
// kind filter are discarded (providers do not always honor the filter), and
// an AI finding duplicating a rule finding's fingerprint yields to the rule.
func (service *Service) merge(ruleIssues, aiIssues []Issue, opts AnalyzeOptions) []Issue {
	merged := make([]Issue, 0, len(ruleIssues)+len(aiIssues))
	seen := make(map[string]bool, len(ruleIssues))

	for _, issue := range ruleIssues {
		seen[issue.Fingerprint()] = true
		merged = append(merged, issue)
	}
	for _, issue := range aiIssues {
		if !opts.WantsKind(issue.Kind) {
			continue
		}
		if fp := issue.Fingerprint(); !seen[fp] {
			seen[fp] = true
			merged = append(merged, issue)
		}
	}

	return merged
}

// persist stores the run's findings, suppressing re-detections of issues
// that are still open or were dismissed. Resolved issues do NOT suppress:
// if a resolved condition comes back, it deserves a fresh open issue.
func (service *Service) persist(ctx context.Context, scopeID int64, merged []Issue, report *AnalysisReport) error {
	active, err := service.repo.ActiveFingerprints(ctx, scopeID)
	if err != nil {
		return err
	}

	report.Issues = make([]Issue, 0, len(merged))
	for _, issue := range merged {
		if active[issue.Fingerprint()] {
			report.Duplicates++
			continue
		}

		stored, err := service.repo.InsertIssue(ctx, issue)
		if err != nil {
			return fmt.Errorf("persisting finding: %w", err)
		}
		report.Issues = append(report.Issues, stored)
		report.NewIssues++
	}

	return nil
}

// # Issue Lifecycle

/*
ResolveIssue moves an open issue into the resolved state.

Parameters:
  - ctx: request context.
  - id: issue id.
  - actorID: the actor performing the resolution.

Returns:
  - Issue: the new issue value.
  - error: not-found, or conflict when the issue is already closed.
*/
func (service *Service) ResolveIssue(ctx context.Context, id int64, actorID string) (Issue, error) {
	return service.transition(ctx, id, StatusResolved, actorID)
}

// DismissIssue moves an open issue into the dismissed state, or into
// false_positive when flagged.
func (service *Service) DismissIssue(ctx context.Context, id int64, actorID string, falsePositive bool) (Issue, error) {
	target := StatusDismissed
	if falsePositive {
		target = StatusFalsePositive
	}
	return service.transition(ctx, id, target, actorID)
}

func (service *Service) transition(ctx context.Context, id int64, target Status, actorID string) (Issue, error) {
	if id <= 0 {
		return Issue{}, apperr.ValidationError("Issue id must be positive")
	}
	if actorID == "" {
		return Issue{}, apperr.Unauthorized("A transition requires an authenticated actor")
	}

	issue, err := service.repo.TransitionIssue(ctx, id, target, actorID, time.Now().UTC())
	if err != nil {
		return Issue{}, err
	}

	service.statsMemo.Delete(statsKey(issue.ScopeID))

	service.logger.Info("issue transitioned",
		slog.Int64("issue_id", id),
		slog.String("status", string(target)),
		slog.String("actor_id", actorID))

	return issue, nil
}

// # Reads

// GetIssue fetches one issue by id.
func (service *Service) GetIssue(ctx context.Context, id int64) (Issue, error) {
	return service.repo.GetIssue(ctx, id)
}

// ListIssues returns a page of a scope's issues, optionally filtered by
// status. Ordering is severity first, then detection time.
func (service *Service) ListIssues(ctx context.Context, scopeID int64, status *Status, p pagination.Params) ([]Issue, int, error) {
	if status != nil && !status.IsValid() {
		return nil, 0, apperr.ValidationError(fmt.Sprintf("Unknown status %q", *status))
	}
	return service.repo.ListIssues(ctx, scopeID, status, p)
}

// GetStatistics aggregates a scope's issue counts. Results are memoized
// briefly and invalidated on any write through this service.
func (service *Service) GetStatistics(ctx context.Context, scopeID int64) (*Statistics, error) {
	key := statsKey(scopeID)
	if cached, ok := service.statsMemo.Get(key); ok {
		return cached.(*Statistics), nil
	}

	stats, err := service.repo.Statistics(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	service.statsMemo.Set(key, stats, gocache.DefaultExpiration)
	return stats, nil
}

func statsKey(scopeID int64) string {
	return fmt.Sprintf("stats:%d", scopeID)
}

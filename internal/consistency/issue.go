// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

/*
Package consistency detects contradictions inside a saga's universe.

It combines two finding sources into one ordered, persisted issue set:

  - Rule Evaluator: a fixed battery of deterministic checks over bounded,
    pre-fetched batches (timeline ordering, orphaned references, missing
    attributes, relationship validity, duplicate identifiers).
  - External Analysis Client: a structured prompt sent to a primary AI
    provider with exactly one fallback to a secondary provider, parsed into
    typed findings under the same construction invariants.

AI analysis is a best-effort addition, never a hard dependency: rate limits
and provider failures degrade the run to rule-only results.

# Issue Lifecycle

Issues start open and move one-way into a terminal state (resolved,
dismissed, or false_positive). There is no re-open transition. An [Issue]
value is immutable — resolve/dismiss return a new value rather than
mutating in place, so a caller holding a prior reference never observes a
change underneath it.
*/
package consistency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
)

// # Closed Enums

// IssueKind classifies what aspect of the saga an issue concerns.
type IssueKind string

const (
	KindTimeline     IssueKind = "timeline"
	KindCharacter    IssueKind = "character"
	KindLocation     IssueKind = "location"
	KindRelationship IssueKind = "relationship"
	KindLogical      IssueKind = "logical"
)

// IssueKinds lists every valid issue kind, in canonical order.
func IssueKinds() []IssueKind {
	return []IssueKind{KindTimeline, KindCharacter, KindLocation, KindRelationship, KindLogical}
}

// IsValid reports whether the kind belongs to the closed enum.
func (k IssueKind) IsValid() bool {
	switch k {
	case KindTimeline, KindCharacter, KindLocation, KindRelationship, KindLogical:
		return true
	}
	return false
}

// Severity grades how serious an issue is. The enum is ordered: critical
// sorts first, info last.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// IsValid reports whether the severity belongs to the closed enum.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank maps a severity to its sort position (critical = 0 … info = 4).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// Status tracks the lifecycle of an issue.
type Status string

const (
	StatusOpen          Status = "open"
	StatusResolved      Status = "resolved"
	StatusDismissed     Status = "dismissed"
	StatusFalsePositive Status = "false_positive"
)

// IsValid reports whether the status belongs to the closed enum.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusResolved, StatusDismissed, StatusFalsePositive:
		return true
	}
	return false
}

// IsTerminal reports whether the status allows no further transition.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDismissed || s == StatusFalsePositive
}

// Origin tags where a finding came from.
type Origin string

const (
	OriginRule Origin = "rule"
	OriginAI   Origin = "ai"
)

// IsValid reports whether the origin belongs to the closed enum.
func (o Origin) IsValid() bool {
	return o == OriginRule || o == OriginAI
}

// # Issue

// Issue is a single detected inconsistency within a scope.
//
// Entity references are soft: neither PrimaryEntityID nor RelatedEntityID
// is guaranteed to resolve to an existing entity at read time.
type Issue struct {
	ID       int64     `json:"id"`
	ScopeID  int64     `json:"scope_id"`
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`

	PrimaryEntityID *int64 `json:"primary_entity_id"`
	RelatedEntityID *int64 `json:"related_entity_id"`

	// Description explains the issue. Never empty.
	Description string `json:"description"`

	// Suggestion optionally proposes a remediation.
	Suggestion *string `json:"suggestion"`

	Origin Origin `json:"origin"`

	// Confidence is mandatory for AI-origin issues (0.0–1.0) and absent
	// for rule-origin issues.
	Confidence *float64 `json:"confidence,omitempty"`

	Status Status `json:"status"`

	// Resolution metadata, present only when Status is terminal.
	ResolvedBy *string    `json:"resolved_by"`
	ResolvedAt *time.Time `json:"resolved_at"`

	// Context is an opaque payload of snapshots used to produce the
	// finding. It is persisted verbatim and never interpreted further.
	Context map[string]any `json:"context,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

// # Construction

// NewRuleIssue constructs an open rule-origin issue.
//
// Validation happens here and only here — a partially-formed issue is never
// observable. Rule issues carry no confidence score.
func NewRuleIssue(scopeID int64, kind IssueKind, severity Severity, description string) (Issue, error) {
	if err := validateCore(scopeID, kind, severity, description); err != nil {
		return Issue{}, err
	}

	return Issue{
		ScopeID:     scopeID,
		Kind:        kind,
		Severity:    severity,
		Description: description,
		Origin:      OriginRule,
		Status:      StatusOpen,
		DetectedAt:  time.Now().UTC(),
	}, nil
}

// NewAIIssue constructs an open AI-origin issue.
//
// Confidence is mandatory and must lie in [0.0, 1.0] inclusive; construction
// fails otherwise.
func NewAIIssue(scopeID int64, kind IssueKind, severity Severity, description string, confidence float64) (Issue, error) {
	if err := validateCore(scopeID, kind, severity, description); err != nil {
		return Issue{}, err
	}

	if confidence < 0.0 || confidence > 1.0 {
		return Issue{}, apperr.Unprocessable(fmt.Sprintf("Confidence %.3f outside [0.0, 1.0]", confidence))
	}

	return Issue{
		ScopeID:     scopeID,
		Kind:        kind,
		Severity:    severity,
		Description: description,
		Origin:      OriginAI,
		Confidence:  &confidence,
		Status:      StatusOpen,
		DetectedAt:  time.Now().UTC(),
	}, nil
}

// validateCore enforces the construction invariants shared by both origins.
func validateCore(scopeID int64, kind IssueKind, severity Severity, description string) error {
	if scopeID <= 0 {
		return apperr.Unprocessable("Issue requires a positive scope id")
	}
	if !kind.IsValid() {
		return apperr.Unprocessable(fmt.Sprintf("Unknown issue kind %q", kind))
	}
	if !severity.IsValid() {
		return apperr.Unprocessable(fmt.Sprintf("Unknown severity %q", severity))
	}
	if strings.TrimSpace(description) == "" {
		return apperr.Unprocessable("Issue description must not be empty")
	}
	return nil
}

// # State Transitions

// Resolved returns a copy of the issue moved into the resolved state.
//
// The receiver is unchanged. Fails with a conflict if the issue is not open.
func (issue Issue) Resolved(actorID string, at time.Time) (Issue, error) {
	return issue.transition(StatusResolved, actorID, at)
}

// Dismissed returns a copy of the issue moved into the dismissed state, or
// into false_positive when flagged — a dismiss variant tracked explicitly
// for learning/analytics purposes.
func (issue Issue) Dismissed(actorID string, at time.Time, falsePositive bool) (Issue, error) {
	target := StatusDismissed
	if falsePositive {
		target = StatusFalsePositive
	}
	return issue.transition(target, actorID, at)
}

// transition applies the one-way open → terminal move.
func (issue Issue) transition(target Status, actorID string, at time.Time) (Issue, error) {
	if issue.Status != StatusOpen {
		return Issue{}, apperr.Conflict("Issue is already closed")
	}
	if strings.TrimSpace(actorID) == "" {
		return Issue{}, apperr.Unprocessable("A transition requires an actor id")
	}

	next := issue
	next.Status = target
	next.ResolvedBy = &actorID
	resolvedAt := at.UTC()
	next.ResolvedAt = &resolvedAt

	return next, nil
}

// # Identity & Ordering

// Fingerprint identifies the underlying condition an issue reports,
// independent of when it was detected. Re-detections of the same condition
// produce the same fingerprint, which drives deduplication against open and
// dismissed issues.
func (issue Issue) Fingerprint() string {
	var primary, related int64
	if issue.PrimaryEntityID != nil {
		primary = *issue.PrimaryEntityID
	}
	if issue.RelatedEntityID != nil {
		related = *issue.RelatedEntityID
	}

	seed := fmt.Sprintf("%d|%s|%s|%d|%d|%s", issue.ScopeID, issue.Kind, issue.Origin, primary, related, issue.Description)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:16])
}

// SortIssues orders issues by severity (critical first), then detection
// time, then id. The sort is stable so equal elements keep their relative
// detection order.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity.Rank() != issues[j].Severity.Rank() {
			return issues[i].Severity.Rank() < issues[j].Severity.Rank()
		}
		if !issues[i].DetectedAt.Equal(issues[j].DetectedAt) {
			return issues[i].DetectedAt.Before(issues[j].DetectedAt)
		}
		return issues[i].ID < issues[j].ID
	})
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sagaforge/sagaforge/internal/saga"
)

// Provider is one external analysis backend. Implementations send an
// already-built prompt and return the raw model text; parsing and
// validation happen in the Client so every backend is held to the same
// output contract.
type Provider interface {
	// Name identifies the provider in logs. Never exposed to API callers.
	Name() string

	// Analyze sends the prompt and returns the raw completion text.
	Analyze(ctx context.Context, prompt string) (string, error)
}

const systemPrompt = `You are a continuity editor for serialized fiction. You receive a structured snapshot of a story universe: entities, relationships between them, and timeline points. Identify contradictions a careful reader would notice: impossible chronology, characters acting against established facts, conflicting relationship claims, and logical inconsistencies.

Respond with a single JSON object and nothing else, in this exact shape:
{"findings": [{"kind": "timeline|character|location|relationship|logical", "severity": "critical|high|medium|low|info", "description": "...", "suggestion": "...", "primary_entity_id": 0, "related_entity_id": 0, "confidence": 0.0}]}

Rules: confidence is mandatory, between 0.0 and 1.0. Omit entity ids you cannot attribute (use null). Report only contradictions present in the snapshot; do not invent facts. An empty findings array is a valid answer.`

// promptEntity is the trimmed entity view sent to the model. Internal
// timestamps and slugs stay out of the prompt.
type promptEntity struct {
	ID         int64             `json:"id"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	Importance int               `json:"importance"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Summary    *string           `json:"summary,omitempty"`
}

type promptRelationship struct {
	SourceID    int64   `json:"source_id"`
	TargetID    int64   `json:"target_id"`
	Kind        string  `json:"kind"`
	Strength    int     `json:"strength"`
	StartMarker *string `json:"start_marker,omitempty"`
	EndMarker   *string `json:"end_marker,omitempty"`
}

type promptTimelinePoint struct {
	EntityID  *int64  `json:"entity_id,omitempty"`
	Title     string  `json:"title"`
	Marker    string  `json:"marker"`
	EndMarker *string `json:"end_marker,omitempty"`
}

/*
BuildPrompt renders the analysis batch into the user prompt sent to a
provider. The same batch and options always render the same prompt, so the
prompt is a stable cache input.

Parameters:
  - batch: the bounded snapshot to analyze.
  - opts: normalized run options; a kind filter is passed on to the model.

Returns:
  - string: the user prompt.
  - error: snapshot serialization failure.
*/
func BuildPrompt(batch *saga.AnalysisBatch, opts AnalyzeOptions) (string, error) {
	entities := make([]promptEntity, 0, len(batch.Entities))
	for _, e := range batch.Entities {
		entities = append(entities, promptEntity{
			ID: e.ID, Kind: string(e.Kind), Name: e.Name,
			Importance: e.Importance, Attributes: e.Attributes, Summary: e.Summary,
		})
	}

	relationships := make([]promptRelationship, 0, len(batch.Relationships))
	for _, r := range batch.Relationships {
		relationships = append(relationships, promptRelationship{
			SourceID: r.SourceID, TargetID: r.TargetID, Kind: r.Kind,
			Strength: r.Strength, StartMarker: r.StartMarker, EndMarker: r.EndMarker,
		})
	}

	timeline := make([]promptTimelinePoint, 0, len(batch.Timeline))
	for _, p := range batch.Timeline {
		timeline = append(timeline, promptTimelinePoint{
			EntityID: p.EntityID, Title: p.Title, Marker: p.Marker, EndMarker: p.EndMarker,
		})
	}

	snapshot, err := json.Marshal(map[string]any{
		"entities":      entities,
		"relationships": relationships,
		"timeline":      timeline,
	})
	if err != nil {
		return "", fmt.Errorf("serializing analysis snapshot: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyze the following story universe snapshot for contradictions.\n")
	if len(opts.Kinds) > 0 {
		kinds := make([]string, 0, len(opts.Kinds))
		for _, k := range opts.Kinds {
			kinds = append(kinds, string(k))
		}
		fmt.Fprintf(&b, "Only report findings of these kinds: %s.\n", strings.Join(kinds, ", "))
	}
	b.WriteString("Snapshot:\n")
	b.Write(snapshot)

	return b.String(), nil
}

// rawFinding mirrors the JSON shape providers are instructed to return.
type rawFinding struct {
	Kind            string   `json:"kind"`
	Severity        string   `json:"severity"`
	Description     string   `json:"description"`
	Suggestion      string   `json:"suggestion"`
	PrimaryEntityID *int64   `json:"primary_entity_id"`
	RelatedEntityID *int64   `json:"related_entity_id"`
	Confidence      *float64 `json:"confidence"`
}

type findingsEnvelope struct {
	Findings []rawFinding `json:"findings"`
}

// ParseFindings decodes raw provider output into validated AI issues.
// Findings that fail construction (bad enum, missing confidence, empty
// description) are dropped individually; the slice of dropped counts lets
// the caller log without failing the run. Unparsable output as a whole is
// an error.
func ParseFindings(scopeID int64, raw string) ([]Issue, int, error) {
	cleaned := stripCodeFence(raw)

	var envelope findingsEnvelope
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return nil, 0, fmt.Errorf("decoding provider output: %w", err)
	}

	issues := make([]Issue, 0, len(envelope.Findings))
	dropped := 0
	for _, f := range envelope.Findings {
		if f.Confidence == nil {
			dropped++
			continue
		}

		issue, err := NewAIIssue(scopeID, IssueKind(f.Kind), Severity(f.Severity), f.Description, *f.Confidence)
		if err != nil {
			dropped++
			continue
		}

		issue.PrimaryEntityID = f.PrimaryEntityID
		issue.RelatedEntityID = f.RelatedEntityID
		if s := strings.TrimSpace(f.Suggestion); s != "" {
			issue.Suggestion = &s
		}
		issues = append(issues, issue)
	}

	return issues, dropped, nil
}

// stripCodeFence unwraps ```json fences some models insist on adding.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
	"github.com/sagaforge/sagaforge/internal/platform/constants"
)

// AnalyzeOptions tunes a single analysis run.
type AnalyzeOptions struct {
	// Kinds restricts which issue kinds the run reports. Empty means all.
	Kinds []IssueKind `json:"kinds"`

	// UseAI requests AI analysis in addition to the rule battery. The
	// orchestrator may still skip it (disabled, over budget, providers
	// down) without failing the run.
	UseAI bool `json:"use_ai"`

	// Batch bounds. Zero values take the configured defaults.
	EntityLimit       int `json:"entity_limit"`
	RelationshipLimit int `json:"relationship_limit"`
	TimelineLimit     int `json:"timeline_limit"`
}

/*
Normalized returns a copy with defaults applied and kinds deduplicated,
or an error when an unknown kind or a negative limit is supplied.

Parameters:
  - none beyond the receiver.

Returns:
  - AnalyzeOptions: the normalized copy.
  - error: validation failure as an application error.
*/
func (o AnalyzeOptions) Normalized() (AnalyzeOptions, error) {
	out := o

	seen := make(map[IssueKind]bool, len(o.Kinds))
	kinds := make([]IssueKind, 0, len(o.Kinds))
	for _, kind := range o.Kinds {
		if !kind.IsValid() {
			return AnalyzeOptions{}, apperr.ValidationError(fmt.Sprintf("Unknown issue kind %q", kind))
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	out.Kinds = kinds

	if out.EntityLimit < 0 || out.RelationshipLimit < 0 || out.TimelineLimit < 0 {
		return AnalyzeOptions{}, apperr.ValidationError("Batch limits must not be negative")
	}
	if out.EntityLimit == 0 {
		out.EntityLimit = constants.DefaultEntityLimit
	}
	if out.RelationshipLimit == 0 {
		out.RelationshipLimit = constants.DefaultRelationshipLimit
	}
	if out.TimelineLimit == 0 {
		out.TimelineLimit = constants.DefaultTimelineLimit
	}

	return out, nil
}

// WantsKind reports whether the run should include issues of the given
// kind. An empty kind filter means everything is wanted.
func (o AnalyzeOptions) WantsKind(kind IssueKind) bool {
	if len(o.Kinds) == 0 {
		return true
	}
	for _, k := range o.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Fingerprint hashes the option fields that change analysis output. Two
// runs with equivalent options share a fingerprint regardless of kind
// order, so they can share a cached AI result.
func (o AnalyzeOptions) Fingerprint() string {
	kinds := make([]string, 0, len(o.Kinds))
	for _, kind := range o.Kinds {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	seed := fmt.Sprintf("%s|%d|%d|%d", strings.Join(kinds, ","), o.EntityLimit, o.RelationshipLimit, o.TimelineLimit)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}

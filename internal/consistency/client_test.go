// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaforge/sagaforge/internal/saga"
)

type stubProvider struct {
	name   string
	output string
	err    error
	calls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Analyze(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.output, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const goodOutput = `{"findings": [{"kind": "logical", "severity": "medium", "description": "Mira is described as both an only child and as having a brother", "confidence": 0.85}]}`

func clientBatch() *saga.AnalysisBatch {
	return &saga.AnalysisBatch{ScopeID: 7, KnownEntityIDs: map[int64]bool{}}
}

func TestAnalyzePrimarySucceeds(t *testing.T) {
	primary := &stubProvider{name: "primary", output: goodOutput}
	secondary := &stubProvider{name: "secondary", output: goodOutput}
	client := NewClient(primary, secondary, discardLogger())

	issues, providerName, err := client.Analyze(context.Background(), clientBatch(), AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "primary", providerName)
	assert.Equal(t, 0, secondary.calls)
	require.Len(t, issues, 1)
	assert.Equal(t, OriginAI, issues[0].Origin)
	assert.Equal(t, KindLogical, issues[0].Kind)
}

func TestAnalyzeFallsBackOnPrimaryError(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("upstream 503")}
	secondary := &stubProvider{name: "secondary", output: goodOutput}
	client := NewClient(primary, secondary, discardLogger())

	issues, providerName, err := client.Analyze(context.Background(), clientBatch(), AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "secondary", providerName)
	assert.Equal(t, 1, primary.calls)
	require.Len(t, issues, 1)
}

func TestAnalyzeFallsBackOnUnparsableOutput(t *testing.T) {
	primary := &stubProvider{name: "primary", output: "I could not find any issues, sorry!"}
	secondary := &stubProvider{name: "secondary", output: goodOutput}
	client := NewClient(primary, secondary, discardLogger())

	_, providerName, err := client.Analyze(context.Background(), clientBatch(), AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "secondary", providerName)
}

func TestAnalyzeAllProvidersFailed(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("timeout")}
	secondary := &stubProvider{name: "secondary", err: errors.New("unauthorized")}
	client := NewClient(primary, secondary, discardLogger())

	_, _, err := client.Analyze(context.Background(), clientBatch(), AnalyzeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersFailed))

	// Exactly one fallback: one call each, no retry loops.
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestAnalyzeWithoutSecondary(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("timeout")}
	client := NewClient(primary, nil, discardLogger())

	_, _, err := client.Analyze(context.Background(), clientBatch(), AnalyzeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersFailed))
}

func TestAnalyzeDropsInvalidFindings(t *testing.T) {
	mixed := `{"findings": [
		{"kind": "logical", "severity": "medium", "description": "Valid finding", "confidence": 0.8},
		{"kind": "logical", "severity": "medium", "description": "No confidence given"},
		{"kind": "plot", "severity": "medium", "description": "Unknown kind", "confidence": 0.8},
		{"kind": "logical", "severity": "medium", "description": "", "confidence": 0.8},
		{"kind": "logical", "severity": "medium", "description": "Out of range", "confidence": 1.4}
	]}`
	primary := &stubProvider{name: "primary", output: mixed}
	client := NewClient(primary, nil, discardLogger())

	issues, _, err := client.Analyze(context.Background(), clientBatch(), AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "Valid finding", issues[0].Description)
}

func TestAnalyzeUnwrapsCodeFences(t *testing.T) {
	fenced := "```json\n" + goodOutput + "\n```"
	primary := &stubProvider{name: "primary", output: fenced}
	client := NewClient(primary, nil, discardLogger())

	issues, _, err := client.Analyze(context.Background(), clientBatch(), AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
}

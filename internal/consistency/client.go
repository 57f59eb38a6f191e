// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sagaforge/sagaforge/internal/platform/constants"
	"github.com/sagaforge/sagaforge/internal/saga"
)

// ErrAllProvidersFailed reports that the primary and the fallback provider
// both failed for one analysis request.
var ErrAllProvidersFailed = errors.New("all analysis providers failed")

// Client sends analysis requests to an external provider with exactly one
// fallback: primary first, then the secondary, then give up. Callers never
// learn which backend answered except through the returned provider name;
// the issue shape is identical either way.
type Client struct {
	primary   Provider
	secondary Provider
	logger    *slog.Logger
}

// NewClient creates a Client. The secondary provider may be nil, in which
// case a primary failure is final.
func NewClient(primary Provider, secondary Provider, logger *slog.Logger) *Client {
	return &Client{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(slog.String("component", "analysis_client")),
	}
}

/*
Analyze runs one AI analysis over the batch.

A provider attempt counts as failed when the call errors OR its output
cannot be decoded; either way the secondary gets the same prompt. Findings
that fail validation are dropped one by one without failing the attempt.

Parameters:
  - ctx: request context; each attempt gets its own timeout within it.
  - batch: the bounded snapshot to analyze.
  - opts: normalized run options.

Returns:
  - []Issue: validated AI-origin findings.
  - string: the name of the provider that answered.
  - error: ErrAllProvidersFailed (wrapped) when no provider produced
    usable output.
*/
func (c *Client) Analyze(ctx context.Context, batch *saga.AnalysisBatch, opts AnalyzeOptions) ([]Issue, string, error) {
	prompt, err := BuildPrompt(batch, opts)
	if err != nil {
		return nil, "", err
	}

	providers := []Provider{c.primary}
	if c.secondary != nil {
		providers = append(providers, c.secondary)
	}

	var errs []error
	for _, provider := range providers {
		issues, attemptErr := c.attempt(ctx, provider, batch.ScopeID, prompt)
		if attemptErr == nil {
			return issues, provider.Name(), nil
		}

		c.logger.Warn("analysis provider failed",
			slog.String("provider", provider.Name()),
			slog.Int64("scope_id", batch.ScopeID),
			slog.Any("error", attemptErr))
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), attemptErr))
	}

	return nil, "", fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

// attempt calls one provider and decodes its output.
func (c *Client) attempt(ctx context.Context, provider Provider, scopeID int64, prompt string) ([]Issue, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, constants.AIRequestTimeout)
	defer cancel()

	raw, err := provider.Analyze(attemptCtx, prompt)
	if err != nil {
		return nil, err
	}

	issues, dropped, err := ParseFindings(scopeID, raw)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		c.logger.Warn("dropped invalid findings",
			slog.String("provider", provider.Name()),
			slog.Int64("scope_id", scopeID),
			slog.Int("dropped", dropped))
	}

	return issues, nil
}

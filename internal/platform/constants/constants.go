// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, analysis batch bounds, and
cross-cutting keys that are shared between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Per-IP token buckets and the per-actor analysis budget.
  - Analysis: Batch fetch bounds and cache TTLs for consistency checks.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "sagaforge-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	// Analysis requests block on the external provider call, so this must
	// exceed AIRequestTimeout.
	DefaultWriteTimeout = 45 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 40 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Rate Limiting (per-IP, transport level)

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # Consistency Analysis

const (
	// DefaultEntityLimit bounds how many entities a single analysis fetches.
	DefaultEntityLimit = 50

	// DefaultRelationshipLimit bounds how many relationships a single analysis fetches.
	DefaultRelationshipLimit = 100

	// DefaultTimelineLimit bounds how many timeline points a single analysis fetches.
	DefaultTimelineLimit = 50

	// AIRequestTimeout is the fixed upper bound for one external provider call.
	// Expiry is treated as a provider failure and triggers fallback.
	AIRequestTimeout = 30 * time.Second

	// AIResultTTL is how long a cached AI finding set stays valid.
	AIResultTTL = 24 * time.Hour

	// AICallBudget is the number of external provider invocations allowed
	// per actor per AICallWindow. Cache hits do not consume budget.
	AICallBudget = 10

	// AICallWindow is the counting window for the per-actor analysis budget.
	AICallWindow = 1 * time.Hour

	// StatsCacheTTL bounds in-process statistics memoization. Invalidation
	// is eager on mutation; the TTL is only a backstop.
	StatsCacheTTL = 5 * time.Minute
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWTs.
	AuthIssuer = "sagaforge.app"
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldMeta    = "meta"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldStatus  = "status"
)

// # Database Schemas

const (
	SchemaSaga        = "saga"
	SchemaConsistency = "consistency"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	// RedisPrefixAIResult keys cached AI finding sets:
	// consistency:ai:{scope}:{version}:{fingerprint}
	RedisPrefixAIResult = "consistency:ai:"

	// RedisPrefixRateLimit keys per-actor analysis budgets:
	// consistency:ratelimit:{actor}
	RedisPrefixRateLimit = "consistency:ratelimit:"

	// RedisPrefixScopeVersion keys the mutation counter per scope:
	// consistency:scopever:{scope}
	RedisPrefixScopeVersion = "consistency:scopever:"
)

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cache provides the shared TTL'd key-value store for tokens,
// credential records, revocation markers, and rotation counters. The cache
// is advisory: a hit is authoritative only while the entry has not locally
// expired, and every backend failure degrades to a miss rather than
// propagating.
package cache

import (
	"context"
	"time"

	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
	"github.com/payment-platform/authgate/internal/token"
)

// Cache is the capability set shared by the Redis and in-memory backends.
type Cache interface {
	// PutToken stores t under both its client-id key and its token-id key
	// with TTL = remaining lifetime minus a safety margin. Both keys are
	// written; if either write fails the operation reports failure, but no
	// rollback is attempted (the stale entry expires on its own).
	PutToken(ctx context.Context, t *token.Token) error
	GetTokenByClient(ctx context.Context, clientID string) (*token.Token, bool)
	GetTokenByID(ctx context.Context, id string) (*token.Token, bool)

	// InvalidateClient removes the client's token (both key forms) and
	// credential entries.
	InvalidateClient(ctx context.Context, clientID string) error
	InvalidateTokenByID(ctx context.Context, id string) error
	// InvalidateTokensBatch removes the given token ids best-effort and in
	// parallel; individual failures are aggregated.
	InvalidateTokensBatch(ctx context.Context, ids []string) error

	PutCredential(ctx context.Context, r *credentials.Record) error
	GetCredential(ctx context.Context, clientID string) (*credentials.Record, bool)
	InvalidateCredential(ctx context.Context, clientID string) error

	// SetMarker and HasMarker manage flat presence keys, such as
	// revocation markers.
	SetMarker(ctx context.Context, key string, ttl time.Duration) error
	HasMarker(ctx context.Context, key string) bool

	// IncrCounter and GetCounter manage the rotation stat counters.
	IncrCounter(ctx context.Context, key string) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
}

// The cache must be usable as the token engine's store and the resolver's
// credential cache.
var (
	_ token.Store            = Cache(nil)
	_ credentials.Store      = Cache(nil)
	_ credentials.StatCounts = Cache(nil)
)

// tokenTTL computes the cache TTL for a token: the configured default,
// capped at the token's remaining lifetime minus the safety margin when the
// token carries an expiry, and floored at the minimum so racing writers
// never store an immediately dead entry.
func tokenTTL(t *token.Token, now time.Time, def time.Duration) time.Duration {
	if def <= 0 {
		def = consts.DefaultTokenTTL
	}
	ttl := def
	if !t.ExpiresAt.IsZero() {
		if remaining := t.Remaining(now) - consts.TokenCacheTTLMargin; remaining < ttl {
			ttl = remaining
		}
	}
	if ttl < consts.MinCacheTTL {
		ttl = consts.MinCacheTTL
	}
	return ttl
}

// credentialTTL computes the cache TTL for a credential record: the default,
// capped at the record's earliest acceptable expiry minus the margin.
func credentialTTL(r *credentials.Record, now time.Time, def time.Duration) time.Duration {
	if def <= 0 {
		def = consts.DefaultCredentialTTL
	}
	ttl := def
	for _, c := range r.Credentials {
		if c.ExpiresAt == nil || !c.Active {
			continue
		}
		remaining := c.ExpiresAt.Sub(now) - consts.TokenCacheTTLMargin
		if remaining < ttl {
			ttl = remaining
		}
	}
	if ttl < consts.MinCacheTTL {
		ttl = consts.MinCacheTTL
	}
	return ttl
}

// markerTTL floors marker lifetimes the same way.
func markerTTL(ttl time.Duration) time.Duration {
	if ttl < consts.MinCacheTTL {
		return consts.MinCacheTTL
	}
	return ttl
}

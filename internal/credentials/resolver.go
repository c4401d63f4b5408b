// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/bcrypt"

	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/consts"
)

// VaultSource is the slice of the vault client the resolver needs.
type VaultSource interface {
	ReadCredential(ctx context.Context, clientID string) (*Record, error)
}

// Store is the credential slice of the cache.
type Store interface {
	PutCredential(ctx context.Context, r *Record) error
	GetCredential(ctx context.Context, clientID string) (*Record, bool)
	InvalidateCredential(ctx context.Context, clientID string) error
}

// StatCounts tracks which credential version authenticated, shared through
// the cache so every gateway instance contributes to the same counters.
type StatCounts interface {
	IncrCounter(ctx context.Context, key string) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
}

// Resolver retrieves credential records from the vault, populates the cache,
// and validates presented secrets.
type Resolver struct {
	vault  VaultSource
	store  Store
	stats  StatCounts
	logger hclog.Logger
	now    func() time.Time
}

// NewResolver wires a Resolver.
func NewResolver(vault VaultSource, store Store, stats StatCounts, logger hclog.Logger) (*Resolver, error) {
	if vault == nil {
		return nil, fmt.Errorf("vault source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	return &Resolver{
		vault:  vault,
		store:  store,
		stats:  stats,
		logger: logger.Named("resolver"),
		now:    time.Now,
	}, nil
}

// Resolve reads the client's credential record from the vault and populates
// the cache for the outage fallback path.
func (r *Resolver) Resolve(ctx context.Context, clientID string) (*Record, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: empty client id", autherr.ErrInvalidInput)
	}

	rec, err := r.vault.ReadCredential(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if cerr := r.store.PutCredential(ctx, rec); cerr != nil {
		r.logger.Debug("failed to cache credential record", "client_id", clientID, "error", cerr)
	}
	return rec, nil
}

// ResolveWithFallback behaves like Resolve, but a vault outage is served
// from the cache when a non-expired copy exists. The cache TTL bounds the
// staleness window.
func (r *Resolver) ResolveWithFallback(ctx context.Context, clientID string) (*Record, error) {
	rec, err := r.Resolve(ctx, clientID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, autherr.ErrVaultUnavailable) {
		return nil, err
	}

	if cached, ok := r.store.GetCredential(ctx, clientID); ok {
		r.logger.Warn("vault unavailable, serving cached credential record",
			"client_id", clientID, "cached_at", cached.CachedAt)
		resolverFallbacks.Inc()
		return cached, nil
	}
	return nil, err
}

// Validate resolves the client's record and compares the presented secret
// against every acceptable version. During a rotation window both the new
// and the old secret are accepted; a match against a deprecated version
// raises a warning and bumps the deprecation counter.
//
// The comparison never early-exits: all candidate hashes are checked even
// after a match, and unknown clients burn an equivalent bcrypt comparison,
// so failure paths are indistinguishable in timing.
func (r *Resolver) Validate(ctx context.Context, clientID, secret string) (bool, error) {
	return r.validate(ctx, clientID, secret, r.Resolve)
}

// ValidateWithFallback is Validate on top of ResolveWithFallback.
func (r *Resolver) ValidateWithFallback(ctx context.Context, clientID, secret string) (bool, error) {
	return r.validate(ctx, clientID, secret, r.ResolveWithFallback)
}

func (r *Resolver) validate(ctx context.Context, clientID, secret string,
	resolve func(context.Context, string) (*Record, error),
) (bool, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(secret) == "" {
		return false, fmt.Errorf("%w: blank client id or secret", autherr.ErrInvalidInput)
	}

	rec, err := resolve(ctx, clientID)
	if err != nil {
		if errors.Is(err, autherr.ErrNotFound) {
			// Unknown clients cost the same as a wrong secret.
			burnComparison(secret)
			credentialValidations.WithLabelValues("denied").Inc()
			return false, nil
		}
		return false, err
	}

	candidates := rec.Acceptable(r.now())
	if len(candidates) == 0 {
		burnComparison(secret)
		credentialValidations.WithLabelValues("denied").Inc()
		return false, nil
	}

	var matched *Credential
	for _, c := range candidates {
		if c.Matches(secret) && matched == nil {
			matched = c
		}
	}
	if matched == nil {
		credentialValidations.WithLabelValues("denied").Inc()
		return false, nil
	}

	credentialValidations.WithLabelValues("allowed").Inc()
	r.recordMatch(ctx, rec, matched)
	return true, nil
}

// recordMatch tracks which version authenticated and emits the deprecation
// warning when the old secret is still in use.
func (r *Resolver) recordMatch(ctx context.Context, rec *Record, matched *Credential) {
	validationsByVersion.WithLabelValues(rec.ClientID, matched.Version).Inc()
	if r.stats != nil {
		key := consts.PrefixRotation + rec.ClientID + ":" + matched.Version
		if _, err := r.stats.IncrCounter(ctx, key); err != nil {
			r.logger.Debug("failed to bump rotation stat counter", "key", key, "error", err)
		}
	}

	if matched.RotationState == RotationStateOldDeprecated {
		deprecatedSecretUse.WithLabelValues(rec.ClientID, matched.Version).Inc()
		r.logger.Warn("client authenticated with deprecated secret",
			"client_id", rec.ClientID, "version", matched.Version)
	}
}

// VersionStat returns the shared authentication counter for a credential
// version, used by the rotation controller to decide whether the old secret
// is still in use.
func (r *Resolver) VersionStat(ctx context.Context, clientID, version string) int64 {
	if r.stats == nil {
		return 0
	}
	n, err := r.stats.GetCounter(ctx, consts.PrefixRotation+clientID+":"+version)
	if err != nil {
		return 0
	}
	return n
}

// burnComparison performs a bcrypt comparison against a fixed hash so deny
// paths that never reach a real hash still take comparable time.
var burnHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("authgate-timing-pad"), bcrypt.DefaultCost)
	if err != nil {
		return nil
	}
	return h
})

func burnComparison(secret string) {
	_ = bcrypt.CompareHashAndPassword(burnHash(), []byte(secret))
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package auth glues the credential resolver, the token engine, and the
// cache into the entry point used by the HTTP handlers.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/cache"
	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
	"github.com/payment-platform/authgate/internal/token"
)

// Service authenticates vendors and exchanges their credentials for bearer
// tokens.
type Service struct {
	resolver *credentials.Resolver
	engine   *token.Engine
	cache    cache.Cache
	logger   hclog.Logger
	// deadline is the wall-clock budget for one authenticate call.
	deadline time.Duration

	// flight deduplicates in-flight authentications per client. The key
	// includes a digest of the presented secret so a caller with the wrong
	// secret can never observe another caller's token.
	flight singleflight.Group

	now func() time.Time
}

// NewService wires a Service.
func NewService(resolver *credentials.Resolver, engine *token.Engine, c cache.Cache,
	deadline time.Duration, logger hclog.Logger,
) (*Service, error) {
	if resolver == nil || engine == nil || c == nil {
		return nil, fmt.Errorf("resolver, engine, and cache are all required")
	}
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	return &Service{
		resolver: resolver,
		engine:   engine,
		cache:    c,
		logger:   logger.Named("auth"),
		deadline: deadline,
		now:      time.Now,
	}, nil
}

// Authenticate validates the client's secret and returns a bearer token,
// reusing a cached non-expired token when one exists. Concurrent calls with
// identical arguments collapse into one vault round trip.
func (s *Service) Authenticate(ctx context.Context, clientID, secret string) (*token.Token, error) {
	start := s.now()
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(secret) == "" {
		authentications.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: blank client id or secret", autherr.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	v, err, shared := s.flight.Do(flightKey(clientID, secret), func() (interface{}, error) {
		return s.authenticate(ctx, clientID, secret)
	})
	authenticateTime.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			authentications.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: authenticate exceeded %s", autherr.ErrTimeout, s.deadline)
		}
		return nil, err
	}

	t := v.(*token.Token)
	if shared {
		s.logger.Trace("authenticate deduplicated", "client_id", clientID, "token_id", t.ID)
	}
	authentications.WithLabelValues("success").Inc()
	return t, nil
}

func (s *Service) authenticate(ctx context.Context, clientID, secret string) (*token.Token, error) {
	// The secret is always validated before the cached token is considered;
	// a cache hit must never bypass credential checks.
	ok, err := s.resolver.ValidateWithFallback(ctx, clientID, secret)
	if err != nil {
		return nil, err
	}
	if !ok {
		authentications.WithLabelValues("denied").Inc()
		s.logger.Warn("authentication denied", "client_id", clientID)
		return nil, autherr.ErrInvalidCredentials
	}

	if t, ok := s.cache.GetTokenByClient(ctx, clientID); ok {
		s.logger.Trace("serving cached token", "client_id", clientID, "token_id", t.ID)
		return t, nil
	}

	return s.engine.Issue(ctx, clientID, nil)
}

// AuthenticateHeaders authenticates from the legacy vendor headers.
func (s *Service) AuthenticateHeaders(ctx context.Context, h http.Header) (*token.Token, error) {
	clientID := strings.TrimSpace(h.Get(consts.HeaderClientID))
	secret := strings.TrimSpace(h.Get(consts.HeaderClientSecret))
	if clientID == "" || secret == "" {
		return nil, fmt.Errorf("%w: %s and %s headers are required",
			autherr.ErrMissingCredentials, consts.HeaderClientID, consts.HeaderClientSecret)
	}
	return s.Authenticate(ctx, clientID, secret)
}

// ValidateToken reports whether raw is acceptable right now.
func (s *Service) ValidateToken(ctx context.Context, raw string) bool {
	return s.engine.Validate(ctx, raw)
}

// Refresh returns the token unchanged while it is still fresh, and exchanges
// an expired one for a new token with the same permissions. The client is
// re-resolved before any exchange: a token held by an offboarded or disabled
// vendor never mints a fresh one. The new token is cached by issuance.
func (s *Service) Refresh(ctx context.Context, raw string) (*token.Token, error) {
	t, err := s.engine.ParseForRenewal(ctx, raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.resolver.ResolveWithFallback(ctx, t.ClientID)
	if err != nil {
		if errors.Is(err, autherr.ErrNotFound) {
			s.logger.Warn("refresh denied, unknown client", "client_id", t.ClientID)
			return nil, fmt.Errorf("%w: unknown client", autherr.ErrUnauthenticated)
		}
		return nil, err
	}
	if len(rec.Acceptable(s.now())) == 0 {
		s.logger.Warn("refresh denied, client has no acceptable credentials",
			"client_id", t.ClientID)
		return nil, fmt.Errorf("%w: client disabled", autherr.ErrUnauthenticated)
	}

	return s.engine.Renew(ctx, raw)
}

// RevokeClient revokes any cached token for the client and clears every
// cache key the client owns. It reports whether a token was found to revoke;
// a subsequent authenticate issues a fresh token.
func (s *Service) RevokeClient(ctx context.Context, clientID string) (bool, error) {
	if strings.TrimSpace(clientID) == "" {
		return false, fmt.Errorf("%w: empty client id", autherr.ErrInvalidInput)
	}

	t, had := s.cache.GetTokenByClient(ctx, clientID)
	if had {
		if err := s.engine.Revoke(ctx, t.ID); err != nil {
			return false, err
		}
	}
	if err := s.cache.InvalidateClient(ctx, clientID); err != nil {
		// Advisory: the entries expire on their own.
		s.logger.Warn("failed to invalidate client cache entries",
			"client_id", clientID, "error", err)
	}
	s.logger.Info("revoked client", "client_id", clientID, "had_token", had)
	return had, nil
}

// TokenStatus reports validity and remaining lifetime for a token id, for
// the status endpoint.
func (s *Service) TokenStatus(ctx context.Context, tokenID string) (bool, time.Duration) {
	t, ok := s.cache.GetTokenByID(ctx, tokenID)
	if !ok {
		return false, 0
	}
	if !s.engine.Validate(ctx, t.Raw) {
		return false, 0
	}
	return true, t.Remaining(s.now())
}

func flightKey(clientID, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return clientID + ":" + hex.EncodeToString(sum[:8])
}

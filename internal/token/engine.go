// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/consts"
)

// Store is the slice of the cache the engine needs: token entries and
// revocation markers. The cache is advisory; the engine tolerates every
// Store failure.
type Store interface {
	PutToken(ctx context.Context, t *Token) error
	GetTokenByID(ctx context.Context, id string) (*Token, bool)
	InvalidateTokenByID(ctx context.Context, id string) error
	SetMarker(ctx context.Context, key string, ttl time.Duration) error
	HasMarker(ctx context.Context, key string) bool
}

// EngineConfig carries the token issuance and validation settings.
type EngineConfig struct {
	TTL      time.Duration
	Issuer   string
	Audience string
	// Algorithm names the JWS signing algorithm; HMAC family only.
	Algorithm string
	// AcceptedIssuers extends the issuer set accepted on incoming tokens.
	// The configured Issuer is always accepted.
	AcceptedIssuers []string
}

// Engine issues, validates, renews, and revokes bearer tokens. The signing
// keyring and the revocation set are process-wide state owned by the engine;
// both are constructed explicitly and passed in, never ambient.
type Engine struct {
	ttl      time.Duration
	issuer   string
	audience string
	issuers  map[string]struct{}
	method   jwt.SigningMethod
	keys     *Keyring
	revoked  *revocationSet
	store    Store
	logger   hclog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine returns an Engine signing with keys and persisting revocation
// markers through store.
func NewEngine(cfg EngineConfig, keys *Keyring, store Store, logger hclog.Logger) (*Engine, error) {
	if keys == nil {
		return nil, fmt.Errorf("keyring is required")
	}
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("issuer and audience are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = consts.DefaultTokenTTL
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	issuers := map[string]struct{}{cfg.Issuer: {}}
	for _, iss := range cfg.AcceptedIssuers {
		issuers[iss] = struct{}{}
	}

	return &Engine{
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		issuers:  issuers,
		method:   method,
		keys:     keys,
		revoked:  newRevocationSet(),
		store:    store,
		logger:   logger.Named("token"),
		now:      time.Now,
	}, nil
}

// Issue signs a fresh token for clientID. Empty perms grant the defaults.
func (e *Engine) Issue(ctx context.Context, clientID string, perms []string) (*Token, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: empty client id", autherr.ErrInvalidInput)
	}
	if len(perms) == 0 {
		perms = DefaultPermissions
	}

	now := e.now()
	claims := &Claims{
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   clientID,
			Issuer:    e.issuer,
			Audience:  jwt.ClaimStrings{e.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.ttl)),
		},
	}

	key, kid := e.keys.Current()
	jt := jwt.NewWithClaims(e.method, claims)
	jt.Header["kid"] = kid
	raw, err := jt.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign token: %s", autherr.ErrInternal, err)
	}

	t := claims.toToken(raw)
	if err := e.store.PutToken(ctx, t); err != nil {
		e.logger.Warn("failed to cache issued token", "client_id", clientID, "error", err)
	}

	tokensIssued.Inc()
	e.logger.Debug("issued token", "client_id", clientID, "token_id", t.ID,
		"expires_at", t.ExpiresAt)
	return t, nil
}

// Validate reports whether raw is an acceptable token right now.
func (e *Engine) Validate(ctx context.Context, raw string) bool {
	_, err := e.Parse(ctx, raw)
	if err != nil {
		tokenValidations.WithLabelValues("invalid").Inc()
		return false
	}
	tokenValidations.WithLabelValues("valid").Inc()
	return true
}

// Parse validates raw and returns the parsed token. Checks short-circuit on
// the first failure: revocation, signature, claims, audience, issuer,
// expiry. Parsing never writes to the cache.
func (e *Engine) Parse(ctx context.Context, raw string) (*Token, error) {
	return e.parse(ctx, raw, true)
}

// ParseForRenewal runs every Parse check except expiry, so an expired token
// can still identify the client it was issued to. Revoked or tampered
// tokens fail.
func (e *Engine) ParseForRenewal(ctx context.Context, raw string) (*Token, error) {
	return e.parse(ctx, raw, false)
}

func (e *Engine) parse(ctx context.Context, raw string, requireFresh bool) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", autherr.ErrInvalidInput)
	}

	// The token id is needed before signature verification so that revoked
	// tokens are rejected first. The unverified claims are only used for
	// that lookup.
	unverified := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, unverified); err != nil {
		return nil, fmt.Errorf("%w: malformed token", autherr.ErrUnauthenticated)
	}
	if e.isRevoked(ctx, unverified.ID) {
		return nil, fmt.Errorf("%w: token revoked", autherr.ErrUnauthenticated)
	}

	claims, err := e.verifySignature(raw)
	if err != nil {
		return nil, err
	}

	if !containsAudience(claims.Audience, e.audience) {
		return nil, fmt.Errorf("%w: audience mismatch", autherr.ErrUnauthenticated)
	}
	if _, ok := e.issuers[claims.Issuer]; !ok {
		return nil, fmt.Errorf("%w: unknown issuer", autherr.ErrUnauthenticated)
	}
	if requireFresh {
		if claims.ExpiresAt == nil || !e.now().Before(claims.ExpiresAt.Time) {
			return nil, fmt.Errorf("%w: token expired", autherr.ErrUnauthenticated)
		}
	}

	return claims.toToken(raw), nil
}

// verifySignature checks raw against the current key, then the previous key
// during a signing-key rotation window.
func (e *Engine) verifySignature(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{e.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	current, _ := e.keys.Current()
	keys := [][]byte{current}
	if previous, _ := e.keys.Previous(); previous != nil {
		keys = append(keys, previous)
	}

	var lastErr error
	for _, key := range keys {
		claims := &Claims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: signature verification failed: %v", autherr.ErrUnauthenticated, lastErr)
}

// Renew exchanges an expired token for a fresh one carrying the same
// permissions, revoking the old token id. A not-yet-expired token is
// returned unchanged; a revoked token fails.
func (e *Engine) Renew(ctx context.Context, raw string) (*Token, error) {
	t, err := e.parse(ctx, raw, false)
	if err != nil {
		return nil, err
	}

	if !t.Expired(e.now()) {
		return t, nil
	}

	if err := e.Revoke(ctx, t.ID); err != nil {
		return nil, err
	}

	renewed, err := e.Issue(ctx, t.ClientID, t.Permissions)
	if err != nil {
		return nil, err
	}
	tokenRenewals.Inc()
	e.logger.Info("renewed token", "client_id", t.ClientID,
		"old_token_id", t.ID, "token_id", renewed.ID)
	return renewed, nil
}

// Revoke adds tokenID to the revocation set and persists a cache marker for
// the token's remaining lifetime, so restarts honor revocations as long as
// the cache does. Duplicate revokes are no-ops.
func (e *Engine) Revoke(ctx context.Context, tokenID string) error {
	if strings.TrimSpace(tokenID) == "" {
		return fmt.Errorf("%w: empty token id", autherr.ErrInvalidInput)
	}

	newly := e.revoked.Add(tokenID)

	ttl := e.ttl
	if t, ok := e.store.GetTokenByID(ctx, tokenID); ok {
		if remaining := t.Remaining(e.now()); remaining > 0 {
			ttl = remaining
		}
	}
	if err := e.store.SetMarker(ctx, consts.PrefixRevoked+tokenID, ttl); err != nil {
		e.logger.Warn("failed to persist revocation marker", "token_id", tokenID, "error", err)
	}
	if err := e.store.InvalidateTokenByID(ctx, tokenID); err != nil {
		e.logger.Warn("failed to invalidate revoked token", "token_id", tokenID, "error", err)
	}

	if newly {
		tokenRevocations.Inc()
		e.logger.Info("revoked token", "token_id", tokenID)
	}
	return nil
}

// InstallKey demotes the current signing key to previous and installs key as
// current. Tokens signed with the demoted key stay verifiable until expiry.
func (e *Engine) InstallKey(key []byte) error {
	if err := e.keys.Install(key); err != nil {
		return err
	}
	_, kid := e.keys.Current()
	e.logger.Info("installed signing key", "kid", kid)
	return nil
}

func (e *Engine) isRevoked(ctx context.Context, tokenID string) bool {
	if tokenID == "" {
		return false
	}
	if e.revoked.Contains(tokenID) {
		return true
	}
	return e.store.HasMarker(ctx, consts.PrefixRevoked+tokenID)
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

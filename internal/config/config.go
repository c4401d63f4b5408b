// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config holds the typed runtime configuration for the gateway.
// Defaults come first, environment options are merged on top.
package config

import (
	"fmt"
	"time"

	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/options"
)

// Server configures the inbound HTTP surface.
type Server struct {
	ListenAddr string
	// RequestDeadline is the wall-clock budget for an inbound authenticate
	// call. Exceeding it fails closed with a timeout.
	RequestDeadline time.Duration
}

// Token configures issuance and validation of bearer tokens.
type Token struct {
	TTL      time.Duration
	Issuer   string
	Audience string
	// Algorithm is the JWS signing algorithm. Only HMAC family algorithms
	// are supported; HS256 is the default.
	Algorithm string
	// AcceptedIssuers is the issuer set accepted on incoming tokens. The
	// configured Issuer is always accepted.
	AcceptedIssuers []string
}

// Cache configures the shared key-value store.
type Cache struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TokenTTL bounds how long issued tokens stay cached, capped by each
	// token's own expiry. CredentialTTL is the default lifetime for cached
	// credential records, capped by the record's earliest expiry.
	TokenTTL      time.Duration
	CredentialTTL time.Duration
	OpTimeout     time.Duration
}

// VaultRetry bounds the retry loop around vault calls.
type VaultRetry struct {
	Count        int
	Multiplier   float64
	InitialDelay time.Duration
}

// Vault configures access to the secret store.
type Vault struct {
	URL     string
	Account string
	// AuthLogin is the secret used to authenticate the gateway itself to
	// the vault, paired with Account for AppRole-style login. When Account
	// is empty AuthLogin is used directly as a vault token.
	AuthLogin          string
	SSLCertificatePath string
	Retry              VaultRetry
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

// Rotation configures the credential rotation controller.
type Rotation struct {
	// TransitionPeriod is the minimum time both secrets stay accepted
	// before the old one is deprecated.
	TransitionPeriod time.Duration
	// DeprecationWindow is the minimum time the old secret stays accepted,
	// with warnings, before retirement.
	DeprecationWindow time.Duration
	CheckInterval     time.Duration
}

// Config is the root configuration tree.
type Config struct {
	Server   Server
	Token    Token
	Cache    Cache
	Vault    Vault
	Rotation Rotation
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: Server{
			ListenAddr:      ":8080",
			RequestDeadline: 5 * time.Second,
		},
		Token: Token{
			TTL:       consts.DefaultTokenTTL,
			Issuer:    "payment-auth-gateway",
			Audience:  "payment-api",
			Algorithm: "HS256",
		},
		Cache: Cache{
			TokenTTL:      consts.DefaultTokenTTL,
			CredentialTTL: consts.DefaultCredentialTTL,
			OpTimeout:     500 * time.Millisecond,
		},
		Vault: Vault{
			URL: "https://127.0.0.1:8200",
			Retry: VaultRetry{
				Count:        3,
				Multiplier:   1.5,
				InitialDelay: 100 * time.Millisecond,
			},
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Rotation: Rotation{
			TransitionPeriod:  24 * time.Hour,
			DeprecationWindow: 24 * time.Hour,
			CheckInterval:     time.Minute,
		},
	}
}

// Load builds the runtime configuration from defaults and the AUTHGATE_*
// environment.
func Load() (*Config, error) {
	opts := &options.EnvOptions{}
	if err := opts.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse environment options: %w", err)
	}

	c := Default()
	c.apply(opts)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) apply(opts *options.EnvOptions) {
	if opts.ListenAddr != "" {
		c.Server.ListenAddr = opts.ListenAddr
	}
	if opts.AuthRequestDeadline > 0 {
		c.Server.RequestDeadline = opts.AuthRequestDeadline
	}
	if opts.TokenTTL > 0 {
		c.Token.TTL = opts.TokenTTL
	}
	if opts.TokenIssuer != "" {
		c.Token.Issuer = opts.TokenIssuer
	}
	if opts.TokenAudience != "" {
		c.Token.Audience = opts.TokenAudience
	}
	if opts.TokenAlgorithm != "" {
		c.Token.Algorithm = opts.TokenAlgorithm
	}
	if opts.RedisAddr != "" {
		c.Cache.RedisAddr = opts.RedisAddr
	}
	if opts.RedisPassword != "" {
		c.Cache.RedisPassword = opts.RedisPassword
	}
	if opts.RedisDB != nil {
		c.Cache.RedisDB = *opts.RedisDB
	}
	if opts.CacheTokenTTL > 0 {
		c.Cache.TokenTTL = opts.CacheTokenTTL
	}
	if opts.CacheCredentialTTL > 0 {
		c.Cache.CredentialTTL = opts.CacheCredentialTTL
	}
	if opts.VaultURL != "" {
		c.Vault.URL = opts.VaultURL
	}
	if opts.VaultAccount != "" {
		c.Vault.Account = opts.VaultAccount
	}
	if opts.VaultAuthLogin != "" {
		c.Vault.AuthLogin = opts.VaultAuthLogin
	}
	if opts.VaultSSLCertificatePath != "" {
		c.Vault.SSLCertificatePath = opts.VaultSSLCertificatePath
	}
	if opts.VaultRetryCount != nil {
		c.Vault.Retry.Count = *opts.VaultRetryCount
	}
	if opts.VaultRetryMultiplier != nil {
		c.Vault.Retry.Multiplier = *opts.VaultRetryMultiplier
	}
	if opts.VaultRetryInitialDelay > 0 {
		c.Vault.Retry.InitialDelay = opts.VaultRetryInitialDelay
	}
	if opts.RotationTransitionPeriod > 0 {
		c.Rotation.TransitionPeriod = opts.RotationTransitionPeriod
	}
	if opts.RotationCheckInterval > 0 {
		c.Rotation.CheckInterval = opts.RotationCheckInterval
	}
}

// Validate rejects configurations that cannot produce a working gateway.
func (c *Config) Validate() error {
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token TTL must be positive, got %s", c.Token.TTL)
	}
	if c.Token.Algorithm != "HS256" && c.Token.Algorithm != "HS384" && c.Token.Algorithm != "HS512" {
		return fmt.Errorf("unsupported token algorithm %q", c.Token.Algorithm)
	}
	if c.Token.Issuer == "" || c.Token.Audience == "" {
		return fmt.Errorf("token issuer and audience must be set")
	}
	if c.Vault.URL == "" {
		return fmt.Errorf("vault URL must be set")
	}
	if c.Vault.Retry.Count < 1 {
		return fmt.Errorf("vault retry count must be at least 1, got %d", c.Vault.Retry.Count)
	}
	if c.Rotation.TransitionPeriod <= 0 || c.Rotation.CheckInterval <= 0 {
		return fmt.Errorf("rotation periods must be positive")
	}
	return nil
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/payment-platform/authgate/internal/auth"
	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/cache"
	"github.com/payment-platform/authgate/internal/config"
	"github.com/payment-platform/authgate/internal/credentials"
	"github.com/payment-platform/authgate/internal/httpapi"
	"github.com/payment-platform/authgate/internal/metrics"
	"github.com/payment-platform/authgate/internal/rotation"
	"github.com/payment-platform/authgate/internal/token"
	"github.com/payment-platform/authgate/internal/vaultclient"
	"github.com/payment-platform/authgate/internal/version"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "authgate",
		Level:      hclog.LevelFromString(os.Getenv("AUTHGATE_LOG_LEVEL")),
		JSONFormat: os.Getenv("AUTHGATE_LOG_FORMAT") == "json",
	})

	if err := run(logger); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Info("starting authgate",
		"version", version.Version,
		"commit", version.GitCommit,
		"build_date", version.BuildDate,
		"listen_addr", cfg.Server.ListenAddr,
	)
	metrics.Registry.MustRegister(
		metrics.NewBuildInfoGauge(version.Version, version.GitCommit, version.BuildDate))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return err
	}

	vc, err := vaultclient.New(ctx, cfg.Vault, logger)
	if err != nil {
		return err
	}

	resolver, err := credentials.NewResolver(vc, store, store, logger)
	if err != nil {
		return err
	}

	keyring, err := loadKeyring(ctx, vc, logger)
	if err != nil {
		return err
	}

	engine, err := token.NewEngine(token.EngineConfig{
		TTL:             cfg.Token.TTL,
		Issuer:          cfg.Token.Issuer,
		Audience:        cfg.Token.Audience,
		Algorithm:       cfg.Token.Algorithm,
		AcceptedIssuers: cfg.Token.AcceptedIssuers,
	}, keyring, store, logger)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(resolver, engine, store, cfg.Server.RequestDeadline, logger)
	if err != nil {
		return err
	}

	rot, err := rotation.NewController(vc, store, store, rotation.NewLogSink(logger),
		cfg.Rotation, logger)
	if err != nil {
		return err
	}
	go rot.Run(ctx)

	handler := httpapi.New(svc, rot, logger)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildCache picks the shared redis cache when an address is configured, and
// falls back to the in-process cache for single-instance deployments.
func buildCache(ctx context.Context, cfg *config.Config, logger hclog.Logger) (cache.Cache, error) {
	if cfg.Cache.RedisAddr == "" {
		logger.Info("no redis address configured, using in-process cache")
		return cache.NewMemory(cfg.Cache.TokenTTL, cfg.Cache.CredentialTTL, logger), nil
	}
	return cache.NewRedis(ctx, cache.RedisConfig{
		Addr:          cfg.Cache.RedisAddr,
		Password:      cfg.Cache.RedisPassword,
		DB:            cfg.Cache.RedisDB,
		OpTimeout:     cfg.Cache.OpTimeout,
		TokenTTL:      cfg.Cache.TokenTTL,
		CredentialTTL: cfg.Cache.CredentialTTL,
	}, logger)
}

// loadKeyring fetches the signing key from the vault, provisioning a fresh
// one on first boot so every instance verifying through the vault agrees on
// the key material.
func loadKeyring(ctx context.Context, vc vaultclient.Client, logger hclog.Logger) (*token.Keyring, error) {
	key, err := vc.ReadVerificationKey(ctx)
	switch {
	case err == nil:
	case errors.Is(err, autherr.ErrNotFound):
		key = make([]byte, 64)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		if err := vc.WriteVerificationKey(ctx, key); err != nil {
			return nil, err
		}
		logger.Info("provisioned new token verification key")
	default:
		return nil, err
	}
	return token.NewKeyring(key)
}

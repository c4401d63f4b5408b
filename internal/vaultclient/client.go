// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package vaultclient wraps the vault API with the gateway's path layout,
// bounded retries, and the shared error taxonomy. The vault is the sole
// authority for credential state; everything read through here may be cached
// downstream but never trusted beyond its TTL.
package vaultclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/vault/api"

	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/config"
	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
)

// Client is the capability set the rest of the gateway needs from the vault.
type Client interface {
	ReadCredential(ctx context.Context, clientID string) (*credentials.Record, error)
	WriteCredential(ctx context.Context, rec *credentials.Record) error
	ReadVerificationKey(ctx context.Context) ([]byte, error)
	WriteVerificationKey(ctx context.Context, key []byte) error

	// ReadJSON and WriteJSON move opaque JSON documents at a path; the
	// rotation controller stores its records through these.
	ReadJSON(ctx context.Context, path string, out interface{}) error
	WriteJSON(ctx context.Context, path string, in interface{}) error
	Delete(ctx context.Context, path string) error
	// List returns the child names under path, or nil when none exist.
	List(ctx context.Context, path string) ([]string, error)

	// AcquireLock takes the advisory rotation lock for clientID.
	// ErrConflict when another owner holds it.
	AcquireLock(ctx context.Context, clientID, owner string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, clientID, owner string) error

	// Available is a cheap liveness probe.
	Available(ctx context.Context) bool
}

var _ Client = (*defaultClient)(nil)

type defaultClient struct {
	client *api.Client
	cfg    config.Vault
	logger hclog.Logger

	// mu guards the lazy re-login performed when a call comes back
	// unauthenticated.
	mu sync.Mutex
}

// New builds a Client from cfg and performs the initial login.
func New(ctx context.Context, cfg config.Vault, logger hclog.Logger) (Client, error) {
	vc, err := makeAPIClient(cfg)
	if err != nil {
		return nil, err
	}

	c := &defaultClient{
		client: vc,
		cfg:    cfg,
		logger: logger.Named("vault"),
	}
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// login authenticates the gateway itself to the vault. With an account
// configured this is an AppRole login; otherwise the auth secret is used
// directly as a token.
func (c *defaultClient) login(ctx context.Context) error {
	if c.cfg.Account == "" {
		if c.cfg.AuthLogin == "" {
			return fmt.Errorf("%w: no vault credentials configured", autherr.ErrVaultAuth)
		}
		c.client.SetToken(c.cfg.AuthLogin)
		return nil
	}

	resp, err := c.client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
		"role_id":   c.cfg.Account,
		"secret_id": c.cfg.AuthLogin,
	})
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrVaultAuth, err)
	}
	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("%w: login returned no auth data", autherr.ErrVaultAuth)
	}
	c.client.SetToken(resp.Auth.ClientToken)
	c.logger.Info("authenticated to vault", "accessor", resp.Auth.Accessor)
	return nil
}

// relogin re-establishes the vault session after an unauthenticated
// response. Serialized so concurrent failures trigger a single login.
func (c *defaultClient) relogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

// call runs fn under the configured deadline with bounded exponential
// backoff. Only transport failures and 5xx responses are retried; 4xx
// responses, NotFound included, are permanent. An unauthenticated response
// triggers one lazy re-login before the call is replayed.
func (c *defaultClient) call(ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.Retry.InitialDelay
	bo.Multiplier = c.cfg.Retry.Multiplier
	bo.RandomizationFactor = 0.1

	var reloggedIn bool
	start := time.Now()
	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		switch status := responseStatus(err); {
		case status == 404:
			return backoff.Permanent(fmt.Errorf("%w: %s", autherr.ErrNotFound, operation))
		case status == 403:
			if !reloggedIn {
				reloggedIn = true
				if lerr := c.relogin(ctx); lerr == nil {
					return err // retry the call with the new session
				}
			}
			return backoff.Permanent(fmt.Errorf("%w: %s", autherr.ErrVaultAuth, err))
		case status == 400 && strings.Contains(err.Error(), "check-and-set"):
			return backoff.Permanent(fmt.Errorf("%w: %s", autherr.ErrConflict, operation))
		case status >= 400 && status < 500:
			return backoff.Permanent(fmt.Errorf("vault rejected %s: %w", operation, err))
		default:
			// transport error or 5xx
			return err
		}
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.Retry.Count-1)), ctx))

	observeVaultOp(operation, start, err)
	if err != nil {
		if isTaxonomy(err) {
			return err
		}
		return fmt.Errorf("%w: %s failed after %d attempts: %s",
			autherr.ErrVaultUnavailable, operation, c.cfg.Retry.Count, err)
	}
	return nil
}

func isTaxonomy(err error) bool {
	return errors.Is(err, autherr.ErrNotFound) ||
		errors.Is(err, autherr.ErrVaultAuth) ||
		errors.Is(err, autherr.ErrConflict)
}

// responseStatus extracts the HTTP status from a vault API error, or 0 for
// transport failures.
func responseStatus(err error) int {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func (c *defaultClient) ReadCredential(ctx context.Context, clientID string) (*credentials.Record, error) {
	path := fmt.Sprintf(consts.VaultCredentialPathFmt, clientID)
	var rec *credentials.Record
	err := c.call(ctx, "read_credential", c.cfg.ReadTimeout, func(ctx context.Context) error {
		secret, err := c.client.Logical().ReadWithContext(ctx, path)
		if err != nil {
			return err
		}
		if secret == nil || secret.Data == nil {
			return backoff.Permanent(fmt.Errorf("%w: credential %s", autherr.ErrNotFound, clientID))
		}
		raw, ok := secret.Data["record"].(string)
		if !ok {
			return backoff.Permanent(fmt.Errorf("credential record for %s has no payload", clientID))
		}
		rec, err = credentials.DecodeRecord([]byte(raw))
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *defaultClient) WriteCredential(ctx context.Context, rec *credentials.Record) error {
	if err := rec.Check(); err != nil {
		return err
	}
	b, err := rec.Encode()
	if err != nil {
		return err
	}
	path := fmt.Sprintf(consts.VaultCredentialPathFmt, rec.ClientID)
	return c.call(ctx, "write_credential", c.cfg.WriteTimeout, func(ctx context.Context) error {
		_, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
			"record":     string(b),
			"updated_at": rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
		return err
	})
}

func (c *defaultClient) ReadVerificationKey(ctx context.Context) ([]byte, error) {
	var key []byte
	err := c.call(ctx, "read_verification_key", c.cfg.ReadTimeout, func(ctx context.Context) error {
		secret, err := c.client.Logical().ReadWithContext(ctx, consts.VaultVerificationKey)
		if err != nil {
			return err
		}
		if secret == nil || secret.Data == nil {
			return backoff.Permanent(fmt.Errorf("%w: verification key", autherr.ErrNotFound))
		}
		encoded, ok := secret.Data["key"].(string)
		if !ok {
			return backoff.Permanent(fmt.Errorf("verification key has no payload"))
		}
		key, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode verification key: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (c *defaultClient) WriteVerificationKey(ctx context.Context, key []byte) error {
	return c.call(ctx, "write_verification_key", c.cfg.WriteTimeout, func(ctx context.Context) error {
		_, err := c.client.Logical().WriteWithContext(ctx, consts.VaultVerificationKey, map[string]interface{}{
			"key": base64.StdEncoding.EncodeToString(key),
		})
		return err
	})
}

func (c *defaultClient) ReadJSON(ctx context.Context, path string, out interface{}) error {
	return c.call(ctx, "read_json", c.cfg.ReadTimeout, func(ctx context.Context) error {
		secret, err := c.client.Logical().ReadWithContext(ctx, path)
		if err != nil {
			return err
		}
		if secret == nil || secret.Data == nil {
			return backoff.Permanent(fmt.Errorf("%w: %s", autherr.ErrNotFound, path))
		}
		raw, ok := secret.Data["record"].(string)
		if !ok {
			return backoff.Permanent(fmt.Errorf("document at %s has no payload", path))
		}
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode document at %s: %w", path, err))
		}
		return nil
	})
}

func (c *defaultClient) WriteJSON(ctx context.Context, path string, in interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode document for %s: %w", path, err)
	}
	return c.call(ctx, "write_json", c.cfg.WriteTimeout, func(ctx context.Context) error {
		_, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
			"record": string(b),
		})
		return err
	})
}

func (c *defaultClient) List(ctx context.Context, path string) ([]string, error) {
	var names []string
	err := c.call(ctx, "list", c.cfg.ReadTimeout, func(ctx context.Context) error {
		secret, err := c.client.Logical().ListWithContext(ctx, path)
		if err != nil {
			return err
		}
		names = names[:0]
		if secret == nil || secret.Data == nil {
			return nil
		}
		keys, _ := secret.Data["keys"].([]interface{})
		for _, k := range keys {
			if s, ok := k.(string); ok {
				names = append(names, s)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, autherr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

func (c *defaultClient) Delete(ctx context.Context, path string) error {
	return c.call(ctx, "delete", c.cfg.WriteTimeout, func(ctx context.Context) error {
		_, err := c.client.Logical().DeleteWithContext(ctx, path)
		return err
	})
}

// lockRecord is the advisory lock document stored per client.
type lockRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (c *defaultClient) AcquireLock(ctx context.Context, clientID, owner string, ttl time.Duration) error {
	path := fmt.Sprintf(consts.VaultRotationLockFmt, clientID)

	var held lockRecord
	err := c.ReadJSON(ctx, path, &held)
	switch {
	case err == nil:
		if held.Owner != owner && time.Now().Before(held.ExpiresAt) {
			return fmt.Errorf("%w: rotation lock for %s held by %s",
				autherr.ErrConflict, clientID, held.Owner)
		}
	case errors.Is(err, autherr.ErrNotFound):
		// free
	default:
		return err
	}

	now := time.Now().UTC()
	return c.WriteJSON(ctx, path, &lockRecord{
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
}

func (c *defaultClient) ReleaseLock(ctx context.Context, clientID, owner string) error {
	path := fmt.Sprintf(consts.VaultRotationLockFmt, clientID)

	var held lockRecord
	err := c.ReadJSON(ctx, path, &held)
	if errors.Is(err, autherr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if held.Owner != owner {
		return fmt.Errorf("%w: rotation lock for %s held by %s",
			autherr.ErrConflict, clientID, held.Owner)
	}
	return c.Delete(ctx, path)
}

func (c *defaultClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	resp, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return false
	}
	return resp.Initialized && !resp.Sealed
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
	"github.com/payment-platform/authgate/internal/token"
)

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// OpTimeout bounds every cache operation. Deadline exceeded is treated
	// as backend unavailable.
	OpTimeout time.Duration
	// TokenTTL bounds how long issued tokens stay cached; a token's own
	// expiry always caps it lower.
	TokenTTL time.Duration
	// CredentialTTL is the fallback TTL for credential records without
	// their own expiry.
	CredentialTTL time.Duration
}

var _ Cache = (*redisCache)(nil)

// redisCache implements Cache on a Redis backend.
type redisCache struct {
	client *redis.Client
	cfg    RedisConfig
	logger hclog.Logger
	now    func() time.Time
}

// NewRedis returns a Cache backed by the Redis server at cfg.Addr. The
// connection is probed once so that misconfiguration fails at startup rather
// than degrading silently forever.
func NewRedis(ctx context.Context, cfg RedisConfig, logger hclog.Logger) (Cache, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping failed: %s", autherr.ErrCacheUnavailable, err)
	}

	return &redisCache{
		client: client,
		cfg:    cfg,
		logger: logger.Named("cache"),
		now:    time.Now,
	}, nil
}

func (c *redisCache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}

func (c *redisCache) PutToken(ctx context.Context, t *token.Token) error {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode token %s: %w", t.ID, err)
	}

	ttl := tokenTTL(t, c.now(), c.cfg.TokenTTL)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, consts.PrefixToken+t.ClientID, b, ttl)
	pipe.Set(ctx, consts.PrefixTokenID+t.ID, b, ttl)
	_, err = pipe.Exec(ctx)
	observeOp("redis", "put_token", start, err)
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *redisCache) GetTokenByClient(ctx context.Context, clientID string) (*token.Token, bool) {
	return c.getToken(ctx, consts.PrefixToken+clientID)
}

func (c *redisCache) GetTokenByID(ctx context.Context, id string) (*token.Token, bool) {
	return c.getToken(ctx, consts.PrefixTokenID+id)
}

func (c *redisCache) getToken(ctx context.Context, key string) (*token.Token, bool) {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	observeOp("redis", "get_token", start, ignoreNil(err))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("cache read failed, degrading to miss", "key", key, "error", err)
		}
		return nil, false
	}

	var t token.Token
	if err := json.Unmarshal(val, &t); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil, false
	}

	// A hit is authoritative only while the token itself is alive.
	if t.Expired(c.now()) {
		c.client.Del(ctx, consts.PrefixToken+t.ClientID, consts.PrefixTokenID+t.ID)
		return nil, false
	}
	return &t, true
}

func (c *redisCache) InvalidateClient(ctx context.Context, clientID string) error {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	keys := []string{
		consts.PrefixToken + clientID,
		consts.PrefixCredential + clientID,
	}
	// The token-id key is only reachable through the stored token.
	if val, err := c.client.Get(ctx, consts.PrefixToken+clientID).Bytes(); err == nil {
		var t token.Token
		if err := json.Unmarshal(val, &t); err == nil && t.ID != "" {
			keys = append(keys, consts.PrefixTokenID+t.ID)
		}
	}

	err := c.client.Del(ctx, keys...).Err()
	observeOp("redis", "invalidate_client", start, err)
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *redisCache) InvalidateTokenByID(ctx context.Context, id string) error {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	err := c.client.Del(ctx, consts.PrefixTokenID+id).Err()
	observeOp("redis", "invalidate_token", start, err)
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *redisCache) InvalidateTokensBatch(ctx context.Context, ids []string) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout*2)
	defer cancel()

	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.client.Del(ctx, consts.PrefixTokenID+id).Err(); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("token %s: %w", id, err))
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	err := errs.ErrorOrNil()
	observeOp("redis", "invalidate_batch", start, err)
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *redisCache) PutCredential(ctx context.Context, r *credentials.Record) error {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	cached := *r
	cached.CachedAt = c.now()
	b, err := cached.Encode()
	if err != nil {
		return err
	}

	ttl := credentialTTL(r, c.now(), c.cfg.CredentialTTL)
	err = c.client.Set(ctx, consts.PrefixCredential+r.ClientID, b, ttl).Err()
	observeOp("redis", "put_credential", start, err)
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *redisCache) GetCredential(ctx context.Context, clientID string) (*credentials.Record, bool) {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	val, err := c.client.Get(ctx, consts.PrefixCredential+clientID).Bytes()
	observeOp("redis", "get_credential", start, ignoreNil(err))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("cache read failed, degrading to miss", "client_id", clientID, "error", err)
		}
		return nil, false
	}

	r, err := credentials.DecodeRecord(val)
	if err != nil {
		c.logger.Warn("dropping undecodable credential entry", "client_id", clientID, "error", err)
		c.client.Del(ctx, consts.PrefixCredential+clientID)
		return nil, false
	}
	return r, true
}

func (c *redisCache) InvalidateCredential(ctx context.Context, clientID string) error {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	err := c.client.Del(ctx, consts.PrefixCredential+clientID).Err()
	observeOp("redis", "invalidate_credential", start, err)
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *redisCache) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	err := c.client.Set(ctx, key, "1", markerTTL(ttl)).Err()
	observeOp("redis", "set_marker", start, err)
	if err != nil {
		return fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *redisCache) HasMarker(ctx context.Context, key string) bool {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	val, err := c.client.Get(ctx, key).Result()
	observeOp("redis", "has_marker", start, ignoreNil(err))
	if err != nil {
		return false
	}
	return val == "1"
}

func (c *redisCache) IncrCounter(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	n, err := c.client.Incr(ctx, key).Result()
	observeOp("redis", "incr_counter", start, err)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return n, nil
}

func (c *redisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	n, err := c.client.Get(ctx, key).Int64()
	observeOp("redis", "get_counter", start, ignoreNil(err))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %s", autherr.ErrCacheUnavailable, err)
	}
	return n, nil
}

// ignoreNil keeps redis.Nil misses out of the error metrics.
func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
	"github.com/payment-platform/authgate/internal/token"
)

const memoryCacheSize = 4096

// memEntry carries its own deadline; the LRU's fixed TTL is only a backstop
// against unbounded retention.
type memEntry struct {
	data      []byte
	expiresAt time.Time
}

var _ Cache = (*memoryCache)(nil)

// memoryCache is the in-process Cache used when no Redis address is
// configured, and in tests. Single node only: revocation markers and
// counters do not survive a restart.
type memoryCache struct {
	lru    *expirable.LRU[string, memEntry]
	logger hclog.Logger
	now    func() time.Time

	tokenTTL time.Duration
	credTTL  time.Duration

	mu       sync.Mutex
	counters map[string]int64
}

// NewMemory returns an in-process Cache with LRU eviction.
func NewMemory(tokenTTL, credentialTTL time.Duration, logger hclog.Logger) Cache {
	if tokenTTL <= 0 {
		tokenTTL = consts.DefaultTokenTTL
	}
	if credentialTTL <= 0 {
		credentialTTL = consts.DefaultCredentialTTL
	}
	return &memoryCache{
		lru:      expirable.NewLRU[string, memEntry](memoryCacheSize, nil, time.Hour),
		logger:   logger.Named("cache"),
		now:      time.Now,
		tokenTTL: tokenTTL,
		credTTL:  credentialTTL,
		counters: make(map[string]int64),
	}
}

func (c *memoryCache) set(key string, data []byte, ttl time.Duration) {
	c.lru.Add(key, memEntry{data: data, expiresAt: c.now().Add(ttl)})
}

func (c *memoryCache) get(key string) ([]byte, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.data, true
}

func (c *memoryCache) PutToken(_ context.Context, t *token.Token) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ttl := tokenTTL(t, c.now(), c.tokenTTL)
	c.set(consts.PrefixToken+t.ClientID, b, ttl)
	c.set(consts.PrefixTokenID+t.ID, b, ttl)
	return nil
}

func (c *memoryCache) GetTokenByClient(ctx context.Context, clientID string) (*token.Token, bool) {
	return c.getToken(consts.PrefixToken + clientID)
}

func (c *memoryCache) GetTokenByID(ctx context.Context, id string) (*token.Token, bool) {
	return c.getToken(consts.PrefixTokenID + id)
}

func (c *memoryCache) getToken(key string) (*token.Token, bool) {
	b, ok := c.get(key)
	if !ok {
		return nil, false
	}
	var t token.Token
	if err := json.Unmarshal(b, &t); err != nil {
		c.lru.Remove(key)
		return nil, false
	}
	if t.Expired(c.now()) {
		c.lru.Remove(consts.PrefixToken + t.ClientID)
		c.lru.Remove(consts.PrefixTokenID + t.ID)
		return nil, false
	}
	return &t, true
}

func (c *memoryCache) InvalidateClient(_ context.Context, clientID string) error {
	if b, ok := c.get(consts.PrefixToken + clientID); ok {
		var t token.Token
		if err := json.Unmarshal(b, &t); err == nil && t.ID != "" {
			c.lru.Remove(consts.PrefixTokenID + t.ID)
		}
	}
	c.lru.Remove(consts.PrefixToken + clientID)
	c.lru.Remove(consts.PrefixCredential + clientID)
	return nil
}

func (c *memoryCache) InvalidateTokenByID(_ context.Context, id string) error {
	c.lru.Remove(consts.PrefixTokenID + id)
	return nil
}

func (c *memoryCache) InvalidateTokensBatch(ctx context.Context, ids []string) error {
	for _, id := range ids {
		c.lru.Remove(consts.PrefixTokenID + id)
	}
	return nil
}

func (c *memoryCache) PutCredential(_ context.Context, r *credentials.Record) error {
	cached := *r
	cached.CachedAt = c.now()
	b, err := cached.Encode()
	if err != nil {
		return err
	}
	c.set(consts.PrefixCredential+r.ClientID, b, credentialTTL(r, c.now(), c.credTTL))
	return nil
}

func (c *memoryCache) GetCredential(_ context.Context, clientID string) (*credentials.Record, bool) {
	b, ok := c.get(consts.PrefixCredential + clientID)
	if !ok {
		return nil, false
	}
	r, err := credentials.DecodeRecord(b)
	if err != nil {
		c.lru.Remove(consts.PrefixCredential + clientID)
		return nil, false
	}
	return r, true
}

func (c *memoryCache) InvalidateCredential(_ context.Context, clientID string) error {
	c.lru.Remove(consts.PrefixCredential + clientID)
	return nil
}

func (c *memoryCache) SetMarker(_ context.Context, key string, ttl time.Duration) error {
	c.set(key, []byte("1"), markerTTL(ttl))
	return nil
}

func (c *memoryCache) HasMarker(_ context.Context, key string) bool {
	_, ok := c.get(key)
	return ok
}

func (c *memoryCache) IncrCounter(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *memoryCache) GetCounter(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key], nil
}

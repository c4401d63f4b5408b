// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
	"github.com/payment-platform/authgate/internal/token"
)

func newRedisCache(t *testing.T) Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), RedisConfig{
		Addr:      srv.Addr(),
		OpTimeout: time.Second,
	}, hclog.NewNullLogger())
	require.NoError(t, err)
	return c
}

// backends runs the same assertions against both Cache implementations.
func backends(t *testing.T, fn func(t *testing.T, c Cache)) {
	t.Helper()
	t.Run("redis", func(t *testing.T) {
		fn(t, newRedisCache(t))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory(0, 0, hclog.NewNullLogger()))
	})
}

func testToken(clientID string, ttl time.Duration) *token.Token {
	now := time.Now().UTC()
	return &token.Token{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		Permissions: token.DefaultPermissions,
		Raw:         "header.payload.signature",
	}
}

func testRecord(clientID string) *credentials.Record {
	now := time.Now().UTC()
	return &credentials.Record{
		ClientID: clientID,
		Credentials: []*credentials.Credential{
			{
				ClientID:      clientID,
				HashedSecret:  "$2a$10$fakefakefakefakefakefakefakefakefakefakefakefakefakef",
				Version:       "00000000000000000001",
				Active:        true,
				RotationState: credentials.RotationStateNormal,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
		},
		UpdatedAt: now,
	}
}

func Test_Cache_tokens(t *testing.T) {
	backends(t, func(t *testing.T, c Cache) {
		ctx := context.Background()
		tok := testToken("vendor-1", time.Hour)
		require.NoError(t, c.PutToken(ctx, tok))

		byClient, ok := c.GetTokenByClient(ctx, "vendor-1")
		require.True(t, ok)
		assert.Equal(t, tok.ID, byClient.ID)

		byID, ok := c.GetTokenByID(ctx, tok.ID)
		require.True(t, ok)
		assert.Equal(t, tok.ClientID, byID.ClientID)

		_, ok = c.GetTokenByClient(ctx, "vendor-2")
		assert.False(t, ok)
	})
}

func Test_Cache_expiredTokenIsAMiss(t *testing.T) {
	backends(t, func(t *testing.T, c Cache) {
		ctx := context.Background()
		tok := testToken("vendor-1", -time.Minute)
		require.NoError(t, c.PutToken(ctx, tok))

		_, ok := c.GetTokenByClient(ctx, "vendor-1")
		assert.False(t, ok, "expired entries never surface")

		// The expired hit removes both key forms.
		_, ok = c.GetTokenByID(ctx, tok.ID)
		assert.False(t, ok)
	})
}

func Test_Cache_InvalidateClient(t *testing.T) {
	backends(t, func(t *testing.T, c Cache) {
		ctx := context.Background()
		tok := testToken("vendor-1", time.Hour)
		require.NoError(t, c.PutToken(ctx, tok))
		require.NoError(t, c.PutCredential(ctx, testRecord("vendor-1")))

		require.NoError(t, c.InvalidateClient(ctx, "vendor-1"))

		_, ok := c.GetTokenByClient(ctx, "vendor-1")
		assert.False(t, ok)
		_, ok = c.GetTokenByID(ctx, tok.ID)
		assert.False(t, ok, "token-id key resolved through the stored token")
		_, ok = c.GetCredential(ctx, "vendor-1")
		assert.False(t, ok)
	})
}

func Test_Cache_InvalidateTokensBatch(t *testing.T) {
	backends(t, func(t *testing.T, c Cache) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 5; i++ {
			tok := testToken(fmt.Sprintf("vendor-%d", i), time.Hour)
			require.NoError(t, c.PutToken(ctx, tok))
			ids = append(ids, tok.ID)
		}

		require.NoError(t, c.InvalidateTokensBatch(ctx, ids))
		for _, id := range ids {
			_, ok := c.GetTokenByID(ctx, id)
			assert.False(t, ok)
		}
	})
}

func Test_Cache_credentials(t *testing.T) {
	backends(t, func(t *testing.T, c Cache) {
		ctx := context.Background()
		rec := testRecord("vendor-1")
		require.NoError(t, c.PutCredential(ctx, rec))

		got, ok := c.GetCredential(ctx, "vendor-1")
		require.True(t, ok)
		assert.Equal(t, rec.ClientID, got.ClientID)
		assert.False(t, got.CachedAt.IsZero(), "cache stamps the record")

		require.NoError(t, c.InvalidateCredential(ctx, "vendor-1"))
		_, ok = c.GetCredential(ctx, "vendor-1")
		assert.False(t, ok)
	})
}

func Test_Cache_markers(t *testing.T) {
	backends(t, func(t *testing.T, c Cache) {
		ctx := context.Background()
		key := consts.PrefixRevoked + "some-token-id"

		assert.False(t, c.HasMarker(ctx, key))
		require.NoError(t, c.SetMarker(ctx, key, time.Minute))
		assert.True(t, c.HasMarker(ctx, key))
	})
}

func Test_Cache_counters(t *testing.T) {
	backends(t, func(t *testing.T, c Cache) {
		ctx := context.Background()
		key := consts.PrefixRotation + "vendor-1:00000000000000000001"

		n, err := c.GetCounter(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, n, "absent counter reads zero")

		for i := int64(1); i <= 3; i++ {
			n, err = c.IncrCounter(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}

		n, err = c.GetCounter(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func Test_Cache_redisOutageDegradesToMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := miniredis.RunT(t)
	c, err := NewRedis(ctx, RedisConfig{Addr: srv.Addr(), OpTimeout: 100 * time.Millisecond},
		hclog.NewNullLogger())
	require.NoError(t, err)

	tok := testToken("vendor-1", time.Hour)
	require.NoError(t, c.PutToken(ctx, tok))

	srv.Close()

	_, ok := c.GetTokenByClient(ctx, "vendor-1")
	assert.False(t, ok, "reads degrade to a miss")
	assert.False(t, c.HasMarker(ctx, "revoked:x"))

	assert.Error(t, c.PutToken(ctx, tok), "writes surface the outage")
	_, err = c.IncrCounter(ctx, "k")
	assert.Error(t, err)
}

func Test_Cache_redisTTLs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := miniredis.RunT(t)
	c, err := NewRedis(ctx, RedisConfig{Addr: srv.Addr(), OpTimeout: time.Second},
		hclog.NewNullLogger())
	require.NoError(t, err)

	tok := testToken("vendor-1", time.Hour)
	require.NoError(t, c.PutToken(ctx, tok))

	ttl := srv.TTL(consts.PrefixToken + "vendor-1")
	assert.InDelta(t, (time.Hour - consts.TokenCacheTTLMargin).Seconds(), ttl.Seconds(), 5,
		"token TTL tracks remaining lifetime minus the margin")

	require.NoError(t, c.SetMarker(ctx, "revoked:x", time.Second))
	assert.GreaterOrEqual(t, srv.TTL("revoked:x"), consts.MinCacheTTL,
		"marker TTL is floored")

	// Entries vanish once the clock passes the TTL.
	srv.FastForward(2 * time.Hour)
	_, ok := c.GetTokenByClient(ctx, "vendor-1")
	assert.False(t, ok)
}

func Test_Cache_redisConfiguredTokenTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := miniredis.RunT(t)
	c, err := NewRedis(ctx, RedisConfig{
		Addr:      srv.Addr(),
		OpTimeout: time.Second,
		TokenTTL:  time.Minute,
	}, hclog.NewNullLogger())
	require.NoError(t, err)

	// A long-lived token is bounded by the configured TTL.
	require.NoError(t, c.PutToken(ctx, testToken("vendor-1", time.Hour)))
	assert.InDelta(t, time.Minute.Seconds(),
		srv.TTL(consts.PrefixToken+"vendor-1").Seconds(), 5,
		"configured TTL bounds cache residency")

	// A token expiring sooner is capped by its own lifetime instead.
	require.NoError(t, c.PutToken(ctx, testToken("vendor-2", 45*time.Second)))
	assert.InDelta(t, (45*time.Second - consts.TokenCacheTTLMargin).Seconds(),
		srv.TTL(consts.PrefixToken+"vendor-2").Seconds(), 5)
}

func Test_NewRedis_badAddr(t *testing.T) {
	t.Parallel()

	_, err := NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1"},
		hclog.NewNullLogger())
	assert.Error(t, err)
}

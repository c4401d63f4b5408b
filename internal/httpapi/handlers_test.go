// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payment-platform/authgate/internal/auth"
	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/cache"
	"github.com/payment-platform/authgate/internal/config"
	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
	"github.com/payment-platform/authgate/internal/rotation"
	"github.com/payment-platform/authgate/internal/token"
)

// fakeVault covers both the resolver's credential reads and the rotation
// controller's storage needs.
type fakeVault struct {
	mu    sync.Mutex
	creds map[string]*credentials.Record
	docs  map[string][]byte
	locks map[string]string
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		creds: make(map[string]*credentials.Record),
		docs:  make(map[string][]byte),
		locks: make(map[string]string),
	}
}

func (f *fakeVault) ReadCredential(_ context.Context, clientID string) (*credentials.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.creds[clientID]
	if !ok {
		return nil, autherr.ErrNotFound
	}
	b, _ := rec.Encode()
	cp, _ := credentials.DecodeRecord(b)
	return cp, nil
}

func (f *fakeVault) WriteCredential(_ context.Context, rec *credentials.Record) error {
	if err := rec.Check(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := rec.Encode()
	cp, _ := credentials.DecodeRecord(b)
	f.creds[rec.ClientID] = cp
	return nil
}

func (f *fakeVault) ReadJSON(_ context.Context, path string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.docs[path]
	if !ok {
		return autherr.ErrNotFound
	}
	return json.Unmarshal(b, out)
}

func (f *fakeVault) WriteJSON(_ context.Context, path string, in interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = b
	return nil
}

func (f *fakeVault) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, path)
	return nil
}

func (f *fakeVault) List(_ context.Context, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for k := range f.docs {
		if strings.HasPrefix(k, path+"/") {
			names = append(names, strings.TrimPrefix(k, path+"/"))
		}
	}
	return names, nil
}

func (f *fakeVault) AcquireLock(_ context.Context, clientID, owner string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if held, ok := f.locks[clientID]; ok && held != owner {
		return autherr.ErrConflict
	}
	f.locks[clientID] = owner
	return nil
}

func (f *fakeVault) ReleaseLock(_ context.Context, clientID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, clientID)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeVault) {
	t.Helper()
	logger := hclog.NewNullLogger()
	vault := newFakeVault()
	store := cache.NewMemory(0, 0, logger)

	hash, err := credentials.HashSecret("s3cret")
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, vault.WriteCredential(context.Background(), &credentials.Record{
		ClientID: "vendor-1",
		Credentials: []*credentials.Credential{
			{
				ClientID:      "vendor-1",
				HashedSecret:  hash,
				Version:       "00000000000000000001",
				Active:        true,
				RotationState: credentials.RotationStateNormal,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
		},
		UpdatedAt: now,
	}))

	resolver, err := credentials.NewResolver(vault, store, store, logger)
	require.NoError(t, err)

	keys, err := token.NewKeyring([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	engine, err := token.NewEngine(token.EngineConfig{
		TTL:      time.Hour,
		Issuer:   "payment-auth-gateway",
		Audience: "payment-api",
	}, keys, store, logger)
	require.NoError(t, err)

	svc, err := auth.NewService(resolver, engine, store, 2*time.Second, logger)
	require.NoError(t, err)

	rot, err := rotation.NewController(vault, store, store, rotation.NewLogSink(logger),
		config.Rotation{
			TransitionPeriod:  time.Hour,
			DeprecationWindow: time.Hour,
			CheckInterval:     time.Minute,
		}, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(New(svc, rot, logger).Routes())
	t.Cleanup(srv.Close)
	return srv, vault
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(b)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func obtainToken(t *testing.T, srv *httptest.Server) tokenEnvelope {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/v1/auth/token",
		credentialRequest{ClientID: "vendor-1", ClientSecret: "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env tokenEnvelope
	decode(t, resp, &env)
	return env
}

func Test_Handler_issueToken(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	env := obtainToken(t, srv)
	assert.NotEmpty(t, env.Token)
	assert.Equal(t, "Bearer", env.TokenType)
	assert.True(t, env.ExpiresAt.After(time.Now()))

	t.Run("wrong-secret-401", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/v1/auth/token",
			credentialRequest{ClientID: "vendor-1", ClientSecret: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body map[string]string
		decode(t, resp, &body)
		assert.NotContains(t, body["error"], "vendor-1", "error body stays generic")
	})

	t.Run("unknown-client-401", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/v1/auth/token",
			credentialRequest{ClientID: "vendor-9", ClientSecret: "s3cret"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("blank-400", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/v1/auth/token", credentialRequest{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed-body-400", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/v1/auth/token", "application/json",
			strings.NewReader("{not json"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func Test_Handler_issueHeaderToken(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/auth/header-token", nil)
	require.NoError(t, err)
	req.Header.Set(consts.HeaderClientID, "vendor-1")
	req.Header.Set(consts.HeaderClientSecret, "s3cret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("missing-headers-400", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/auth/header-token", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func Test_Handler_validate(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	env := obtainToken(t, srv)

	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "valid-wrapped", body: fmt.Sprintf(`{"token":%q}`, env.Token), want: true},
		{name: "valid-bare", body: env.Token, want: true},
		{name: "garbage", body: "garbage", want: false},
		{name: "empty", body: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/auth/validate", "application/json",
				strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode, "validate always answers 200")

			var body map[string]bool
			decode(t, resp, &body)
			assert.Equal(t, tt.want, body["valid"])
		})
	}
}

func Test_Handler_refresh(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	env := obtainToken(t, srv)

	resp := postJSON(t, srv.URL+"/api/v1/auth/refresh", map[string]string{"token": env.Token})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got tokenEnvelope
	decode(t, resp, &got)
	assert.Equal(t, env.Token, got.Token, "fresh token passes through")

	t.Run("garbage-401", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/v1/auth/refresh", map[string]string{"token": "garbage"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func Test_Handler_tokenStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	env := obtainToken(t, srv)

	var parsed struct {
		Valid     bool  `json:"valid"`
		ExpiresIn int64 `json:"expires_in"`
	}

	// Unknown id: valid=false, still 200.
	resp, err := http.Get(srv.URL + "/api/v1/auth/status/unknown-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &parsed)
	assert.False(t, parsed.Valid)

	// Real id: extract from the JWT payload claims.
	id := tokenID(t, env.Token)
	resp2, err := http.Get(srv.URL + "/api/v1/auth/status/" + id)
	require.NoError(t, err)
	defer resp2.Body.Close()
	decode(t, resp2, &parsed)
	assert.True(t, parsed.Valid)
	assert.Greater(t, parsed.ExpiresIn, int64(3000))
}

func Test_Handler_revokeClient(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	env := obtainToken(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/clients/vendor-1/tokens", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]bool
	decode(t, resp, &body)
	assert.True(t, body["revoked"])

	// The revoked token no longer validates.
	vresp, err := http.Post(srv.URL+"/api/v1/auth/validate", "application/json",
		strings.NewReader(env.Token))
	require.NoError(t, err)
	defer vresp.Body.Close()
	var valid map[string]bool
	decode(t, vresp, &valid)
	assert.False(t, valid["valid"])
}

func Test_Handler_rotation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/rotation/vendor-1",
		startRotationRequest{Reason: "scheduled"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started startRotationResponse
	decode(t, resp, &started)
	assert.NotEmpty(t, started.Secret)
	assert.Equal(t, credentials.RotationStateDualActive, started.Rotation.State)

	t.Run("new-secret-authenticates", func(t *testing.T) {
		r := postJSON(t, srv.URL+"/api/v1/auth/token",
			credentialRequest{ClientID: "vendor-1", ClientSecret: started.Secret})
		assert.Equal(t, http.StatusOK, r.StatusCode)
	})

	t.Run("status", func(t *testing.T) {
		r, err := http.Get(srv.URL + "/api/v1/rotation/vendor-1")
		require.NoError(t, err)
		defer r.Body.Close()
		assert.Equal(t, http.StatusOK, r.StatusCode)

		var rec rotation.Record
		decode(t, r, &rec)
		assert.Equal(t, credentials.RotationStateDualActive, rec.State)
	})

	t.Run("double-start-409", func(t *testing.T) {
		r := postJSON(t, srv.URL+"/api/v1/rotation/vendor-1", startRotationRequest{})
		assert.Equal(t, http.StatusConflict, r.StatusCode)
	})

	t.Run("advance-early-noop", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/rotation/vendor-1/advance", nil)
		require.NoError(t, err)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer r.Body.Close()
		assert.Equal(t, http.StatusOK, r.StatusCode)

		var rec rotation.Record
		decode(t, r, &rec)
		assert.Equal(t, credentials.RotationStateDualActive, rec.State)
	})

	t.Run("abort-204", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/rotation/vendor-1", nil)
		require.NoError(t, err)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer r.Body.Close()
		assert.Equal(t, http.StatusNoContent, r.StatusCode)
	})

	t.Run("status-unknown-404", func(t *testing.T) {
		r, err := http.Get(srv.URL + "/api/v1/rotation/vendor-9")
		require.NoError(t, err)
		defer r.Body.Close()
		assert.Equal(t, http.StatusNotFound, r.StatusCode)
	})
}

func Test_Handler_correlationID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(consts.HeaderCorrelationID), "generated when absent")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(consts.HeaderCorrelationID, "caller-supplied")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "caller-supplied", resp2.Header.Get(consts.HeaderCorrelationID), "echoed back")
}

func Test_Handler_metrics(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	obtainToken(t, srv)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// tokenID extracts the jti claim from a serialized JWS payload.
func tokenID(t *testing.T, raw string) string {
	t.Helper()
	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims struct {
		ID string `json:"jti"`
	}
	require.NoError(t, json.Unmarshal(payload, &claims))
	return claims.ID
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package httpapi exposes the gateway's HTTP surface: the vendor-facing
// token endpoints, the operator rotation endpoints, and the metrics and
// health probes. Handlers stay thin; all policy lives in the auth service
// and the rotation controller.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/payment-platform/authgate/internal/auth"
	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/metrics"
	"github.com/payment-platform/authgate/internal/rotation"
	"github.com/payment-platform/authgate/internal/token"
)

// maxBodyBytes bounds request bodies; tokens and credentials are small.
const maxBodyBytes = 64 * 1024

// Handler serves the gateway API.
type Handler struct {
	auth     *auth.Service
	rotation *rotation.Controller
	logger   hclog.Logger
}

// New returns a Handler over the given services.
func New(authSvc *auth.Service, rot *rotation.Controller, logger hclog.Logger) *Handler {
	return &Handler{
		auth:     authSvc,
		rotation: rot,
		logger:   logger.Named("http"),
	}
}

// Routes builds the full router with middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/token", h.issueToken)
	mux.HandleFunc("POST /api/v1/auth/header-token", h.issueHeaderToken)
	mux.HandleFunc("POST /api/v1/auth/validate", h.validateToken)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.refreshToken)
	mux.HandleFunc("GET /api/v1/auth/status/{id}", h.tokenStatus)

	mux.HandleFunc("POST /api/v1/rotation/{client_id}", h.startRotation)
	mux.HandleFunc("POST /api/v1/rotation/{client_id}/advance", h.advanceRotation)
	mux.HandleFunc("DELETE /api/v1/rotation/{client_id}", h.abortRotation)
	mux.HandleFunc("GET /api/v1/rotation/{client_id}", h.rotationStatus)

	mux.HandleFunc("DELETE /api/v1/clients/{client_id}/tokens", h.revokeClient)

	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return withCorrelation(withLogging(h.logger, mux))
}

// tokenEnvelope is the response body for every endpoint returning a token.
type tokenEnvelope struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
}

func envelope(t *token.Token) tokenEnvelope {
	return tokenEnvelope{Token: t.Raw, ExpiresAt: t.ExpiresAt, TokenType: "Bearer"}
}

type credentialRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, autherr.ErrInvalidInput)
		return
	}

	t, err := h.auth.Authenticate(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(t))
}

func (h *Handler) issueHeaderToken(w http.ResponseWriter, r *http.Request) {
	t, err := h.auth.AuthenticateHeaders(r.Context(), r.Header)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(t))
}

func (h *Handler) validateToken(w http.ResponseWriter, r *http.Request) {
	raw, err := readTokenBody(r)
	if err != nil {
		// validate always answers 200; a malformed body is just invalid.
		h.writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
		return
	}
	valid := h.auth.ValidateToken(r.Context(), raw)
	h.writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	raw, err := readTokenBody(r)
	if err != nil {
		h.writeError(w, r, autherr.ErrInvalidInput)
		return
	}
	t, err := h.auth.Refresh(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(t))
}

func (h *Handler) tokenStatus(w http.ResponseWriter, r *http.Request) {
	valid, remaining := h.auth.TokenStatus(r.Context(), r.PathValue("id"))
	resp := map[string]interface{}{"valid": valid}
	if valid {
		resp["expires_in"] = int64(remaining.Seconds())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) revokeClient(w http.ResponseWriter, r *http.Request) {
	had, err := h.auth.RevokeClient(r.Context(), r.PathValue("client_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"revoked": had})
}

type startRotationRequest struct {
	Reason string `json:"reason"`
}

// startRotationResponse carries the generated secret exactly once.
type startRotationResponse struct {
	Rotation *rotation.Record `json:"rotation"`
	Secret   string           `json:"secret"`
}

func (h *Handler) startRotation(w http.ResponseWriter, r *http.Request) {
	var req startRotationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, autherr.ErrInvalidInput)
		return
	}

	rec, secret, err := h.rotation.StartRotation(r.Context(), r.PathValue("client_id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, startRotationResponse{Rotation: rec, Secret: secret})
}

func (h *Handler) advanceRotation(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if err := h.rotation.Advance(r.Context(), clientID); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.rotation.Status(r.Context(), clientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) abortRotation(w http.ResponseWriter, r *http.Request) {
	if err := h.rotation.Abort(r.Context(), r.PathValue("client_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotationStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.rotation.Status(r.Context(), r.PathValue("client_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func readTokenBody(r *http.Request) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(b) == 0 {
		return "", autherr.ErrInvalidInput
	}
	// Accept either a bare token string or {"token": "..."}.
	var wrapped struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(b, &wrapped) == nil && wrapped.Token != "" {
		return wrapped.Token, nil
	}
	return string(b), nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps err to the taxonomy status and a generic body; details
// stay in the logs keyed by correlation id.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := autherr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"correlation_id", correlationID(r.Context()))
	} else {
		h.logger.Warn("request rejected", "path", r.URL.Path, "status", status,
			"correlation_id", correlationID(r.Context()))
	}
	h.writeJSON(w, status, map[string]string{"error": autherr.Message(err)})
}

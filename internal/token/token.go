// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package token implements issuance, validation, renewal, and revocation of
// the signed bearer tokens used for internal service-to-service calls.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultPermissions are granted when an issue request carries none.
var DefaultPermissions = []string{"process_payment", "view_status"}

// Token is a parsed bearer token. Raw holds the serialized JWS form
// (<header>.<payload>.<signature>).
type Token struct {
	ID          string    `json:"token_id"`
	ClientID    string    `json:"client_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Permissions []string  `json:"permissions"`
	Raw         string    `json:"raw"`
}

// Expired reports whether the token's lifetime has passed at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Remaining returns the token's remaining lifetime at now, never negative.
func (t *Token) Remaining(now time.Time) time.Duration {
	if t.Expired(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// Signature returns the detached signature segment of the serialized token.
func (t *Token) Signature() string {
	parts := strings.Split(t.Raw, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// Claims is the JWT claim set carried by every issued token.
type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

func (c *Claims) toToken(raw string) *Token {
	t := &Token{
		ID:          c.ID,
		ClientID:    c.Subject,
		Permissions: c.Permissions,
		Raw:         raw,
	}
	if c.IssuedAt != nil {
		t.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt.Time
	}
	return t
}

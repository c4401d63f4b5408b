// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package credentials defines the client credential model and the resolver
// that authenticates presented secrets against the vault's records.
package credentials

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// RotationState tracks where a credential version stands in the rotation
// state machine.
type RotationState string

const (
	RotationStateNormal        RotationState = "NORMAL"
	RotationStateInitiated     RotationState = "INITIATED"
	RotationStateDualActive    RotationState = "DUAL_ACTIVE"
	RotationStateOldDeprecated RotationState = "OLD_DEPRECATED"
	RotationStateRetired       RotationState = "RETIRED"
)

// Credential is a single versioned secret for a client. The secret itself is
// never stored; only its salted bcrypt hash is.
type Credential struct {
	ClientID      string        `json:"client_id"`
	HashedSecret  string        `json:"hashed_secret"`
	Version       string        `json:"version"`
	Active        bool          `json:"active"`
	RotationState RotationState `json:"rotation_state"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

// Expired reports whether the credential's expiry has passed at now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Acceptable reports whether the credential may authenticate at now. An
// inactive, expired, or retired credential never authenticates. An INITIATED
// credential exists in the vault but is not yet advertised.
func (c *Credential) Acceptable(now time.Time) bool {
	if !c.Active || c.Expired(now) {
		return false
	}
	switch c.RotationState {
	case RotationStateNormal, RotationStateDualActive, RotationStateOldDeprecated:
		return true
	default:
		return false
	}
}

// Matches compares the presented secret against the stored hash. bcrypt's
// comparison is constant-time with respect to the hash contents.
func (c *Credential) Matches(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.HashedSecret), []byte(secret)) == nil
}

// Record is the authoritative vault document for one client: all of its
// credential versions, retired ones included for audit.
type Record struct {
	ClientID    string        `json:"client_id"`
	Credentials []*Credential `json:"credentials"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// cachedAt is set when the record was populated from the cache rather
	// than the vault, so fallback reads can honor the cache TTL locally.
	CachedAt time.Time `json:"cached_at,omitempty"`
}

// Acceptable returns the credential versions allowed to authenticate at now,
// newest first. During a rotation window this is the new and the old secret;
// otherwise it is the single active one.
func (r *Record) Acceptable(now time.Time) []*Credential {
	var out []*Credential
	for _, c := range r.Credentials {
		if c.Acceptable(now) {
			out = append(out, c)
		}
	}
	// newest version first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Version > out[i].Version {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Find returns the credential with the given version, or nil.
func (r *Record) Find(version string) *Credential {
	for _, c := range r.Credentials {
		if c.Version == version {
			return c
		}
	}
	return nil
}

// Check verifies the record's structural invariants: at most one credential
// per version, and at most two simultaneously in a rotation window.
func (r *Record) Check() error {
	if r.ClientID == "" {
		return fmt.Errorf("credential record has no client_id")
	}
	seen := make(map[string]bool, len(r.Credentials))
	rotating := 0
	for _, c := range r.Credentials {
		if c.ClientID != r.ClientID {
			return fmt.Errorf("credential %s/%s does not belong to record %s",
				c.ClientID, c.Version, r.ClientID)
		}
		if seen[c.Version] {
			return fmt.Errorf("duplicate credential version %q for client %s",
				c.Version, r.ClientID)
		}
		seen[c.Version] = true
		switch c.RotationState {
		case RotationStateDualActive, RotationStateOldDeprecated:
			rotating++
		}
	}
	if rotating > 2 {
		return fmt.Errorf("client %s has %d credentials in a rotation window, at most 2 allowed",
			r.ClientID, rotating)
	}
	return nil
}

// Encode serializes the record for vault or cache storage.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord deserializes a record and checks its invariants.
func DecodeRecord(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode credential record: %w", err)
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return &r, nil
}

// HashSecret produces the salted bcrypt hash stored in place of the secret.
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(b), nil
}

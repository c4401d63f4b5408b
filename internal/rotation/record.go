// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package rotation orchestrates credential rollover through the dual-active
// and deprecation windows, so a client's secret can be replaced without a
// moment where neither secret authenticates.
package rotation

import (
	"time"

	"github.com/payment-platform/authgate/internal/credentials"
)

// Record tracks one rotation from start to completion. Exactly one active
// rotation exists per client; the vault advisory lock enforces it across
// gateway instances.
type Record struct {
	ClientID string                    `json:"client_id"`
	State    credentials.RotationState `json:"state"`
	Reason   string                    `json:"reason,omitempty"`

	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`

	StartedAt time.Time `json:"started_at"`
	// TransitionDeadline is when the current state becomes eligible for
	// advancement.
	TransitionDeadline time.Time  `json:"transition_deadline"`
	DeprecatedAt       *time.Time `json:"deprecated_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	// Stats counts authentications per credential version during the
	// rotation, populated from the shared counters on Status reads.
	Stats map[string]int64 `json:"stats,omitempty"`
}

// Active reports whether the rotation is still in progress.
func (r *Record) Active() bool {
	return r.CompletedAt == nil
}

// Due reports whether the record's transition deadline has passed at now.
func (r *Record) Due(now time.Time) bool {
	return !now.Before(r.TransitionDeadline)
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rotation

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/payment-platform/authgate/internal/credentials"
)

// Event describes one state transition. Alerting policy belongs to the
// monitoring collaborator; the controller only reports what happened.
type Event struct {
	ClientID   string                    `json:"client_id"`
	From       credentials.RotationState `json:"from"`
	To         credentials.RotationState `json:"to"`
	At         time.Time                 `json:"at"`
	OldVersion string                    `json:"old_version"`
	NewVersion string                    `json:"new_version"`
}

// Sink receives rotation events. Implementations must not block the
// controller.
type Sink interface {
	Emit(e Event)
}

// LogSink is the default sink: structured log line plus a transition
// counter.
type LogSink struct {
	logger hclog.Logger
}

// NewLogSink returns a Sink writing to logger.
func NewLogSink(logger hclog.Logger) *LogSink {
	return &LogSink{logger: logger.Named("rotation.events")}
}

func (s *LogSink) Emit(e Event) {
	rotationTransitions.WithLabelValues(string(e.From), string(e.To)).Inc()
	s.logger.Info("rotation transition",
		"client_id", e.ClientID,
		"from", e.From,
		"to", e.To,
		"at", e.At,
		"old_version", e.OldVersion,
		"new_version", e.NewVersion,
	)
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rotation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/payment-platform/authgate/internal/metrics"
)

const subsystemRotation = "rotation"

var (
	rotationsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemRotation,
		Name:      "started_total",
		Help:      "Total rotations started.",
	})

	rotationsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemRotation,
		Name:      "completed_total",
		Help:      "Total rotations completed.",
	})

	rotationsAborted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemRotation,
		Name:      "aborted_total",
		Help:      "Total rotations aborted.",
	})

	rotationTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemRotation,
		Name:      "transitions_total",
		Help:      "Rotation state transitions by from and to state.",
	}, []string{"from", "to"})
)

func init() {
	metrics.Registry.MustRegister(
		rotationsStarted,
		rotationsCompleted,
		rotationsAborted,
		rotationTransitions,
	)
}

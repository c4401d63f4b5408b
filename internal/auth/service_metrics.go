// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/payment-platform/authgate/internal/metrics"
)

const subsystemAuth = "auth"

var (
	authentications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemAuth,
		Name:      "requests_total",
		Help:      "Total authenticate calls by result.",
	}, []string{"result"})

	authenticateTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemAuth,
		Name:      "request_duration_seconds",
		Help:      "Authenticate call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

func init() {
	metrics.Registry.MustRegister(
		authentications,
		authenticateTime,
	)
}

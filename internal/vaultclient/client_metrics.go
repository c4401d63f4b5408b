// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package vaultclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/payment-platform/authgate/internal/metrics"
)

const subsystemVault = "vault"

var (
	vaultOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemVault,
		Name:      "operations_total",
		Help:      "Total vault operations by operation and result.",
	}, []string{"operation", "result"})

	vaultOperationTimes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemVault,
		Name:      "operation_duration_seconds",
		Help:      "Vault operation latency, retries included.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"operation"})
)

func init() {
	metrics.Registry.MustRegister(
		vaultOperations,
		vaultOperationTimes,
	)
}

func observeVaultOp(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	vaultOperations.WithLabelValues(operation, result).Inc()
	vaultOperationTimes.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

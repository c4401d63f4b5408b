// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/payment-platform/authgate/internal/metrics"
)

const subsystemCache = "cache"

var (
	cacheOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemCache,
		Name:      "operations_total",
		Help:      "Total cache operations by backend, operation, and result.",
	}, []string{"backend", "operation", "result"})

	cacheOperationTimes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemCache,
		Name:      "operation_duration_seconds",
		Help:      "Cache operation latency by backend and operation.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
	}, []string{"backend", "operation"})
)

func init() {
	metrics.Registry.MustRegister(
		cacheOperations,
		cacheOperationTimes,
	)
}

func observeOp(backend, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	cacheOperations.WithLabelValues(backend, operation, result).Inc()
	cacheOperationTimes.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package credentials

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/payment-platform/authgate/internal/metrics"
)

const subsystemResolver = "resolver"

var (
	credentialValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemResolver,
		Name:      "validations_total",
		Help:      "Total credential validations by result.",
	}, []string{"result"})

	validationsByVersion = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemResolver,
		Name:      "validations_by_version_total",
		Help:      "Successful validations by client and credential version.",
	}, []string{"client_id", "version"})

	deprecatedSecretUse = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemResolver,
		Name:      "deprecated_secret_use_total",
		Help:      "Authentications performed with a deprecated secret.",
	}, []string{"client_id", "version"})

	resolverFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemResolver,
		Name:      "cache_fallbacks_total",
		Help:      "Credential resolutions served from cache during a vault outage.",
	})
)

func init() {
	metrics.Registry.MustRegister(
		credentialValidations,
		validationsByVersion,
		deprecatedSecretUse,
		resolverFallbacks,
	)
}

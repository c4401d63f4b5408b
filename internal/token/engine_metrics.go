// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/payment-platform/authgate/internal/metrics"
)

const subsystemToken = "token"

var (
	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemToken,
		Name:      "issued_total",
		Help:      "Total tokens issued.",
	})

	tokenValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemToken,
		Name:      "validations_total",
		Help:      "Total token validations by result.",
	}, []string{"result"})

	tokenRenewals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemToken,
		Name:      "renewals_total",
		Help:      "Total token renewals.",
	})

	tokenRevocations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystemToken,
		Name:      "revocations_total",
		Help:      "Total token revocations.",
	})
)

func init() {
	metrics.Registry.MustRegister(
		tokensIssued,
		tokenValidations,
		tokenRenewals,
		tokenRevocations,
	)
}

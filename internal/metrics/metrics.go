// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace should be used for all gateway metrics.
const Namespace = "authgate"

// Registry is the process-wide metric registry, exposed on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// NewBuildInfoGauge provides the gateway's build info as a Prometheus metric.
func NewBuildInfoGauge(version, commit, date string) prometheus.Gauge {
	metric := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "build",
			Name:      "info",
			Help:      "Payment auth gateway build info.",
			ConstLabels: map[string]string{
				"version":    version,
				"git_commit": commit,
				"build_date": date,
			},
		},
	)
	metric.Set(1)

	return metric
}

package providers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"

	"github.com/grimoireapp/grimoire-server/internal/metrics"
)

// MetricsHandle pairs the registry served on /metrics with the collector
// that records into it.
type MetricsHandle struct {
	Registry  *prometheus.Registry
	Collector *metrics.Collector
}

// ProvideMetrics provides a private Prometheus registry with runtime collectors.
func ProvideMetrics(i do.Injector) (*MetricsHandle, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &MetricsHandle{
		Registry:  reg,
		Collector: metrics.NewCollector(reg),
	}, nil
}

// Package observability defines the injectable logging/metrics/tracing
// surface every long-lived component in this module is constructed with,
// mirroring the teacher's partition.Observability contract.
package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentmail/coordinator/logger"
)

// Observability is the set of cross-cutting collaborators a component needs
// to emit logs, metrics and traces without owning their lifecycle.
type Observability interface {
	Logger() *slog.Logger
	Tracer(name string) trace.Tracer
	Meter(name string) metric.Meter
	PrometheusRegisterer() prometheus.Registerer
	// PrometheusGatherer exposes the same registry PrometheusRegisterer
	// writes into, for whatever serves the /metrics endpoint (the cmd
	// layer, which owns the listener, not this package).
	PrometheusGatherer() prometheus.Gatherer
}

type factory struct {
	log      *slog.Logger
	registry *prometheus.Registry
	tp       trace.TracerProvider
	mp       metric.MeterProvider
}

// NewFactory builds a production Observability backed by a fresh Prometheus
// registry seeded with the standard Go runtime/process collectors, a no-op
// tracer provider (wire a real exporter at the process bootstrap layer,
// which is out of this module's scope) and a JSON logger built by
// logger.New at level, writing to stdout.
func NewFactory(level string) Observability {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &factory{
		log:      logger.New(level, nil),
		registry: registry,
		tp:       nooptrace.NewTracerProvider(),
		mp:       noop.NewMeterProvider(),
	}
}

func (f *factory) Logger() *slog.Logger { return f.log }

func (f *factory) Tracer(name string) trace.Tracer { return f.tp.Tracer(name) }

func (f *factory) Meter(name string) metric.Meter { return f.mp.Meter(name) }

func (f *factory) PrometheusRegisterer() prometheus.Registerer { return f.registry }

func (f *factory) PrometheusGatherer() prometheus.Gatherer { return f.registry }

// WithLogger returns a copy of obs using log in place of its current
// logger, the way the teacher's cmd package layers per-node logging
// attributes onto a shared factory.
func WithLogger(obs Observability, log *slog.Logger) Observability {
	return &relogged{Observability: obs, log: log}
}

// relogged overrides Logger() on an otherwise unmodified Observability.
type relogged struct {
	Observability
	log *slog.Logger
}

func (r *relogged) Logger() *slog.Logger { return r.log }

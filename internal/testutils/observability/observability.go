// Package observability provides a quiet Observability for tests, mirroring
// the teacher's internal/testutils/observability.Default(t) helper.
package observability

import (
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/agentmail/coordinator/observability"
)

type testObs struct {
	log *slog.Logger
	reg *prometheus.Registry
}

// Default returns an Observability suitable for tests: a text logger at
// debug level writing to t.Log, an isolated Prometheus registry and no-op
// tracing/metrics providers.
func Default(t *testing.T) observability.Observability {
	t.Helper()
	return &testObs{
		log: slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})),
		reg: prometheus.NewRegistry(),
	}
}

func (o *testObs) Logger() *slog.Logger                        { return o.log }
func (o *testObs) Tracer(name string) trace.Tracer             { return nooptrace.NewTracerProvider().Tracer(name) }
func (o *testObs) Meter(name string) metric.Meter              { return noop.NewMeterProvider().Meter(name) }
func (o *testObs) PrometheusRegisterer() prometheus.Registerer { return o.reg }
func (o *testObs) PrometheusGatherer() prometheus.Gatherer     { return o.reg }

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

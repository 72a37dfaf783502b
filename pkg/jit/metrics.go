package jit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the provider's collectors, registered on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	compiled     prometheus.Counter
	notBuildable *prometheus.CounterVec
	failed       prometheus.Counter
	generation   prometheus.Histogram
	codeBytes    prometheus.Gauge
	evaluations  prometheus.Counter
}

func newMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		compiled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copyjit",
			Name:      "compiled_expressions_total",
			Help:      "Expressions rebound to generated code.",
		}),
		notBuildable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copyjit",
			Name:      "not_buildable_total",
			Help:      "Expressions left with the interpreter, by first unsupported opcode.",
		}, []string{"opcode"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copyjit",
			Name:      "compile_errors_total",
			Help:      "Compilations aborted by an error.",
		}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "copyjit",
			Name:      "generation_seconds",
			Help:      "Time spent sizing, emitting and sealing code.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		codeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "copyjit",
			Name:      "code_bytes",
			Help:      "Bytes of generated code currently mapped.",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copyjit",
			Name:      "native_evaluations_total",
			Help:      "Evaluations through wrapped entry points.",
		}),
	}
	m.Registry.MustRegister(m.compiled, m.notBuildable, m.failed, m.generation, m.codeBytes, m.evaluations)
	return m
}

// Package metrics holds the Prometheus collectors exported by vidstored.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidstore/internal/health"
)

const namespace = "vidstore"

type Metrics struct {
	Registry *prometheus.Registry

	healthState   *prometheus.GaugeVec
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	restartsTotal *prometheus.CounterVec
	provisions    *prometheus.CounterVec
	backups       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		healthState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "state",
				Help:      "Current readiness state of the instance (1 for the active state)",
			},
			[]string{"instance", "state"},
		),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "probes_total",
				Help:      "Readiness probes by result",
			},
			[]string{"instance", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "probe_duration_seconds",
				Help:      "Duration of readiness probes in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"instance"},
		),
		restartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "restarts_total",
				Help:      "Automatic restarts by result",
			},
			[]string{"instance", "result"},
		),
		provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provisioner",
				Name:      "provisions_total",
				Help:      "Provision calls by action taken",
			},
			[]string{"instance", "action"},
		),
		backups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backup",
				Name:      "uploads_total",
				Help:      "Backup uploads by result",
			},
			[]string{"instance", "result"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.healthState,
		m.probesTotal,
		m.probeDuration,
		m.restartsTotal,
		m.provisions,
		m.backups,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// SetHealthState marks state as the active one for instance.
func (m *Metrics) SetHealthState(instance string, state health.State) {
	for _, s := range []health.State{health.Starting, health.Unready, health.Ready, health.Failed} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.healthState.WithLabelValues(instance, s.String()).Set(v)
	}
}

func (m *Metrics) ObserveProbe(instance string, elapsed time.Duration, err error) {
	m.probesTotal.WithLabelValues(instance, result(err)).Inc()
	m.probeDuration.WithLabelValues(instance).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordRestart(instance string, err error) {
	m.restartsTotal.WithLabelValues(instance, result(err)).Inc()
}

func (m *Metrics) RecordProvision(instance, action string) {
	m.provisions.WithLabelValues(instance, action).Inc()
}

func (m *Metrics) RecordBackup(instance string, err error) {
	m.backups.WithLabelValues(instance, result(err)).Inc()
}

// HealthHooks reports a monitor's probes and transitions for instance.
func (m *Metrics) HealthHooks(instance string) health.Hooks {
	m.SetHealthState(instance, health.Starting)
	return health.Hooks{
		OnProbe: func(elapsed time.Duration, err error) {
			m.ObserveProbe(instance, elapsed, err)
		},
		OnTransition: func(_, to health.State, _ error) {
			m.SetHealthState(instance, to)
		},
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

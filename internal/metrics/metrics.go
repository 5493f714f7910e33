// Package metrics exposes pool and relay measurements in the Prometheus
// exposition format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Anivie/gpt-cat/internal/ledger"
	"github.com/Anivie/gpt-cat/internal/pool"
)

const namespace = "catgate"

// StatsSource is implemented by *pool.Pool.
type StatsSource interface {
	Stats() []pool.AccountStats
}

// Collector owns a private registry so tests and embedders never collide
// with the process-wide default one.
type Collector struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	slotWait        prometheus.Histogram
	requests        *prometheus.CounterVec
}

// NewCollector registers relay metrics and, when src is non-nil, pool
// gauges computed at scrape time.
func NewCollector(src StatsSource) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "attempts_total",
				Help:      "Upstream dispatch attempts by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of upstream dispatch attempts.",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"endpoint"},
		),
		slotWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "slot_wait_seconds",
				Help:      "Time spent waiting for a free account slot.",
				Buckets:   []float64{.001, .01, .1, .5, 1, 2, 5, 10, 30},
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Finished client requests by outcome.",
			},
			[]string{"outcome"},
		),
	}
	c.registry.MustRegister(
		c.attempts,
		c.attemptDuration,
		c.slotWait,
		c.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src != nil {
		c.registry.MustRegister(newPoolCollector(src))
	}
	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// SlotWaited records one Acquire wait.
func (c *Collector) SlotWaited(d time.Duration) {
	c.slotWait.Observe(d.Seconds())
}

// AttemptFinished records one dispatch attempt. Attempts that never reached
// an account have an empty endpoint and no duration sample.
func (c *Collector) AttemptFinished(endpoint, outcome string, took time.Duration) {
	if endpoint == "" {
		endpoint = "none"
	} else {
		c.attemptDuration.WithLabelValues(endpoint).Observe(took.Seconds())
	}
	c.attempts.WithLabelValues(endpoint, outcome).Inc()
}

// RequestFinished counts a finished client request.
func (c *Collector) RequestFinished(outcome ledger.Outcome) {
	c.requests.WithLabelValues(string(outcome)).Inc()
}

// poolCollector reads pool stats on every scrape instead of mirroring them
// into gauges on every lock and unlock.
type poolCollector struct {
	src       StatsSource
	accounts  *prometheus.Desc
	available *prometheus.Desc
	busy      *prometheus.Desc
}

func newPoolCollector(src StatsSource) *poolCollector {
	return &poolCollector{
		src: src,
		accounts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "accounts"),
			"Accounts in the pool by endpoint.",
			[]string{"endpoint"}, nil,
		),
		available: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "slots_available"),
			"Slots free to lock by endpoint.",
			[]string{"endpoint"}, nil,
		),
		busy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "slots_busy"),
			"Slots held by in-flight requests by endpoint.",
			[]string{"endpoint"}, nil,
		),
	}
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.accounts
	ch <- p.available
	ch <- p.busy
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	type totals struct{ accounts, available, busy int }
	byEndpoint := make(map[string]*totals)
	for _, st := range p.src.Stats() {
		t := byEndpoint[st.Endpoint]
		if t == nil {
			t = &totals{}
			byEndpoint[st.Endpoint] = t
		}
		t.accounts++
		t.available += st.Available
		t.busy += st.Busy
	}
	for ep, t := range byEndpoint {
		ch <- prometheus.MustNewConstMetric(p.accounts, prometheus.GaugeValue, float64(t.accounts), ep)
		ch <- prometheus.MustNewConstMetric(p.available, prometheus.GaugeValue, float64(t.available), ep)
		ch <- prometheus.MustNewConstMetric(p.busy, prometheus.GaugeValue, float64(t.busy), ep)
	}
}

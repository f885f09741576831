package wiring

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cybermesh/node/pkg/p2p"
)

// PromMetrics adapts the peer book's name-based metrics interface to
// Prometheus. Collectors are registered on first use; label names are fixed
// by the first observation of each metric.
type PromMetrics struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	gauges   map[string]*prometheus.GaugeVec
	counters map[string]*prometheus.CounterVec
	hists    map[string]*prometheus.HistogramVec
}

var _ p2p.Metrics = (*PromMetrics)(nil)

func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	return &PromMetrics{
		reg:      reg,
		gauges:   make(map[string]*prometheus.GaugeVec),
		counters: make(map[string]*prometheus.CounterVec),
		hists:    make(map[string]*prometheus.HistogramVec),
	}
}

func (m *PromMetrics) SetGauge(name string, v float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames(labels))
		m.register(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Set(v)
}

func (m *PromMetrics) IncCounter(name string, delta float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames(labels))
		m.register(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Add(delta)
}

func (m *PromMetrics) ObserveHist(name string, v float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	vec, ok := m.hists[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		m.register(vec)
		m.hists[name] = vec
	}
	m.mu.Unlock()
	vec.With(labels).Observe(v)
}

func (m *PromMetrics) register(c prometheus.Collector) {
	if m.reg != nil {
		m.reg.MustRegister(c)
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Handler returns HTTP handler serving /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

package outbound

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the outbound path to Prometheus. The success and failure
// series read straight from Counters so there is a single source of truth.
type Metrics struct {
	dropped *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, o *Outbound) *Metrics {
	m := &Metrics{
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_dispatch_dropped_total",
			Help: "Messages dropped by the dispatcher before reaching a peer queue",
		}, []string{"reason", "kind"}),
	}
	success := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "outbound_send_success_total",
		Help: "Messages successfully written to a peer stream",
	}, func() float64 { return float64(o.counters.SendSuccessCount()) })
	failure := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "outbound_send_failure_total",
		Help: "Dequeued messages whose write to the peer stream failed",
	}, func() float64 { return float64(o.counters.SendFailureCount()) })
	channels := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "outbound_channels",
		Help: "Peers with a registered outbound queue",
	}, func() float64 { return float64(o.channels.Len()) })
	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "outbound_queue_depth",
		Help: "Messages queued across all peers and not yet written",
	}, func() float64 { return float64(o.channels.QueuedMessages()) })

	reg.MustRegister(m.dropped, success, failure, channels, depth)
	return m
}

// ObserveDrop increments the drop counter for outcome.
func (m *Metrics) ObserveDrop(outcome Outcome, kind Kind) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(outcome.String(), kind.String()).Inc()
}

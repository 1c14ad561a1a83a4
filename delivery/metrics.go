package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for inbound requests and
// per-destination deliveries. A nil *Metrics records nothing.
type Metrics struct {
	InboundTotal    *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InboundTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datapusher_inbound_requests_total",
			Help: "Inbound data requests by result.",
		}, []string{"result"}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datapusher_deliveries_total",
			Help: "Outbound deliveries by HTTP method and outcome.",
		}, []string{"method", "outcome"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "datapusher_delivery_latency_seconds",
			Help:    "Latency of outbound deliveries.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) recordInbound(result string) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordDelivery(method string, res Result) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if res.Failed() {
		outcome = "failed"
	}
	m.DeliveriesTotal.WithLabelValues(method, outcome).Inc()
	if res.Latency > 0 {
		m.DeliveryLatency.Observe(res.Latency.Seconds())
	}
}

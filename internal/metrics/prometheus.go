package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records allocator observations into a prometheus registry.
type Prometheus struct {
	latencies  *prometheus.HistogramVec
	ops        *prometheus.CounterVec
	throughput *prometheus.CounterVec
	gauges     *prometheus.GaugeVec
}

var _ Recorder = (*Prometheus)(nil)

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "granite",
			Name:      "operation_duration_seconds",
			Help:      "Latency of zone allocator operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"operation"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granite",
			Name:      "operations_total",
			Help:      "Zone allocator operations started.",
		}, []string{"operation"}),
		throughput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granite",
			Name:      "bytes_total",
			Help:      "Bytes moved by the zone allocator, by path.",
		}, []string{"path"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "granite",
			Name:      "zones",
			Help:      "Zone resource usage against device limits.",
		}, []string{"state"}),
	}
	reg.MustRegister(p.latencies, p.ops, p.throughput, p.gauges)
	return p
}

func (p *Prometheus) ReportQPS(label Label, n int64) {
	p.ops.WithLabelValues(label.String()).Add(float64(n))
}

func (p *Prometheus) ReportThroughput(label Label, bytes int64) {
	p.throughput.WithLabelValues(label.String()).Add(float64(bytes))
}

func (p *Prometheus) ReportLatency(label Label, d time.Duration) {
	p.latencies.WithLabelValues(label.String()).Observe(d.Seconds())
}

func (p *Prometheus) ReportGeneral(label Label, value int64) {
	p.gauges.WithLabelValues(label.String()).Set(float64(value))
}

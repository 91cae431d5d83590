package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is what the scraper, detector and dispatcher report into.
type Metrics interface {
	// IncFetch counts fetch outcomes: "found", "not_found", "error".
	IncFetch(result string)
	IncUpdateCheck(changed bool)
	// IncDelivery counts per-recipient outcomes: "success", "error", "blocked".
	IncDelivery(outcome string)
	ObserveBroadcast(kind string, took time.Duration)
	SetSubscribers(n int)
}

type PromMetrics struct {
	reg *prometheus.Registry

	fetches      *prometheus.CounterVec
	updateChecks *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	broadcasts   *prometheus.HistogramVec
	subscribers  prometheus.Gauge
}

// NewPromMetrics registers the schedbot collectors (plus the Go and process
// collectors) on a private registry.
func NewPromMetrics() *PromMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PromMetrics{
		reg: reg,
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schedbot_fetch_total",
			Help: "Schedule page fetches by result",
		}, []string{"result"}),
		updateChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schedbot_update_checks_total",
			Help: "Change detector runs by outcome",
		}, []string{"changed"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schedbot_deliveries_total",
			Help: "Per-recipient broadcast deliveries by outcome",
		}, []string{"outcome"}),
		broadcasts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "schedbot_broadcast_duration_seconds",
			Help:    "Wall time of a whole broadcast run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "schedbot_subscribers",
			Help: "Current number of subscribers",
		}),
	}
}

func (m *PromMetrics) IncFetch(result string) { m.fetches.WithLabelValues(result).Inc() }

func (m *PromMetrics) IncUpdateCheck(changed bool) {
	v := "false"
	if changed {
		v = "true"
	}
	m.updateChecks.WithLabelValues(v).Inc()
}

func (m *PromMetrics) IncDelivery(outcome string) { m.deliveries.WithLabelValues(outcome).Inc() }

func (m *PromMetrics) ObserveBroadcast(kind string, took time.Duration) {
	m.broadcasts.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *PromMetrics) SetSubscribers(n int) { m.subscribers.Set(float64(n)) }

func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *PromMetrics) Registry() *prometheus.Registry { return m.reg }

// Nop discards everything.
type Nop struct{}

func (Nop) IncFetch(string)                        {}
func (Nop) IncUpdateCheck(bool)                    {}
func (Nop) IncDelivery(string)                     {}
func (Nop) ObserveBroadcast(string, time.Duration) {}
func (Nop) SetSubscribers(int)                     {}

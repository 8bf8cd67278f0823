package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "featuregate"

// PrometheusObserver implements every observer on one registry.
type PrometheusObserver struct {
	registry *prometheus.Registry

	onlineGauge   prometheus.Gauge
	pushCounter   prometheus.Counter
	pushLatency   prometheus.Histogram
	eventLag      prometheus.Gauge
	resolutions   *prometheus.CounterVec
	prefWrites    prometheus.Counter
	httpDurations *prometheus.SummaryVec
}

func NewPrometheusObserver() *PrometheusObserver {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusObserver{
		registry: reg,
		onlineGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_clients",
			Help:      "Number of connected change-feed clients",
		}),
		pushCounter: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_total",
			Help:      "Total number of change messages pushed to clients",
		}),
		pushLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "push_fanout_seconds",
			Help:      "Time spent fanning one message out to all clients",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		eventLag: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_pending_messages",
			Help:      "Messages waiting in the hub broadcast queue",
		}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved flags by deciding source",
		}, []string{"source"}),
		prefWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_writes_total",
			Help:      "User preference upserts",
		}),
		httpDurations: factory.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "http_duration_seconds",
			Help:      "Duration of HTTP requests.",
		}, []string{"path", "method", "status"}),
	}
}

func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusObserver) IncOnline() {
	p.onlineGauge.Inc()
}
func (p *PrometheusObserver) DecOnline() {
	p.onlineGauge.Dec()
}
func (p *PrometheusObserver) RecordPush() {
	p.pushCounter.Inc()
}
func (p *PrometheusObserver) ObservePushLatency(duration float64) {
	p.pushLatency.Observe(duration)
}
func (p *PrometheusObserver) UpdateEventLag(lag int) {
	p.eventLag.Set(float64(lag))
}

func (p *PrometheusObserver) RecordResolution(source string) {
	p.resolutions.WithLabelValues(source).Inc()
}
func (p *PrometheusObserver) RecordPreferenceWrite() {
	p.prefWrites.Inc()
}

func (p *PrometheusObserver) ObserveHTTP(path, method, status string, duration float64) {
	p.httpDurations.WithLabelValues(path, method, status).Observe(duration)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) IncOnline()                                  {}
func (Nop) DecOnline()                                  {}
func (Nop) RecordPush()                                 {}
func (Nop) ObservePushLatency(float64)                  {}
func (Nop) UpdateEventLag(int)                          {}
func (Nop) RecordResolution(string)                     {}
func (Nop) RecordPreferenceWrite()                      {}
func (Nop) ObserveHTTP(string, string, string, float64) {}

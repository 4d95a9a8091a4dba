package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for the retrieval pipeline.
type Metrics interface {
	IncRetrievalsSubmitted(status string)
	IncLookups(outcome string)
	IncNotifications(decision string)
	IncDownloadsCompleted(status string)
	ObserveDownloadDuration(status string, durationSeconds float64)
	SetInFlight(n int)
	SetWaiting(n int)
}

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncRetrievalsSubmitted(string)                 {}
func (Noop) IncLookups(string)                             {}
func (Noop) IncNotifications(string)                       {}
func (Noop) IncDownloadsCompleted(string)                  {}
func (Noop) ObserveDownloadDuration(string, float64)       {}
func (Noop) SetInFlight(int)                               {}
func (Noop) SetWaiting(int)                                {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	retrievalsSubmitted *prometheus.CounterVec
	lookups             *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	downloadsCompleted  *prometheus.CounterVec
	downloadDuration    *prometheus.HistogramVec
	inFlight            prometheus.Gauge
	waiting             prometheus.Gauge
	once                sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		retrievalsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_submitted_total",
			Help:      "Retrieval jobs submitted to the archive by status",
		}, []string{"status"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Object lookups by outcome",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Job completion notifications by poller decision",
		}, []string{"decision"}),
		downloadsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_completed_total",
			Help:      "Downloads finished by status",
		}, []string{"status"}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Download duration seconds by status",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Downloads currently held in the registry",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retrievals_waiting",
			Help:      "Objects with a submitted retrieval awaiting notification",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(
			p.retrievalsSubmitted,
			p.lookups,
			p.notifications,
			p.downloadsCompleted,
			p.downloadDuration,
			p.inFlight,
			p.waiting,
		)
	})
}

func (p *Prom) IncRetrievalsSubmitted(status string) {
	p.retrievalsSubmitted.WithLabelValues(status).Inc()
}

func (p *Prom) IncLookups(outcome string) {
	p.lookups.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncNotifications(decision string) {
	p.notifications.WithLabelValues(decision).Inc()
}

func (p *Prom) IncDownloadsCompleted(status string) {
	p.downloadsCompleted.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveDownloadDuration(status string, durationSeconds float64) {
	p.downloadDuration.WithLabelValues(status).Observe(durationSeconds)
}

func (p *Prom) SetInFlight(n int) {
	p.inFlight.Set(float64(n))
}

func (p *Prom) SetWaiting(n int) {
	p.waiting.Set(float64(n))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/transport"
)

// unroutedLabel replaces the event name for dispatch misses so peers cannot
// grow label cardinality.
const unroutedLabel = "(unrouted)"

// Config configures a Collector.
type Config struct {
	// Namespace prefixes every metric (default "aisio").
	Namespace string
	// Buckets are the dispatch duration histogram buckets.
	Buckets []float64
	// Registry receives the collectors. Default: a fresh registry with Go and
	// process collectors.
	Registry *prometheus.Registry
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithBuckets sets the dispatch histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry registers into an existing registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) { c.Registry = registry }
}

// Collector records bridge activity. It implements transport.Observer and
// its ObserveDispatch method fits event.Config.OnDispatch.
type Collector struct {
	transport.NopObserver
	registry *prometheus.Registry

	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	connectionErrors  *prometheus.CounterVec
	recordsReceived   *prometheus.CounterVec
	recordsDropped    *prometheus.CounterVec
	bytesReceived     *prometheus.CounterVec
	eventsEmitted     *prometheus.CounterVec
	emitErrors        *prometheus.CounterVec
	bytesSent         *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	dialFailures      prometheus.Counter
}

// New builds a Collector.
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: "aisio", Buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(cfg.Registry)
	ns := cfg.Namespace

	return &Collector{
		registry: cfg.Registry,
		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connections_active",
			Help:      "Number of live connections",
		}, []string{"role"}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_total",
			Help:      "Total connections opened",
		}, []string{"role"}),
		connectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connection_errors_total",
			Help:      "Connections that ended with a read error",
		}, []string{"role"}),
		recordsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "records_received_total",
			Help:      "Records decoded from peers",
		}, []string{"role"}),
		recordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "records_dropped_total",
			Help:      "Records that failed to decode",
		}, []string{"role"}),
		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "received_bytes_total",
			Help:      "Bytes of decoded and dropped records",
		}, []string{"role"}),
		eventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_emitted_total",
			Help:      "Events written to peers",
		}, []string{"role"}),
		emitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "emit_errors_total",
			Help:      "Events that failed to encode or write",
		}, []string{"role"}),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sent_bytes_total",
			Help:      "Bytes written to peers",
		}, []string{"role"}),
		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dispatch_total",
			Help:      "Event dispatches by event and outcome",
		}, []string{"event", "status"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "dispatch_duration_seconds",
			Help:      "Handler run time in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"event"}),
		dialFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dial_failures_total",
			Help:      "Failed client connection attempts",
		}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveDispatch records one router dispatch.
func (c *Collector) ObserveDispatch(name string, _ event.Conn, d time.Duration, err error) {
	status := "ok"
	switch {
	case errors.Is(err, event.ErrNoHandler):
		name = unroutedLabel
		status = "unrouted"
	case errors.Is(err, event.ErrHandlerPanic):
		status = "panic"
	case err != nil:
		status = "error"
	}
	c.dispatchTotal.WithLabelValues(name, status).Inc()
	if status != "unrouted" {
		c.dispatchDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

func (c *Collector) ConnectionOpened(info transport.ConnInfo) {
	role := string(info.Role)
	c.connectionsTotal.WithLabelValues(role).Inc()
	c.connectionsActive.WithLabelValues(role).Inc()
}

func (c *Collector) ConnectionClosed(info transport.ConnInfo, err error) {
	role := string(info.Role)
	c.connectionsActive.WithLabelValues(role).Dec()
	if err != nil {
		c.connectionErrors.WithLabelValues(role).Inc()
	}
}

func (c *Collector) RecordReceived(info transport.ConnInfo, _ frame.Event, size int) {
	role := string(info.Role)
	c.recordsReceived.WithLabelValues(role).Inc()
	c.bytesReceived.WithLabelValues(role).Add(float64(size))
}

func (c *Collector) RecordDropped(info transport.ConnInfo, record []byte, _ error) {
	role := string(info.Role)
	c.recordsDropped.WithLabelValues(role).Inc()
	c.bytesReceived.WithLabelValues(role).Add(float64(len(record)))
}

func (c *Collector) EventEmitted(info transport.ConnInfo, _ frame.Event, size int, err error) {
	role := string(info.Role)
	if err != nil {
		c.emitErrors.WithLabelValues(role).Inc()
		return
	}
	c.eventsEmitted.WithLabelValues(role).Inc()
	c.bytesSent.WithLabelValues(role).Add(float64(size))
}

func (c *Collector) DialFailed(string, int, error) {
	c.dialFailures.Inc()
}

var _ transport.Observer = (*Collector)(nil)

// Package metrics exports hub state as Prometheus metrics.
package metrics

import (
	"net/http"

	"climatesync/internal/hub"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "climatesync"

// Source is the part of the hub the collector observes.
type Source interface {
	Subscribe(handler hub.Handler) hub.Subscription
	Len() int
}

// Collector keeps a private registry up to date from hub notifications.
type Collector struct {
	source   Source
	logger   *zap.Logger
	registry *prometheus.Registry
	sub      hub.Subscription

	connected     prometheus.Gauge
	entities      prometheus.Gauge
	current       *prometheus.GaugeVec
	target        *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	errors        prometheus.Counter
}

// NewCollector registers the climatesync metrics on a new registry. Call
// Start to begin observing source.
func NewCollector(source Source, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		source:   source,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while authenticated with Home Assistant.",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Number of mirrored climate entities.",
		}),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_temperature",
			Help:      "Measured temperature per climate entity.",
		}, []string{"entity_id"}),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_temperature",
			Help:      "Single target temperature per climate entity.",
		}, []string{"entity_id"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Hub notifications by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported by the Home Assistant session.",
		}),
	}

	c.registry.MustRegister(
		c.connected,
		c.entities,
		c.current,
		c.target,
		c.notifications,
		c.errors,
		prometheus.NewGoCollector(),
	)
	return c
}

// Start subscribes to the source.
func (c *Collector) Start() {
	c.sub = c.source.Subscribe(c.Observe)
	c.entities.Set(float64(c.source.Len()))
	c.logger.Debug("Metrics collector started")
}

// Stop unsubscribes. Collected values stay readable.
func (c *Collector) Stop() {
	c.sub.Unsubscribe()
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe updates the metrics for one notification.
func (c *Collector) Observe(n hub.Notification) {
	c.notifications.WithLabelValues(n.Kind.String()).Inc()

	switch n.Kind {
	case hub.KindConnected:
		c.connected.Set(1)
	case hub.KindDisconnected:
		c.connected.Set(0)
	case hub.KindError:
		c.errors.Inc()
	case hub.KindEntityAdded, hub.KindEntityChanged:
		if n.State != nil {
			setOrDelete(c.current, n.EntityID, n.State.CurrentTemperature)
			setOrDelete(c.target, n.EntityID, n.State.TargetTemperature)
		}
	case hub.KindEntityRemoved:
		c.current.DeleteLabelValues(n.EntityID)
		c.target.DeleteLabelValues(n.EntityID)
	}

	c.entities.Set(float64(c.source.Len()))
}

func setOrDelete(vec *prometheus.GaugeVec, entityID string, v *float64) {
	if v == nil {
		vec.DeleteLabelValues(entityID)
		return
	}
	vec.WithLabelValues(entityID).Set(*v)
}

// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "pulse"

// Collector groups the gateway metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	rooms         prometheus.Gauge
	handshakes    *prometheus.CounterVec
	inbound       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	droppedFrames prometheus.Counter
	storeDuration *prometheus.HistogramVec
}

// NewCollector registers the gateway collectors with reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	f := promauto.With(reg)

	return &Collector{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Current number of authenticated websocket connections.",
		}),
		onlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "users_online",
			Help:      "Current number of users with a canonical connection.",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "active",
			Help:      "Current number of non-empty rooms.",
		}),
		handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "handshakes_total",
			Help:      "Handshake outcomes by result.",
		}, []string{"result"}),
		inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "inbound_events_total",
			Help:      "Inbound events by name and outcome.",
		}, []string{"event", "outcome"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "deliveries_total",
			Help:      "Direct deliveries by event and outcome.",
		}, []string{"event", "outcome"}),
		droppedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "slow_consumers_dropped_total",
			Help:      "Connections dropped because their send queue was full.",
		}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Duration of store calls made by the gateway.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"op", "status"}),
	}
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connections.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connections.Dec()
}

func (c *Collector) SetOnlineUsers(n int) {
	if c == nil {
		return
	}
	c.onlineUsers.Set(float64(n))
}

func (c *Collector) SetRooms(n int) {
	if c == nil {
		return
	}
	c.rooms.Set(float64(n))
}

// Handshake records a handshake outcome such as "ok", "missing_credential" or "timeout".
func (c *Collector) Handshake(result string) {
	if c == nil {
		return
	}
	c.handshakes.WithLabelValues(result).Inc()
}

func (c *Collector) InboundEvent(event, outcome string) {
	if c == nil {
		return
	}
	c.inbound.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) Delivery(event, outcome string) {
	if c == nil {
		return
	}
	c.deliveries.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) SlowConsumerDropped() {
	if c == nil {
		return
	}
	c.droppedFrames.Inc()
}

// ObserveStore records the duration of one store call.
func (c *Collector) ObserveStore(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.storeDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Recorder backed by client_golang collectors. Collectors are
// registered lazily on first use.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	commands      *prometheus.CounterVec
	commandTime   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	published     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	subscriptions prometheus.Gauge
	connections   prometheus.Gauge
	expiries      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus uses prometheus.DefaultRegisterer when reg is nil and the
// "studybuddy" namespace when namespace is empty.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "studybuddy"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Engine commands by command and outcome.",
		}, []string{"command", "outcome"})
		p.commandTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "command_duration_seconds",
			Help:      "Engine command latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"command"})
		p.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "version_retries_total",
			Help:      "Command attempts retried after a version conflict.",
		}, []string{"command"})
		p.published = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "changefeed",
			Name:      "published_total",
			Help:      "Changes accepted by the feed by entity kind.",
		}, []string{"kind"})
		p.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "changefeed",
			Name:      "dropped_total",
			Help:      "Changes dropped as stale or replaced before delivery.",
		}, []string{"kind", "reason"})
		p.subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "changefeed",
			Name:      "subscriptions",
			Help:      "Open change feed subscriptions.",
		})
		p.connections = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Open realtime connections.",
		})
		p.expiries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "buddy_session",
			Name:      "expiry_checks_total",
			Help:      "Auto-completion attempts by trigger and result.",
		}, []string{"trigger", "result"})
		p.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Push notification publishes by backend and result.",
		}, []string{"backend", "result"})

		p.reg.MustRegister(
			p.commands,
			p.commandTime,
			p.retries,
			p.published,
			p.dropped,
			p.subscriptions,
			p.connections,
			p.expiries,
			p.notifications,
		)
	})
}

func (p *Prometheus) RecordCommand(command, outcome string, duration time.Duration) {
	p.ensureRegistered()
	p.commands.WithLabelValues(command, outcome).Inc()
	p.commandTime.WithLabelValues(command).Observe(duration.Seconds())
}

func (p *Prometheus) RecordRetry(command string) {
	p.ensureRegistered()
	p.retries.WithLabelValues(command).Inc()
}

func (p *Prometheus) RecordChangePublished(kind string) {
	p.ensureRegistered()
	p.published.WithLabelValues(kind).Inc()
}

func (p *Prometheus) RecordChangeDropped(kind, reason string) {
	p.ensureRegistered()
	p.dropped.WithLabelValues(kind, reason).Inc()
}

func (p *Prometheus) AddSubscriptions(delta int) {
	p.ensureRegistered()
	p.subscriptions.Add(float64(delta))
}

func (p *Prometheus) AddConnections(delta int) {
	p.ensureRegistered()
	p.connections.Add(float64(delta))
}

func (p *Prometheus) RecordExpiry(trigger, result string) {
	p.ensureRegistered()
	p.expiries.WithLabelValues(trigger, result).Inc()
}

func (p *Prometheus) RecordNotification(backend string, err error) {
	p.ensureRegistered()
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.notifications.WithLabelValues(backend, result).Inc()
}

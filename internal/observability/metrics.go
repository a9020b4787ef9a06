package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used on subbots_messages_dropped_total.
const (
	DropMalformed    = "malformed"
	DropUnknownTopic = "unknown_topic"
	DropKeyExchange  = "key_exchange"
	DropWrongState   = "wrong_session_state"
	DropUnregistered = "unregistered"
)

// SimCollector bundles the Prometheus metrics of the participant loops.
// Every method is safe to call on a nil collector.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Ticks              *prometheus.CounterVec
	TickDurations      *prometheus.HistogramVec
	MessagesReceived   *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	KeyExchanges       *prometheus.CounterVec
	SessionState       *prometheus.GaugeVec
	RegisteredPlatform prometheus.Gauge
}

// NewSimCollector registers the SubBots metrics against reg, defaulting to
// the global Prometheus registry when nil. Registering twice against the
// same registry returns the existing collectors.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subbots_ticks_total",
		Help: "Completed loop ticks, labeled by participant role.",
	}, []string{"role"}), "subbots_ticks_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subbots_tick_duration_seconds",
		Help:    "Wall time spent in one tick, including the bus poll.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"role"}), "subbots_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	received, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subbots_messages_received_total",
		Help: "Bus messages drained, labeled by role and topic.",
	}, []string{"role", "topic"}), "subbots_messages_received_total")
	if err != nil {
		return nil, err
	}

	published, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subbots_messages_published_total",
		Help: "Bus messages published, labeled by role and topic.",
	}, []string{"role", "topic"}), "subbots_messages_published_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subbots_messages_dropped_total",
		Help: "Bus messages discarded without being applied, labeled by role, topic and reason.",
	}, []string{"role", "topic", "reason"}), "subbots_messages_dropped_total")
	if err != nil {
		return nil, err
	}

	exchanges, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subbots_key_exchanges_total",
		Help: "Key exchange attempts, labeled by role and result (ok or error).",
	}, []string{"role", "result"}), "subbots_key_exchanges_total")
	if err != nil {
		return nil, err
	}

	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "subbots_session_state",
		Help: "Current session state ordinal (0 disconnected .. 5 shutting down), labeled by role.",
	}, []string{"role"}), "subbots_session_state")
	if err != nil {
		return nil, err
	}

	platforms, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subbots_registered_platforms",
		Help: "Platforms known to the umpire registry.",
	}), "subbots_registered_platforms")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:           gatherer,
		Ticks:              ticks,
		TickDurations:      durations,
		MessagesReceived:   received,
		MessagesPublished:  published,
		MessagesDropped:    dropped,
		KeyExchanges:       exchanges,
		SessionState:       state,
		RegisteredPlatform: platforms,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// TickCompleted records one finished tick.
func (c *SimCollector) TickCompleted(role string, d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.WithLabelValues(role).Inc()
	c.TickDurations.WithLabelValues(role).Observe(d.Seconds())
}

// MessageReceived counts a drained message.
func (c *SimCollector) MessageReceived(role, topic string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(role, topic).Inc()
}

// MessagePublished counts a published message.
func (c *SimCollector) MessagePublished(role, topic string) {
	if c == nil {
		return
	}
	c.MessagesPublished.WithLabelValues(role, topic).Inc()
}

// MessageDropped counts a discarded message.
func (c *SimCollector) MessageDropped(role, topic, reason string) {
	if c == nil {
		return
	}
	c.MessagesDropped.WithLabelValues(role, topic, reason).Inc()
}

// KeyExchange counts a key exchange attempt.
func (c *SimCollector) KeyExchange(role string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.KeyExchanges.WithLabelValues(role, result).Inc()
}

// SetSessionState records the current state ordinal for role.
func (c *SimCollector) SetSessionState(role string, state int) {
	if c == nil {
		return
	}
	c.SessionState.WithLabelValues(role).Set(float64(state))
}

// SetRegisteredPlatforms records the registry size.
func (c *SimCollector) SetRegisteredPlatforms(n int) {
	if c == nil {
		return
	}
	c.RegisteredPlatform.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

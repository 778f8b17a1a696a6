package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pos"

// Metrics holds the checkout and ledger counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	checkouts          *prometheus.CounterVec
	settlements        prometheus.Counter
	sideEffectFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg, or on the
// default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout commit attempts by payment method and outcome.",
		}, []string{"method", "outcome"}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Recorded customer settlements.",
		}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_side_effect_failures_total",
			Help:      "Post-sale side effects that failed, by step.",
		}, []string{"step"}),
	}
	for _, c := range []prometheus.Collector{m.checkouts, m.settlements, m.sideEffectFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) CheckoutAttempt(method string, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) SettlementRecorded() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

func (m *Metrics) SideEffectFailed(step string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(step).Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Settlement sources.
const (
	SourceClient  = "client"
	SourceWebhook = "webhook"
)

// Settlement outcomes.
const (
	OutcomeSettled        = "settled"
	OutcomeAlreadySettled = "already_settled"
	OutcomeRaceLost       = "race_lost"
	OutcomeRefundQueued   = "refund_queued"
	OutcomeRejected       = "rejected"
)

// OrderMetrics tracks order lifecycle counters.
type OrderMetrics struct {
	created     *prometheus.CounterVec
	settlements *prometheus.CounterVec
	conflicts   prometheus.Counter
	refunds     *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewOrderMetrics registers order metrics; a nil registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders persisted, by payment method.",
		}, []string{"payment_method"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_settlements_total",
			Help:      "Payment settlement attempts, by source and outcome.",
		}, []string{"source", "outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_conflicts_total",
			Help:      "Stock decrements rejected for insufficient inventory.",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_refunds_total",
			Help:      "Refund attempts against the payment gateway, by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status transitions, by target status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.created, m.settlements, m.conflicts, m.refunds, m.transitions)
	return m
}

func (m *OrderMetrics) IncCreated(method string) {
	if m == nil || m.created == nil {
		return
	}
	m.created.WithLabelValues(normalizeLabel(method)).Inc()
}

func (m *OrderMetrics) IncSettlement(source, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) IncInventoryConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *OrderMetrics) IncRefund(result string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *OrderMetrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

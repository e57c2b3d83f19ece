package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "fibo_hedge"

type Prometheus struct {
	registry *prometheus.Registry

	polls         *prometheus.CounterVec
	pollsDropped  *prometheus.CounterVec
	events        *prometheus.CounterVec
	handlerFailed *prometheus.CounterVec
	ordersPlaced  *prometheus.CounterVec
	ordersFailed  *prometheus.CounterVec
	triggerRetry  *prometheus.CounterVec
	auditRepairs  *prometheus.CounterVec
	cleanupFailed *prometheus.CounterVec
	level         *prometheus.GaugeVec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:      prometheus.NewRegistry(),
		polls:         newCounterVec("polls_total", "Total number of position polls.", "pair"),
		pollsDropped:  newCounterVec("polls_dropped_total", "Polls skipped because a reaction was in flight.", "pair"),
		events:        newCounterVec("events_total", "Detected hedge events.", "pair", "event"),
		handlerFailed: newCounterVec("handler_failed_total", "Reaction handlers that did not converge.", "pair"),
		ordersPlaced:  newCounterVec("orders_placed_total", "Total number of orders placed.", "pair"),
		ordersFailed:  newCounterVec("orders_failed_total", "Total number of order placement failures.", "pair"),
		triggerRetry:  newCounterVec("trigger_retries_total", "Trigger orders resubmitted with a widened price.", "pair"),
		auditRepairs:  newCounterVec("audit_repairs_total", "Drift corrections made by the self-healing audit.", "pair"),
		cleanupFailed: newCounterVec("cleanup_failed_total", "Cleanup cycles that did not reach the empty state.", "pair"),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "fib_level",
			Help:      "Current Fibonacci ladder level per side.",
		}, []string{"pair", "side"}),
	}
	p.registry.MustRegister(
		p.polls, p.pollsDropped, p.events, p.handlerFailed, p.ordersPlaced,
		p.ordersFailed, p.triggerRetry, p.auditRepairs, p.cleanupFailed, p.level,
	)
	return p
}

// ForPair returns the instrument set bound to one pair label.
func (p *Prometheus) ForPair(pair string) *Metrics {
	return &Metrics{
		Polls:            p.polls.WithLabelValues(pair),
		PollsDropped:     p.pollsDropped.WithLabelValues(pair),
		TakeProfitEvents: p.events.WithLabelValues(pair, "take_profit"),
		GridFillEvents:   p.events.WithLabelValues(pair, "grid_fill"),
		HandlerFailed:    p.handlerFailed.WithLabelValues(pair),
		OrdersPlaced:     p.ordersPlaced.WithLabelValues(pair),
		OrdersFailed:     p.ordersFailed.WithLabelValues(pair),
		TriggerRetries:   p.triggerRetry.WithLabelValues(pair),
		AuditRepairs:     p.auditRepairs.WithLabelValues(pair),
		CleanupFailed:    p.cleanupFailed.WithLabelValues(pair),
		LongLevel:        p.level.WithLabelValues(pair, "long"),
		ShortLevel:       p.level.WithLabelValues(pair, "short"),
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusPairCounters(t *testing.T) {
	prom := NewPrometheus()
	m := prom.ForPair("BTCUSDT")
	m.Polls.Inc()
	m.Polls.Inc()
	m.TakeProfitEvents.Inc()
	m.GridFillEvents.Inc()
	m.OrdersPlaced.Inc()
	m.AuditRepairs.Inc()
	m.LongLevel.Set(3)

	if got := testutil.ToFloat64(prom.polls.WithLabelValues("BTCUSDT")); got != 2 {
		t.Fatalf("expected 2 polls, got %v", got)
	}
	if got := testutil.ToFloat64(prom.events.WithLabelValues("BTCUSDT", "take_profit")); got != 1 {
		t.Fatalf("expected 1 take profit event, got %v", got)
	}
	if got := testutil.ToFloat64(prom.events.WithLabelValues("BTCUSDT", "grid_fill")); got != 1 {
		t.Fatalf("expected 1 grid fill event, got %v", got)
	}
	if got := testutil.ToFloat64(prom.level.WithLabelValues("BTCUSDT", "long")); got != 3 {
		t.Fatalf("expected long level 3, got %v", got)
	}
	if got := testutil.ToFloat64(prom.polls.WithLabelValues("ETHUSDT")); got != 0 {
		t.Fatalf("expected pairs to be isolated, got %v", got)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	m.OrdersFailed.Inc()
	m.ShortLevel.Set(1)
}

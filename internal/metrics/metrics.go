package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

// Metrics is the per-pair instrument set used by the engine and executor.
type Metrics struct {
	Polls            Counter
	PollsDropped     Counter
	TakeProfitEvents Counter
	GridFillEvents   Counter
	HandlerFailed    Counter
	OrdersPlaced     Counter
	OrdersFailed     Counter
	TriggerRetries   Counter
	AuditRepairs     Counter
	CleanupFailed    Counter
	LongLevel        Gauge
	ShortLevel       Gauge
}

type noop struct{}

func (noop) Inc()        {}
func (noop) Set(float64) {}

func NewNoop() *Metrics {
	n := noop{}
	return &Metrics{
		Polls:            n,
		PollsDropped:     n,
		TakeProfitEvents: n,
		GridFillEvents:   n,
		HandlerFailed:    n,
		OrdersPlaced:     n,
		OrdersFailed:     n,
		TriggerRetries:   n,
		AuditRepairs:     n,
		CleanupFailed:    n,
		LongLevel:        n,
		ShortLevel:       n,
	}
}

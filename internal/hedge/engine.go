package hedge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"fibo-hedge-bot/internal/config"
	"fibo-hedge-bot/internal/exchange"
	"fibo-hedge-bot/internal/exec"
	"fibo-hedge-bot/internal/ladder"
	"fibo-hedge-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned by Poll when another operation holds the pair.
	ErrBusy                    = errors.New("hedge engine busy")
	ErrCleanupIncomplete       = errors.New("cleanup did not reach an empty account")
	ErrTriggerRetriesExhausted = errors.New("trigger order retries exhausted")
	ErrNotConfirmed            = errors.New("exchange state not confirmed")
	ErrSideNotionalCap         = errors.New("side notional cap reached")
)

// Notifier receives human readable transition messages. Implementations
// must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Journal receives structured transition records.
type Journal interface {
	Record(ctx context.Context, rec Record)
}

type Record struct {
	Time   time.Time
	Pair   string
	Kind   string
	Side   exchange.Side
	Level  int
	Price  decimal.Decimal
	Size   decimal.Decimal
	Detail string
}

const (
	KindTakeProfit  = "take_profit"
	KindGridFill    = "grid_fill"
	KindReopen      = "reopen"
	KindOpen        = "open"
	KindCleanup     = "cleanup"
	KindAuditRepair = "audit_repair"
	KindFailure     = "failure"
)

type Params struct {
	NotionalUSD         decimal.Decimal
	Size                decimal.Decimal
	SizeDecimals        int32
	PriceDecimals       int32
	TPPercent           decimal.Decimal
	GrowthThreshold     decimal.Decimal
	GridMultiplier      decimal.Decimal
	Anchor              string
	SettleDelay         time.Duration
	ConfirmAttempts     int
	SizeTolerance       decimal.Decimal
	TriggerAttempts     int
	TriggerWidenPercent decimal.Decimal
	CleanupAttempts     int
	CleanupBackoff      time.Duration
	MaxSideNotionalUSD  decimal.Decimal
}

func ParamsFromConfig(s config.StrategyConfig, r config.RiskConfig) Params {
	return Params{
		NotionalUSD:         decimal.NewFromFloat(s.NotionalUSD),
		Size:                decimal.NewFromFloat(s.Size),
		SizeDecimals:        s.SizeDecimals,
		PriceDecimals:       s.PriceDecimals,
		TPPercent:           decimal.NewFromFloat(s.TPPercent),
		GrowthThreshold:     decimal.NewFromFloat(s.GrowthThreshold),
		GridMultiplier:      decimal.NewFromFloat(s.GridMultiplier),
		Anchor:              s.GridAnchor,
		SettleDelay:         s.SettleDelay,
		ConfirmAttempts:     s.ConfirmAttempts,
		SizeTolerance:       decimal.NewFromFloat(s.SizeTolerance),
		TriggerAttempts:     s.TriggerAttempts,
		TriggerWidenPercent: decimal.NewFromFloat(s.TriggerWidenPercent),
		CleanupAttempts:     s.CleanupAttempts,
		CleanupBackoff:      s.CleanupBackoff,
		MaxSideNotionalUSD:  decimal.NewFromFloat(r.MaxSideNotionalUSD),
	}
}

type Deps struct {
	Exec     *exec.Executor
	Ladder   *ladder.Ladder
	Notifier Notifier
	Journal  Journal
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Engine runs the hedge for one pair. Every operation that reads or
// mutates state holds the single flight slot.
type Engine struct {
	pair     string
	params   Params
	ladder   *ladder.Ladder
	exec     *exec.Executor
	notifier Notifier
	journal  Journal
	metrics  *metrics.Metrics
	log      *zap.Logger

	flight    chan struct{}
	state     State
	published atomic.Pointer[State]

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(pair string, params Params, deps Deps) *Engine {
	if params.ConfirmAttempts <= 0 {
		params.ConfirmAttempts = 5
	}
	if params.TriggerAttempts <= 0 {
		params.TriggerAttempts = 5
	}
	if params.CleanupAttempts <= 0 {
		params.CleanupAttempts = 4
	}
	if !params.GrowthThreshold.GreaterThan(decimal.NewFromInt(1)) {
		params.GrowthThreshold = decimal.NewFromFloat(1.5)
	}
	if !params.GridMultiplier.IsPositive() {
		params.GridMultiplier = decimal.NewFromInt(1)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	e := &Engine{
		pair:     pair,
		params:   params,
		ladder:   deps.Ladder,
		exec:     deps.Exec,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		log:      deps.Log.With(zap.String("pair", pair)),
		flight:   make(chan struct{}, 1),
		state:    State{Pair: pair},
		sleep:    sleepCtx,
		now:      time.Now,
	}
	e.publish()
	return e
}

func (e *Engine) Pair() string {
	return e.pair
}

// State returns a copy of the state as of the last completed operation.
// It never blocks on the flight slot.
func (e *Engine) State() State {
	if st := e.published.Load(); st != nil {
		return *st
	}
	return State{Pair: e.pair}
}

func (e *Engine) tryAcquire() bool {
	select {
	case e.flight <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.flight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	e.publish()
	<-e.flight
}

func (e *Engine) publish() {
	st := e.state
	st.UpdatedAt = e.now()
	e.published.Store(&st)
	e.metrics.LongLevel.Set(float64(st.Long.Level))
	e.metrics.ShortLevel.Set(float64(st.Short.Level))
}

// Poll observes the exchange once and reacts to at most one event. It
// returns ErrBusy without touching the exchange when another operation
// holds the pair.
func (e *Engine) Poll(ctx context.Context) (Detection, error) {
	if !e.tryAcquire() {
		e.metrics.PollsDropped.Inc()
		return Detection{Event: EventNone}, ErrBusy
	}
	defer e.release()
	e.metrics.Polls.Inc()
	if !e.state.Active {
		return Detection{Event: EventNone}, nil
	}
	snap, err := e.snapshot(ctx)
	if err != nil {
		return Detection{Event: EventNone}, err
	}
	d := Detect(&e.state, snap, e.params.GrowthThreshold)
	if d.Event == EventNone {
		return d, nil
	}
	return d, e.react(ctx, d)
}

func (e *Engine) snapshot(ctx context.Context) (Snapshot, error) {
	positions, err := e.exec.Positions(ctx, e.pair)
	if err != nil {
		return Snapshot{}, fmt.Errorf("positions: %w", err)
	}
	return Snapshot{Long: positions.Long, Short: positions.Short, TakenAt: e.now()}, nil
}

// react dispatches one detection to its handler. Panics are converted to
// errors so one bad iteration cannot stop the pair loop.
func (e *Engine) react(ctx context.Context, d Detection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", d.Event, r)
			e.log.Error("handler panic", zap.String("event", string(d.Event)), zap.Any("panic", r), zap.Stack("stack"))
		}
		if err != nil {
			e.metrics.HandlerFailed.Inc()
			e.state.NeedsAudit = true
		}
	}()
	switch d.Event {
	case EventTPLong, EventTPShort:
		e.metrics.TakeProfitEvents.Inc()
		return e.takeProfitHit(ctx, d.Side)
	case EventFiboLong, EventFiboShort:
		e.metrics.GridFillEvents.Inc()
		return e.gridFillHit(ctx, d.Side, d.Position)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, format string, args ...any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, fmt.Sprintf("[%s] ", e.pair)+fmt.Sprintf(format, args...))
}

func (e *Engine) record(ctx context.Context, kind string, side exchange.Side, price, size decimal.Decimal, detail string) {
	if e.journal == nil {
		return
	}
	level := 0
	if side != "" {
		level = e.state.Leg(side).Level
	}
	e.journal.Record(ctx, Record{
		Time:   e.now(),
		Pair:   e.pair,
		Kind:   kind,
		Side:   side,
		Level:  level,
		Price:  price,
		Size:   size,
		Detail: detail,
	})
}

// fail logs, notifies and journals a handler sub-step failure and flags
// the state for audit. It returns err wrapped with the step name.
func (e *Engine) fail(ctx context.Context, side exchange.Side, step string, err error) error {
	e.state.NeedsAudit = true
	e.log.Error("hedge step failed", zap.String("side", string(side)), zap.String("step", step), zap.Error(err))
	e.notify(ctx, "%s %s failed: %v", side, step, err)
	e.record(ctx, KindFailure, side, decimal.Zero, decimal.Zero, step+": "+err.Error())
	return fmt.Errorf("%s %s: %w", side, step, err)
}

func (e *Engine) roundSize(size decimal.Decimal) decimal.Decimal {
	return size.Truncate(e.params.SizeDecimals)
}

func (e *Engine) roundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(e.params.PriceDecimals)
}

// baseSize is the configured size, or the configured notional at the
// current price.
func (e *Engine) baseSize(ctx context.Context) (decimal.Decimal, error) {
	if e.params.Size.IsPositive() {
		return e.roundSize(e.params.Size), nil
	}
	price, err := e.exec.Price(ctx, e.pair)
	if err != nil {
		return decimal.Zero, err
	}
	size := e.roundSize(e.params.NotionalUSD.Div(price))
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("notional %s at price %s rounds to zero size", e.params.NotionalUSD, price)
	}
	return size, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

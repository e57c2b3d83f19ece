package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fibo-hedge-bot/internal/exchange"
	"fibo-hedge-bot/internal/metrics"
	"fibo-hedge-bot/internal/retry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome separates a performed action from one whose end state already held.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeAlreadyGone
)

func (o Outcome) String() string {
	if o == OutcomeAlreadyGone {
		return "already_gone"
	}
	return "done"
}

type Options struct {
	CallTimeout time.Duration
	Attempts    int
	Backoff     time.Duration
}

// Executor wraps a gateway with per-call timeouts and bounded retries.
// Queries and cancels retry on any transient error; placements only retry
// rate-limit rejections, since a timed out placement may have executed.
type Executor struct {
	gw      exchange.Gateway
	opts    Options
	metrics *metrics.Metrics
	log     *zap.Logger
	newID   func() string
}

func New(gw exchange.Gateway, opts Options, m *metrics.Metrics, log *zap.Logger) *Executor {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		gw:      gw,
		opts:    opts,
		metrics: m,
		log:     log,
		newID:   func() string { return "fh-" + uuid.NewString() },
	}
}

func (e *Executor) policy() retry.Policy {
	return retry.Policy{
		Attempts:   e.opts.Attempts,
		Initial:    e.opts.Backoff,
		Max:        e.opts.Backoff * 8,
		Multiplier: 2,
	}
}

func (e *Executor) call(ctx context.Context, op string, retryable func(error) bool, fn func(context.Context) error) error {
	return retry.Do(ctx, e.policy(), retryable, func(attempt int) error {
		callCtx, cancel := e.withTimeout(ctx)
		defer cancel()
		err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, exchange.ErrTimeout) {
			err = fmt.Errorf("%s: %w: %v", op, exchange.ErrTimeout, err)
		}
		if err != nil && retryable != nil && retryable(err) {
			e.log.Debug("exchange call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		}
		return err
	})
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}

func isRateLimited(err error) bool {
	return errors.Is(err, exchange.ErrRateLimited)
}

func (e *Executor) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := e.call(ctx, "price", exchange.IsTransient, func(ctx context.Context) error {
		var err error
		price, err = e.gw.Price(ctx, pair)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price %s for %s", price, pair)
	}
	return price, nil
}

func (e *Executor) Positions(ctx context.Context, pair string) (exchange.Positions, error) {
	var positions exchange.Positions
	err := e.call(ctx, "positions", exchange.IsTransient, func(ctx context.Context) error {
		var err error
		positions, err = e.gw.Positions(ctx, pair)
		return err
	})
	return positions, err
}

func (e *Executor) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	var orders []exchange.Order
	err := e.call(ctx, "open_orders", exchange.IsTransient, func(ctx context.Context) error {
		var err error
		orders, err = e.gw.OpenOrders(ctx, pair)
		return err
	})
	return orders, err
}

func (e *Executor) PendingTriggerOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	var orders []exchange.Order
	err := e.call(ctx, "pending_trigger_orders", exchange.IsTransient, func(ctx context.Context) error {
		var err error
		orders, err = e.gw.PendingTriggerOrders(ctx, pair)
		return err
	})
	return orders, err
}

func (e *Executor) PlaceMarketOrder(ctx context.Context, pair string, side exchange.Side, size decimal.Decimal) (string, error) {
	return e.placeOrder(ctx, exchange.OrderRequest{Pair: pair, Side: side, Type: exchange.Market, Size: size})
}

func (e *Executor) PlaceLimitOrder(ctx context.Context, pair string, side exchange.Side, size, price decimal.Decimal) (string, error) {
	return e.placeOrder(ctx, exchange.OrderRequest{Pair: pair, Side: side, Type: exchange.Limit, Size: size, Price: price})
}

func (e *Executor) placeOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if !req.Size.IsPositive() {
		return "", fmt.Errorf("order size %s: %w", req.Size, exchange.ErrOrderRejected)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = e.newID()
	}
	var orderID string
	err := e.call(ctx, "place_order", isRateLimited, func(ctx context.Context) error {
		var err error
		orderID, err = e.gw.PlaceOrder(ctx, req)
		return err
	})
	return e.placed(orderID, err)
}

// PlaceTriggerOrder submits one trigger order. Price adjustment on
// ErrInvalidTriggerPrice is the caller's job.
func (e *Executor) PlaceTriggerOrder(ctx context.Context, req exchange.TriggerRequest) (string, error) {
	if !req.Size.IsPositive() {
		return "", fmt.Errorf("trigger size %s: %w", req.Size, exchange.ErrOrderRejected)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = e.newID()
	}
	var orderID string
	err := e.call(ctx, "place_trigger_order", isRateLimited, func(ctx context.Context) error {
		var err error
		orderID, err = e.gw.PlaceTriggerOrder(ctx, req)
		return err
	})
	return e.placed(orderID, err)
}

func (e *Executor) placed(orderID string, err error) (string, error) {
	if err == nil && orderID == "" {
		err = errors.New("empty order id")
	}
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return "", err
	}
	e.metrics.OrdersPlaced.Inc()
	return orderID, nil
}

func (e *Executor) CancelOrder(ctx context.Context, pair, orderID string) (Outcome, error) {
	return e.benign(e.call(ctx, "cancel_order", exchange.IsTransient, func(ctx context.Context) error {
		return e.gw.CancelOrder(ctx, pair, orderID)
	}))
}

func (e *Executor) CancelTriggerOrder(ctx context.Context, pair, orderID string) (Outcome, error) {
	return e.benign(e.call(ctx, "cancel_trigger_order", exchange.IsTransient, func(ctx context.Context) error {
		return e.gw.CancelTriggerOrder(ctx, pair, orderID)
	}))
}

func (e *Executor) CancelAllTriggerOrders(ctx context.Context, pair string) error {
	_, err := e.benign(e.call(ctx, "cancel_all_trigger_orders", exchange.IsTransient, func(ctx context.Context) error {
		return e.gw.CancelAllTriggerOrders(ctx, pair)
	}))
	return err
}

// ClosePosition flash-closes one side; an already flat side is OutcomeAlreadyGone.
func (e *Executor) ClosePosition(ctx context.Context, pair string, side exchange.Side) (Outcome, error) {
	return e.benign(e.call(ctx, "close_position", exchange.IsTransient, func(ctx context.Context) error {
		return e.gw.ClosePosition(ctx, pair, side)
	}))
}

func (e *Executor) benign(err error) (Outcome, error) {
	if err == nil {
		return OutcomeDone, nil
	}
	if exchange.IsBenign(err) {
		return OutcomeAlreadyGone, nil
	}
	return OutcomeDone, err
}

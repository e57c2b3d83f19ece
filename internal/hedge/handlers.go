package hedge

import (
	"context"
	"errors"
	"fmt"

	"fibo-hedge-bot/internal/exchange"
	"fibo-hedge-bot/internal/ladder"
	"fibo-hedge-bot/internal/retry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// takeProfitHit handles a side whose position disappeared: the take
// profit fired, so the stale grid is cancelled and a fresh leg is opened.
func (e *Engine) takeProfitHit(ctx context.Context, side exchange.Side) error {
	leg := e.state.Leg(side)
	e.log.Info("take profit hit", zap.String("side", string(side)), zap.String("entry", leg.Entry.String()), zap.Int("level", leg.Level))
	e.notify(ctx, "%s take profit hit (entry %s, level %d), reopening", side, leg.Entry, leg.Level)
	e.record(ctx, KindTakeProfit, side, leg.Entry, leg.SizePrev, "")
	e.cancelGrid(ctx, side)
	leg.TPOrderID = ""
	return e.reopen(ctx, side)
}

// reopen market-opens a fresh base-size leg on side and places its take
// profit and level 0 grid order.
func (e *Engine) reopen(ctx context.Context, side exchange.Side) error {
	size, err := e.baseSize(ctx)
	if err != nil {
		return e.fail(ctx, side, "size reopen", err)
	}
	if _, err := e.exec.PlaceMarketOrder(ctx, e.pair, side, size); err != nil {
		return e.fail(ctx, side, "reopen market order", err)
	}
	pos, err := e.confirmPosition(ctx, side, size)
	if err != nil {
		return e.fail(ctx, side, "confirm reopen", err)
	}
	leg := e.state.Leg(side)
	*leg = Leg{
		Open:     true,
		Entry:    pos.EntryPrice,
		SizePrev: pos.Size,
		BaseSize: size,
		Anchor:   pos.EntryPrice,
	}
	e.log.Info("leg reopened", zap.String("side", string(side)), zap.String("entry", pos.EntryPrice.String()), zap.String("size", pos.Size.String()))
	e.notify(ctx, "%s reopened %s @ %s", side, pos.Size, pos.EntryPrice)
	e.record(ctx, KindReopen, side, pos.EntryPrice, pos.Size, "")
	return errors.Join(e.placeTakeProfit(ctx, side), e.placeGrid(ctx, side))
}

// gridFillHit handles a side whose position grew past the growth
// threshold: the grid order filled, so the take profit is resized to the
// new position and the next rung is placed.
func (e *Engine) gridFillHit(ctx context.Context, side exchange.Side, observed *exchange.Position) error {
	leg := e.state.Leg(side)
	e.cancelGrid(ctx, side)
	e.cancelTakeProfit(ctx, side)
	pos, err := e.confirmPosition(ctx, side, observedSize(observed))
	if err != nil {
		return e.fail(ctx, side, "confirm grid fill", err)
	}
	leg.Open = true
	leg.Entry = pos.EntryPrice
	leg.SizePrev = pos.Size
	switch {
	case e.ladder.Last(leg.Level):
		leg.Exhausted = true
	case leg.Level >= e.ladder.Len():
		leg.Level = e.ladder.Len() - 1
		leg.Exhausted = true
	default:
		leg.Level++
	}
	e.log.Info("grid fill", zap.String("side", string(side)), zap.Int("level", leg.Level), zap.Bool("exhausted", leg.Exhausted),
		zap.String("entry", pos.EntryPrice.String()), zap.String("size", pos.Size.String()))
	e.notify(ctx, "%s grid filled: size %s avg entry %s, level %d", side, pos.Size, pos.EntryPrice, leg.Level)
	e.record(ctx, KindGridFill, side, pos.EntryPrice, pos.Size, "")
	if leg.Exhausted {
		e.notify(ctx, "%s ladder exhausted at level %d, only take profit remains", side, leg.Level)
	}
	return errors.Join(e.placeTakeProfit(ctx, side), e.placeGrid(ctx, side))
}

func observedSize(pos *exchange.Position) decimal.Decimal {
	if pos == nil {
		return decimal.Zero
	}
	return pos.Size
}

// placeTakeProfit places and verifies the take profit for the full
// position on side.
func (e *Engine) placeTakeProfit(ctx context.Context, side exchange.Side) error {
	leg := e.state.Leg(side)
	size := e.roundSize(leg.SizePrev)
	price := ladder.TakeProfitPrice(leg.Entry, e.params.TPPercent, side == exchange.Long)
	id, err := e.placeTrigger(ctx, side, price, size)
	if err != nil {
		return e.fail(ctx, side, "place take profit", err)
	}
	leg.TPOrderID = id
	if err := e.verifyOrder(ctx, id, true); err != nil {
		return e.fail(ctx, side, "verify take profit", err)
	}
	return nil
}

// placeTrigger submits a take profit trigger, widening the price away
// from the entry after each invalid trigger price rejection.
func (e *Engine) placeTrigger(ctx context.Context, side exchange.Side, price, size decimal.Decimal) (string, error) {
	var id string
	var last decimal.Decimal
	policy := retry.Constant(e.params.TriggerAttempts, 0)
	err := retry.Do(ctx, policy, isInvalidTrigger, func(attempt int) error {
		last = e.roundPrice(widenTrigger(price, side, e.params.TriggerWidenPercent, attempt))
		if attempt > 0 {
			e.metrics.TriggerRetries.Inc()
			e.log.Warn("retrying take profit with widened trigger", zap.String("side", string(side)), zap.Int("attempt", attempt+1), zap.String("trigger", last.String()))
		}
		var err error
		id, err = e.exec.PlaceTriggerOrder(ctx, exchange.TriggerRequest{
			Pair:         e.pair,
			Kind:         exchange.TakeProfit,
			HoldSide:     side,
			TriggerPrice: last,
			Size:         size,
		})
		return err
	})
	if err == nil {
		return id, nil
	}
	if isInvalidTrigger(err) {
		e.log.Error("take profit trigger rejected on every attempt", zap.String("side", string(side)), zap.Int("attempts", e.params.TriggerAttempts), zap.String("last_trigger", last.String()), zap.Error(err))
		return "", fmt.Errorf("%w after %d attempts (last trigger %s): %v", ErrTriggerRetriesExhausted, e.params.TriggerAttempts, last, err)
	}
	return "", err
}

func isInvalidTrigger(err error) bool {
	return errors.Is(err, exchange.ErrInvalidTriggerPrice)
}

// widenTrigger moves price away from the entry by widen% per attempt:
// up for a long take profit, down for a short one.
func widenTrigger(price decimal.Decimal, side exchange.Side, widenPercent decimal.Decimal, attempt int) decimal.Decimal {
	if attempt <= 0 {
		return price
	}
	frac := widenPercent.Mul(decimal.NewFromInt(int64(attempt))).Div(decimal.NewFromInt(100))
	if side == exchange.Long {
		return price.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(frac))
}

// placeGrid places the resting limit order for the leg's current level.
// Nothing is placed for an exhausted or capped leg.
func (e *Engine) placeGrid(ctx context.Context, side exchange.Side) error {
	leg := e.state.Leg(side)
	if leg.Exhausted {
		return nil
	}
	base, err := e.gridBase(ctx, leg)
	if err != nil {
		return e.fail(ctx, side, "grid anchor price", err)
	}
	price, err := e.ladder.TriggerPrice(base, leg.Level, gridDirection(side))
	if errors.Is(err, ladder.ErrLadderExhausted) {
		leg.Exhausted = true
		e.log.Warn("ladder exhausted", zap.String("side", string(side)), zap.Int("level", leg.Level))
		e.notify(ctx, "%s ladder exhausted at level %d, no grid order placed", side, leg.Level)
		return nil
	}
	if err != nil {
		return e.fail(ctx, side, "grid price", err)
	}
	price = e.roundPrice(price)
	size := e.roundSize(leg.SizePrev.Mul(e.params.GridMultiplier))
	if err := checkSideNotional(e.params.MaxSideNotionalUSD, leg.SizePrev.Add(size), price); err != nil {
		if !leg.Capped {
			e.log.Warn("grid order blocked by side notional cap", zap.String("side", string(side)), zap.Error(err))
			e.notify(ctx, "%s grid at level %d not placed: %v", side, leg.Level, err)
		}
		leg.Capped = true
		return nil
	}
	leg.Capped = false
	id, err := e.exec.PlaceLimitOrder(ctx, e.pair, side, size, price)
	if err != nil {
		return e.fail(ctx, side, "place grid", err)
	}
	leg.GridOrderID = id
	e.log.Info("grid order placed", zap.String("side", string(side)), zap.Int("level", leg.Level), zap.String("price", price.String()), zap.String("size", size.String()))
	if err := e.verifyOrder(ctx, id, false); err != nil {
		return e.fail(ctx, side, "verify grid", err)
	}
	return nil
}

func (e *Engine) gridBase(ctx context.Context, leg *Leg) (decimal.Decimal, error) {
	if e.params.Anchor == "entry" && leg.Anchor.IsPositive() {
		return leg.Anchor, nil
	}
	return e.exec.Price(ctx, e.pair)
}

func gridDirection(side exchange.Side) ladder.Direction {
	if side == exchange.Long {
		return ladder.WidenLong
	}
	return ladder.WidenShort
}

// cancelGrid cancels the tracked grid order. Failures are logged and left
// for the audit to sweep.
func (e *Engine) cancelGrid(ctx context.Context, side exchange.Side) {
	leg := e.state.Leg(side)
	if leg.GridOrderID == "" {
		return
	}
	outcome, err := e.exec.CancelOrder(ctx, e.pair, leg.GridOrderID)
	if err != nil {
		e.state.NeedsAudit = true
		e.log.Warn("cancel grid failed", zap.String("side", string(side)), zap.String("order_id", leg.GridOrderID), zap.Error(err))
		return
	}
	e.log.Debug("grid cancelled", zap.String("side", string(side)), zap.String("order_id", leg.GridOrderID), zap.Stringer("outcome", outcome))
	leg.GridOrderID = ""
}

func (e *Engine) cancelTakeProfit(ctx context.Context, side exchange.Side) {
	leg := e.state.Leg(side)
	if leg.TPOrderID == "" {
		return
	}
	outcome, err := e.exec.CancelTriggerOrder(ctx, e.pair, leg.TPOrderID)
	if err != nil {
		e.state.NeedsAudit = true
		e.log.Warn("cancel take profit failed", zap.String("side", string(side)), zap.String("order_id", leg.TPOrderID), zap.Error(err))
		return
	}
	e.log.Debug("take profit cancelled", zap.String("side", string(side)), zap.String("order_id", leg.TPOrderID), zap.Stringer("outcome", outcome))
	leg.TPOrderID = ""
}

// confirmPosition polls until side shows a position of at least
// minSize less the size tolerance.
func (e *Engine) confirmPosition(ctx context.Context, side exchange.Side, minSize decimal.Decimal) (*exchange.Position, error) {
	floor := minSize.Mul(decimal.NewFromInt(1).Sub(e.params.SizeTolerance))
	var found *exchange.Position
	err := retry.Poll(ctx, e.confirmPolicy(), func() (bool, error) {
		positions, err := e.exec.Positions(ctx, e.pair)
		if err != nil {
			return false, err
		}
		pos := positions.Get(side)
		if pos == nil || !pos.Size.IsPositive() || pos.Size.LessThan(floor) {
			return false, nil
		}
		found = pos
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s position of %s: %v", ErrNotConfirmed, side, minSize, err)
	}
	return found, nil
}

// verifyOrder polls the open order list until id shows up.
func (e *Engine) verifyOrder(ctx context.Context, id string, trigger bool) error {
	err := retry.Poll(ctx, e.confirmPolicy(), func() (bool, error) {
		var orders []exchange.Order
		var err error
		if trigger {
			orders, err = e.exec.PendingTriggerOrders(ctx, e.pair)
		} else {
			orders, err = e.exec.OpenOrders(ctx, e.pair)
		}
		if err != nil {
			return false, err
		}
		return containsOrder(orders, id), nil
	})
	if err != nil {
		return fmt.Errorf("%w: order %s not listed: %v", ErrNotConfirmed, id, err)
	}
	return nil
}

func (e *Engine) confirmPolicy() retry.Policy {
	return retry.Constant(e.params.ConfirmAttempts, e.params.SettleDelay)
}

func containsOrder(orders []exchange.Order, id string) bool {
	for _, o := range orders {
		if o.ID == id {
			return true
		}
	}
	return false
}

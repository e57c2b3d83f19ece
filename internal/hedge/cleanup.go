package hedge

import (
	"context"
	"errors"
	"fmt"

	"fibo-hedge-bot/internal/exchange"
	"fibo-hedge-bot/internal/retry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cleanup cancels every order and flash-closes both sides of the pair,
// repeating the cycle until the account is verifiably empty. On success
// the hedge is inactive until OpenHedge runs again.
func (e *Engine) Cleanup(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return e.cleanup(ctx)
}

func (e *Engine) cleanup(ctx context.Context) error {
	policy := retry.Constant(e.params.CleanupAttempts, e.params.CleanupBackoff)
	err := retry.Do(ctx, policy, nil, func(attempt int) error {
		e.log.Info("cleanup cycle", zap.Int("attempt", attempt+1))
		e.flattenOnce(ctx)
		if err := e.sleep(ctx, e.params.SettleDelay); err != nil {
			return err
		}
		return e.verifyEmpty(ctx)
	})
	if err != nil {
		e.metrics.CleanupFailed.Inc()
		e.log.Error("cleanup incomplete", zap.Int("attempts", e.params.CleanupAttempts), zap.Error(err))
		e.notify(ctx, "cleanup incomplete after %d attempts: %v", e.params.CleanupAttempts, err)
		e.record(ctx, KindFailure, "", decimal.Zero, decimal.Zero, "cleanup: "+err.Error())
		e.state.NeedsAudit = true
		return fmt.Errorf("%w: %v", ErrCleanupIncomplete, err)
	}
	e.state.reset()
	e.log.Info("cleanup complete")
	e.notify(ctx, "cleanup complete, no positions or orders remain")
	e.record(ctx, KindCleanup, "", decimal.Zero, decimal.Zero, "")
	return nil
}

// flattenOnce is one best-effort pass; verifyEmpty decides whether it
// worked.
func (e *Engine) flattenOnce(ctx context.Context) {
	for _, role := range Roles {
		id := e.state.OrderID(role)
		if id == "" {
			continue
		}
		var err error
		if role == RoleTPLong || role == RoleTPShort {
			_, err = e.exec.CancelTriggerOrder(ctx, e.pair, id)
		} else {
			_, err = e.exec.CancelOrder(ctx, e.pair, id)
		}
		if err != nil {
			e.log.Warn("cleanup cancel failed", zap.String("role", string(role)), zap.String("order_id", id), zap.Error(err))
		}
	}
	if err := e.exec.CancelAllTriggerOrders(ctx, e.pair); err != nil {
		e.log.Warn("cleanup cancel all triggers failed", zap.Error(err))
	}
	if orders, err := e.exec.OpenOrders(ctx, e.pair); err != nil {
		e.log.Warn("cleanup list orders failed", zap.Error(err))
	} else {
		for _, o := range orders {
			if _, err := e.exec.CancelOrder(ctx, e.pair, o.ID); err != nil {
				e.log.Warn("cleanup cancel order failed", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
	}
	if triggers, err := e.exec.PendingTriggerOrders(ctx, e.pair); err != nil {
		e.log.Warn("cleanup list triggers failed", zap.Error(err))
	} else {
		for _, o := range triggers {
			if _, err := e.exec.CancelTriggerOrder(ctx, e.pair, o.ID); err != nil {
				e.log.Warn("cleanup cancel trigger failed", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
	}
	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		outcome, err := e.exec.ClosePosition(ctx, e.pair, side)
		if err != nil {
			e.log.Warn("cleanup close failed", zap.String("side", string(side)), zap.Error(err))
			continue
		}
		e.log.Debug("cleanup close", zap.String("side", string(side)), zap.Stringer("outcome", outcome))
	}
}

func (e *Engine) verifyEmpty(ctx context.Context) error {
	positions, err := e.exec.Positions(ctx, e.pair)
	if err != nil {
		return err
	}
	orders, err := e.exec.OpenOrders(ctx, e.pair)
	if err != nil {
		return err
	}
	triggers, err := e.exec.PendingTriggerOrders(ctx, e.pair)
	if err != nil {
		return err
	}
	if positions.Empty() && len(orders) == 0 && len(triggers) == 0 {
		return nil
	}
	var remaining []string
	if positions.Long != nil {
		remaining = append(remaining, "long "+positions.Long.Size.String())
	}
	if positions.Short != nil {
		remaining = append(remaining, "short "+positions.Short.Size.String())
	}
	return fmt.Errorf("remaining: %v, %d orders, %d triggers", remaining, len(orders), len(triggers))
}

// OpenHedge opens an equal long and short position and places the four
// protective orders.
func (e *Engine) OpenHedge(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return e.openHedge(ctx)
}

func (e *Engine) openHedge(ctx context.Context) error {
	size, err := e.baseSize(ctx)
	if err != nil {
		return fmt.Errorf("hedge size: %w", err)
	}
	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		if _, err := e.exec.PlaceMarketOrder(ctx, e.pair, side, size); err != nil {
			return e.fail(ctx, side, "open market order", err)
		}
	}
	e.state.Active = true
	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		pos, err := e.confirmPosition(ctx, side, size)
		if err != nil {
			return e.fail(ctx, side, "confirm open", err)
		}
		*e.state.Leg(side) = Leg{
			Open:     true,
			Entry:    pos.EntryPrice,
			SizePrev: pos.Size,
			BaseSize: size,
			Anchor:   pos.EntryPrice,
		}
	}
	e.log.Info("hedge opened", zap.String("size", size.String()),
		zap.String("long_entry", e.state.Long.Entry.String()), zap.String("short_entry", e.state.Short.Entry.String()))
	e.notify(ctx, "hedge opened: %s each side, long @ %s, short @ %s", size, e.state.Long.Entry, e.state.Short.Entry)
	e.record(ctx, KindOpen, "", e.state.Long.Entry, size, "")
	var errs []error
	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		errs = append(errs, e.placeTakeProfit(ctx, side))
	}
	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		errs = append(errs, e.placeGrid(ctx, side))
	}
	return errors.Join(errs...)
}

// Reset runs the full cleanup and reopen cycle.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	if err := e.cleanup(ctx); err != nil {
		return err
	}
	return e.openHedge(ctx)
}

// Resume adopts a previously saved state and audits it against the
// exchange.
func (e *Engine) Resume(ctx context.Context, saved State) (AuditReport, error) {
	if err := e.acquire(ctx); err != nil {
		return AuditReport{}, err
	}
	defer e.release()
	if saved.Pair != "" && saved.Pair != e.pair {
		return AuditReport{}, fmt.Errorf("saved state is for %s, not %s", saved.Pair, e.pair)
	}
	saved.Pair = e.pair
	saved.Active = true
	e.state = saved
	e.log.Info("resuming hedge", zap.Bool("long_open", saved.Long.Open), zap.Bool("short_open", saved.Short.Open),
		zap.Int("long_level", saved.Long.Level), zap.Int("short_level", saved.Short.Level))
	return e.audit(ctx)
}

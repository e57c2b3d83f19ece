package hedge

import (
	"context"
	"errors"
	"fmt"

	"fibo-hedge-bot/internal/exchange"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AuditReport struct {
	Repairs []string
}

func (r *AuditReport) add(format string, args ...any) {
	r.Repairs = append(r.Repairs, fmt.Sprintf(format, args...))
}

// Audit reconciles the state with the exchange and re-places anything
// missing. A leg believed open but absent on the exchange is left for
// the detector, which reports it as a take profit.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	if err := e.acquire(ctx); err != nil {
		return AuditReport{}, err
	}
	defer e.release()
	return e.audit(ctx)
}

func (e *Engine) audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	if !e.state.Active {
		return report, nil
	}
	positions, err := e.exec.Positions(ctx, e.pair)
	if err != nil {
		return report, fmt.Errorf("audit positions: %w", err)
	}
	orders, err := e.exec.OpenOrders(ctx, e.pair)
	if err != nil {
		return report, fmt.Errorf("audit open orders: %w", err)
	}
	triggers, err := e.exec.PendingTriggerOrders(ctx, e.pair)
	if err != nil {
		return report, fmt.Errorf("audit trigger orders: %w", err)
	}

	known := e.trackedIDs()
	var errs []error
	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		if err := e.auditLeg(ctx, side, positions.Get(side), orders, triggers, &report); err != nil {
			errs = append(errs, err)
		}
	}
	e.sweepStray(ctx, orders, triggers, known, &report)

	for _, repair := range report.Repairs {
		e.metrics.AuditRepairs.Inc()
		e.log.Warn("audit repair", zap.String("repair", repair))
		e.record(ctx, KindAuditRepair, "", decimal.Zero, decimal.Zero, repair)
	}
	if len(report.Repairs) > 0 {
		e.notify(ctx, "audit repaired %d item(s): %v", len(report.Repairs), report.Repairs)
	}
	err = errors.Join(errs...)
	e.state.NeedsAudit = err != nil
	return report, err
}

func (e *Engine) auditLeg(ctx context.Context, side exchange.Side, pos *exchange.Position, orders, triggers []exchange.Order, report *AuditReport) error {
	leg := e.state.Leg(side)
	if pos == nil {
		if leg.Open {
			return nil
		}
		report.add("%s reopened: believed closed and absent", side)
		e.cancelGrid(ctx, side)
		leg.TPOrderID = ""
		return e.reopen(ctx, side)
	}

	if !leg.Open {
		report.add("%s adopted: position of %s present", side, pos.Size)
		leg.Open = true
		if !leg.Anchor.IsPositive() {
			leg.Anchor = pos.EntryPrice
		}
	}
	if !leg.BaseSize.IsPositive() {
		base, err := e.baseSize(ctx)
		if err != nil {
			base = pos.Size
		}
		leg.BaseSize = base
	}
	level, exhausted := expectedLevel(leg.BaseSize, pos.Size, e.params.GridMultiplier, e.params.SizeTolerance, e.ladder.Len())
	if level != leg.Level || exhausted != leg.Exhausted {
		report.add("%s level %d->%d exhausted %t->%t", side, leg.Level, level, leg.Exhausted, exhausted)
		leg.Level = level
		leg.Exhausted = exhausted
	}
	leg.Entry = pos.EntryPrice
	leg.SizePrev = pos.Size

	var errs []error
	tp := findOrder(triggers, leg.TPOrderID)
	floor := pos.Size.Mul(decimal.NewFromInt(1).Sub(e.params.SizeTolerance))
	switch {
	case tp == nil:
		report.add("%s take profit missing (tracked %q)", side, leg.TPOrderID)
		leg.TPOrderID = ""
		errs = append(errs, e.placeTakeProfit(ctx, side))
	case tp.Size.LessThan(floor):
		report.add("%s take profit size %s does not cover %s", side, tp.Size, pos.Size)
		e.cancelTakeProfit(ctx, side)
		if leg.TPOrderID == "" {
			errs = append(errs, e.placeTakeProfit(ctx, side))
		}
	}
	if !leg.Exhausted && !leg.Capped && findOrder(orders, leg.GridOrderID) == nil {
		report.add("%s grid at level %d missing (tracked %q)", side, leg.Level, leg.GridOrderID)
		leg.GridOrderID = ""
		errs = append(errs, e.placeGrid(ctx, side))
	}
	return errors.Join(errs...)
}

func (e *Engine) trackedIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(Roles))
	for _, role := range Roles {
		if id := e.state.OrderID(role); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// sweepStray cancels listed orders that no role tracked before or after
// the repairs.
func (e *Engine) sweepStray(ctx context.Context, orders, triggers []exchange.Order, known map[string]struct{}, report *AuditReport) {
	tracked := e.trackedIDs()
	for id := range known {
		tracked[id] = struct{}{}
	}
	for _, o := range orders {
		if _, ok := tracked[o.ID]; ok {
			continue
		}
		if _, err := e.exec.CancelOrder(ctx, e.pair, o.ID); err != nil {
			e.log.Warn("cancel stray order failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		report.add("stray order %s cancelled", o.ID)
	}
	for _, o := range triggers {
		if _, ok := tracked[o.ID]; ok {
			continue
		}
		if _, err := e.exec.CancelTriggerOrder(ctx, e.pair, o.ID); err != nil {
			e.log.Warn("cancel stray trigger failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		report.add("stray trigger %s cancelled", o.ID)
	}
}

// expectedLevel maps an observed size onto the size ladder
// s0 = base, s(k+1) = s(k) * (1 + multiplier). It returns the level of the
// pending grid order and whether every rung has filled.
func expectedLevel(base, size, multiplier, tolerance decimal.Decimal, rungs int) (int, bool) {
	if !base.IsPositive() || rungs <= 0 {
		return 0, false
	}
	step := decimal.NewFromInt(1).Add(multiplier)
	slack := decimal.NewFromInt(1).Sub(tolerance)
	fills := 0
	expected := base
	for fills < rungs {
		next := expected.Mul(step)
		if size.LessThan(next.Mul(slack)) {
			break
		}
		fills++
		expected = next
	}
	if fills >= rungs {
		return rungs - 1, true
	}
	return fills, false
}

func findOrder(orders []exchange.Order, id string) *exchange.Order {
	if id == "" {
		return nil
	}
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

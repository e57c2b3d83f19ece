package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Side is the hold side of a hedge-mode position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type TriggerKind string

const (
	TakeProfit TriggerKind = "take_profit"
	StopLoss   TriggerKind = "stop_loss"
)

type Position struct {
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Positions holds at most one position per hold side; nil means absent.
type Positions struct {
	Long  *Position
	Short *Position
}

func (p Positions) Get(side Side) *Position {
	if side == Long {
		return p.Long
	}
	return p.Short
}

func (p Positions) Empty() bool {
	return p.Long == nil && p.Short == nil
}

// OrderRequest opens (or adds to) a position on Side.
type OrderRequest struct {
	Pair          string
	Side          Side
	Type          OrderType
	Size          decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// TriggerRequest places a reduce-only trigger order that closes HoldSide.
type TriggerRequest struct {
	Pair          string
	Kind          TriggerKind
	HoldSide      Side
	TriggerPrice  decimal.Decimal
	Size          decimal.Decimal
	ClientOrderID string
}

type Order struct {
	ID           string
	Pair         string
	Side         Side
	Type         OrderType
	Trigger      TriggerKind
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	Size         decimal.Decimal
}

// Gateway is the exchange surface the hedge engine needs. Calls are
// synchronous, fallible and eventually consistent.
type Gateway interface {
	Price(ctx context.Context, pair string) (decimal.Decimal, error)
	Positions(ctx context.Context, pair string) (Positions, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	PlaceTriggerOrder(ctx context.Context, req TriggerRequest) (string, error)
	CancelOrder(ctx context.Context, pair, orderID string) error
	CancelTriggerOrder(ctx context.Context, pair, orderID string) error
	CancelAllTriggerOrders(ctx context.Context, pair string) error
	ClosePosition(ctx context.Context, pair string, side Side) error
	OpenOrders(ctx context.Context, pair string) ([]Order, error)
	PendingTriggerOrders(ctx context.Context, pair string) ([]Order, error)
}

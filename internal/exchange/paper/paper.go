package paper

import (
	"context"
	"fmt"
	"sync"

	"fibo-hedge-bot/internal/exchange"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource feeds live prices into the simulation.
type PriceSource interface {
	Price(pair string) (decimal.Decimal, bool)
}

type book struct {
	price    decimal.Decimal
	long     *exchange.Position
	short    *exchange.Position
	orders   map[string]exchange.Order
	triggers map[string]exchange.Order
}

// Exchange is an in-memory hedge-mode venue. Market orders fill at the
// current price, resting limit orders fill when the price crosses them
// and take profit triggers close their side when the price reaches them.
type Exchange struct {
	mu     sync.Mutex
	start  decimal.Decimal
	books  map[string]*book
	source PriceSource
	seq    int
	log    *zap.Logger
}

func New(start decimal.Decimal, source PriceSource, log *zap.Logger) *Exchange {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exchange{start: start, books: make(map[string]*book), source: source, log: log}
}

var _ exchange.Gateway = (*Exchange)(nil)

func (e *Exchange) book(pair string) *book {
	b, ok := e.books[pair]
	if !ok {
		b = &book{
			price:    e.start,
			orders:   make(map[string]exchange.Order),
			triggers: make(map[string]exchange.Order),
		}
		e.books[pair] = b
	}
	return b
}

// sync pulls a live price if one is available and matches resting orders.
func (e *Exchange) sync(pair string) *book {
	b := e.book(pair)
	if e.source != nil {
		if price, ok := e.source.Price(pair); ok && price.IsPositive() {
			b.price = price
		}
	}
	e.match(pair, b)
	return b
}

// SetPrice moves the simulated price and matches resting orders.
func (e *Exchange) SetPrice(pair string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.book(pair)
	b.price = price
	e.match(pair, b)
}

func (e *Exchange) match(pair string, b *book) {
	for id, o := range b.orders {
		crossed := (o.Side == exchange.Long && b.price.LessThanOrEqual(o.Price)) ||
			(o.Side == exchange.Short && b.price.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		delete(b.orders, id)
		b.add(o.Side, o.Size, o.Price)
		e.log.Info("paper grid filled", zap.String("pair", pair), zap.String("order_id", id), zap.String("side", string(o.Side)), zap.String("price", o.Price.String()))
	}
	for id, o := range b.triggers {
		hit := (o.Side == exchange.Long && b.price.GreaterThanOrEqual(o.TriggerPrice)) ||
			(o.Side == exchange.Short && b.price.LessThanOrEqual(o.TriggerPrice))
		if !hit {
			continue
		}
		delete(b.triggers, id)
		b.reduce(o.Side, o.Size)
		e.log.Info("paper take profit fired", zap.String("pair", pair), zap.String("order_id", id), zap.String("side", string(o.Side)), zap.String("trigger", o.TriggerPrice.String()))
	}
}

func (b *book) slot(side exchange.Side) **exchange.Position {
	if side == exchange.Long {
		return &b.long
	}
	return &b.short
}

func (b *book) add(side exchange.Side, size, price decimal.Decimal) {
	p := b.slot(side)
	if *p == nil {
		*p = &exchange.Position{Side: side, Size: size, EntryPrice: price}
		return
	}
	cur := *p
	total := cur.Size.Add(size)
	entry := cur.Size.Mul(cur.EntryPrice).Add(size.Mul(price)).Div(total)
	*p = &exchange.Position{Side: side, Size: total, EntryPrice: entry}
}

func (b *book) reduce(side exchange.Side, size decimal.Decimal) {
	p := b.slot(side)
	if *p == nil {
		return
	}
	left := (*p).Size.Sub(size)
	if !left.IsPositive() {
		*p = nil
		return
	}
	cp := **p
	cp.Size = left
	*p = &cp
}

func (e *Exchange) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

func (e *Exchange) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sync(pair).price, nil
}

func (e *Exchange) Positions(ctx context.Context, pair string) (exchange.Positions, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.sync(pair)
	var out exchange.Positions
	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		p := *b.slot(side)
		if p == nil {
			continue
		}
		cp := *p
		cp.UnrealizedPnL = unrealized(cp, b.price)
		if side == exchange.Long {
			out.Long = &cp
		} else {
			out.Short = &cp
		}
	}
	return out, nil
}

func unrealized(p exchange.Position, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == exchange.Short {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

func (e *Exchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if !req.Size.IsPositive() {
		return "", fmt.Errorf("size must be positive: %w", exchange.ErrOrderRejected)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.sync(req.Pair)
	if req.Type == exchange.Market {
		b.add(req.Side, req.Size, b.price)
		return e.nextID("pm"), nil
	}
	if !req.Price.IsPositive() {
		return "", fmt.Errorf("limit price must be positive: %w", exchange.ErrOrderRejected)
	}
	id := e.nextID("pl")
	b.orders[id] = exchange.Order{ID: id, Pair: req.Pair, Side: req.Side, Type: exchange.Limit, Price: req.Price, Size: req.Size}
	e.match(req.Pair, b)
	return id, nil
}

// PlaceTriggerOrder rejects take profits that would fire immediately,
// the way a venue rejects a trigger on the wrong side of the mark.
func (e *Exchange) PlaceTriggerOrder(ctx context.Context, req exchange.TriggerRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.sync(req.Pair)
	if (req.HoldSide == exchange.Long && !req.TriggerPrice.GreaterThan(b.price)) ||
		(req.HoldSide == exchange.Short && !req.TriggerPrice.LessThan(b.price)) {
		return "", fmt.Errorf("trigger %s against mark %s: %w", req.TriggerPrice, b.price, exchange.ErrInvalidTriggerPrice)
	}
	if *b.slot(req.HoldSide) == nil {
		return "", fmt.Errorf("no %s position: %w", req.HoldSide, exchange.ErrOrderRejected)
	}
	id := e.nextID("pt")
	b.triggers[id] = exchange.Order{ID: id, Pair: req.Pair, Side: req.HoldSide, Type: exchange.Market, Trigger: req.Kind, TriggerPrice: req.TriggerPrice, Size: req.Size}
	return id, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, pair, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.sync(pair)
	if _, ok := b.orders[orderID]; !ok {
		return exchange.ErrOrderNotFound
	}
	delete(b.orders, orderID)
	return nil
}

func (e *Exchange) CancelTriggerOrder(ctx context.Context, pair, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.sync(pair)
	if _, ok := b.triggers[orderID]; !ok {
		return exchange.ErrOrderNotFound
	}
	delete(b.triggers, orderID)
	return nil
}

func (e *Exchange) CancelAllTriggerOrders(ctx context.Context, pair string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book(pair).triggers = make(map[string]exchange.Order)
	return nil
}

func (e *Exchange) ClosePosition(ctx context.Context, pair string, side exchange.Side) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.sync(pair).slot(side)
	if *p == nil {
		return exchange.ErrAlreadyClosed
	}
	*p = nil
	return nil
}

func (e *Exchange) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.sync(pair)
	out := make([]exchange.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	return out, nil
}

func (e *Exchange) PendingTriggerOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.sync(pair)
	out := make([]exchange.Order, 0, len(b.triggers))
	for _, o := range b.triggers {
		out = append(out, o)
	}
	return out, nil
}

package hedge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"fibo-hedge-bot/internal/exchange"
	"fibo-hedge-bot/internal/exec"
	"fibo-hedge-bot/internal/ladder"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type call struct {
	op    string
	side  exchange.Side
	id    string
	price decimal.Decimal
	size  decimal.Decimal
}

// fakeExchange is an in-memory hedge-mode venue that records every
// mutating call.
type fakeExchange struct {
	mu       sync.Mutex
	price    decimal.Decimal
	long     *exchange.Position
	short    *exchange.Position
	orders   map[string]exchange.Order
	triggers map[string]exchange.Order
	calls    []call
	seq      int

	triggerRejects int
	ignoreMarket   bool
	closeLeaves    bool
	panicOnPlace   bool
	onPlace        func(exchange.OrderRequest)
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		price:    decimal.NewFromInt(100),
		orders:   make(map[string]exchange.Order),
		triggers: make(map[string]exchange.Order),
	}
}

func (f *fakeExchange) record(c call) {
	f.calls = append(f.calls, c)
}

func (f *fakeExchange) position(side exchange.Side) **exchange.Position {
	if side == exchange.Long {
		return &f.long
	}
	return &f.short
}

func (f *fakeExchange) addPosition(side exchange.Side, size, price decimal.Decimal) {
	p := f.position(side)
	if *p == nil {
		*p = &exchange.Position{Side: side, Size: size, EntryPrice: price}
		return
	}
	cur := *p
	total := cur.Size.Add(size)
	entry := cur.Size.Mul(cur.EntryPrice).Add(size.Mul(price)).Div(total)
	*p = &exchange.Position{Side: side, Size: total, EntryPrice: entry}
}

func (f *fakeExchange) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *fakeExchange) Positions(ctx context.Context, pair string) (exchange.Positions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out exchange.Positions
	if f.long != nil {
		cp := *f.long
		out.Long = &cp
	}
	if f.short != nil {
		cp := *f.short
		out.Short = &cp
	}
	return out, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	f.mu.Lock()
	hook := f.onPlace
	panicking := f.panicOnPlace
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if panicking {
		panic("order router exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("o-%d", f.seq)
	if req.Type == exchange.Market {
		f.record(call{op: "market", side: req.Side, id: id, size: req.Size})
		if !f.ignoreMarket {
			f.addPosition(req.Side, req.Size, f.price)
		}
		return id, nil
	}
	f.record(call{op: "limit", side: req.Side, id: id, price: req.Price, size: req.Size})
	f.orders[id] = exchange.Order{ID: id, Pair: req.Pair, Side: req.Side, Type: exchange.Limit, Price: req.Price, Size: req.Size}
	return id, nil
}

func (f *fakeExchange) PlaceTriggerOrder(ctx context.Context, req exchange.TriggerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{op: "trigger", side: req.HoldSide, price: req.TriggerPrice, size: req.Size})
	if f.triggerRejects > 0 {
		f.triggerRejects--
		return "", exchange.ErrInvalidTriggerPrice
	}
	f.seq++
	id := fmt.Sprintf("t-%d", f.seq)
	f.calls[len(f.calls)-1].id = id
	f.triggers[id] = exchange.Order{ID: id, Pair: req.Pair, Side: req.HoldSide, Trigger: req.Kind, TriggerPrice: req.TriggerPrice, Size: req.Size}
	return id, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, pair, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{op: "cancel", id: orderID})
	if _, ok := f.orders[orderID]; !ok {
		return exchange.ErrOrderNotFound
	}
	delete(f.orders, orderID)
	return nil
}

func (f *fakeExchange) CancelTriggerOrder(ctx context.Context, pair, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{op: "cancel_trigger", id: orderID})
	if _, ok := f.triggers[orderID]; !ok {
		return exchange.ErrOrderNotFound
	}
	delete(f.triggers, orderID)
	return nil
}

func (f *fakeExchange) CancelAllTriggerOrders(ctx context.Context, pair string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{op: "cancel_all_triggers"})
	f.triggers = make(map[string]exchange.Order)
	return nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, pair string, side exchange.Side) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{op: "close", side: side})
	p := f.position(side)
	if *p == nil {
		return exchange.ErrAlreadyClosed
	}
	if !f.closeLeaves {
		*p = nil
	}
	return nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeExchange) PendingTriggerOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Order, 0, len(f.triggers))
	for _, o := range f.triggers {
		out = append(out, o)
	}
	return out, nil
}

// takeProfit simulates side's take profit firing.
func (f *fakeExchange) takeProfit(side exchange.Side) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.position(side) = nil
	for id, o := range f.triggers {
		if o.Side == side {
			delete(f.triggers, id)
		}
	}
}

// fill simulates a resting grid order filling.
func (f *fakeExchange) fill(t *testing.T, id string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		t.Fatalf("order %s not resting", id)
	}
	delete(f.orders, id)
	f.addPosition(o.Side, o.Size, o.Price)
}

func (f *fakeExchange) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeExchange) callsOf(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *recordingNotifier) contains(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, text := range n.texts {
		if strings.Contains(text, sub) {
			return true
		}
	}
	return false
}

type countingCounter struct {
	mu sync.Mutex
	n  int
}

func (c *countingCounter) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func testParams() Params {
	return Params{
		Size:                decimal.NewFromInt(1),
		SizeDecimals:        3,
		PriceDecimals:       2,
		TPPercent:           decimal.NewFromFloat(0.5),
		GrowthThreshold:     decimal.NewFromFloat(1.5),
		GridMultiplier:      decimal.NewFromInt(1),
		Anchor:              "market",
		ConfirmAttempts:     3,
		SizeTolerance:       decimal.NewFromFloat(0.01),
		TriggerAttempts:     5,
		TriggerWidenPercent: decimal.NewFromFloat(0.05),
		CleanupAttempts:     2,
	}
}

type testEngine struct {
	*Engine
	fx    *fakeExchange
	notes *recordingNotifier
}

func newTestEngine(t *testing.T, fx *fakeExchange, params Params) testEngine {
	t.Helper()
	lad, err := ladder.New([]float64{0.5, 1, 2}, ladder.ModeStep)
	if err != nil {
		t.Fatalf("ladder: %v", err)
	}
	notes := &recordingNotifier{}
	ex := exec.New(fx, exec.Options{Attempts: 2}, nil, zap.NewNop())
	e := New("BTCUSDT", params, Deps{Exec: ex, Ladder: lad, Notifier: notes})
	return testEngine{Engine: e, fx: fx, notes: notes}
}

func openedEngine(t *testing.T) testEngine {
	t.Helper()
	te := newTestEngine(t, newFakeExchange(), testParams())
	if err := te.OpenHedge(context.Background()); err != nil {
		t.Fatalf("open hedge: %v", err)
	}
	te.fx.resetCalls()
	return te
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

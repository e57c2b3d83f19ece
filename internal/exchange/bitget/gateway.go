package bitget

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"fibo-hedge-bot/internal/exchange"

	"github.com/shopspring/decimal"
)

const (
	pathSymbolPrice     = "/api/v2/mix/market/symbol-price"
	pathSinglePosition  = "/api/v2/mix/position/single-position"
	pathPlaceOrder      = "/api/v2/mix/order/place-order"
	pathPlaceTPSL       = "/api/v2/mix/order/place-tpsl-order"
	pathCancelOrder     = "/api/v2/mix/order/cancel-order"
	pathCancelPlanOrder = "/api/v2/mix/order/cancel-plan-order"
	pathClosePositions  = "/api/v2/mix/order/close-positions"
	pathOrdersPending   = "/api/v2/mix/order/orders-pending"
	pathPlanPending     = "/api/v2/mix/order/orders-plan-pending"

	planTypeProfitLoss = "profit_loss"
	planTypeProfit     = "profit_plan"
	planTypeLoss       = "loss_plan"
)

var _ exchange.Gateway = (*Client)(nil)

type symbolPrice struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	MarkPrice string `json:"markPrice"`
}

type positionWire struct {
	Symbol       string `json:"symbol"`
	HoldSide     string `json:"holdSide"`
	Total        string `json:"total"`
	OpenPriceAvg string `json:"openPriceAvg"`
	UnrealizedPL string `json:"unrealizedPL"`
}

type orderAck struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type orderWire struct {
	OrderID      string `json:"orderId"`
	Symbol       string `json:"symbol"`
	Size         string `json:"size"`
	Price        string `json:"price"`
	Side         string `json:"side"`
	PosSide      string `json:"posSide"`
	OrderType    string `json:"orderType"`
	TradeSide    string `json:"tradeSide"`
	PlanType     string `json:"planType"`
	TriggerPrice string `json:"triggerPrice"`
}

type orderList struct {
	EntrustedList []orderWire `json:"entrustedList"`
}

type closeResult struct {
	SuccessList []orderAck `json:"successList"`
	FailureList []struct {
		OrderID   string `json:"orderId"`
		ErrorMsg  string `json:"errorMsg"`
		ErrorCode string `json:"errorCode"`
	} `json:"failureList"`
}

func (c *Client) baseParams(pair string) url.Values {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("productType", c.opts.ProductType)
	return params
}

func (c *Client) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	if c.prices != nil {
		if price, ok := c.prices.Price(pair); ok {
			return price, nil
		}
	}
	var out []symbolPrice
	if err := c.get(ctx, pathSymbolPrice, c.baseParams(pair), &out); err != nil {
		return decimal.Zero, err
	}
	if len(out) == 0 {
		return decimal.Zero, fmt.Errorf("no price for %s", pair)
	}
	if mark := parseDecimal(out[0].MarkPrice); mark.IsPositive() {
		return mark, nil
	}
	return parseDecimal(out[0].Price), nil
}

func (c *Client) Positions(ctx context.Context, pair string) (exchange.Positions, error) {
	params := c.baseParams(pair)
	params.Set("marginCoin", c.opts.MarginCoin)
	var out []positionWire
	if err := c.get(ctx, pathSinglePosition, params, &out); err != nil {
		return exchange.Positions{}, err
	}
	return parsePositions(out), nil
}

func parsePositions(wire []positionWire) exchange.Positions {
	var positions exchange.Positions
	for _, p := range wire {
		size := parseDecimal(p.Total)
		if !size.IsPositive() {
			continue
		}
		pos := &exchange.Position{
			Size:          size,
			EntryPrice:    parseDecimal(p.OpenPriceAvg),
			UnrealizedPnL: parseDecimal(p.UnrealizedPL),
		}
		switch strings.ToLower(p.HoldSide) {
		case "long":
			pos.Side = exchange.Long
			positions.Long = pos
		case "short":
			pos.Side = exchange.Short
			positions.Short = pos
		}
	}
	return positions
}

// PlaceOrder opens or adds to a hedge-mode position: buy/open for long,
// sell/open for short.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	body := map[string]string{
		"symbol":      req.Pair,
		"productType": c.opts.ProductType,
		"marginMode":  c.opts.MarginMode,
		"marginCoin":  c.opts.MarginCoin,
		"size":        req.Size.String(),
		"side":        openSide(req.Side),
		"tradeSide":   "open",
		"orderType":   string(req.Type),
	}
	if req.Type == exchange.Limit {
		body["price"] = req.Price.String()
		body["force"] = "gtc"
	}
	if req.ClientOrderID != "" {
		body["clientOid"] = req.ClientOrderID
	}
	var ack orderAck
	if err := c.post(ctx, pathPlaceOrder, body, &ack); err != nil {
		return "", err
	}
	if ack.OrderID == "" {
		return "", fmt.Errorf("place order: empty order id: %w", exchange.ErrOrderRejected)
	}
	return ack.OrderID, nil
}

func (c *Client) PlaceTriggerOrder(ctx context.Context, req exchange.TriggerRequest) (string, error) {
	planType := planTypeProfit
	if req.Kind == exchange.StopLoss {
		planType = planTypeLoss
	}
	body := map[string]string{
		"symbol":       req.Pair,
		"productType":  c.opts.ProductType,
		"marginCoin":   c.opts.MarginCoin,
		"planType":     planType,
		"triggerPrice": req.TriggerPrice.String(),
		"triggerType":  "mark_price",
		"executePrice": "0",
		"holdSide":     string(req.HoldSide),
		"size":         req.Size.String(),
	}
	if req.ClientOrderID != "" {
		body["clientOid"] = req.ClientOrderID
	}
	var ack orderAck
	if err := c.post(ctx, pathPlaceTPSL, body, &ack); err != nil {
		return "", err
	}
	if ack.OrderID == "" {
		return "", fmt.Errorf("place trigger order: empty order id: %w", exchange.ErrOrderRejected)
	}
	return ack.OrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, pair, orderID string) error {
	body := map[string]string{
		"symbol":      pair,
		"productType": c.opts.ProductType,
		"marginCoin":  c.opts.MarginCoin,
		"orderId":     orderID,
	}
	return c.post(ctx, pathCancelOrder, body, nil)
}

func (c *Client) CancelTriggerOrder(ctx context.Context, pair, orderID string) error {
	return c.cancelPlan(ctx, pair, []string{orderID})
}

func (c *Client) CancelAllTriggerOrders(ctx context.Context, pair string) error {
	err := c.cancelPlan(ctx, pair, nil)
	if errors.Is(err, exchange.ErrOrderNotFound) {
		return nil
	}
	return err
}

func (c *Client) cancelPlan(ctx context.Context, pair string, ids []string) error {
	body := map[string]any{
		"symbol":      pair,
		"productType": c.opts.ProductType,
		"marginCoin":  c.opts.MarginCoin,
		"planType":    planTypeProfitLoss,
	}
	if len(ids) > 0 {
		list := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			list = append(list, map[string]string{"orderId": id})
		}
		body["orderIdList"] = list
	}
	var out closeResult
	if err := c.post(ctx, pathCancelPlanOrder, body, &out); err != nil {
		return err
	}
	if len(ids) > 0 && len(out.SuccessList) == 0 && len(out.FailureList) > 0 {
		f := out.FailureList[0]
		return &APIError{Code: f.ErrorCode, Msg: f.ErrorMsg}
	}
	return nil
}

// ClosePosition flash-closes one hold side at market.
func (c *Client) ClosePosition(ctx context.Context, pair string, side exchange.Side) error {
	body := map[string]string{
		"symbol":      pair,
		"productType": c.opts.ProductType,
		"holdSide":    string(side),
	}
	var out closeResult
	if err := c.post(ctx, pathClosePositions, body, &out); err != nil {
		return err
	}
	if len(out.SuccessList) == 0 && len(out.FailureList) > 0 {
		f := out.FailureList[0]
		return &APIError{Code: f.ErrorCode, Msg: f.ErrorMsg}
	}
	return nil
}

func (c *Client) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	var out orderList
	if err := c.get(ctx, pathOrdersPending, c.baseParams(pair), &out); err != nil {
		return nil, err
	}
	orders := make([]exchange.Order, 0, len(out.EntrustedList))
	for _, w := range out.EntrustedList {
		orders = append(orders, exchange.Order{
			ID:    w.OrderID,
			Pair:  w.Symbol,
			Side:  holdSide(w.PosSide, w.Side),
			Type:  exchange.OrderType(strings.ToLower(w.OrderType)),
			Price: parseDecimal(w.Price),
			Size:  parseDecimal(w.Size),
		})
	}
	return orders, nil
}

func (c *Client) PendingTriggerOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	params := c.baseParams(pair)
	params.Set("planType", planTypeProfitLoss)
	var out orderList
	if err := c.get(ctx, pathPlanPending, params, &out); err != nil {
		return nil, err
	}
	orders := make([]exchange.Order, 0, len(out.EntrustedList))
	for _, w := range out.EntrustedList {
		kind := exchange.TakeProfit
		if strings.Contains(w.PlanType, "loss") {
			kind = exchange.StopLoss
		}
		orders = append(orders, exchange.Order{
			ID:           w.OrderID,
			Pair:         w.Symbol,
			Side:         holdSide(w.PosSide, w.Side),
			Type:         exchange.Market,
			Trigger:      kind,
			TriggerPrice: parseDecimal(w.TriggerPrice),
			Size:         parseDecimal(w.Size),
		})
	}
	return orders, nil
}

func openSide(side exchange.Side) string {
	if side == exchange.Long {
		return "buy"
	}
	return "sell"
}

func holdSide(posSide, side string) exchange.Side {
	switch strings.ToLower(posSide) {
	case "long":
		return exchange.Long
	case "short":
		return exchange.Short
	}
	if strings.ToLower(side) == "sell" {
		return exchange.Short
	}
	return exchange.Long
}

func parseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

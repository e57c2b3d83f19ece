package bitget

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"fibo-hedge-bot/internal/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type tickerSample struct {
	price decimal.Decimal
	at    time.Time
}

// Ticker caches mark prices streamed from the public ticker channel.
// Prices older than maxAge are reported as missing so callers fall back
// to REST.
type Ticker struct {
	ws          *ws.Client
	productType string
	maxAge      time.Duration
	log         *zap.Logger
	now         func() time.Time

	mu     sync.RWMutex
	prices map[string]tickerSample
}

func NewTicker(client *ws.Client, productType string, maxAge time.Duration, log *zap.Logger) *Ticker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{
		ws:          client,
		productType: productType,
		maxAge:      maxAge,
		log:         log,
		now:         time.Now,
		prices:      make(map[string]tickerSample),
	}
}

type tickerArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type tickerPush struct {
	Action string    `json:"action"`
	Event  string    `json:"event"`
	Arg    tickerArg `json:"arg"`
	Data   []struct {
		InstID    string `json:"instId"`
		LastPr    string `json:"lastPr"`
		MarkPrice string `json:"markPrice"`
	} `json:"data"`
}

// Run subscribes to pairs and streams until ctx ends.
func (t *Ticker) Run(ctx context.Context, pairs []string) error {
	args := make([]tickerArg, 0, len(pairs))
	for _, pair := range pairs {
		args = append(args, tickerArg{InstType: t.productType, Channel: "ticker", InstID: pair})
	}
	if err := t.ws.Subscribe(ctx, map[string]any{"op": "subscribe", "args": args}); err != nil {
		return err
	}
	return t.ws.Run(ctx, t.handle)
}

func (t *Ticker) handle(msg json.RawMessage) {
	var push tickerPush
	if err := json.Unmarshal(msg, &push); err != nil {
		t.log.Debug("ticker message ignored", zap.Error(err))
		return
	}
	if push.Event == "error" {
		t.log.Warn("ticker subscription error", zap.ByteString("message", msg))
		return
	}
	if push.Arg.Channel != "ticker" {
		return
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range push.Data {
		price := parseDecimal(d.MarkPrice)
		if !price.IsPositive() {
			price = parseDecimal(d.LastPr)
		}
		if !price.IsPositive() {
			continue
		}
		pair := d.InstID
		if pair == "" {
			pair = push.Arg.InstID
		}
		t.prices[strings.ToUpper(pair)] = tickerSample{price: price, at: now}
	}
}

func (t *Ticker) Price(pair string) (decimal.Decimal, bool) {
	t.mu.RLock()
	sample, ok := t.prices[strings.ToUpper(pair)]
	t.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	if t.maxAge > 0 && t.now().Sub(sample.at) > t.maxAge {
		return decimal.Zero, false
	}
	return sample.price, true
}

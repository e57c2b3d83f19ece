package bitget

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTickerCachesMarkPrice(t *testing.T) {
	ticker := NewTicker(nil, "USDT-FUTURES", 5*time.Second, nil)
	now := time.Unix(1_700_000_000, 0)
	ticker.now = func() time.Time { return now }

	ticker.handle(json.RawMessage(`{"action":"snapshot","arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"},
		"data":[{"instId":"BTCUSDT","lastPr":"60010","markPrice":"60005.5"}]}`))
	price, ok := ticker.Price("btcusdt")
	if !ok || !price.Equal(decimal.RequireFromString("60005.5")) {
		t.Fatalf("expected cached mark price, got %s %t", price, ok)
	}

	now = now.Add(6 * time.Second)
	if _, ok := ticker.Price("BTCUSDT"); ok {
		t.Fatalf("expected stale price to be reported missing")
	}
}

func TestTickerFallsBackToLastPrice(t *testing.T) {
	ticker := NewTicker(nil, "USDT-FUTURES", 0, nil)
	ticker.handle(json.RawMessage(`{"action":"update","arg":{"channel":"ticker","instId":"ETHUSDT"},"data":[{"lastPr":"3001"}]}`))
	price, ok := ticker.Price("ETHUSDT")
	if !ok || !price.Equal(decimal.NewFromInt(3001)) {
		t.Fatalf("expected last price fallback, got %s %t", price, ok)
	}
}

func TestTickerIgnoresOtherChannels(t *testing.T) {
	ticker := NewTicker(nil, "USDT-FUTURES", 0, nil)
	ticker.handle(json.RawMessage(`{"event":"subscribe","arg":{"channel":"ticker","instId":"BTCUSDT"}}`))
	ticker.handle(json.RawMessage(`{"action":"snapshot","arg":{"channel":"books","instId":"BTCUSDT"},"data":[{"lastPr":"1"}]}`))
	ticker.handle(json.RawMessage(`not json`))
	if _, ok := ticker.Price("BTCUSDT"); ok {
		t.Fatalf("expected no cached price")
	}
}

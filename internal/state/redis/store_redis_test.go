package redis

import (
	"context"
	"testing"
)

func TestNewFailsWhenUnreachable(t *testing.T) {
	if _, err := New(context.Background(), "127.0.0.1:1", 0, "fibo-hedge:"); err == nil {
		t.Fatalf("expected ping error for unreachable redis")
	}
}

func TestKeyPrefix(t *testing.T) {
	s := &Store{prefix: "bot-a:"}
	if got := s.key("hedge:BTCUSDT"); got != "bot-a:hedge:BTCUSDT" {
		t.Fatalf("unexpected key %q", got)
	}
}

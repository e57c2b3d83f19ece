package ladder

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCumulativeOffsetsAreMonotonic(t *testing.T) {
	l, err := New([]float64{0.1, 0.2, 0.4, 0.8, 1.6}, ModeCumulative)
	if err != nil {
		t.Fatalf("new ladder: %v", err)
	}
	prev := decimal.Zero
	for i := 0; i < l.Len(); i++ {
		off, err := l.Offset(i)
		if err != nil {
			t.Fatalf("offset %d: %v", i, err)
		}
		if !off.GreaterThan(prev) {
			t.Fatalf("offset %d (%s) not greater than %s", i, off, prev)
		}
		prev = off
	}
	if got, _ := l.Offset(2); !got.Equal(decimal.RequireFromString("0.7")) {
		t.Fatalf("expected cumulative offset 0.7, got %s", got)
	}
}

func TestStepOffsetsAreMonotonic(t *testing.T) {
	l, err := New(Fibonacci(6, 0.2), ModeStep)
	if err != nil {
		t.Fatalf("new ladder: %v", err)
	}
	for i := 1; i < l.Len(); i++ {
		a, _ := l.Offset(i - 1)
		b, _ := l.Offset(i)
		if !b.GreaterThan(a) {
			t.Fatalf("offset %d (%s) not greater than offset %d (%s)", i, b, i-1, a)
		}
	}
}

func TestNewRejectsNonIncreasing(t *testing.T) {
	if _, err := New([]float64{0.2, 0.2}, ModeStep); err == nil {
		t.Fatalf("expected error for equal offsets")
	}
	if _, err := New([]float64{0.5, 0.1}, ModeStep); err == nil {
		t.Fatalf("expected error for decreasing offsets")
	}
	if _, err := New([]float64{0, 0.1}, ModeStep); err == nil {
		t.Fatalf("expected error for zero offset")
	}
	if _, err := New([]float64{50, 100}, ModeStep); err == nil {
		t.Fatalf("expected error for an offset of 100%%")
	}
	if _, err := New([]float64{40, 60}, ModeCumulative); err == nil {
		t.Fatalf("expected error for a cumulative offset of 100%%")
	}
	if _, err := New([]float64{40, 59}, ModeCumulative); err != nil {
		t.Fatalf("expected cumulative offsets below 100%% to pass, got %v", err)
	}
	if _, err := New(nil, ModeStep); err == nil {
		t.Fatalf("expected error for empty ladder")
	}
	if _, err := New([]float64{0.1}, Mode("spiral")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestTriggerPriceDirections(t *testing.T) {
	l, err := New([]float64{1, 2}, ModeStep)
	if err != nil {
		t.Fatalf("new ladder: %v", err)
	}
	base := decimal.NewFromInt(100)
	below, err := l.TriggerPrice(base, 0, WidenLong)
	if err != nil {
		t.Fatalf("trigger price: %v", err)
	}
	if !below.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected 99, got %s", below)
	}
	above, err := l.TriggerPrice(base, 1, WidenShort)
	if err != nil {
		t.Fatalf("trigger price: %v", err)
	}
	if !above.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("expected 102, got %s", above)
	}
}

func TestTriggerPriceExhausted(t *testing.T) {
	l, err := New([]float64{1, 2}, ModeStep)
	if err != nil {
		t.Fatalf("new ladder: %v", err)
	}
	_, err = l.TriggerPrice(decimal.NewFromInt(100), 2, WidenLong)
	if !errors.Is(err, ErrLadderExhausted) {
		t.Fatalf("expected ErrLadderExhausted, got %v", err)
	}
	if !l.Last(1) || l.Last(0) {
		t.Fatalf("unexpected Last result")
	}
}

func TestTakeProfitPrice(t *testing.T) {
	entry := decimal.NewFromInt(200)
	pct := decimal.RequireFromString("0.5")
	if got := TakeProfitPrice(entry, pct, true); !got.Equal(decimal.NewFromInt(201)) {
		t.Fatalf("expected long tp 201, got %s", got)
	}
	if got := TakeProfitPrice(entry, pct, false); !got.Equal(decimal.NewFromInt(199)) {
		t.Fatalf("expected short tp 199, got %s", got)
	}
}

func TestFibonacci(t *testing.T) {
	got := Fibonacci(5, 1)
	want := []float64{1, 2, 3, 5, 8}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fibonacci[%d] expected %v, got %v", i, want[i], got[i])
		}
	}
}

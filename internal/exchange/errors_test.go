package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("place: %w", ErrRateLimited), true},
		{ErrTimeout, true},
		{context.DeadlineExceeded, true},
		{timeoutErr{}, true},
		{ErrOrderRejected, false},
		{errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v) expected %v, got %v", tc.err, tc.want, got)
		}
	}
}

func TestIsBenign(t *testing.T) {
	if !IsBenign(fmt.Errorf("cancel: %w", ErrOrderNotFound)) {
		t.Fatalf("expected not found to be benign")
	}
	if !IsBenign(ErrAlreadyClosed) {
		t.Fatalf("expected already closed to be benign")
	}
	if IsBenign(ErrInvalidTriggerPrice) {
		t.Fatalf("invalid trigger price must not be benign")
	}
}

func TestPositionsGet(t *testing.T) {
	long := &Position{Side: Long}
	p := Positions{Long: long}
	if p.Get(Long) != long || p.Get(Short) != nil {
		t.Fatalf("unexpected Get result")
	}
	if p.Empty() {
		t.Fatalf("expected non-empty positions")
	}
	if Long.Opposite() != Short || Short.Opposite() != Long {
		t.Fatalf("unexpected opposite side")
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), Constant(3, 0), nil, func(int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoReturnsOnSuccess(t *testing.T) {
	var seen []int
	err := Do(context.Background(), Constant(5, 0), nil, func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 3 || seen[2] != 2 {
		t.Fatalf("unexpected attempts %v", seen)
	}
}

func TestDoPermanentError(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), Constant(5, 0), func(err error) bool { return !errors.Is(err, fatal) }, func(int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Constant(5, time.Second), nil, func(int) error {
		return errors.New("retry me")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestPoll(t *testing.T) {
	n := 0
	err := Poll(context.Background(), Constant(4, 0), func() (bool, error) {
		n++
		return n == 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = Poll(context.Background(), Constant(2, 0), func() (bool, error) { return false, nil })
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

package exchange

import (
	"context"
	"errors"
	"net"
)

var (
	ErrOrderRejected       = errors.New("order rejected")
	ErrInvalidTriggerPrice = errors.New("invalid trigger price")
	ErrOrderNotFound       = errors.New("order not found")
	ErrAlreadyClosed       = errors.New("position already closed")
	ErrRateLimited         = errors.New("rate limited")
	ErrTimeout             = errors.New("request timed out")
)

// IsTransient reports whether err is worth retrying as-is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsBenign reports outcomes that mean the requested end state already holds.
func IsBenign(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrAlreadyClosed)
}

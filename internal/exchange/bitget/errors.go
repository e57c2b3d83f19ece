package bitget

import (
	"fmt"
	"net/http"
	"strings"

	"fibo-hedge-bot/internal/exchange"
)

// APIError is a non-success envelope. It unwraps to the matching
// exchange sentinel so callers can use errors.Is.
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitget error %s (http %d): %s", e.Code, e.Status, e.Msg)
}

func (e *APIError) Unwrap() error {
	return classify(e.Status, e.Code, e.Msg)
}

var codeErrors = map[string]error{
	"429":   exchange.ErrRateLimited,
	"40010": exchange.ErrTimeout,
	"22001": exchange.ErrOrderNotFound,
	"40768": exchange.ErrOrderNotFound,
	"40109": exchange.ErrOrderNotFound,
	"43001": exchange.ErrOrderNotFound,
	"43025": exchange.ErrOrderNotFound,
	"22002": exchange.ErrAlreadyClosed,
	"40774": exchange.ErrAlreadyClosed,
	"43011": exchange.ErrInvalidTriggerPrice,
	"43013": exchange.ErrInvalidTriggerPrice,
	"43023": exchange.ErrInvalidTriggerPrice,
	"40915": exchange.ErrInvalidTriggerPrice,
	"40762": exchange.ErrOrderRejected,
	"43012": exchange.ErrOrderRejected,
	"45110": exchange.ErrOrderRejected,
}

func classify(status int, code, msg string) error {
	if status == http.StatusTooManyRequests {
		return exchange.ErrRateLimited
	}
	if err, ok := codeErrors[code]; ok {
		return err
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "too many requests"):
		return exchange.ErrRateLimited
	case strings.Contains(lower, "trigger price"):
		return exchange.ErrInvalidTriggerPrice
	case strings.Contains(lower, "order does not exist"), strings.Contains(lower, "order not exist"), strings.Contains(lower, "no order"):
		return exchange.ErrOrderNotFound
	case strings.Contains(lower, "no position"), strings.Contains(lower, "position does not exist"):
		return exchange.ErrAlreadyClosed
	}
	return exchange.ErrOrderRejected
}

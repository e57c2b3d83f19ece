package hedge

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// checkSideNotional rejects growing a side to size at price when that
// exceeds maxUSD. A zero cap disables the check.
func checkSideNotional(maxUSD, size, price decimal.Decimal) error {
	if !maxUSD.IsPositive() {
		return nil
	}
	notional := size.Mul(price)
	if notional.GreaterThan(maxUSD) {
		return fmt.Errorf("side notional %s exceeds %s: %w", notional.StringFixed(2), maxUSD.StringFixed(2), ErrSideNotionalCap)
	}
	return nil
}

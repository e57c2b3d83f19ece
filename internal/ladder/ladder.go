package ladder

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrLadderExhausted = errors.New("fibonacci ladder exhausted")

type Mode string

const (
	// ModeStep prices each level with its own offset.
	ModeStep Mode = "step"
	// ModeCumulative prices level n with the running sum of offsets 0..n.
	ModeCumulative Mode = "cumulative"
)

type Direction int

const (
	// WidenLong moves the price below the base (long grid, short take-profit).
	WidenLong Direction = iota
	// WidenShort moves the price above the base (short grid, long take-profit).
	WidenShort
)

var hundred = decimal.NewFromInt(100)

// Ladder is an ordered set of percentage offsets used to space grid orders.
type Ladder struct {
	offsets []decimal.Decimal
	mode    Mode
}

func New(percents []float64, mode Mode) (*Ladder, error) {
	if len(percents) == 0 {
		return nil, errors.New("ladder requires at least one offset")
	}
	switch mode {
	case "":
		mode = ModeStep
	case ModeStep, ModeCumulative:
	default:
		return nil, fmt.Errorf("unknown ladder mode %q", mode)
	}
	offsets := make([]decimal.Decimal, len(percents))
	for i, p := range percents {
		d := decimal.NewFromFloat(p)
		if !d.IsPositive() || !d.LessThan(hundred) {
			return nil, fmt.Errorf("ladder offset %d must be in (0, 100), got %s", i, d)
		}
		if i > 0 && !d.GreaterThan(offsets[i-1]) {
			return nil, fmt.Errorf("ladder offsets must be strictly increasing: %s after %s", d, offsets[i-1])
		}
		offsets[i] = d
	}
	if mode == ModeCumulative {
		if total := CumulativeOffset(offsets, len(offsets)-1); !total.LessThan(hundred) {
			return nil, fmt.Errorf("cumulative ladder reaches %s%%, must stay below 100", total)
		}
	}
	return &Ladder{offsets: offsets, mode: mode}, nil
}

// Fibonacci builds unit * [1, 2, 3, 5, 8, ...] with n levels.
func Fibonacci(n int, unit float64) []float64 {
	out := make([]float64, 0, n)
	a, b := 1, 2
	for i := 0; i < n; i++ {
		out = append(out, float64(a)*unit)
		a, b = b, a+b
	}
	return out
}

func (l *Ladder) Len() int {
	return len(l.offsets)
}

// Last reports whether level is the final rung.
func (l *Ladder) Last(level int) bool {
	return level == len(l.offsets)-1
}

// Offset returns the percentage distance for level according to the ladder mode.
func (l *Ladder) Offset(level int) (decimal.Decimal, error) {
	if level < 0 || level >= len(l.offsets) {
		return decimal.Zero, fmt.Errorf("level %d of %d: %w", level, len(l.offsets), ErrLadderExhausted)
	}
	if l.mode != ModeCumulative {
		return l.offsets[level], nil
	}
	return CumulativeOffset(l.offsets, level), nil
}

// CumulativeOffset sums the first level+1 offsets.
func CumulativeOffset(offsets []decimal.Decimal, level int) decimal.Decimal {
	sum := decimal.Zero
	for i := 0; i <= level && i < len(offsets); i++ {
		sum = sum.Add(offsets[i])
	}
	return sum
}

func (l *Ladder) TriggerPrice(base decimal.Decimal, level int, dir Direction) (decimal.Decimal, error) {
	offset, err := l.Offset(level)
	if err != nil {
		return decimal.Zero, err
	}
	return shift(base, offset, dir), nil
}

// TakeProfitPrice is entry*(1+percent/100) for longs and entry*(1-percent/100) for shorts.
func TakeProfitPrice(entry, percent decimal.Decimal, long bool) decimal.Decimal {
	if long {
		return shift(entry, percent, WidenShort)
	}
	return shift(entry, percent, WidenLong)
}

func shift(base, percent decimal.Decimal, dir Direction) decimal.Decimal {
	frac := percent.Div(hundred)
	if dir == WidenLong {
		return base.Mul(decimal.NewFromInt(1).Sub(frac))
	}
	return base.Mul(decimal.NewFromInt(1).Add(frac))
}

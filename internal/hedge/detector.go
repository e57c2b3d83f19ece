package hedge

import (
	"time"

	"fibo-hedge-bot/internal/exchange"

	"github.com/shopspring/decimal"
)

type Event string

const (
	EventNone      Event = "NONE"
	EventTPLong    Event = "TP_LONG"
	EventTPShort   Event = "TP_SHORT"
	EventFiboLong  Event = "FIBO_LONG"
	EventFiboShort Event = "FIBO_SHORT"
)

// Snapshot is one observation of the exchange for a pair.
type Snapshot struct {
	Long    *exchange.Position
	Short   *exchange.Position
	Price   decimal.Decimal
	TakenAt time.Time
}

func (s Snapshot) Get(side exchange.Side) *exchange.Position {
	if side == exchange.Long {
		return s.Long
	}
	return s.Short
}

type Detection struct {
	Event    Event
	Side     exchange.Side
	Position *exchange.Position
}

// Detect classifies a snapshot against the current belief. Events are
// checked in fixed priority and at most one is returned. The event is
// acknowledged in st, so detecting again on the same snapshot yields
// EventNone.
func Detect(st *State, snap Snapshot, growth decimal.Decimal) Detection {
	if st.Long.Open && snap.Long == nil {
		st.Long.Open = false
		return Detection{Event: EventTPLong, Side: exchange.Long}
	}
	if st.Short.Open && snap.Short == nil {
		st.Short.Open = false
		return Detection{Event: EventTPShort, Side: exchange.Short}
	}
	if grew(&st.Long, snap.Long, growth) {
		st.Long.SizePrev = snap.Long.Size
		return Detection{Event: EventFiboLong, Side: exchange.Long, Position: snap.Long}
	}
	if grew(&st.Short, snap.Short, growth) {
		st.Short.SizePrev = snap.Short.Size
		return Detection{Event: EventFiboShort, Side: exchange.Short, Position: snap.Short}
	}
	if snap.Long != nil {
		st.Long.SizePrev = snap.Long.Size
	}
	if snap.Short != nil {
		st.Short.SizePrev = snap.Short.Size
	}
	return Detection{Event: EventNone}
}

func grew(leg *Leg, pos *exchange.Position, growth decimal.Decimal) bool {
	if pos == nil || !leg.SizePrev.IsPositive() {
		return false
	}
	return pos.Size.GreaterThanOrEqual(leg.SizePrev.Mul(growth))
}

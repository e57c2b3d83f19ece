package hedge

import (
	"time"

	"fibo-hedge-bot/internal/exchange"

	"github.com/shopspring/decimal"
)

// Role names one of the four protective orders a hedge keeps resting.
type Role string

const (
	RoleTPLong    Role = "tpLong"
	RoleTPShort   Role = "tpShort"
	RoleGridLong  Role = "gridLong"
	RoleGridShort Role = "gridShort"
)

var Roles = []Role{RoleTPLong, RoleTPShort, RoleGridLong, RoleGridShort}

// Leg is what the bot believes about one hold side.
type Leg struct {
	Open      bool            `json:"open"`
	Entry     decimal.Decimal `json:"entry"`
	SizePrev  decimal.Decimal `json:"size_prev"`
	BaseSize  decimal.Decimal `json:"base_size"`
	Level     int             `json:"level"`
	Exhausted bool            `json:"exhausted"`
	// Capped is set when the side notional cap blocked the next grid order.
	Capped      bool            `json:"capped"`
	Anchor      decimal.Decimal `json:"anchor"`
	TPOrderID   string          `json:"tp_order_id"`
	GridOrderID string          `json:"grid_order_id"`
}

// State is the per-pair hedge state. It is owned by one Engine and only
// mutated while the engine's flight slot is held.
type State struct {
	Pair       string    `json:"pair"`
	Active     bool      `json:"active"`
	Long       Leg       `json:"long"`
	Short      Leg       `json:"short"`
	NeedsAudit bool      `json:"needs_audit"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *State) Leg(side exchange.Side) *Leg {
	if side == exchange.Long {
		return &s.Long
	}
	return &s.Short
}

func (s *State) OrderID(role Role) string {
	switch role {
	case RoleTPLong:
		return s.Long.TPOrderID
	case RoleTPShort:
		return s.Short.TPOrderID
	case RoleGridLong:
		return s.Long.GridOrderID
	case RoleGridShort:
		return s.Short.GridOrderID
	}
	return ""
}

func (s *State) reset() {
	pair := s.Pair
	*s = State{Pair: pair}
}

func tpRole(side exchange.Side) Role {
	if side == exchange.Long {
		return RoleTPLong
	}
	return RoleTPShort
}

func gridRole(side exchange.Side) Role {
	if side == exchange.Long {
		return RoleGridLong
	}
	return RoleGridShort
}

package models

import (
	"fmt"
	"strings"
)

// InstType is the instrument category stored in exchange_symbol.inst_type.
type InstType int

const (
	InstSpot    InstType = 0
	InstPerp    InstType = 1
	InstFutures InstType = 2
	InstOption  InstType = 3
)

var instTypeNames = map[InstType]string{
	InstSpot:    "spot",
	InstPerp:    "perp",
	InstFutures: "futures",
	InstOption:  "option",
}

func (t InstType) String() string {
	if name, ok := instTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("inst_type(%d)", int(t))
}

// ParseInstType accepts either the canonical name or the numeric code.
func ParseInstType(s string) (InstType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range instTypeNames {
		if s == name || s == fmt.Sprint(int(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown inst type %q", s)
}

// SymbolStatus is the canonical trading status of a symbol.
type SymbolStatus int

const (
	StatusActive  SymbolStatus = 0
	StatusHalted  SymbolStatus = 1
	StatusPending SymbolStatus = 2
	StatusClosed  SymbolStatus = 3
)

func (s SymbolStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusHalted:
		return "HALTED"
	case StatusPending:
		return "PENDING"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// StatusMap translates an exchange specific status code into the canonical
// status. Codes missing from the map resolve to StatusPending so unknown
// listings never show up as tradeable.
type StatusMap map[string]SymbolStatus

func (m StatusMap) Resolve(code string) SymbolStatus {
	if s, ok := m[code]; ok {
		return s
	}
	return StatusPending
}

// SymbolKey identifies a symbol row: (exchange_id, symbol, inst_type).
type SymbolKey struct {
	ExchangeID int
	Symbol     string
	InstType   InstType
}

func (k SymbolKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.ExchangeID, k.Symbol, k.InstType)
}

// SymbolMeta is the canonical symbol metadata record.
type SymbolMeta struct {
	ExchangeID        int          `json:"exchange_id"`
	Symbol            string       `json:"symbol"`
	InstType          InstType     `json:"inst_type"`
	BaseAsset         string       `json:"base_asset"`
	QuoteAsset        string       `json:"quote_asset"`
	Status            SymbolStatus `json:"status"`
	TickSize          string       `json:"tick_size"`
	StepSize          string       `json:"step_size"`
	PricePrecision    int          `json:"price_precision"`
	QuantityPrecision int          `json:"quantity_precision"`
	OnboardTime       *int64       `json:"onboard_time,omitempty"`
}

func (m SymbolMeta) Key() SymbolKey {
	return SymbolKey{ExchangeID: m.ExchangeID, Symbol: m.Symbol, InstType: m.InstType}
}

// ActiveSymbol is a symbol currently marked visible by the control list,
// together with the name of the exchange it belongs to.
type ActiveSymbol struct {
	SymbolKey
	Exchange    string
	OnboardTime *int64
}

package strategy

import (
	"fmt"
	"strings"

	"quantbt/internal/market"
)

// Action is the trading decision a strategy emits for one bar.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Signal is the per-bar output of a strategy. Quantity is advisory (the
// portfolio sizes fills itself); StopLoss/TakeProfit of 0 mean "none".
type Signal struct {
	Action     Action
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
}

// PortfolioView is the read-only account state handed to strategies. The
// concrete portfolio lives in the backtest package; strategies only ever
// see this slice of it.
type PortfolioView interface {
	Cash() float64
	Equity() float64
	HasPosition(symbol string) bool
}

// Strategy converts a bar stream into trading signals, one signal per bar.
type Strategy interface {
	ProcessBar(bar market.Bar, view PortfolioView) Signal
	Parameters() Params
	Reset()
}

// Optimizable extends Strategy with the contract the optimizer needs:
// declared parameter ranges, parameter application, and deep copies so
// concurrent evaluations never share mutable state.
type Optimizable interface {
	Strategy
	SetParameters(params Params) error
	ParameterRanges() map[string]ParameterRange
	Clone() Optimizable
}

// New constructs a registered strategy by name. Unknown names are a
// configuration error and fail before any simulation starts.
func New(name, symbol string) (Optimizable, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rsi":
		return NewRSI(symbol), nil
	case "ma", "ma_cross", "macross":
		return NewMACross(symbol), nil
	case "bb", "bollinger":
		return NewBollinger(symbol), nil
	case "macd":
		return NewMACD(symbol), nil
	case "vwap":
		return NewVWAP(symbol), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
}

// Names lists the registered strategy keys.
func Names() []string {
	return []string{"rsi", "ma", "bb", "macd", "vwap"}
}

package datasource

import (
	"context"

	"quantbt/internal/market"
)

// FetchRequest describes one remote kline request.
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms, 0 means unbounded
	Limit    int
}

// CandleSource unifies kline fetching across exchanges and market types.
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}

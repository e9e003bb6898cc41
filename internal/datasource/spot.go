package datasource

import (
	"context"
	"fmt"
	"strconv"

	"quantbt/internal/market"

	"github.com/adshao/go-binance/v2"
)

// SpotSource pulls klines from the Binance spot API through the official
// SDK client. No credentials are needed for market data.
type SpotSource struct {
	client *binance.Client
}

func NewSpotSource() *SpotSource {
	return &SpotSource{client: binance.NewClient("", "")}
}

func (s *SpotSource) Name() string { return "binance-spot" }

func (s *SpotSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("datasource: symbol and interval are required")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	svc := s.client.NewKlinesService().
		Symbol(req.Symbol).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("datasource: spot klines: %w", err)
	}

	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parsePrice(k.Open),
			High:      parsePrice(k.High),
			Low:       parsePrice(k.Low),
			Close:     parsePrice(k.Close),
			Volume:    parsePrice(k.Volume),
			Trades:    k.TradeNum,
		})
	}
	return out, nil
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

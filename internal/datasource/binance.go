package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quantbt/internal/market"

	"github.com/tidwall/gjson"
)

// FuturesSource pulls klines from the Binance USDT-margined futures REST
// endpoint /fapi/v1/klines.
type FuturesSource struct {
	baseURL string
	client  *http.Client
}

func NewFuturesSource(base string) *FuturesSource {
	if base == "" {
		base = "https://fapi.binance.com"
	}
	return &FuturesSource{
		baseURL: base,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *FuturesSource) Name() string { return "binance-futures" }

func (s *FuturesSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("datasource: symbol and interval are required")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("datasource: invalid base url: %w", err)
	}
	u.Path = "/fapi/v1/klines"
	q := u.Query()
	q.Set("symbol", req.Symbol)
	q.Set("interval", req.Interval)
	q.Set("limit", strconv.Itoa(limit))
	if req.Start > 0 {
		q.Set("startTime", strconv.FormatInt(req.Start, 10))
	}
	if req.End > 0 {
		q.Set("endTime", strconv.FormatInt(req.End, 10))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("datasource: binance returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseKlines(body), nil
}

// parseKlines decodes the Binance kline array-of-arrays payload. Prices
// arrive as strings, timestamps as numbers.
func parseKlines(body []byte) []market.Candle {
	rows := gjson.ParseBytes(body).Array()
	out := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		fields := row.Array()
		if len(fields) < 9 {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  fields[0].Int(),
			Open:      fields[1].Float(),
			High:      fields[2].Float(),
			Low:       fields[3].Float(),
			Close:     fields[4].Float(),
			Volume:    fields[5].Float(),
			CloseTime: fields[6].Int(),
			Trades:    fields[8].Int(),
		})
	}
	return out
}

package store

import (
	"context"
	"testing"
	"time"

	"quantbt/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMs = int64(3600_000)

func newTestCandleStore(t *testing.T) *CandleStore {
	t.Helper()
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hourlyCandles(startMs int64, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := startMs + int64(i)*hourMs
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs - 1,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
			Trades:    10,
		}
	}
	return out
}

func TestNewCandleStoreRequiresRoot(t *testing.T) {
	_, err := NewCandleStore("")
	assert.Error(t, err)
}

func TestInsertAndRangeCandles(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	start := hourMs * 1000

	n, err := s.InsertCandles(ctx, "btcusdt", "1h", hourlyCandles(start, 100, 101, 102, 103))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := s.RangeCandles(ctx, "BTCUSDT", "1h", start, start+3*hourMs)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 100.0, got[0].Close)
	assert.Equal(t, 103.0, got[3].Close)

	t.Run("upsert overwrites by open_time", func(t *testing.T) {
		patched := hourlyCandles(start, 999)
		_, err := s.InsertCandles(ctx, "BTCUSDT", "1h", patched)
		require.NoError(t, err)

		got, err := s.RangeCandles(ctx, "BTCUSDT", "1h", start, start)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 999.0, got[0].Close)
	})

	t.Run("invalid bounds", func(t *testing.T) {
		_, err := s.RangeCandles(ctx, "BTCUSDT", "1h", 0, start)
		assert.Error(t, err)
	})
}

func TestManifestTracksBounds(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	start := hourMs * 2000

	_, err := s.InsertCandles(ctx, "ETHUSDT", "1h", hourlyCandles(start, 10, 11, 12))
	require.NoError(t, err)

	m, err := s.Manifest(ctx, "ETHUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", m.Symbol)
	assert.Equal(t, "1h", m.Timeframe)
	assert.Equal(t, start, m.MinTime)
	assert.Equal(t, start+2*hourMs, m.MaxTime)
	assert.Equal(t, int64(3), m.Rows)
	assert.Greater(t, m.LastSyncAt, time.Now().Add(-time.Minute).UnixMilli())
	assert.NotEmpty(t, m.Path)
}

func TestQueryCandles(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	start := hourMs * 3000

	_, err := s.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(start, 1, 2, 3, 4, 5))
	require.NoError(t, err)

	t.Run("bounded range", func(t *testing.T) {
		got, err := s.QueryCandles(ctx, "BTCUSDT", "1h", start+hourMs, start+3*hourMs, 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 2.0, got[0].Close)
	})

	t.Run("open start returns latest ascending", func(t *testing.T) {
		got, err := s.QueryCandles(ctx, "BTCUSDT", "1h", 0, 0, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 4.0, got[0].Close)
		assert.Equal(t, 5.0, got[1].Close)
	})

	t.Run("end only walks back ascending", func(t *testing.T) {
		got, err := s.QueryCandles(ctx, "BTCUSDT", "1h", 0, start+2*hourMs, 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 1.0, got[0].Close)
	})
}

func TestCheckIntegrity(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()
	tf, err := market.ParseTimeframe("1h")
	require.NoError(t, err)
	start := hourMs * 4000
	end := start + 5*hourMs

	t.Run("empty store is one whole gap", func(t *testing.T) {
		report, err := s.CheckIntegrity(ctx, "BTCUSDT", "1h", tf, start, end)
		require.NoError(t, err)
		assert.Equal(t, int64(6), report.Expected)
		assert.Zero(t, report.Present)
		assert.False(t, report.Complete())
		require.Len(t, report.Gaps, 1)
		assert.Equal(t, Gap{From: start, To: end}, report.Gaps[0])
	})

	t.Run("interior gap is bounded exactly", func(t *testing.T) {
		// Hours 0, 1, 4, 5 present; 2 and 3 missing.
		_, err := s.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(start, 1, 2))
		require.NoError(t, err)
		_, err = s.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(start+4*hourMs, 5, 6))
		require.NoError(t, err)

		report, err := s.CheckIntegrity(ctx, "BTCUSDT", "1h", tf, start, end)
		require.NoError(t, err)
		assert.Equal(t, int64(4), report.Present)
		require.Len(t, report.Gaps, 1)
		assert.Equal(t, Gap{From: start + 2*hourMs, To: start + 3*hourMs}, report.Gaps[0])
	})

	t.Run("complete range", func(t *testing.T) {
		_, err := s.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(start+2*hourMs, 3, 4))
		require.NoError(t, err)

		report, err := s.CheckIntegrity(ctx, "BTCUSDT", "1h", tf, start, end)
		require.NoError(t, err)
		assert.True(t, report.Complete())
		assert.Empty(t, report.Gaps)
	})
}

package server

import (
	"testing"
	"time"

	"quantbt/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunService() *RunService {
	return &RunService{
		btDefaults: config.BacktestConfig{
			InitialCapital:  100000,
			PositionSizePct: 0.1,
			MaxPositions:    5,
			SlippagePct:     0.0005,
			CommissionPct:   0.001,
		},
	}
}

func TestPortfolioConfigOverrides(t *testing.T) {
	s := testRunService()

	t.Run("nil overrides keep defaults", func(t *testing.T) {
		cfg := s.portfolioConfig(nil)
		assert.Equal(t, 100000.0, cfg.InitialCapital)
		assert.Equal(t, 0.1, cfg.MaxPositionSize)
		assert.Equal(t, 5, cfg.MaxPositions)
	})

	t.Run("pointer fields replace individual values", func(t *testing.T) {
		capital := 50000.0
		slippage := 0.0
		cfg := s.portfolioConfig(&PortfolioOverrides{
			InitialCapital: &capital,
			Slippage:       &slippage,
		})
		assert.Equal(t, 50000.0, cfg.InitialCapital)
		assert.Zero(t, cfg.Slippage)
		// Untouched fields keep the configured defaults.
		assert.Equal(t, 0.001, cfg.Commission)
		assert.Equal(t, 5, cfg.MaxPositions)
	})
}

func TestValidateRange(t *testing.T) {
	s := testRunService()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)

	t.Run("normalizes the symbol", func(t *testing.T) {
		req := BacktestRequest{
			Symbol:    "btc/usdt",
			Timeframe: "1h",
			StartTS:   start.UnixMilli(),
			EndTS:     end.UnixMilli(),
		}
		gotStart, gotEnd, err := s.validateRange(&req)
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", req.Symbol)
		assert.True(t, gotStart.Equal(start))
		assert.True(t, gotEnd.Equal(end))
	})

	t.Run("rejects unparseable symbols", func(t *testing.T) {
		req := BacktestRequest{Symbol: "???", Timeframe: "1h", StartTS: start.UnixMilli(), EndTS: end.UnixMilli()}
		_, _, err := s.validateRange(&req)
		assert.ErrorContains(t, err, "invalid symbol")
	})

	t.Run("rejects unknown timeframe", func(t *testing.T) {
		req := BacktestRequest{Symbol: "BTCUSDT", Timeframe: "3m", StartTS: start.UnixMilli(), EndTS: end.UnixMilli()}
		_, _, err := s.validateRange(&req)
		assert.Error(t, err)
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		req := BacktestRequest{Symbol: "BTCUSDT", Timeframe: "1h", StartTS: end.UnixMilli(), EndTS: start.UnixMilli()}
		_, _, err := s.validateRange(&req)
		assert.ErrorContains(t, err, "end must be after start")
	})
}

func TestFirstPositive(t *testing.T) {
	assert.Equal(t, 3, firstPositive(3, 7))
	assert.Equal(t, 7, firstPositive(0, 7))
	assert.Equal(t, 7, firstPositive(-1, 7))
	assert.Zero(t, firstPositive(0, 0))
}

package optimize

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"quantbt/internal/backtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinite(t *testing.T) {
	assert.Equal(t, 0.0, finite(math.NaN()))
	assert.Equal(t, math.MaxFloat64, finite(math.Inf(1)))
	assert.Equal(t, -math.MaxFloat64, finite(math.Inf(-1)))
	assert.Equal(t, 1.25, finite(1.25))
}

func TestSanitizeMetrics(t *testing.T) {
	m := sanitizeMetrics(backtest.Results{
		ProfitFactor:      math.Inf(1),
		SortinoRatio:      math.Inf(1),
		SharpeRatio:       math.NaN(),
		TotalReturn:       12.5,
		MonthlyReturns:    map[string]float64{"2024-01": math.NaN(), "2024-02": 3.0},
		TradeDistribution: []float64{math.Inf(-1), 1.0},
	})

	// Profit factor keeps its documented cap.
	assert.Equal(t, 10.0, m.ProfitFactor)
	assert.Equal(t, math.MaxFloat64, m.SortinoRatio)
	assert.Zero(t, m.SharpeRatio)
	assert.Equal(t, 12.5, m.TotalReturn)
	assert.Zero(t, m.MonthlyReturns["2024-01"])
	assert.Equal(t, 3.0, m.MonthlyReturns["2024-02"])
	assert.Equal(t, -math.MaxFloat64, m.TradeDistribution[0])
}

func TestReportAndExport(t *testing.T) {
	opt, err := New(newIdleStrategy(), Config{
		Symbol:     "BTCUSDT",
		Start:      optStart,
		End:        optStart.AddDate(0, 1, 0),
		Mode:       ModeGrid,
		Objective:  ObjectiveSortino,
		MaxWorkers: 2,
		Seed:       99,
	})
	require.NoError(t, err)
	opt.SetBars(hourlyBars(48))

	_, err = opt.Run(context.Background())
	require.NoError(t, err)

	rep := opt.Report()
	assert.Equal(t, opt.ID(), rep.RunID)
	assert.Equal(t, "BTCUSDT", rep.Symbol)
	assert.Equal(t, ModeGrid, rep.Mode)
	assert.Equal(t, int64(99), rep.Seed)
	assert.Equal(t, 6, rep.Iterations)
	require.NotNil(t, rep.BestResult)
	assert.Len(t, rep.Top10Results, 6)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, opt.Export(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	// The document must stay valid JSON even when metrics held infinities.
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rep.RunID, decoded.RunID)
}

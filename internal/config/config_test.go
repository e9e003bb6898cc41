package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9980", cfg.Server.HTTPAddr)
	assert.Equal(t, "data/candles", cfg.Data.Root)
	assert.Equal(t, 100000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 252, cfg.Optimizer.TrainPeriodDays)
	require.Len(t, cfg.Market.Sources, 1)
	assert.Equal(t, "binance", cfg.Market.ActiveSource)
}

func TestLoadKeepsExplicitZeroes(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
backtest:
  slippage_pct: 0
  commission_pct: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// An explicit zero is a frictionless simulation, not a missing key.
	assert.Zero(t, cfg.Backtest.SlippagePct)
	assert.Zero(t, cfg.Backtest.CommissionPct)
}

func TestLoadValidation(t *testing.T) {
	t.Run("bad log level", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", `
app:
  log_level: loud
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("position size above one", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", `
backtest:
  position_size_pct: 1.5
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("test period must be shorter than train", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", `
optimizer:
  train_period_days: 30
  test_period_days: 60
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("unknown active market source", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", `
market:
  active_source: kraken
  sources:
    - name: binance
      enabled: true
      rest_base_url: https://fapi.binance.com
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadIncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
server:
  http_addr: ":7000"
data:
  max_batch: 500
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
data:
  max_batch: 750
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// Base values survive, the including file wins on conflict.
	assert.Equal(t, ":7000", cfg.Server.HTTPAddr)
	assert.Equal(t, 750, cfg.Data.MaxBatch)
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestResolveActiveSource(t *testing.T) {
	m := MarketConfig{
		ActiveSource: "binance",
		Sources: []MarketSource{
			{Name: "binance-spot", Enabled: true, RESTBaseURL: "https://api.binance.com"},
			{Name: "binance", Enabled: true, RESTBaseURL: "https://fapi.binance.com"},
		},
	}
	src, ok := m.ResolveActiveSource()
	require.True(t, ok)
	assert.Equal(t, "https://fapi.binance.com", src.RESTBaseURL)

	m.ActiveSource = "kraken"
	_, ok = m.ResolveActiveSource()
	assert.False(t, ok)
}

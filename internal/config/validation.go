package config

import (
	"fmt"
	"strings"
)

// validate runs basic sanity checks over the merged configuration.
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %s", a.LogLevel)
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	if strings.TrimSpace(d.RunsDB) == "" {
		return fmt.Errorf("data.runs_db cannot be empty")
	}
	if d.MaxBatch < 1 || d.MaxBatch > 1500 {
		return fmt.Errorf("data.max_batch must be in [1,1500]")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if b.PositionSizePct <= 0 || b.PositionSizePct > 1 {
		return fmt.Errorf("backtest.position_size_pct must be in (0, 1]")
	}
	if b.MaxPositions <= 0 {
		return fmt.Errorf("backtest.max_positions must be > 0")
	}
	if b.SlippagePct < 0 || b.SlippagePct >= 1 {
		return fmt.Errorf("backtest.slippage_pct must be in [0, 1)")
	}
	if b.CommissionPct < 0 || b.CommissionPct >= 1 {
		return fmt.Errorf("backtest.commission_pct must be in [0, 1)")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	if o.Iterations <= 0 {
		return fmt.Errorf("optimizer.iterations must be > 0")
	}
	if o.PopulationSize < 2 {
		return fmt.Errorf("optimizer.population_size must be >= 2")
	}
	if o.TestPeriodDays >= o.TrainPeriodDays {
		return fmt.Errorf("optimizer.test_period_days must be smaller than train_period_days")
	}
	if o.StepDays <= 0 {
		return fmt.Errorf("optimizer.step_days must be > 0")
	}
	return nil
}

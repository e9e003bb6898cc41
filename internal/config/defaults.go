package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppLogPath  = "data/logs/quantbt.log"

	defaultServerHTTPAddr = ":9980"

	defaultDataRoot       = "data/candles"
	defaultDataRunsDB     = "data/db/runs.db"
	defaultDataRatePerMin = 1100
	defaultDataMaxBatch   = 1000
	defaultDataMaxConc    = 2

	defaultMarketName = "binance"
	defaultMarketREST = "https://fapi.binance.com"

	defaultBacktestCapital    = 100000
	defaultBacktestSizePct    = 0.1
	defaultBacktestMaxPos     = 5
	defaultBacktestSlippage   = 0.0005
	defaultBacktestCommission = 0.001

	defaultOptimizerIterations = 100
	defaultOptimizerGens       = 50
	defaultOptimizerPop        = 20
	defaultOptimizerBayesIter  = 50
	defaultOptimizerTrainDays  = 252
	defaultOptimizerTestDays   = 63
	defaultOptimizerStepDays   = 21

	defaultReportDir    = "data/reports"
	defaultProfilesPath = "configs/profiles.yaml"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Server.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
	c.Report.applyDefaults(keys)
	c.Profiles.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (s *ServerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("server.http_addr", &s.HTTPAddr, defaultServerHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.runs_db", &d.RunsDB, defaultDataRunsDB),
		fieldDefault{
			key:   "data.rate_limit_per_min",
			need:  func() bool { return d.RateLimitPerMin <= 0 },
			apply: func() { d.RateLimitPerMin = defaultDataRatePerMin },
		},
		fieldDefault{
			key:   "data.max_batch",
			need:  func() bool { return d.MaxBatch <= 0 },
			apply: func() { d.MaxBatch = defaultDataMaxBatch },
		},
		fieldDefault{
			key:   "data.max_concurrent",
			need:  func() bool { return d.MaxConcurrent <= 0 },
			apply: func() { d.MaxConcurrent = defaultDataMaxConc },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_capital",
			need:  func() bool { return b.InitialCapital <= 0 },
			apply: func() { b.InitialCapital = defaultBacktestCapital },
		},
		fieldDefault{
			key:   "backtest.position_size_pct",
			need:  func() bool { return b.PositionSizePct <= 0 || b.PositionSizePct > 1 },
			apply: func() { b.PositionSizePct = defaultBacktestSizePct },
		},
		fieldDefault{
			key:   "backtest.max_positions",
			need:  func() bool { return b.MaxPositions <= 0 },
			apply: func() { b.MaxPositions = defaultBacktestMaxPos },
		},
		fieldDefault{
			key:   "backtest.slippage_pct",
			need:  func() bool { return b.SlippagePct < 0 },
			apply: func() { b.SlippagePct = defaultBacktestSlippage },
		},
		fieldDefault{
			key:   "backtest.commission_pct",
			need:  func() bool { return b.CommissionPct < 0 },
			apply: func() { b.CommissionPct = defaultBacktestCommission },
		},
	)
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "optimizer.iterations",
			need:  func() bool { return o.Iterations <= 0 },
			apply: func() { o.Iterations = defaultOptimizerIterations },
		},
		fieldDefault{
			key:   "optimizer.generations",
			need:  func() bool { return o.Generations <= 0 },
			apply: func() { o.Generations = defaultOptimizerGens },
		},
		fieldDefault{
			key:   "optimizer.population_size",
			need:  func() bool { return o.PopulationSize <= 0 },
			apply: func() { o.PopulationSize = defaultOptimizerPop },
		},
		fieldDefault{
			key:   "optimizer.bayes_iterations",
			need:  func() bool { return o.BayesIterations <= 0 },
			apply: func() { o.BayesIterations = defaultOptimizerBayesIter },
		},
		fieldDefault{
			key:   "optimizer.train_period_days",
			need:  func() bool { return o.TrainPeriodDays <= 0 },
			apply: func() { o.TrainPeriodDays = defaultOptimizerTrainDays },
		},
		fieldDefault{
			key:   "optimizer.test_period_days",
			need:  func() bool { return o.TestPeriodDays <= 0 },
			apply: func() { o.TestPeriodDays = defaultOptimizerTestDays },
		},
		fieldDefault{
			key:   "optimizer.step_days",
			need:  func() bool { return o.StepDays <= 0 },
			apply: func() { o.StepDays = defaultOptimizerStepDays },
		},
	)
	if o.MaxWorkers < 0 {
		o.MaxWorkers = 0
	}
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.output_dir", &r.OutputDir, defaultReportDir),
	)
}

func (p *ProfilesConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("profiles.path", &p.Path, defaultProfilesPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}

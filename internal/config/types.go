package config

import "strings"

// Config is the main configuration carrier.
type Config struct {
	App       AppConfig       `toml:"app"`
	Server    ServerConfig    `toml:"server"`
	Data      DataConfig      `toml:"data"`
	Market    MarketConfig    `toml:"market"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Report    ReportConfig    `toml:"report"`
	Profiles  ProfilesConfig  `toml:"profiles"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
}

// DataConfig controls the local candle store and fetch throttling.
type DataConfig struct {
	Root            string `toml:"root"`
	RunsDB          string `toml:"runs_db"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
}

// BacktestConfig holds the default portfolio parameters. A run request may
// override any of them.
type BacktestConfig struct {
	InitialCapital  float64 `toml:"initial_capital"`
	PositionSizePct float64 `toml:"position_size_pct"`
	MaxPositions    int     `toml:"max_positions"`
	SlippagePct     float64 `toml:"slippage_pct"`
	CommissionPct   float64 `toml:"commission_pct"`
}

// OptimizerConfig holds the default search parameters.
type OptimizerConfig struct {
	Iterations      int `toml:"iterations"`
	Generations     int `toml:"generations"`
	PopulationSize  int `toml:"population_size"`
	BayesIterations int `toml:"bayes_iterations"`
	MaxWorkers      int `toml:"max_workers"`
	TrainPeriodDays int `toml:"train_period_days"`
	TestPeriodDays  int `toml:"test_period_days"`
	StepDays        int `toml:"step_days"`
}

type ReportConfig struct {
	OutputDir string `toml:"output_dir"`
	Snapshot  bool   `toml:"snapshot"`
}

// ProfilesConfig points at the strategy parameter profile file.
type ProfilesConfig struct {
	Path string `toml:"path"`
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet tracks field paths explicitly present in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

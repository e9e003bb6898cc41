package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"quantbt/internal/backtest"
	"quantbt/internal/config"
	"quantbt/internal/config/loader"
	"quantbt/internal/datasource"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/optimize"
	"quantbt/internal/pkg/symbol"
	"quantbt/internal/report"
	"quantbt/internal/store"
	"quantbt/internal/strategy"

	"github.com/google/uuid"
)

// PortfolioOverrides lets a request replace individual portfolio defaults.
// Nil fields keep the configured value.
type PortfolioOverrides struct {
	InitialCapital  *float64 `json:"initial_capital"`
	MaxPositionSize *float64 `json:"max_position_size"`
	MaxPositions    *int     `json:"max_positions"`
	Slippage        *float64 `json:"slippage"`
	Commission      *float64 `json:"commission"`
}

// BacktestRequest starts one simulation run.
type BacktestRequest struct {
	Symbol    string              `json:"symbol"`
	Timeframe string              `json:"timeframe"`
	Strategy  string              `json:"strategy"`
	Profile   string              `json:"profile"`
	StartTS   int64               `json:"start_ts"`
	EndTS     int64               `json:"end_ts"`
	Params    map[string]any      `json:"params"`
	Portfolio *PortfolioOverrides `json:"portfolio"`
}

// OptimizationRequest starts one parameter search.
type OptimizationRequest struct {
	Symbol          string              `json:"symbol"`
	Timeframe       string              `json:"timeframe"`
	Strategy        string              `json:"strategy"`
	Profile         string              `json:"profile"`
	StartTS         int64               `json:"start_ts"`
	EndTS           int64               `json:"end_ts"`
	Mode            string              `json:"mode"`
	Objective       string              `json:"objective"`
	Iterations      int                 `json:"iterations"`
	Generations     int                 `json:"generations"`
	PopulationSize  int                 `json:"population_size"`
	BayesIterations int                 `json:"bayes_iterations"`
	MaxWorkers      int                 `json:"max_workers"`
	Seed            int64               `json:"seed"`
	WalkForward     bool                `json:"walk_forward"`
	Portfolio       *PortfolioOverrides `json:"portfolio"`
}

// RunServiceConfig wires the run service dependencies.
type RunServiceConfig struct {
	Data      *datasource.Service
	Runs      *store.RunStore
	Reports   *report.Writer
	Profiles  *loader.ProfileLoader
	Backtest  config.BacktestConfig
	Optimizer config.OptimizerConfig
	MaxActive int
}

// RunService executes backtests and optimizations asynchronously, persisting
// every run to the run store.
type RunService struct {
	data     *datasource.Service
	runs     *store.RunStore
	reports  *report.Writer
	profiles *loader.ProfileLoader

	btDefaults  config.BacktestConfig
	optDefaults config.OptimizerConfig

	sem     chan struct{}
	baseCtx context.Context

	mu     sync.RWMutex
	active map[string]*optimize.Optimizer
}

func NewRunService(cfg RunServiceConfig) (*RunService, error) {
	if cfg.Data == nil {
		return nil, fmt.Errorf("server: data service is required")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("server: run store is required")
	}
	maxActive := cfg.MaxActive
	if maxActive <= 0 {
		maxActive = 2
	}
	return &RunService{
		data:        cfg.Data,
		runs:        cfg.Runs,
		reports:     cfg.Reports,
		profiles:    cfg.Profiles,
		btDefaults:  cfg.Backtest,
		optDefaults: cfg.Optimizer,
		sem:         make(chan struct{}, maxActive),
		baseCtx:     context.Background(),
		active:      make(map[string]*optimize.Optimizer),
	}, nil
}

// SetContext injects the host ctx so in-flight runs stop on shutdown.
func (s *RunService) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *RunService) portfolioConfig(ov *PortfolioOverrides) backtest.PortfolioConfig {
	cfg := backtest.PortfolioConfig{
		InitialCapital:  s.btDefaults.InitialCapital,
		MaxPositionSize: s.btDefaults.PositionSizePct,
		MaxPositions:    s.btDefaults.MaxPositions,
		Slippage:        s.btDefaults.SlippagePct,
		Commission:      s.btDefaults.CommissionPct,
	}
	if ov == nil {
		return cfg
	}
	if ov.InitialCapital != nil {
		cfg.InitialCapital = *ov.InitialCapital
	}
	if ov.MaxPositionSize != nil {
		cfg.MaxPositionSize = *ov.MaxPositionSize
	}
	if ov.MaxPositions != nil {
		cfg.MaxPositions = *ov.MaxPositions
	}
	if ov.Slippage != nil {
		cfg.Slippage = *ov.Slippage
	}
	if ov.Commission != nil {
		cfg.Commission = *ov.Commission
	}
	return cfg
}

// resolveStrategy merges profile and request parameters, builds the strategy,
// and applies the merged parameter set. Request values win over the profile.
func (s *RunService) resolveStrategy(name, profileName, symbol string, raw map[string]any) (strategy.Optimizable, strategy.Params, error) {
	merged := make(map[string]any)
	if profileName != "" {
		if s.profiles == nil {
			return nil, nil, fmt.Errorf("server: profiles are not configured")
		}
		def, ok := s.profiles.Snapshot().Profile(profileName)
		if !ok {
			return nil, nil, fmt.Errorf("server: unknown profile: %s", profileName)
		}
		if name == "" {
			name = def.Strategy
		}
		for k, v := range def.Params {
			merged[k] = v
		}
	}
	for k, v := range raw {
		merged[k] = v
	}
	strat, err := strategy.New(name, symbol)
	if err != nil {
		return nil, nil, err
	}
	if len(merged) == 0 {
		return strat, strat.Parameters(), nil
	}
	params, err := strategy.ParamsFromMap(merged, strat.ParameterRanges())
	if err != nil {
		return nil, nil, err
	}
	base := strat.Parameters()
	for k, v := range params {
		base[k] = v
	}
	if err := strat.SetParameters(base); err != nil {
		return nil, nil, err
	}
	return strat, base, nil
}

func (s *RunService) validateRange(req *BacktestRequest) (time.Time, time.Time, error) {
	if !symbol.IsValid(req.Symbol) {
		return time.Time{}, time.Time{}, fmt.Errorf("server: invalid symbol: %q", req.Symbol)
	}
	req.Symbol = symbol.Normalize(req.Symbol)
	if _, err := market.ParseTimeframe(req.Timeframe); err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.UnixMilli(req.StartTS).UTC()
	end := time.UnixMilli(req.EndTS).UTC()
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("server: end must be after start")
	}
	return start, end, nil
}

// StartBacktest registers a backtest run and executes it in the background.
func (s *RunService) StartBacktest(req BacktestRequest) (store.BacktestRun, error) {
	start, end, err := s.validateRange(&req)
	if err != nil {
		return store.BacktestRun{}, err
	}
	strat, params, err := s.resolveStrategy(req.Strategy, req.Profile, req.Symbol, req.Params)
	if err != nil {
		return store.BacktestRun{}, err
	}
	paramsJSON, _ := json.Marshal(params)
	run := store.BacktestRun{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Timeframe: strings.ToLower(req.Timeframe),
		Strategy:  s.strategyNameFor(req),
		Start:     start,
		End:       end,
		Status:    store.RunStatusPending,
		Params:    paramsJSON,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.runs.SaveBacktestRun(s.baseCtx, run); err != nil {
		return store.BacktestRun{}, err
	}
	go s.runBacktest(run, strat, s.portfolioConfig(req.Portfolio))
	return run, nil
}

func (s *RunService) strategyNameFor(req BacktestRequest) string {
	if req.Strategy != "" {
		return strings.ToLower(req.Strategy)
	}
	if req.Profile != "" && s.profiles != nil {
		if def, ok := s.profiles.Snapshot().Profile(req.Profile); ok {
			return def.Strategy
		}
	}
	return ""
}

func (s *RunService) runBacktest(run store.BacktestRun, strat strategy.Optimizable, pcfg backtest.PortfolioConfig) {
	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		s.failRun(run, "service shutting down")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.baseCtx
	run.Status = store.RunStatusRunning
	_ = s.runs.SaveBacktestRun(ctx, run)

	bars, err := s.data.LoadBars(ctx, run.Symbol, run.Timeframe, run.Start, run.End)
	if err != nil {
		s.failRun(run, err.Error())
		return
	}
	bt, err := backtest.New(strat, backtest.Config{
		Symbol:    run.Symbol,
		Start:     run.Start,
		End:       run.End,
		Portfolio: pcfg,
	})
	if err != nil {
		s.failRun(run, err.Error())
		return
	}
	bt.SetBars(bars)
	results, err := bt.Run(ctx)
	if err != nil {
		s.failRun(run, err.Error())
		return
	}

	run.Results, _ = json.Marshal(results)
	run.Trades, _ = json.Marshal(bt.Portfolio().Trades())
	run.Status = store.RunStatusDone
	run.FinishedAt = time.Now().UTC()
	if err := s.runs.SaveBacktestRun(ctx, run); err != nil {
		logger.Errorf("[server] persisting run %s failed: %v", run.ID, err)
	}
	logger.InfoBlock(results.Summary(run.Symbol, run.Strategy))

	if s.reports != nil {
		htmlPath, snapErr, repErr := s.reports.Write(ctx, run.ID, report.Input{
			Symbol:        run.Symbol,
			Strategy:      run.Strategy,
			Bars:          bars,
			EquityCurve:   bt.Portfolio().EquityCurve(),
			DrawdownCurve: bt.Portfolio().DrawdownCurve(),
			Results:       results,
		})
		if repErr != nil {
			logger.Warnf("[server] report for run %s failed: %v", run.ID, repErr)
		} else {
			if snapErr != nil {
				logger.Warnf("[server] snapshot for run %s skipped: %v", run.ID, snapErr)
			}
			logger.Infof("[server] report written: %s", htmlPath)
		}
	}
}

func (s *RunService) failRun(run store.BacktestRun, msg string) {
	run.Status = store.RunStatusFailed
	run.Error = msg
	run.FinishedAt = time.Now().UTC()
	if err := s.runs.SaveBacktestRun(s.baseCtx, run); err != nil {
		logger.Errorf("[server] persisting failed run %s: %v", run.ID, err)
	}
	logger.Warnf("[server] backtest run %s failed: %s", run.ID, msg)
}

// StartOptimization registers a parameter search and executes it in the
// background.
func (s *RunService) StartOptimization(req OptimizationRequest) (store.OptimizationRun, error) {
	btReq := BacktestRequest{Symbol: req.Symbol, Timeframe: req.Timeframe, StartTS: req.StartTS, EndTS: req.EndTS}
	start, end, err := s.validateRange(&btReq)
	if err != nil {
		return store.OptimizationRun{}, err
	}
	req.Symbol = btReq.Symbol
	strat, _, err := s.resolveStrategy(req.Strategy, req.Profile, req.Symbol, nil)
	if err != nil {
		return store.OptimizationRun{}, err
	}

	cfg := optimize.Config{
		Symbol:          req.Symbol,
		Start:           start,
		End:             end,
		Mode:            optimize.Mode(strings.ToLower(req.Mode)),
		Objective:       optimize.Objective(strings.ToLower(req.Objective)),
		Iterations:      firstPositive(req.Iterations, s.optDefaults.Iterations),
		Generations:     firstPositive(req.Generations, s.optDefaults.Generations),
		PopulationSize:  firstPositive(req.PopulationSize, s.optDefaults.PopulationSize),
		BayesIterations: firstPositive(req.BayesIterations, s.optDefaults.BayesIterations),
		UseWalkForward:  req.WalkForward,
		TrainPeriodDays: s.optDefaults.TrainPeriodDays,
		TestPeriodDays:  s.optDefaults.TestPeriodDays,
		StepDays:        s.optDefaults.StepDays,
		MaxWorkers:      firstPositive(req.MaxWorkers, s.optDefaults.MaxWorkers),
		Seed:            req.Seed,
		Portfolio:       s.portfolioConfig(req.Portfolio),
	}
	opt, err := optimize.New(strat, cfg)
	if err != nil {
		return store.OptimizationRun{}, err
	}

	run := store.OptimizationRun{
		ID:        opt.ID(),
		Symbol:    cfg.Symbol,
		Timeframe: strings.ToLower(req.Timeframe),
		Strategy:  strings.ToLower(req.Strategy),
		Mode:      string(cfg.Mode),
		Objective: string(cfg.Objective),
		Start:     start,
		End:       end,
		Status:    store.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.runs.SaveOptimizationRun(s.baseCtx, run); err != nil {
		return store.OptimizationRun{}, err
	}
	go s.runOptimization(run, opt)
	return run, nil
}

func (s *RunService) runOptimization(run store.OptimizationRun, opt *optimize.Optimizer) {
	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		s.failOptimization(run, "service shutting down")
		return
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	s.active[run.ID] = opt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, run.ID)
		s.mu.Unlock()
	}()

	ctx := s.baseCtx
	run.Status = store.RunStatusRunning
	_ = s.runs.SaveOptimizationRun(ctx, run)

	bars, err := s.data.LoadBars(ctx, run.Symbol, run.Timeframe, run.Start, run.End)
	if err != nil {
		s.failOptimization(run, err.Error())
		return
	}
	opt.SetBars(bars)

	best, err := opt.Run(ctx)
	if err != nil {
		s.failOptimization(run, err.Error())
		return
	}

	rep := opt.Report()
	run.Report, _ = json.Marshal(rep)
	run.BestParams, _ = json.Marshal(best.Parameters)
	run.BestScore = best.Score
	run.Status = store.RunStatusDone
	run.FinishedAt = time.Now().UTC()
	if err := s.runs.SaveOptimizationRun(ctx, run); err != nil {
		logger.Errorf("[server] persisting optimization %s failed: %v", run.ID, err)
	}
	logger.Infof("[server] optimization %s finished, best score %.4f after %d evaluations",
		run.ID, best.Score, opt.Iterations())
}

func (s *RunService) failOptimization(run store.OptimizationRun, msg string) {
	run.Status = store.RunStatusFailed
	run.Error = msg
	run.FinishedAt = time.Now().UTC()
	if err := s.runs.SaveOptimizationRun(s.baseCtx, run); err != nil {
		logger.Errorf("[server] persisting failed optimization %s: %v", run.ID, err)
	}
	logger.Warnf("[server] optimization %s failed: %s", run.ID, msg)
}

// Progress reports live evaluation counts for a running optimization.
func (s *RunService) Progress(id string) (iterations int, elapsed time.Duration, running bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opt, ok := s.active[id]
	if !ok {
		return 0, 0, false
	}
	return opt.Iterations(), opt.Elapsed(), true
}

func (s *RunService) ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]store.BacktestRun, error) {
	return s.runs.ListBacktestRuns(ctx, symbol, limit)
}

func (s *RunService) GetBacktestRun(ctx context.Context, id string) (store.BacktestRun, error) {
	return s.runs.GetBacktestRun(ctx, id)
}

func (s *RunService) ListOptimizationRuns(ctx context.Context, symbol string, limit int) ([]store.OptimizationRun, error) {
	return s.runs.ListOptimizationRuns(ctx, symbol, limit)
}

func (s *RunService) GetOptimizationRun(ctx context.Context, id string) (store.OptimizationRun, error) {
	return s.runs.GetOptimizationRun(ctx, id)
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

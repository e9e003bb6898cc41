package optimize

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"quantbt/internal/backtest"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/strategy"

	"github.com/google/uuid"
)

// Mode selects the search algorithm.
type Mode string

const (
	ModeGrid     Mode = "grid"
	ModeRandom   Mode = "random"
	ModeGenetic  Mode = "genetic"
	ModeBayesian Mode = "bayesian"
)

// Objective names the scoring function applied to each evaluation.
type Objective string

const (
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveSortino      Objective = "sortino"
	ObjectiveCalmar       Objective = "calmar"
	ObjectiveReturn       Objective = "return"
	ObjectiveProfitFactor Objective = "profit_factor"
	ObjectiveCustom       Objective = "custom"
)

// minScore is the fitness assigned to candidates that fail to evaluate.
// One bad parameter set sinks to the bottom instead of aborting the search.
const minScore = -math.MaxFloat64

// Result is one scored parameter evaluation.
type Result struct {
	Parameters       strategy.Params   `json:"parameters"`
	Metrics          *backtest.Results `json:"metrics,omitempty"`
	Score            float64           `json:"score"`
	InSampleScore    float64           `json:"in_sample_score,omitempty"`
	OutOfSampleScore float64           `json:"out_of_sample_score,omitempty"`
	OverfitRatio     float64           `json:"overfit_ratio,omitempty"`
}

// Config describes one optimization run.
type Config struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Mode      Mode
	Objective Objective

	Iterations      int // random search sample count
	Generations     int // genetic
	PopulationSize  int // genetic
	BayesIterations int // simplified bayesian total evaluations

	UseWalkForward  bool
	TrainPeriodDays int
	TestPeriodDays  int
	StepDays        int

	MaxWorkers int
	Seed       int64 // 0 derives a seed from the clock

	Portfolio backtest.PortfolioConfig
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeGrid
	}
	if c.Objective == "" {
		c.Objective = ObjectiveSharpe
	}
	if c.Iterations <= 0 {
		c.Iterations = 100
	}
	if c.Generations <= 0 {
		c.Generations = 50
	}
	if c.PopulationSize <= 0 {
		c.PopulationSize = 20
	}
	if c.BayesIterations <= 0 {
		c.BayesIterations = 50
	}
	if c.TrainPeriodDays <= 0 {
		c.TrainPeriodDays = 252
	}
	if c.TestPeriodDays <= 0 {
		c.TestPeriodDays = 63
	}
	if c.StepDays <= 0 {
		c.StepDays = 21
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Optimizer searches a strategy's parameter space for the assignment that
// maximizes the configured objective over a fixed bar series.
type Optimizer struct {
	id     string
	cfg    Config
	proto  strategy.Optimizable
	ranges map[string]strategy.ParameterRange
	bars   []market.Bar
	rng    *rand.Rand

	mu         sync.Mutex
	results    []Result
	best       *Result
	iterations atomic.Int64
	startTime  time.Time
}

// New validates the configuration and the strategy's declared parameter
// ranges up front so a malformed search never starts evaluating.
func New(proto strategy.Optimizable, cfg Config) (*Optimizer, error) {
	if proto == nil {
		return nil, fmt.Errorf("optimize: strategy is required")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("optimize: symbol is required")
	}
	if !cfg.End.After(cfg.Start) {
		return nil, fmt.Errorf("optimize: end %s is not after start %s",
			cfg.End.Format("2006-01-02"), cfg.Start.Format("2006-01-02"))
	}
	cfg.applyDefaults()

	switch cfg.Mode {
	case ModeGrid, ModeRandom, ModeGenetic, ModeBayesian:
	default:
		return nil, fmt.Errorf("optimize: unknown mode %q", cfg.Mode)
	}
	switch cfg.Objective {
	case ObjectiveSharpe, ObjectiveSortino, ObjectiveCalmar,
		ObjectiveReturn, ObjectiveProfitFactor, ObjectiveCustom:
	default:
		return nil, fmt.Errorf("optimize: unknown objective %q", cfg.Objective)
	}

	ranges := proto.ParameterRanges()
	if len(ranges) == 0 {
		return nil, fmt.Errorf("optimize: strategy declares no parameter ranges")
	}
	for name, r := range ranges {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("optimize: %w", err)
		}
		if r.Name != name {
			return nil, fmt.Errorf("optimize: range keyed %q is named %q", name, r.Name)
		}
	}

	return &Optimizer{
		id:     uuid.NewString(),
		cfg:    cfg,
		proto:  proto,
		ranges: ranges,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// ID is the unique identifier of this run, used for persistence and export.
func (o *Optimizer) ID() string { return o.id }

// Config returns the effective configuration after defaults.
func (o *Optimizer) Config() Config { return o.cfg }

// SetBars hands the optimizer its price series. Bars are shared read-only
// across all concurrent evaluations.
func (o *Optimizer) SetBars(bars []market.Bar) { o.bars = bars }

// Iterations reports how many evaluations have completed so far.
func (o *Optimizer) Iterations() int { return int(o.iterations.Load()) }

// Elapsed reports the wall-clock duration since Run started.
func (o *Optimizer) Elapsed() time.Duration { return time.Since(o.startTime) }

// Results returns all recorded evaluations.
func (o *Optimizer) Results() []Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Result, len(o.results))
	copy(out, o.results)
	return out
}

// Run executes the configured search and returns the best result found.
// When walk-forward validation is enabled it runs once afterwards on the
// winning parameter set and annotates the result with the overfit ratio.
func (o *Optimizer) Run(ctx context.Context) (*Result, error) {
	if len(o.bars) == 0 {
		return nil, fmt.Errorf("optimize: no data loaded for %s", o.cfg.Symbol)
	}
	o.startTime = time.Now()
	logger.Infof("optimization start: id=%s symbol=%s mode=%s objective=%s seed=%d",
		o.id, o.cfg.Symbol, o.cfg.Mode, o.cfg.Objective, o.cfg.Seed)

	var (
		best *Result
		err  error
	)
	switch o.cfg.Mode {
	case ModeGrid:
		best, err = o.gridSearch(ctx)
	case ModeRandom:
		best, err = o.randomSearch(ctx, o.cfg.Iterations)
	case ModeGenetic:
		best, err = o.geneticSearch(ctx, o.cfg.Generations, o.cfg.PopulationSize)
	case ModeBayesian:
		best, err = o.bayesianSearch(ctx, o.cfg.BayesIterations)
	default:
		return nil, fmt.Errorf("optimize: unknown mode %q", o.cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, fmt.Errorf("optimize: search produced no results")
	}

	if o.cfg.UseWalkForward {
		logger.Infof("walk-forward validation: train=%dd test=%dd step=%dd",
			o.cfg.TrainPeriodDays, o.cfg.TestPeriodDays, o.cfg.StepDays)
		oos := o.walkForwardScore(ctx, best.Parameters)
		best.OutOfSampleScore = oos
		if best.InSampleScore != 0 {
			best.OverfitRatio = oos / best.InSampleScore
		}
		if best.OverfitRatio < overfitWarnThreshold {
			logger.Warnf("possible overfitting: ratio=%.2f (in=%.4f out=%.4f)",
				best.OverfitRatio, best.InSampleScore, best.OutOfSampleScore)
		}
	}

	logger.Infof("optimization done: id=%s iterations=%d elapsed=%v best=%.4f",
		o.id, o.iterations.Load(), time.Since(o.startTime), best.Score)
	return best, nil
}

// evaluate scores one candidate. The strategy prototype is cloned so
// concurrent evaluations never share mutable state, and any panic inside
// the strategy or the simulation is converted into the minimum score.
func (o *Optimizer) evaluate(ctx context.Context, params strategy.Params) (score float64) {
	res := o.evaluateFull(ctx, params)
	return res.Score
}

// evaluateFull is evaluate plus the complete metrics report.
func (o *Optimizer) evaluateFull(ctx context.Context, params strategy.Params) (res Result) {
	res = Result{Parameters: params, Score: minScore}
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("evaluation panic for %v: %v", params, r)
			res = Result{Parameters: params, Score: minScore}
		}
		o.iterations.Add(1)
	}()

	clone := o.proto.Clone()
	if err := clone.SetParameters(params); err != nil {
		return res
	}

	bt, err := backtest.New(clone, backtest.Config{
		Symbol:    o.cfg.Symbol,
		Start:     o.cfg.Start,
		End:       o.cfg.End,
		Portfolio: o.cfg.Portfolio,
	})
	if err != nil {
		return res
	}
	bt.SetQuiet(true)
	bt.SetBars(o.bars)

	metrics, err := bt.Run(ctx)
	if err != nil {
		return res
	}

	score := o.scoreOf(metrics)
	return Result{
		Parameters:    params,
		Metrics:       metrics,
		Score:         score,
		InSampleScore: score,
	}
}

// scoreOf maps a metrics report onto the configured objective.
func (o *Optimizer) scoreOf(m *backtest.Results) float64 {
	if m == nil {
		return minScore
	}
	switch o.cfg.Objective {
	case ObjectiveSharpe:
		return m.SharpeRatio
	case ObjectiveSortino:
		return m.SortinoRatio
	case ObjectiveCalmar:
		return m.CalmarRatio
	case ObjectiveReturn:
		return m.TotalReturn
	case ObjectiveProfitFactor:
		if math.IsInf(m.ProfitFactor, 1) {
			return 10.0
		}
		return m.ProfitFactor
	case ObjectiveCustom:
		score := m.SharpeRatio * 0.3
		score += math.Min(m.ProfitFactor, 5.0) * 0.2
		score += m.WinRate / 100.0 * 0.2
		score += (1.0 - m.MaxDrawdownPct/100.0) * 0.3
		return score
	default:
		return m.SharpeRatio
	}
}

// recordResult appends an evaluation and advances the running best.
func (o *Optimizer) recordResult(res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
	if o.best == nil || res.Score > o.best.Score {
		cp := res
		o.best = &cp
	}
}

// randomParams draws one uniform sample from every declared range. Keys are
// walked in sorted order so a fixed seed always yields the same sequence.
func randomParams(rng *rand.Rand, ranges map[string]strategy.ParameterRange) strategy.Params {
	params := make(strategy.Params, len(ranges))
	for _, name := range sortedRangeKeys(ranges) {
		r := ranges[name]
		switch r.Kind {
		case strategy.KindInt:
			span := r.IntMax - r.IntMin + 1
			params[name] = strategy.IntValue(r.IntMin + rng.Intn(span))
		case strategy.KindFloat:
			params[name] = strategy.FloatValue(r.FloatMin + rng.Float64()*(r.FloatMax-r.FloatMin))
		case strategy.KindBool:
			params[name] = strategy.BoolValue(rng.Float64() > 0.5)
		}
	}
	return params
}

func sortedRangeKeys(ranges map[string]strategy.ParameterRange) []string {
	keys := make([]string, 0, len(ranges))
	for k := range ranges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

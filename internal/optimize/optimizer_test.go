package optimize

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"quantbt/internal/backtest"
	"quantbt/internal/market"
	"quantbt/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleStrategy never trades; every evaluation settles on a flat equity
// curve and a zero objective score.
type idleStrategy struct {
	params strategy.Params
	ranges map[string]strategy.ParameterRange
}

func newIdleStrategy() *idleStrategy {
	return &idleStrategy{
		params: strategy.Params{},
		ranges: map[string]strategy.ParameterRange{
			"period": strategy.IntRange("period", 1, 3, 1),
			"trail":  strategy.BoolRange("trail"),
		},
	}
}

func (s *idleStrategy) ProcessBar(market.Bar, strategy.PortfolioView) strategy.Signal {
	return strategy.Signal{Action: strategy.Hold}
}

func (s *idleStrategy) Parameters() strategy.Params { return s.params.Clone() }
func (s *idleStrategy) Reset()                      {}

func (s *idleStrategy) SetParameters(params strategy.Params) error {
	s.params = params.Clone()
	return nil
}

func (s *idleStrategy) ParameterRanges() map[string]strategy.ParameterRange { return s.ranges }

func (s *idleStrategy) Clone() strategy.Optimizable {
	return &idleStrategy{params: s.params.Clone(), ranges: s.ranges}
}

var optStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hourlyBars(n int) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Time:  optStart.Add(time.Duration(i) * time.Hour),
			Open:  100,
			High:  100,
			Low:   100,
			Close: 100,
		}
	}
	return bars
}

func TestNewValidatesConfig(t *testing.T) {
	valid := Config{Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0)}

	_, err := New(nil, valid)
	assert.Error(t, err)

	cfg := valid
	cfg.Symbol = ""
	_, err = New(newIdleStrategy(), cfg)
	assert.Error(t, err)

	cfg = valid
	cfg.End = cfg.Start
	_, err = New(newIdleStrategy(), cfg)
	assert.Error(t, err)

	cfg = valid
	cfg.Mode = Mode("simulated_annealing")
	_, err = New(newIdleStrategy(), cfg)
	assert.ErrorContains(t, err, "unknown mode")

	cfg = valid
	cfg.Objective = Objective("omega")
	_, err = New(newIdleStrategy(), cfg)
	assert.ErrorContains(t, err, "unknown objective")
}

func TestNewRejectsMalformedRanges(t *testing.T) {
	strat := newIdleStrategy()
	strat.ranges = map[string]strategy.ParameterRange{
		"period": strategy.IntRange("period", 10, 1, 1),
	}
	_, err := New(strat, Config{Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0)})
	assert.Error(t, err)

	strat.ranges = map[string]strategy.ParameterRange{
		"period": strategy.IntRange("different", 1, 10, 1),
	}
	_, err = New(strat, Config{Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0)})
	assert.ErrorContains(t, err, "keyed")

	strat.ranges = map[string]strategy.ParameterRange{}
	_, err = New(strat, Config{Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0)})
	assert.ErrorContains(t, err, "no parameter ranges")
}

func TestGridCombinations(t *testing.T) {
	ranges := map[string]strategy.ParameterRange{
		"a": strategy.IntRange("a", 1, 3, 1),
		"b": strategy.FloatRange("b", 0.5, 1.0, 0.5),
		"c": strategy.BoolRange("c"),
	}
	combos := gridCombinations(ranges)
	// 3 * 2 * 2 cartesian product.
	require.Len(t, combos, 12)

	seen := make(map[string]bool)
	for _, p := range combos {
		a, _ := p.Int("a")
		b, _ := p.Float("b")
		c, _ := p.Bool("c")
		key := fmt.Sprintf("%d|%.1f|%t", a, b, c)
		assert.False(t, seen[key], "duplicate combination %v", p)
		seen[key] = true
	}
}

func TestGridSearchEvaluatesEveryCombination(t *testing.T) {
	strat := newIdleStrategy()
	opt, err := New(strat, Config{
		Symbol:     "BTCUSDT",
		Start:      optStart,
		End:        optStart.AddDate(0, 1, 0),
		Mode:       ModeGrid,
		Objective:  ObjectiveSharpe,
		MaxWorkers: 2,
		Seed:       42,
	})
	require.NoError(t, err)
	opt.SetBars(hourlyBars(48))

	best, err := opt.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, best)

	// period has 3 grid values, trail has 2.
	assert.Equal(t, 6, opt.Iterations())
	assert.Len(t, opt.Results(), 6)
	assert.Zero(t, best.Score)
}

func TestRunRequiresBarsLoaded(t *testing.T) {
	opt, err := New(newIdleStrategy(), Config{
		Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	_, err = opt.Run(context.Background())
	assert.ErrorContains(t, err, "no data loaded")
}

func TestRandomParamsDeterministicPerSeed(t *testing.T) {
	ranges := newIdleStrategy().ranges

	draw := func(seed int64) []strategy.Params {
		rng := rand.New(rand.NewSource(seed))
		out := make([]strategy.Params, 20)
		for i := range out {
			out[i] = randomParams(rng, ranges)
		}
		return out
	}

	assert.Equal(t, draw(7), draw(7))
	assert.NotEqual(t, draw(7), draw(8))
}

func TestRandomParamsStayInRange(t *testing.T) {
	ranges := map[string]strategy.ParameterRange{
		"n": strategy.IntRange("n", 5, 9, 1),
		"f": strategy.FloatRange("f", -1.0, 1.0, 0.1),
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		p := randomParams(rng, ranges)
		n, _ := p.Int("n")
		assert.GreaterOrEqual(t, n, 5)
		assert.LessOrEqual(t, n, 9)
		f, _ := p.Float("f")
		assert.GreaterOrEqual(t, f, -1.0)
		assert.Less(t, f, 1.0)
	}
}

func TestScoreOf(t *testing.T) {
	newOpt := func(obj Objective) *Optimizer {
		opt, err := New(newIdleStrategy(), Config{
			Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0), Objective: obj,
		})
		require.NoError(t, err)
		return opt
	}

	m := &backtest.Results{
		SharpeRatio:    1.5,
		SortinoRatio:   2.0,
		CalmarRatio:    0.8,
		TotalReturn:    42.0,
		ProfitFactor:   math.Inf(1),
		WinRate:        60.0,
		MaxDrawdownPct: 10.0,
	}

	assert.Equal(t, 1.5, newOpt(ObjectiveSharpe).scoreOf(m))
	assert.Equal(t, 2.0, newOpt(ObjectiveSortino).scoreOf(m))
	assert.Equal(t, 0.8, newOpt(ObjectiveCalmar).scoreOf(m))
	assert.Equal(t, 42.0, newOpt(ObjectiveReturn).scoreOf(m))
	// Infinite profit factor is capped instead of dominating the search.
	assert.Equal(t, 10.0, newOpt(ObjectiveProfitFactor).scoreOf(m))

	custom := newOpt(ObjectiveCustom).scoreOf(m)
	expected := 1.5*0.3 + 5.0*0.2 + 0.6*0.2 + 0.9*0.3
	assert.InDelta(t, expected, custom, 1e-9)

	assert.Equal(t, minScore, newOpt(ObjectiveSharpe).scoreOf(nil))
}

func TestRecordResultTracksBest(t *testing.T) {
	opt, err := New(newIdleStrategy(), Config{
		Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	opt.recordResult(Result{Score: 1.0})
	opt.recordResult(Result{Score: 3.0})
	opt.recordResult(Result{Score: 2.0})

	best := opt.bestResult()
	require.NotNil(t, best)
	assert.Equal(t, 3.0, best.Score)
	assert.Len(t, opt.Results(), 3)
}

func TestEvaluatePanicYieldsMinScore(t *testing.T) {
	strat := newIdleStrategy()
	opt, err := New(&panickyStrategy{idleStrategy: strat}, Config{
		Symbol: "BTCUSDT", Start: optStart, End: optStart.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	opt.SetBars(hourlyBars(24))

	res := opt.evaluateFull(context.Background(), strategy.Params{})
	assert.Equal(t, minScore, res.Score)
	assert.Equal(t, 1, opt.Iterations())
}

type panickyStrategy struct {
	*idleStrategy
}

func (s *panickyStrategy) Clone() strategy.Optimizable { return s }

func (s *panickyStrategy) ProcessBar(market.Bar, strategy.PortfolioView) strategy.Signal {
	panic("boom")
}

package optimize

import (
	"context"
	"math"
	"time"

	"quantbt/internal/backtest"
	"quantbt/internal/market"
	"quantbt/internal/strategy"
)

// overfitWarnThreshold flags parameter sets whose out-of-sample score drops
// below 80% of the in-sample score.
const overfitWarnThreshold = 0.8

// Window is one train/test slice of a walk-forward pass.
type Window struct {
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// Windows slides a train+test pair through [start, end] in stepDays
// increments, stopping once a test window would run past end.
func Windows(start, end time.Time, trainDays, testDays, stepDays int) []Window {
	var windows []Window
	cur := start
	for {
		trainEnd := cur.AddDate(0, 0, trainDays)
		testStart := trainEnd
		testEnd := testStart.AddDate(0, 0, testDays)
		if testEnd.After(end) {
			break
		}
		windows = append(windows, Window{
			TrainStart: cur,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
		cur = cur.AddDate(0, 0, stepDays)
	}
	return windows
}

// walkForwardScore replays the winning parameters over every out-of-sample
// test window and averages the objective scores. Windows that fail to
// evaluate or yield a non-finite score are skipped.
func (o *Optimizer) walkForwardScore(ctx context.Context, params strategy.Params) float64 {
	windows := Windows(o.cfg.Start, o.cfg.End,
		o.cfg.TrainPeriodDays, o.cfg.TestPeriodDays, o.cfg.StepDays)

	var scores []float64
	for _, w := range windows {
		score, ok := o.evaluateWindow(ctx, params, w)
		if ok {
			scores = append(scores, score)
		}
	}
	if len(scores) == 0 {
		return 0
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func (o *Optimizer) evaluateWindow(ctx context.Context, params strategy.Params, w Window) (float64, bool) {
	clone := o.proto.Clone()
	if err := clone.SetParameters(params); err != nil {
		return 0, false
	}

	bt, err := backtest.New(clone, backtest.Config{
		Symbol:    o.cfg.Symbol,
		Start:     w.TestStart,
		End:       w.TestEnd,
		Portfolio: o.cfg.Portfolio,
	})
	if err != nil {
		return 0, false
	}
	bt.SetQuiet(true)
	bt.SetBars(market.Subset(o.bars, w.TestStart, w.TestEnd))

	metrics, err := bt.Run(ctx)
	if err != nil {
		return 0, false
	}
	score := o.scoreOf(metrics)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, false
	}
	return score, true
}

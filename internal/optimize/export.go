package optimize

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"quantbt/internal/backtest"
)

// Report is the exported artifact of one optimization run.
type Report struct {
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	Mode           Mode      `json:"optimization_mode"`
	Objective      Objective `json:"objective_function"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Seed           int64     `json:"seed"`
	Iterations     int       `json:"iterations"`
	Duration       string    `json:"duration"`
	BestResult     *Result   `json:"best_result"`
	Top10Results   []Result  `json:"top_10_results"`
	UseWalkForward bool      `json:"walk_forward"`
}

// Report assembles the export document. Every float is forced finite so
// the document always marshals and downstream JSON consumers never see
// NaN or infinity.
func (o *Optimizer) Report() *Report {
	results := o.Results()
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	top := results
	if len(top) > 10 {
		top = top[:10]
	}
	sanitized := make([]Result, len(top))
	for i, r := range top {
		sanitized[i] = sanitizeResult(r)
	}

	var best *Result
	if b := o.bestResult(); b != nil {
		sb := sanitizeResult(*b)
		best = &sb
	}

	return &Report{
		RunID:          o.id,
		Symbol:         o.cfg.Symbol,
		Mode:           o.cfg.Mode,
		Objective:      o.cfg.Objective,
		StartDate:      o.cfg.Start,
		EndDate:        o.cfg.End,
		Seed:           o.cfg.Seed,
		Iterations:     o.Iterations(),
		Duration:       o.Elapsed().String(),
		BestResult:     best,
		Top10Results:   sanitized,
		UseWalkForward: o.cfg.UseWalkForward,
	}
}

// Export writes the report as indented JSON.
func (o *Optimizer) Export(path string) error {
	data, err := json.MarshalIndent(o.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("optimize: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("optimize: write report: %w", err)
	}
	return nil
}

func sanitizeResult(r Result) Result {
	r.Score = finite(r.Score)
	r.InSampleScore = finite(r.InSampleScore)
	r.OutOfSampleScore = finite(r.OutOfSampleScore)
	r.OverfitRatio = finite(r.OverfitRatio)
	if r.Metrics != nil {
		m := sanitizeMetrics(*r.Metrics)
		r.Metrics = &m
	}
	return r
}

func sanitizeMetrics(m backtest.Results) backtest.Results {
	// Profit factor keeps its documented cap; other ratios clamp to the
	// largest finite value.
	if math.IsInf(m.ProfitFactor, 1) {
		m.ProfitFactor = 10.0
	}
	m.ProfitFactor = finite(m.ProfitFactor)
	m.TotalReturn = finite(m.TotalReturn)
	m.AnnualizedReturn = finite(m.AnnualizedReturn)
	m.WinRate = finite(m.WinRate)
	m.SharpeRatio = finite(m.SharpeRatio)
	m.SortinoRatio = finite(m.SortinoRatio)
	m.CalmarRatio = finite(m.CalmarRatio)
	m.ExpectedValue = finite(m.ExpectedValue)
	m.AverageTrade = finite(m.AverageTrade)
	m.AverageWin = finite(m.AverageWin)
	m.AverageLoss = finite(m.AverageLoss)
	m.WinLossRatio = finite(m.WinLossRatio)
	m.RecoveryFactor = finite(m.RecoveryFactor)

	if m.MonthlyReturns != nil {
		cleaned := make(map[string]float64, len(m.MonthlyReturns))
		for k, v := range m.MonthlyReturns {
			cleaned[k] = finite(v)
		}
		m.MonthlyReturns = cleaned
	}
	if m.TradeDistribution != nil {
		cleaned := make([]float64, len(m.TradeDistribution))
		for i, v := range m.TradeDistribution {
			cleaned[i] = finite(v)
		}
		m.TradeDistribution = cleaned
	}
	return m
}

func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	default:
		return v
	}
}

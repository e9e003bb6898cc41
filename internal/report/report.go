package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"quantbt/internal/backtest"
	"quantbt/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#f87171"
	colorPositive      = "#34d399"
	colorNegative      = "#f87171"

	chartWidthPx  = 1600
	chartHeightPx = 420
)

// Input carries everything one rendered report needs.
type Input struct {
	Symbol        string
	Strategy      string
	Bars          []market.Bar
	EquityCurve   []float64
	DrawdownCurve []float64
	Results       *backtest.Results
}

// Writer renders run reports into an output directory.
type Writer struct {
	outputDir string
	snapshot  bool
}

func NewWriter(outputDir string, snapshot bool) (*Writer, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("report: output dir is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{outputDir: outputDir, snapshot: snapshot}, nil
}

// Write renders the HTML report and, when snapshots are enabled and a
// headless browser is reachable, a PNG next to it. The HTML path is always
// returned; a snapshot failure only produces a second error value.
func (w *Writer) Write(ctx context.Context, runID string, in Input) (htmlPath string, snapErr error, err error) {
	if in.Results == nil {
		return "", nil, fmt.Errorf("report: results are required")
	}
	html, err := buildReportHTML(in)
	if err != nil {
		return "", nil, err
	}
	base := fmt.Sprintf("%s_%s", strings.ToLower(in.Symbol), runID)
	htmlPath = filepath.Join(w.outputDir, base+".html")
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return "", nil, err
	}
	if !w.snapshot {
		return htmlPath, nil, nil
	}
	if snapErr = ensureHeadlessAvailable(ctx); snapErr != nil {
		return htmlPath, snapErr, nil
	}
	png, renderErr := renderHTMLToPNG(ctx, html, chartWidthPx, 4*chartHeightPx)
	if renderErr != nil {
		return htmlPath, renderErr, nil
	}
	pngPath := filepath.Join(w.outputDir, base+".png")
	if writeErr := os.WriteFile(pngPath, png, 0o644); writeErr != nil {
		return htmlPath, writeErr, nil
	}
	return htmlPath, nil, nil
}

func buildReportHTML(in Input) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	title := fmt.Sprintf("%s %s", strings.ToUpper(in.Symbol), in.Strategy)
	page.AddCharts(
		buildEquityChart(title, in),
		buildDrawdownChart(in),
		buildMonthlyChart(in.Results.MonthlyReturns),
		buildDistributionChart(in.Results.TradeDistribution),
	)
	if len(page.Charts) == 0 {
		return nil, fmt.Errorf("report: nothing to render for %s", in.Symbol)
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func chartInit() opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", chartHeightPx),
		BackgroundColor: colorBackground,
	}
}

func buildEquityChart(title string, in Input) *charts.Line {
	line := charts.NewLine()
	subtitle := fmt.Sprintf("return %.2f%% | sharpe %.2f | trades %d | win rate %.1f%%",
		in.Results.TotalReturn, in.Results.SharpeRatio, in.Results.TotalTrades, in.Results.WinRate)
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit()),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	// equityCurve[0] is the initial capital; bar i maps to equityCurve[i+1].
	curve := in.EquityCurve
	if len(curve) > 1 {
		curve = curve[1:]
	}
	line.SetXAxis(buildXAxis(in.Bars, len(curve)))
	line.AddSeries("Equity", toLineData(curve), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}

func buildDrawdownChart(in Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit()),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("Drawdown (max %.2f%%)", in.Results.MaxDrawdownPct),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	x := make([]string, len(in.DrawdownCurve))
	for i := range x {
		x[i] = fmt.Sprintf("%d", i)
	}
	line.SetXAxis(x)
	line.AddSeries("Drawdown", toLineData(in.DrawdownCurve), charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}))
	return line
}

func buildMonthlyChart(monthly map[string]float64) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit()),
		charts.WithTitleOpts(opts.Title{Title: "Monthly Returns %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	months := make([]string, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Strings(months)
	data := make([]opts.BarData, len(months))
	for i, m := range months {
		v := monthly[m]
		color := colorNegative
		if v >= 0 {
			color = colorPositive
		}
		data[i] = opts.BarData{
			Value:     round(v, 4),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(months)
	bar.AddSeries("Monthly", data)
	return bar
}

func buildDistributionChart(dist []float64) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit()),
		charts.WithTitleOpts(opts.Title{Title: "Trade P&L Distribution %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	x := make([]string, len(dist))
	data := make([]opts.BarData, len(dist))
	for i, v := range dist {
		x[i] = fmt.Sprintf("%d", i+1)
		color := colorNegative
		if v >= 0 {
			color = colorPositive
		}
		data[i] = opts.BarData{
			Value:     round(v, 4),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.7)},
		}
	}
	bar.SetXAxis(x)
	bar.AddSeries("P&L %", data)
	return bar
}

func buildXAxis(bars []market.Bar, length int) []string {
	x := make([]string, length)
	for i := 0; i < length; i++ {
		if i < len(bars) {
			x[i] = bars[i].Time.Format("01-02 15:04")
		} else {
			x[i] = fmt.Sprintf("%d", i)
		}
	}
	return x
}

func toLineData(series []float64) []opts.LineData {
	data := make([]opts.LineData, len(series))
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			data[i] = opts.LineData{Value: nil}
			continue
		}
		data[i] = opts.LineData{Value: round(v, 4)}
	}
	return data
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func ensureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}

package report

import (
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/anticheat.report/internal/fsutil"
)

// RenderHTML writes an echarts page with the speed and threshold series,
// the model probability when present, and a verdict strip comparing ground
// truth with the rule and model flags.
func RenderHTML(w io.Writer, tl *Timeline) error {
	if len(tl.Ticks) == 0 {
		return ErrNoTicks
	}

	x := make([]string, len(tl.Ticks))
	for i, t := range tl.Ticks {
		x[i] = strconv.FormatUint(uint64(t.Tick), 10)
	}

	page := components.NewPage()
	page.AddCharts(speedChart(tl, x))
	if tl.HasModel {
		page.AddCharts(probabilityChart(tl, x))
	}
	page.AddCharts(verdictChart(tl, x))
	return page.Render(w)
}

// SaveHTML writes the HTML report to path, creating parent directories.
func SaveHTML(fsys fsutil.FileSystem, path string, tl *Timeline) error {
	f, err := fsutil.CreateWithDirs(fsutil.Or(fsys), path)
	if err != nil {
		return err
	}
	if err := RenderHTML(f, tl); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func constant(n int, v float64) []opts.LineData {
	out := make([]opts.LineData, n)
	for i := range out {
		out[i] = opts.LineData{Value: v}
	}
	return out
}

func flagSeries(ticks []Tick, flag func(Tick) bool) []opts.LineData {
	out := make([]opts.LineData, len(ticks))
	for i, t := range ticks {
		v := 0
		if flag(t) {
			v = 1
		}
		out[i] = opts.LineData{Value: v}
	}
	return out
}

func baseOptions(title, subtitle string) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Anticheat report", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	}
}

func speedChart(tl *Timeline, x []string) *charts.Line {
	speeds := make([]opts.LineData, len(tl.Ticks))
	for i, t := range tl.Ticks {
		speeds[i] = opts.LineData{Value: t.Speed}
	}
	n := len(tl.Ticks)
	noSymbol := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
	dashed := charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"})

	line := charts.NewLine()
	line.SetGlobalOptions(append(baseOptions(tl.Title, tl.Subtitle),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed"}),
	)...)
	line.SetXAxis(x).
		AddSeries("speed", speeds, noSymbol).
		AddSeries("thr_3sigma", constant(n, tl.Thresholds.Thr3Sigma), noSymbol, dashed).
		AddSeries("thr_robust", constant(n, tl.Thresholds.ThrRobust), noSymbol, dashed).
		AddSeries("thr_abs", constant(n, tl.Thresholds.ThrAbs), noSymbol, dashed)
	return line
}

func probabilityChart(tl *Timeline, x []string) *charts.Line {
	probs := make([]opts.LineData, len(tl.Ticks))
	for i, t := range tl.Ticks {
		probs[i] = opts.LineData{Value: t.Probability}
	}
	noSymbol := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})

	line := charts.NewLine()
	line.SetGlobalOptions(append(baseOptions("Model probability", ""),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "P(cheat)", Min: 0, Max: 1}),
	)...)
	line.SetXAxis(x).
		AddSeries("ml_prob", probs, noSymbol).
		AddSeries("decision_threshold", constant(len(tl.Ticks), tl.DecisionThreshold), noSymbol,
			charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
	return line
}

func verdictChart(tl *Timeline, x []string) *charts.Line {
	noSymbol := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})

	line := charts.NewLine()
	line.SetGlobalOptions(append(baseOptions("Verdicts", "1 = flagged"),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)...)
	line.SetXAxis(x).
		AddSeries("ground_truth", flagSeries(tl.Ticks, func(t Tick) bool { return t.GroundTruth }), noSymbol).
		AddSeries("rule_alert", flagSeries(tl.Ticks, func(t Tick) bool { return t.RuleAlert }), noSymbol)
	if tl.HasModel {
		line.AddSeries("ml_pred", flagSeries(tl.Ticks, func(t Tick) bool { return t.MLPred }), noSymbol)
	}
	return line
}

// Package charts renders the dashboard's charts as SVG.
package charts

import (
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/insightdelivered/statement-dashboard/internal/format"
	"github.com/insightdelivered/statement-dashboard/internal/models"
)

// Kind names one of the dashboard charts.
type Kind string

const (
	Area Kind = "area" // closing balance per month
	Bar  Kind = "bar"  // net change per month
	Line Kind = "line" // fluctuation per month
	Pie  Kind = "pie"  // total inflow vs outflow
)

// Kinds lists every chart in display order.
var Kinds = []Kind{Area, Bar, Line, Pie}

// ErrNoData is returned when a chart has too little data to draw.
var ErrNoData = errors.New("not enough data for chart")

const (
	width  = 720
	height = 320
)

var (
	colorBalance  = drawing.ColorFromHex("2563eb")
	colorPositive = drawing.ColorFromHex("16a34a")
	colorNegative = drawing.ColorFromHex("dc2626")
	colorLine     = drawing.ColorFromHex("9333ea")
)

// ParseKind validates a chart name taken from a URL.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Title is the heading shown above a chart.
func (k Kind) Title() string {
	switch k {
	case Area:
		return "Balance Trend"
	case Bar:
		return "Monthly Net Change"
	case Line:
		return "Balance Fluctuation"
	case Pie:
		return "Inflow vs Outflow"
	}
	return string(k)
}

// Available reports whether k can be drawn for d.
func Available(k Kind, d *models.Dashboard) bool {
	if d == nil {
		return false
	}
	switch k {
	case Area, Line:
		return len(d.Months) >= 2
	case Bar:
		return len(d.Months) >= 1
	case Pie:
		in, out := flows(d)
		return in.Add(out).IsPositive()
	}
	return false
}

// Render writes chart k for d as SVG. currency is the symbol used on money axes.
func Render(w io.Writer, k Kind, d *models.Dashboard, currency string) error {
	if !Available(k, d) {
		return ErrNoData
	}
	switch k {
	case Area:
		return renderSeries(w, d, seriesOpts{
			name:     "Closing balance",
			color:    colorBalance,
			fill:     true,
			value:    func(m models.MonthlyStat) decimal.Decimal { return m.ClosingBalance },
			axisText: func(v decimal.Decimal) string { return format.Currency(v, currency) },
		})
	case Line:
		return renderSeries(w, d, seriesOpts{
			name:     "Fluctuation",
			color:    colorLine,
			value:    func(m models.MonthlyStat) decimal.Decimal { return m.Fluctuation },
			axisText: format.Percent,
		})
	case Bar:
		return renderBar(w, d, currency)
	case Pie:
		return renderPie(w, d, currency)
	}
	return fmt.Errorf("unknown chart kind %q", k)
}

type seriesOpts struct {
	name     string
	color    drawing.Color
	fill     bool
	value    func(models.MonthlyStat) decimal.Decimal
	axisText func(decimal.Decimal) string
}

func renderSeries(w io.Writer, d *models.Dashboard, o seriesOpts) error {
	n := len(d.Months)
	xs := make([]float64, n)
	ys := make([]float64, n)
	ticks := make([]chart.Tick, n)
	for i, m := range d.Months {
		xs[i] = float64(i)
		ys[i] = o.value(m).InexactFloat64()
		ticks[i] = chart.Tick{Value: float64(i), Label: m.Month}
	}

	style := chart.Style{StrokeColor: o.color, StrokeWidth: 2}
	if o.fill {
		style.FillColor = o.color.WithAlpha(64)
	}

	lo, hi := paddedRange(ys, o.fill)
	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{Ticks: ticks},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return o.axisText(decimal.NewFromFloat(f))
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: o.name, Style: style, XValues: xs, YValues: ys},
		},
	}
	return graph.Render(chart.SVG, w)
}

func renderBar(w io.Writer, d *models.Dashboard, currency string) error {
	bars := make([]chart.Value, len(d.Months))
	ys := make([]float64, len(d.Months))
	for i, m := range d.Months {
		v := m.NetChange.InexactFloat64()
		ys[i] = v
		c := colorPositive
		if m.NetChange.IsNegative() {
			c = colorNegative
		}
		bars[i] = chart.Value{
			Label: m.Month,
			Value: v,
			Style: chart.Style{FillColor: c, StrokeColor: c},
		}
	}

	lo, hi := paddedRange(append(ys, 0), false)
	bc := chart.BarChart{
		Width:        width,
		Height:       height,
		BarWidth:     40,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return format.Currency(decimal.NewFromFloat(f), currency)
				}
				return ""
			},
		},
		Bars: bars,
	}
	return bc.Render(chart.SVG, w)
}

func renderPie(w io.Writer, d *models.Dashboard, currency string) error {
	in, out := flows(d)
	var values []chart.Value
	if in.IsPositive() {
		values = append(values, chart.Value{
			Label: "Inflow " + format.Currency(in, currency),
			Value: in.InexactFloat64(),
			Style: chart.Style{FillColor: colorPositive},
		})
	}
	if out.IsPositive() {
		values = append(values, chart.Value{
			Label: "Outflow " + format.Currency(out, currency),
			Value: out.InexactFloat64(),
			Style: chart.Style{FillColor: colorNegative},
		})
	}

	pc := chart.PieChart{Width: height, Height: height, Values: values}
	return pc.Render(chart.SVG, w)
}

// flows returns total inflow and outflow, preferring the service's analytics
// and falling back to the monthly sums when those are absent.
func flows(d *models.Dashboard) (decimal.Decimal, decimal.Decimal) {
	in, out := d.Analytics.TotalInflow, d.Analytics.TotalOutflow
	if in.IsZero() && out.IsZero() {
		for _, m := range d.Months {
			in = in.Add(m.TotalCredit)
			out = out.Add(m.TotalDebit)
		}
	}
	return in, out
}

// paddedRange returns y-axis bounds around ys with some headroom. A flat
// series still gets a non-empty range.
func paddedRange(ys []float64, fromZero bool) (float64, float64) {
	lo, hi := ys[0], ys[0]
	for _, y := range ys[1:] {
		if y < lo {
			lo = y
		}
		if y > hi {
			hi = y
		}
	}
	if fromZero && lo > 0 {
		lo = 0
	}
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = 1
		if hi != 0 {
			pad = abs(hi) * 0.1
		}
	}
	return lo - pad, hi + pad
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

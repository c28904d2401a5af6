package web

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

const (
	chartWidth  = 600.0
	chartHeight = 240.0
	chartPad    = 24.0
)

// Widget kinds, one per envelope key plus the inline render failure.
const (
	WidgetBar         = "bar"
	WidgetLine        = "line"
	WidgetTable       = "table"
	WidgetText        = "text"
	WidgetError       = "error"
	WidgetRenderError = "render-error"
)

type Widget struct {
	Kind  string
	Key   string
	Text  string
	Table *TableView
	Chart *ChartView
}

type TableView struct {
	Columns []string
	Rows    [][]string
}

type Bar struct {
	Label          string
	Value          string
	X, Y, W, H     float64
	LabelX, LabelY float64
}

type Point struct {
	Label string
	Value string
	X, Y  float64
}

// ChartView holds precomputed SVG geometry so the template only places
// shapes.
type ChartView struct {
	Width, Height float64
	Baseline      float64
	Bars          []Bar
	Points        []Point
	Polyline      string
}

// Widgets selects one widget per key present, in rendering order. A key
// whose payload cannot be drawn becomes an inline render error.
func Widgets(env envelopex.Envelope) []Widget {
	keys := env.Keys()
	out := make([]Widget, 0, len(keys))
	for _, key := range keys {
		w, err := widgetFor(key, env)
		if err != nil {
			out = append(out, Widget{
				Kind: WidgetRenderError,
				Key:  key,
				Text: fmt.Sprintf("could not render %s: %v", key, err),
			})
			continue
		}
		out = append(out, w)
	}
	return out
}

func widgetFor(key string, env envelopex.Envelope) (Widget, error) {
	switch key {
	case envelopex.KeyBar:
		chart, err := barChart(env.Bar)
		return Widget{Kind: WidgetBar, Key: key, Chart: chart}, err
	case envelopex.KeyLine:
		chart, err := lineChart(env.Line)
		return Widget{Kind: WidgetLine, Key: key, Chart: chart}, err
	case envelopex.KeyTable:
		view, err := tableView(env.Table.Columns, env.Table.Data)
		return Widget{Kind: WidgetTable, Key: key, Table: view}, err
	case envelopex.KeyData:
		columns, rows, err := envelopex.DecodeRecords(env.Data)
		if err != nil {
			return Widget{}, err
		}
		view, err := tableView(columns, rows)
		return Widget{Kind: WidgetTable, Key: key, Table: view}, err
	case envelopex.KeyMetadata:
		return Widget{Kind: WidgetText, Key: key, Text: *env.Metadata}, nil
	case envelopex.KeyAnswer:
		return Widget{Kind: WidgetText, Key: key, Text: *env.Answer}, nil
	case envelopex.KeyError:
		return Widget{Kind: WidgetError, Key: key, Text: *env.Error}, nil
	default:
		return Widget{}, fmt.Errorf("unsupported key %q", key)
	}
}

func tableView(columns []string, rows [][]any) (*TableView, error) {
	if len(columns) == 0 {
		return nil, errors.New("table has no columns")
	}
	view := &TableView{Columns: columns, Rows: make([][]string, 0, len(rows))}
	for i, row := range rows {
		if len(row) > len(columns) {
			return nil, fmt.Errorf("row %d has %d cells for %d columns", i, len(row), len(columns))
		}
		cells := make([]string, len(columns))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		view.Rows = append(view.Rows, cells)
	}
	return view, nil
}

func barChart(s *envelopex.Series) (*ChartView, error) {
	lo, hi, err := seriesRange(s)
	if err != nil {
		return nil, err
	}
	lo, hi = math.Min(lo, 0), math.Max(hi, 0)
	if hi == lo {
		hi = lo + 1
	}

	plotH := chartHeight - 2*chartPad
	scale := func(v float64) float64 {
		return chartPad + (hi-v)/(hi-lo)*plotH
	}
	baseline := scale(0)
	slot := (chartWidth - 2*chartPad) / float64(len(s.Data))

	view := &ChartView{Width: chartWidth, Height: chartHeight, Baseline: round(baseline)}
	for i, v := range s.Data {
		top := math.Min(scale(v), baseline)
		x := chartPad + float64(i)*slot + slot*0.1
		view.Bars = append(view.Bars, Bar{
			Label:  s.Columns[i],
			Value:  formatCell(v),
			X:      round(x),
			Y:      round(top),
			W:      round(slot * 0.8),
			H:      round(math.Abs(scale(v) - baseline)),
			LabelX: round(x + slot*0.4),
			LabelY: chartHeight - chartPad/3,
		})
	}
	return view, nil
}

func lineChart(s *envelopex.Series) (*ChartView, error) {
	lo, hi, err := seriesRange(s)
	if err != nil {
		return nil, err
	}
	if hi == lo {
		lo, hi = lo-1, hi+1
	}

	plotW := chartWidth - 2*chartPad
	plotH := chartHeight - 2*chartPad
	step := 0.0
	if len(s.Data) > 1 {
		step = plotW / float64(len(s.Data)-1)
	}

	view := &ChartView{Width: chartWidth, Height: chartHeight, Baseline: chartHeight - chartPad}
	coords := make([]string, 0, len(s.Data))
	for i, v := range s.Data {
		p := Point{
			Label: s.Columns[i],
			Value: formatCell(v),
			X:     round(chartPad + float64(i)*step),
			Y:     round(chartPad + (hi-v)/(hi-lo)*plotH),
		}
		view.Points = append(view.Points, p)
		coords = append(coords, strconv.FormatFloat(p.X, 'f', -1, 64)+","+strconv.FormatFloat(p.Y, 'f', -1, 64))
	}
	view.Polyline = strings.Join(coords, " ")
	return view, nil
}

func seriesRange(s *envelopex.Series) (float64, float64, error) {
	if s == nil || len(s.Data) == 0 {
		return 0, 0, errors.New("chart has no data")
	}
	if len(s.Columns) != len(s.Data) {
		return 0, 0, fmt.Errorf("%d labels for %d values", len(s.Columns), len(s.Data))
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range s.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, errors.New("chart values must be finite")
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return lo, hi, nil
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Package console renders envelopes for a line-mode terminal session.
package console

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

const (
	defaultMaxRows  = 20
	defaultBarWidth = 40
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

type Option func(*Presenter)

// WithoutColor disables ANSI colours for this presenter only.
func WithoutColor() Option {
	return func(p *Presenter) {
		p.ok.DisableColor()
		p.fail.DisableColor()
		p.note.DisableColor()
	}
}

func WithMaxRows(n int) Option {
	return func(p *Presenter) {
		if n > 0 {
			p.maxRows = n
		}
	}
}

// Presenter prints a coloured block per turn: green for a response, red for
// a failure. A key that cannot be drawn is reported inline and the remaining
// keys are still printed.
type Presenter struct {
	out     io.Writer
	ok      *color.Color
	fail    *color.Color
	note    *color.Color
	maxRows int
}

var _ contractx.Presenter = (*Presenter)(nil)

func NewPresenter(out io.Writer, opts ...Option) *Presenter {
	p := &Presenter{
		out:     out,
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		note:    color.New(color.FgYellow),
		maxRows: defaultMaxRows,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Render writes env to the terminal. Only write failures are returned.
func (p *Presenter) Render(query string, env envelopex.Envelope) error {
	if env.IsEmpty() {
		_, err := p.note.Fprintln(p.out, "No response.")
		return err
	}

	w := &errWriter{w: p.out}

	keys := env.Keys()
	if hasContent(keys) {
		p.ok.Fprintln(w, "Response: >>> ")
	}
	for _, key := range keys {
		if key == envelopex.KeyError {
			continue
		}
		block, err := p.block(key, env)
		if err != nil {
			p.fail.Fprintf(w, "could not render %s: %v\n", key, err)
			continue
		}
		p.ok.Fprintln(w, block)
	}

	if env.Error != nil {
		p.fail.Fprintf(w, "Failed to process %s\n", query)
		p.fail.Fprintf(w, "Error %s\n", *env.Error)
	}
	return w.err
}

func hasContent(keys []string) bool {
	for _, k := range keys {
		if k != envelopex.KeyError {
			return true
		}
	}
	return false
}

func (p *Presenter) block(key string, env envelopex.Envelope) (string, error) {
	switch key {
	case envelopex.KeyAnswer:
		return *env.Answer, nil
	case envelopex.KeyMetadata:
		return *env.Metadata, nil
	case envelopex.KeyTable:
		return p.table(env.Table.Columns, env.Table.Data)
	case envelopex.KeyData:
		columns, rows, err := envelopex.DecodeRecords(env.Data)
		if err != nil {
			return "", err
		}
		return p.table(columns, rows)
	case envelopex.KeyBar:
		return barChart(env.Bar)
	case envelopex.KeyLine:
		return lineChart(env.Line)
	default:
		return "", fmt.Errorf("unsupported key %q", key)
	}
}

func (p *Presenter) table(columns []string, rows [][]any) (string, error) {
	if len(columns) == 0 {
		return "", errors.New("table has no columns")
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)

	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	tw.AppendHeader(header)

	for i, row := range rows {
		if i == p.maxRows {
			tw.AppendFooter(table.Row{fmt.Sprintf("%d more rows", len(rows)-p.maxRows)})
			break
		}
		if len(row) > len(columns) {
			return "", fmt.Errorf("row %d has %d cells for %d columns", i, len(row), len(columns))
		}
		cells := make(table.Row, len(columns))
		for j := range row {
			cells[j] = formatCell(row[j])
		}
		tw.AppendRow(cells)
	}
	return tw.Render(), nil
}

func barChart(s *envelopex.Series) (string, error) {
	if err := checkSeries(s); err != nil {
		return "", err
	}

	peak := 0.0
	for _, v := range s.Data {
		peak = math.Max(peak, math.Abs(v))
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	for i, label := range s.Columns {
		width := 0
		if peak > 0 {
			width = int(math.Round(math.Abs(s.Data[i]) / peak * defaultBarWidth))
		}
		tw.AppendRow(table.Row{label, strings.Repeat("█", width), formatCell(s.Data[i])})
	}
	return tw.Render(), nil
}

// lineChart draws a one-line sparkline followed by the labelled range.
func lineChart(s *envelopex.Series) (string, error) {
	if err := checkSeries(s); err != nil {
		return "", err
	}

	lo, hi := s.Data[0], s.Data[0]
	for _, v := range s.Data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	var b strings.Builder
	for _, v := range s.Data {
		level := 0
		if hi > lo {
			level = int((v - lo) / (hi - lo) * float64(len(sparkLevels)-1))
		}
		b.WriteRune(sparkLevels[level])
	}
	last := len(s.Columns) - 1
	fmt.Fprintf(&b, "\n%s .. %s (min %s, max %s)", s.Columns[0], s.Columns[last], formatCell(lo), formatCell(hi))
	return b.String(), nil
}

func checkSeries(s *envelopex.Series) error {
	switch {
	case s == nil || len(s.Data) == 0:
		return errors.New("chart has no data")
	case len(s.Columns) != len(s.Data):
		return fmt.Errorf("%d labels for %d values", len(s.Columns), len(s.Data))
	}
	for _, v := range s.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("chart values must be finite")
		}
	}
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return fmt.Sprintf("%.0f", x)
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// errWriter keeps the first write error so Render can report it once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(b []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(b)
	e.err = err
	return n, err
}

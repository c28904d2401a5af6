// Package envelope defines the structured response a turn produces and its
// JSON wire encoding.
//
// An Envelope carries one primary variant (answer, table, bar, line,
// metadata or error). Decoding is tolerant: keys it does not know are
// ignored and a recognised key holding a malformed value is dropped with a
// warning instead of failing the whole envelope.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

type Kind string

const (
	KindNone     Kind = ""
	KindAnswer   Kind = "answer"
	KindTable    Kind = "table"
	KindBar      Kind = "bar"
	KindLine     Kind = "line"
	KindMetadata Kind = "metadata"
	KindError    Kind = "error"
)

// Wire keys.
const (
	KeyAnswer   = "answer"
	KeyTable    = "table"
	KeyBar      = "bar"
	KeyLine     = "line"
	KeyMetadata = "metadata"
	KeyData     = "df"
	KeyError    = "error"
)

// Table is a column-labelled grid. Cells are scalars: string, float64, bool
// or nil.
type Table struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// Series is the payload of bar and line charts: one numeric value per label.
type Series struct {
	Columns []string  `json:"columns"`
	Data    []float64 `json:"data"`
}

type Envelope struct {
	Answer   *string
	Table    *Table
	Bar      *Series
	Line     *Series
	Metadata *string
	// Data is the tabular preview attached to Metadata, kept as compact JSON.
	Data  json.RawMessage
	Error *string
}

func Answer(text string) Envelope {
	return Envelope{Answer: &text}
}

// NewTable builds a table envelope. Numeric cells are normalised to float64
// and anything that is not a scalar is rendered with fmt.
func NewTable(columns []string, rows [][]any) Envelope {
	t := &Table{
		Columns: append([]string{}, columns...),
		Data:    make([][]any, 0, len(rows)),
	}
	for _, row := range rows {
		cells := make([]any, len(row))
		for i, cell := range row {
			cells[i] = normalizeScalar(cell)
		}
		t.Data = append(t.Data, cells)
	}
	return Envelope{Table: t}
}

func Bar(columns []string, data []float64) Envelope {
	return Envelope{Bar: newSeries(columns, data)}
}

func Line(columns []string, data []float64) Envelope {
	return Envelope{Line: newSeries(columns, data)}
}

// MetadataWithData pairs a metadata string with an optional JSON preview.
// Invalid preview JSON is discarded.
func MetadataWithData(metadata string, data json.RawMessage) Envelope {
	env := Envelope{Metadata: &metadata}
	if compacted, ok := compactJSON(data); ok {
		env.Data = compacted
	}
	return env
}

func Error(message string) Envelope {
	return Envelope{Error: &message}
}

func Errorf(format string, args ...any) Envelope {
	return Error(fmt.Sprintf(format, args...))
}

// Kind reports the primary variant. When several keys are present the
// precedence is error, answer, table, bar, line, metadata.
func (e Envelope) Kind() Kind {
	switch {
	case e.Error != nil:
		return KindError
	case e.Answer != nil:
		return KindAnswer
	case e.Table != nil:
		return KindTable
	case e.Bar != nil:
		return KindBar
	case e.Line != nil:
		return KindLine
	case e.Metadata != nil || len(e.Data) > 0:
		return KindMetadata
	default:
		return KindNone
	}
}

func (e Envelope) IsEmpty() bool {
	return e.Kind() == KindNone
}

func (e Envelope) IsError() bool {
	return e.Error != nil
}

// Keys lists the wire keys present, in rendering order.
func (e Envelope) Keys() []string {
	keys := make([]string, 0, 7)
	if e.Bar != nil {
		keys = append(keys, KeyBar)
	}
	if e.Line != nil {
		keys = append(keys, KeyLine)
	}
	if e.Table != nil {
		keys = append(keys, KeyTable)
	}
	if len(e.Data) > 0 {
		keys = append(keys, KeyData)
	}
	if e.Metadata != nil {
		keys = append(keys, KeyMetadata)
	}
	if e.Answer != nil {
		keys = append(keys, KeyAnswer)
	}
	if e.Error != nil {
		keys = append(keys, KeyError)
	}
	return keys
}

// Equal compares envelopes by content.
func Equal(a, b Envelope) bool {
	if !equalString(a.Answer, b.Answer) || !equalString(a.Metadata, b.Metadata) || !equalString(a.Error, b.Error) {
		return false
	}
	if !bytes.Equal(a.Data, b.Data) {
		return false
	}
	return reflect.DeepEqual(a.Table, b.Table) && reflect.DeepEqual(a.Bar, b.Bar) && reflect.DeepEqual(a.Line, b.Line)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func newSeries(columns []string, data []float64) *Series {
	return &Series{
		Columns: append([]string{}, columns...),
		Data:    append([]float64{}, data...),
	}
}

func normalizeScalar(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func compactJSON(raw []byte) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrParse = errors.New("envelope parse failed")
	ErrEmpty = errors.New("envelope is empty")
)

type wireEnvelope struct {
	Answer   *string `json:"answer,omitempty"`
	Table    *Table  `json:"table,omitempty"`
	Bar      *Series `json:"bar,omitempty"`
	Line     *Series `json:"line,omitempty"`
	Metadata *string `json:"metadata,omitempty"`
	Data     *string `json:"df,omitempty"`
	Error    *string `json:"error,omitempty"`
}

// Encode renders e as a JSON object using the wire keys. The df preview is
// written as a string holding JSON.
func Encode(e Envelope) ([]byte, error) {
	if e.IsEmpty() {
		return nil, ErrEmpty
	}
	if err := e.validate(); err != nil {
		return nil, err
	}

	w := wireEnvelope{
		Answer:   e.Answer,
		Table:    e.Table,
		Bar:      e.Bar,
		Line:     e.Line,
		Metadata: e.Metadata,
		Error:    e.Error,
	}
	if len(e.Data) > 0 {
		data := string(e.Data)
		w.Data = &data
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}

// EncodeString never fails: an envelope that cannot be encoded becomes an
// error envelope describing why.
func EncodeString(e Envelope) string {
	raw, err := Encode(e)
	if err != nil {
		fallback, _ := json.Marshal(wireEnvelope{Error: ptr(fmt.Sprintf("unencodable response: %v", err))})
		return string(fallback)
	}
	return string(raw)
}

func (e Envelope) validate() error {
	if e.Table != nil {
		for i, row := range e.Table.Data {
			if len(row) != len(e.Table.Columns) {
				return fmt.Errorf("table row %d has %d cells, want %d", i, len(row), len(e.Table.Columns))
			}
		}
	}
	for key, s := range map[string]*Series{KeyBar: e.Bar, KeyLine: e.Line} {
		if s == nil {
			continue
		}
		if err := s.validate(); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return errors.New("df is not valid json")
	}
	return nil
}

func (s *Series) validate() error {
	if len(s.Columns) != len(s.Data) {
		return fmt.Errorf("%d labels for %d values", len(s.Columns), len(s.Data))
	}
	if !finite(s.Data) {
		return errors.New("values must be finite")
	}
	return nil
}

// Decode parses a wire envelope. Unknown keys are ignored and malformed
// values of known keys are dropped with a warning. It fails with ErrParse
// when the input is not a JSON object or no known key survives.
func Decode(raw []byte) (Envelope, error) {
	env, dropped, err := decode(raw)
	for _, d := range dropped {
		log.Warn().Err(d).Msg("envelope: dropped malformed key")
	}
	return env, err
}

func DecodeString(s string) (Envelope, error) {
	return Decode([]byte(s))
}

func decode(raw []byte) (Envelope, []error, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Envelope{}, nil, fmt.Errorf("%w: empty input", ErrParse)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return Envelope{}, nil, fmt.Errorf("%w: not a json object", ErrParse)
	}

	var (
		env     Envelope
		dropped []error
	)
	drop := func(key string, err error) {
		dropped = append(dropped, fmt.Errorf("%s: %w", key, err))
	}

	for key, value := range fields {
		switch key {
		case KeyAnswer:
			if s, err := decodeString(value); err != nil {
				drop(key, err)
			} else {
				env.Answer = &s
			}
		case KeyMetadata:
			if s, err := decodeString(value); err != nil {
				drop(key, err)
			} else {
				env.Metadata = &s
			}
		case KeyError:
			if s, err := decodeString(value); err != nil {
				drop(key, err)
			} else {
				env.Error = &s
			}
		case KeyTable:
			if t, err := decodeTable(value); err != nil {
				drop(key, err)
			} else {
				env.Table = t
			}
		case KeyBar:
			if s, err := decodeSeries(value); err != nil {
				drop(key, err)
			} else {
				env.Bar = s
			}
		case KeyLine:
			if s, err := decodeSeries(value); err != nil {
				drop(key, err)
			} else {
				env.Line = s
			}
		case KeyData:
			if d, err := decodeData(value); err != nil {
				drop(key, err)
			} else {
				env.Data = d
			}
		default:
			log.Debug().Str("key", key).Msg("envelope: ignoring unknown key")
		}
	}

	if env.IsEmpty() {
		if len(dropped) > 0 {
			return Envelope{}, dropped, fmt.Errorf("%w: %v", ErrParse, errors.Join(dropped...))
		}
		return Envelope{}, dropped, fmt.Errorf("%w: no recognised keys", ErrParse)
	}
	return env, dropped, nil
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

func decodeString(value json.RawMessage) (string, error) {
	if isNull(value) {
		return "", errors.New("null value")
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", errors.New("expected a string")
	}
	return s, nil
}

func decodeTable(value json.RawMessage) (*Table, error) {
	var body struct {
		Columns *[]string          `json:"columns"`
		Data    *[]json.RawMessage `json:"data"`
	}
	if isNull(value) || json.Unmarshal(value, &body) != nil {
		return nil, errors.New("expected {columns, data}")
	}
	if body.Columns == nil || body.Data == nil {
		return nil, errors.New("columns and data are required")
	}

	t := &Table{Columns: *body.Columns, Data: make([][]any, 0, len(*body.Data))}
	for i, rawRow := range *body.Data {
		var cells []json.RawMessage
		if err := json.Unmarshal(rawRow, &cells); err != nil || cells == nil {
			return nil, fmt.Errorf("row %d is not an array", i)
		}
		if len(cells) != len(t.Columns) {
			return nil, fmt.Errorf("row %d has %d cells, want %d", i, len(cells), len(t.Columns))
		}
		row := make([]any, len(cells))
		for j, cell := range cells {
			v, err := decodeScalar(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d cell %d: %w", i, j, err)
			}
			row[j] = v
		}
		t.Data = append(t.Data, row)
	}
	return t, nil
}

func decodeScalar(value json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil, string, bool:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, errors.New("cells must be scalars")
	}
}

func decodeSeries(value json.RawMessage) (*Series, error) {
	var body struct {
		Columns *[]string          `json:"columns"`
		Data    *[]json.RawMessage `json:"data"`
	}
	if isNull(value) || json.Unmarshal(value, &body) != nil {
		return nil, errors.New("expected {columns, data}")
	}
	if body.Columns == nil || body.Data == nil {
		return nil, errors.New("columns and data are required")
	}

	s := &Series{Columns: *body.Columns, Data: make([]float64, 0, len(*body.Data))}
	for i, cell := range *body.Data {
		v, err := decodeScalar(cell)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("value %d is not a number", i)
		}
		s.Data = append(s.Data, f)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// decodeData accepts the preview either as a string holding JSON or as an
// inline JSON array or object.
func decodeData(value json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil, errors.New("null value")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		compacted, ok := compactJSON([]byte(strings.TrimSpace(s)))
		if !ok {
			return nil, errors.New("string does not hold json")
		}
		return compacted, nil
	case '[', '{':
		compacted, ok := compactJSON(trimmed)
		if !ok {
			return nil, errors.New("invalid json")
		}
		return compacted, nil
	default:
		return nil, errors.New("expected json records")
	}
}

func ptr[T any](v T) *T {
	return &v
}

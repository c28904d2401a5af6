package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EncodeRecords renders rows as a JSON array of objects whose keys follow
// the column order. Rows shorter than the header leave the missing columns
// out. Column names must be unique.
func EncodeRecords(columns []string, rows [][]any) (json.RawMessage, error) {
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		key := col
		if key == "" {
			key = "_"
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate column %q", col)
		}
		seen[key] = true
	}

	out := []byte("[]")
	for i, row := range rows {
		record := []byte("{}")
		for j, col := range columns {
			if j >= len(row) {
				break
			}
			var err error
			record, err = sjson.SetBytes(record, recordPath(col), normalizeScalar(row[j]))
			if err != nil {
				return nil, fmt.Errorf("encode row %d column %q: %w", i, col, err)
			}
		}
		var err error
		out, err = sjson.SetRawBytes(out, "-1", record)
		if err != nil {
			return nil, fmt.Errorf("append row %d: %w", i, err)
		}
	}
	return json.RawMessage(out), nil
}

// DecodeRecords reads JSON records back into ordered columns and rows.
// Columns are collected in first-seen order across all records.
func DecodeRecords(raw []byte) ([]string, [][]any, error) {
	if !gjson.ValidBytes(raw) {
		return nil, nil, errors.New("records are not valid json")
	}
	root := gjson.ParseBytes(raw)
	if root.IsObject() {
		root = gjson.Parse("[" + root.Raw + "]")
	}
	if !root.IsArray() {
		return nil, nil, errors.New("records must be an array of objects")
	}

	var (
		columns []string
		index   = map[string]int{}
		objects []map[string]any
		failed  error
	)
	root.ForEach(func(_, record gjson.Result) bool {
		if !record.IsObject() {
			failed = errors.New("records must be an array of objects")
			return false
		}
		values := map[string]any{}
		record.ForEach(func(key, value gjson.Result) bool {
			name := key.String()
			if _, ok := index[name]; !ok {
				index[name] = len(columns)
				columns = append(columns, name)
			}
			values[name] = scalarFromResult(value)
			return true
		})
		objects = append(objects, values)
		return true
	})
	if failed != nil {
		return nil, nil, failed
	}

	rows := make([][]any, 0, len(objects))
	for _, values := range objects {
		row := make([]any, len(columns))
		for name, v := range values {
			row[index[name]] = v
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func scalarFromResult(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float()
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}

// recordPath escapes a column name for use as a single sjson path segment.
// Records are always objects, so numeric names stay object keys.
func recordPath(column string) string {
	if column == "" {
		column = "_"
	}
	var b strings.Builder
	for _, r := range column {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('\\')
		b.WriteRune(r)
	}
	return b.String()
}

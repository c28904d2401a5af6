package tool

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
)

// ArtifactWriter keeps the latest tabular result in a single local CSV file.
// Each write replaces the previous file.
type ArtifactWriter struct {
	path string
	mu   sync.Mutex
}

func NewArtifactWriter(path string) (*ArtifactWriter, error) {
	if path == "" {
		return nil, errors.New("artifact path is required")
	}
	return &ArtifactWriter{path: path}, nil
}

func (w *ArtifactWriter) Path() string {
	return w.path
}

func (w *ArtifactWriter) Write(frame *contractx.Frame) error {
	if frame == nil {
		return errors.New("frame is nil")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".artifact-*.csv")
	if err != nil {
		return fmt.Errorf("create artifact temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write(frame.Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact header: %w", err)
	}
	for _, row := range frame.Rows {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = formatCell(cell)
		}
		if err := cw.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("write artifact row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"kestrel/internal/backtest"
)

// fileTimestamp is the sortable timestamp layout used in result file names.
const fileTimestamp = "20060102_150405"

// Writer persists result documents under a results directory. Files are
// append-only artifacts keyed by symbol and timestamp; reruns never
// overwrite earlier documents.
type Writer struct {
	dir string
	log *slog.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{dir: dir, log: log}
}

// WriteSymbolResult writes one per-symbol result document and returns its
// path. Layout: <dir>/<SYMBOL>_backtest_<timestamp>.json
func (w *Writer) WriteSymbolResult(res *backtest.SymbolResult) (string, error) {
	name := fmt.Sprintf("%s_backtest_%s.json",
		strings.ToUpper(res.Symbol), res.Timestamp.UTC().Format(fileTimestamp))
	path := filepath.Join(w.dir, name)
	if err := w.writeJSON(path, res); err != nil {
		return "", fmt.Errorf("writing result for %s: %w", res.Symbol, err)
	}
	w.log.Info("wrote backtest result", "symbol", res.Symbol, "path", path)
	return path, nil
}

// WriteComparison writes the aggregated comparison document and returns its
// path. Layout: <dir>/comparison_report_<timestamp>.json
func (w *Writer) WriteComparison(c *Comparison) (string, error) {
	name := fmt.Sprintf("comparison_report_%s.json", c.GeneratedAt.UTC().Format(fileTimestamp))
	path := filepath.Join(w.dir, name)
	if err := w.writeJSON(path, c); err != nil {
		return "", fmt.Errorf("writing comparison report: %w", err)
	}
	w.log.Info("wrote comparison report", "symbols", len(c.Symbols), "path", path)
	return path, nil
}

func (w *Writer) writeJSON(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

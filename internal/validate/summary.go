package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// summaryPrefix names validation summary files; the embedded timestamp keeps
// them sortable so the newest file is the lexicographically last one.
const summaryPrefix = "historical_validation_summary_"

const fileTimestamp = "20060102_150405"

// Summary is the cross-symbol outcome of one validation batch.
type Summary struct {
	GeneratedAt time.Time                    `json:"generated_at"`
	Start       time.Time                    `json:"start_date"`
	End         time.Time                    `json:"end_date"`
	Succeeded   int                          `json:"succeeded"`
	Failed      int                          `json:"failed"`
	Results     map[string]*SymbolValidation `json:"results"`
}

// WriteSummary writes the batch summary under dir and returns its path.
// Layout: <dir>/historical_validation_summary_<timestamp>.json
func WriteSummary(dir string, s *Summary) (string, error) {
	name := fmt.Sprintf("%s%s.json", summaryPrefix, s.GeneratedAt.UTC().Format(fileTimestamp))
	path := filepath.Join(dir, name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing validation summary: %w", err)
	}
	return path, nil
}

// LatestSummary returns the newest summary file name under dir and the total
// summary count. A missing directory or an empty one yields an empty name.
func LatestSummary(dir string) (string, int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), summaryPrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", 0, nil
	}
	sort.Strings(names)
	return names[len(names)-1], len(names), nil
}

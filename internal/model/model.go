// Package model loads externally trained classifier parameters and scores
// feature vectors into calibrated up-probabilities. Training happens outside
// this pipeline; only the fitted standardization parameters and logistic
// weights are consumed here.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Scorer maps one feature vector to a probability of the positive
// (next-bar-up) class in [0,1].
type Scorer interface {
	// FeatureNames returns the ordered feature columns the scorer expects.
	FeatureNames() []string

	// Score returns the positive-class probability for one feature vector,
	// ordered per FeatureNames.
	Score(features []float64) (float64, error)
}

// Compile-time interface check.
var _ Scorer = (*LogitModel)(nil)

// LogitModel is a standardize-then-logistic scorer with parameters fitted
// externally (cross-validated time-series split) and stored as JSON.
type LogitModel struct {
	Symbol    string    `json:"symbol"`
	TrainedAt string    `json:"trained_at"`
	Features  []string  `json:"feature_names"`
	Means     []float64 `json:"means"`
	Stds      []float64 `json:"stds"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// FeatureNames returns the ordered feature columns the model was trained on.
func (m *LogitModel) FeatureNames() []string { return m.Features }

// Score standardizes the vector with the stored means/stds and applies the
// logistic link. The result is always in [0,1].
func (m *LogitModel) Score(features []float64) (float64, error) {
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("scoring %s: got %d features, model expects %d", m.Symbol, len(features), len(m.Weights))
	}

	z := m.Intercept
	for i, x := range features {
		std := m.Stds[i]
		if std == 0 {
			std = 1
		}
		z += m.Weights[i] * (x - m.Means[i]) / std
	}
	return 1.0 / (1.0 + math.Exp(-z)), nil
}

// validate checks internal consistency of the loaded parameters.
func (m *LogitModel) validate() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("model for %s has no feature names", m.Symbol)
	}
	if len(m.Means) != len(m.Features) || len(m.Stds) != len(m.Features) || len(m.Weights) != len(m.Features) {
		return fmt.Errorf("model for %s has inconsistent parameter lengths: %d features, %d means, %d stds, %d weights",
			m.Symbol, len(m.Features), len(m.Means), len(m.Stds), len(m.Weights))
	}
	return nil
}

// LoadFile reads and validates a single model parameter document.
func LoadFile(path string) (*LogitModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &LogitModel{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing model %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Resolve locates the newest stored model for a symbol under
// <modelsDir>/<SYMBOL>/<SYMBOL>_model_<timestamp>.json. Model files carry a
// sortable timestamp suffix, so lexicographic order is chronological.
func Resolve(modelsDir, symbol string) (*LogitModel, error) {
	symbol = strings.ToUpper(symbol)
	pattern := filepath.Join(modelsDir, symbol, symbol+"_model_*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no model found for %s under %s", symbol, modelsDir)
	}
	sort.Strings(matches)
	return LoadFile(matches[len(matches)-1])
}

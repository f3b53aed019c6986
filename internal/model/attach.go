package model

import (
	"fmt"

	"kestrel/internal/features"
)

// AttachPredictions scores every row of the frame with the scorer and
// attaches the probabilities as the pred_prob column. The frame must carry
// every feature column the scorer was trained on.
func AttachPredictions(f *features.Frame, s Scorer) error {
	names := s.FeatureNames()
	if missing := f.Missing(names...); len(missing) > 0 {
		return fmt.Errorf("frame for %s lacks model features %v", f.Symbol, missing)
	}

	probs := make([]float64, f.Len())
	for i := range probs {
		row, err := f.Row(i, names)
		if err != nil {
			return err
		}
		p, err := s.Score(row)
		if err != nil {
			return fmt.Errorf("scoring %s row %d: %w", f.Symbol, i, err)
		}
		probs[i] = p
	}
	return f.AddColumn(features.ColPredProb, probs)
}

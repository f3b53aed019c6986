package backtest

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes that abort a single symbol's run.
// They are caught at the batch boundary, recorded with the symbol, and never
// abort the whole batch.
var (
	// ErrMissingColumn marks an input table lacking a required column.
	ErrMissingColumn = errors.New("missing required column")

	// ErrEmptyRange marks a date filter that leaves zero bars.
	ErrEmptyRange = errors.New("no bars in requested range")

	// ErrSignalMismatch marks a probability series whose length differs
	// from the bar count. Only raised in strict mode; the default mode
	// clamps indices instead.
	ErrSignalMismatch = errors.New("signal length does not match bar count")
)

// missingColumnError wraps ErrMissingColumn with the offending column names.
func missingColumnError(cols []string) error {
	return fmt.Errorf("%w: %v", ErrMissingColumn, cols)
}

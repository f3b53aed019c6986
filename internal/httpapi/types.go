package httpapi

import "kestrel/internal/backtest"

// ResultsResponse wraps a list of backtest results.
type ResultsResponse struct {
	Results []backtest.SymbolResult `json:"results"`
}

// SymbolsResponse lists the symbols with stored bar data.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

// ValidationStatusResponse reports the stored historical validation
// summaries.
type ValidationStatusResponse struct {
	LatestValidation string `json:"latest_validation,omitempty"`
	ValidationCount  int    `json:"validation_count"`
}

// ValidationRunRequest is the optional body of a validation run. Empty
// symbols validate every stored symbol; empty dates leave the window open.
type ValidationRunRequest struct {
	Symbols   []string `json:"symbols,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
}

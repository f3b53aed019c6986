// Package store defines storage interfaces for persisting and retrieving
// bars, feature frames, and backtest results.
package store

import (
	"context"
	"time"

	"kestrel/internal/backtest"
	"kestrel/internal/domain"
	"kestrel/internal/features"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// FeatureStore persists and retrieves per-symbol indicator frames.
type FeatureStore interface {
	// WriteFeatures persists a feature frame, replacing any previous frame
	// for the same symbol and year.
	WriteFeatures(ctx context.Context, frame *features.Frame) error

	// ReadFeatures returns the feature frame for the given symbol within
	// [start, end].
	ReadFeatures(ctx context.Context, symbol string, start, end time.Time) (*features.Frame, error)
}

// ResultStore persists backtest result documents and comparison reports.
type ResultStore interface {
	// SaveResult inserts one per-symbol backtest result.
	SaveResult(ctx context.Context, res *backtest.SymbolResult) error

	// ListResults returns all stored results for a symbol, newest first.
	ListResults(ctx context.Context, symbol string) ([]backtest.SymbolResult, error)

	// LatestResults returns the most recent stored result per symbol.
	LatestResults(ctx context.Context) ([]backtest.SymbolResult, error)
}

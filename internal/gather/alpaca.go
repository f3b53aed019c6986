package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"kestrel/internal/domain"
	"kestrel/internal/store"
	"kestrel/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*DailyBarGatherer)(nil)

// DailyBarGatherer fetches daily OHLCV bars for a configured symbol list via
// the Alpaca market-data API and writes them to the Parquet store. Symbols
// that return no data are reported and skipped; they never fail the run.
type DailyBarGatherer struct {
	client    *marketdata.Client
	store     store.BarStore
	symbols   []string
	batchSize int
	limiter   *util.RateLimiter
	startDate string
	log       *slog.Logger

	missing []string
}

// NewDailyBarGatherer creates a DailyBarGatherer with the given Alpaca
// credentials, target store, symbol universe, and fetch parameters.
func NewDailyBarGatherer(apiKey, apiSecret, dataURL string, s store.BarStore, symbols []string, batchSize, rateLimitPerMin int, startDate string) *DailyBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}

	return &DailyBarGatherer{
		client:    marketdata.NewClient(opts),
		store:     s,
		symbols:   normalizeSymbols(symbols),
		batchSize: batchSize,
		limiter:   util.NewRateLimiter(rateLimitPerMin),
		startDate: startDate,
		log:       slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Missing returns the symbols the last Run found no data for.
func (g *DailyBarGatherer) Missing() []string { return g.missing }

// Run fetches daily bars for the configured symbols from the start date
// through today and writes them to the store. Batches are rate-limited and
// retried on transient API errors.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	end := time.Now().UTC()

	if len(g.symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	g.missing = nil

	batches := splitBatches(g.symbols, g.batchSize)
	g.log.Info("starting daily bar fetch",
		"symbols", len(g.symbols),
		"batches", len(batches),
		"start", g.startDate,
	)

	runStart := time.Now()
	for i, batch := range batches {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		var bars []domain.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var ferr error
			bars, ferr = g.fetchMultiBars(ctx, batch, start, end)
			return ferr
		})
		if err != nil {
			return fmt.Errorf("fetching batch %d/%d: %w", i+1, len(batches), err)
		}

		bars = CleanBars(bars)

		hit := make(map[string]struct{}, len(batch))
		for _, b := range bars {
			hit[b.Symbol] = struct{}{}
		}
		for _, sym := range batch {
			if _, ok := hit[sym]; !ok {
				g.missing = append(g.missing, sym)
				g.log.Warn("no data for symbol", "symbol", sym)
			}
		}

		if len(bars) > 0 {
			if err := g.store.WriteBars(ctx, domain.MarketUS, bars); err != nil {
				return fmt.Errorf("writing batch %d/%d: %w", i+1, len(batches), err)
			}
		}

		g.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
			"bars", len(bars),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
	}

	g.log.Info("complete",
		"symbols", len(g.symbols),
		"no_data", len(g.missing),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API
// call.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}

// CleanBars drops bars with non-positive prices, deduplicates each symbol's
// dates keeping the last occurrence, and sorts by symbol then date.
func CleanBars(bars []domain.Bar) []domain.Bar {
	type key struct {
		symbol string
		date   string
	}
	seen := make(map[key]domain.Bar, len(bars))
	for _, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			continue
		}
		seen[key{b.Symbol, b.Timestamp.Format("2006-01-02")}] = b
	}

	out := make([]domain.Bar, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// normalizeSymbols upper-cases, trims, and deduplicates a symbol list,
// preserving the configured order.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// splitBatches splits symbols into chunks of at most size.
func splitBatches(symbols []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(symbols); i += size {
		end := min(i+size, len(symbols))
		out = append(out, symbols[i:end])
	}
	return out
}

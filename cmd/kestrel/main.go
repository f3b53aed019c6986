// kestrel - quantitative backtest research pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kestrel/internal/backtest"
	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/features"
	"kestrel/internal/gather"
	"kestrel/internal/httpapi"
	"kestrel/internal/model"
	"kestrel/internal/predict"
	"kestrel/internal/report"
	"kestrel/internal/store"
	"kestrel/internal/util"
	"kestrel/internal/validate"
)

var version = "0.1.0"

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "kestrel",
		Short: "Quantitative backtest research pipeline",
		Long: `kestrel downloads daily OHLCV bars, derives indicator features,
backtests an ML probability strategy against a moving-average baseline,
and projects trained models a few days forward.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "path to the YAML config file")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(featuresCmd())
	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("KESTREL_CONFIG"); p != "" {
		return p
	}
	return "config/kestrel.yaml"
}

// setup loads the config and installs the default logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// symbolsFromArgsOrConfig prefers positional symbols and falls back to the
// configured universe.
func symbolsFromArgsOrConfig(args []string, cfg *config.Config) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(cfg.Fetch.Symbols) == 0 {
		return nil, errors.New("no symbols given and none configured under fetch.symbols")
	}
	return cfg.Fetch.Symbols, nil
}

// paramsFromConfig maps the backtest config section onto engine parameters.
// Optional dates use the compact YYYYMMDD form.
func paramsFromConfig(b config.BacktestConfig) (backtest.Params, error) {
	p := backtest.Params{
		Cash:        b.Cash,
		Commission:  b.Commission,
		MLThreshold: b.MLThreshold,
		FastPeriod:  b.FastPeriod,
		SlowPeriod:  b.SlowPeriod,
		Strict:      b.Strict,
	}
	var err error
	if b.StartDate != "" {
		if p.Start, err = time.Parse("20060102", b.StartDate); err != nil {
			return p, fmt.Errorf("parsing backtest start_date %q: %w", b.StartDate, err)
		}
	}
	if b.EndDate != "" {
		if p.End, err = time.Parse("20060102", b.EndDate); err != nil {
			return p, fmt.Errorf("parsing backtest end_date %q: %w", b.EndDate, err)
		}
	}
	return p, nil
}

// newFrameSource assembles the per-symbol backtest input: stored bars →
// indicator frame → model probabilities attached as pred_prob. A symbol
// without bars or without a trained model fails here and is reported by the
// batch runner.
func newFrameSource(bars store.BarStore, modelsDir string) backtest.FrameSource {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return func(ctx context.Context, symbol string) (*features.Frame, error) {
		b, err := bars.ReadBars(ctx, symbol, domain.MarketUS, start, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("no bar data for %s", symbol)
		}
		frame, err := features.Build(b)
		if err != nil {
			return nil, err
		}
		m, err := model.Resolve(modelsDir, symbol)
		if err != nil {
			return nil, fmt.Errorf("resolving model for %s: %w", symbol, err)
		}
		if err := model.AttachPredictions(frame, m); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [symbols...]",
		Short: "Fetch daily OHLCV bars from Alpaca into the Parquet store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			symbols, err := symbolsFromArgsOrConfig(args, cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			pstore := store.NewParquetStore(cfg.Storage.DataDir)
			gatherer := gather.NewDailyBarGatherer(
				cfg.Alpaca.APIKey,
				cfg.Alpaca.APISecret,
				cfg.Alpaca.DataURL,
				pstore,
				symbols,
				cfg.Fetch.BatchSize,
				cfg.Fetch.RateLimitPerMin,
				cfg.Fetch.StartDate,
			)

			if err := gatherer.Run(ctx); err != nil {
				return err
			}
			if missing := gatherer.Missing(); len(missing) > 0 {
				logger.Warn("symbols without data", "symbols", missing)
			}
			return nil
		},
	}
}

func featuresCmd() *cobra.Command {
	var labelThreshold float64
	cmd := &cobra.Command{
		Use:   "features [symbols...]",
		Short: "Compute indicator features from stored bars and persist them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			symbols, err := symbolsFromArgsOrConfig(args, cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			pstore := store.NewParquetStore(cfg.Storage.DataDir)
			start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

			for _, symbol := range symbols {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				bars, err := pstore.ReadBars(ctx, symbol, domain.MarketUS, start, time.Now().UTC())
				if err != nil {
					return err
				}
				if len(bars) == 0 {
					logger.Warn("no bar data, skipping", "symbol", symbol)
					continue
				}
				frame, err := features.Build(bars)
				if err != nil {
					logger.Error("building features failed", "symbol", symbol, "error", err)
					continue
				}
				if err := frame.WithLabel(labelThreshold); err != nil {
					return err
				}
				if err := pstore.WriteFeatures(ctx, frame); err != nil {
					return err
				}
				logger.Info("features written", "symbol", symbol, "rows", frame.Len())
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&labelThreshold, "label-threshold", 0.005, "next-day return above which the training label is positive")
	return cmd
}

func backtestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backtest [symbols...]",
		Short: "Backtest the ML strategy against the crossover baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			symbols, err := symbolsFromArgsOrConfig(args, cfg)
			if err != nil {
				return err
			}
			params, err := paramsFromConfig(cfg.Backtest)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			pstore := store.NewParquetStore(cfg.Storage.DataDir)
			sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer sqlite.Close()

			engine := backtest.NewEngine(params, logger)
			results := engine.RunBatch(ctx, symbols, newFrameSource(pstore, cfg.Storage.ModelsDir))

			writer := report.NewWriter(cfg.Storage.ResultsDir, logger)
			for _, res := range results {
				if err := sqlite.SaveResult(ctx, res); err != nil {
					return err
				}
				if _, err := writer.WriteSymbolResult(res); err != nil {
					return err
				}
			}

			comparison := report.Build(results)
			if _, err := writer.WriteComparison(comparison); err != nil {
				return err
			}

			logger.Info("backtest complete",
				"symbols", len(results),
				"succeeded", comparison.Succeeded,
				"failed", comparison.Failed,
				"ml_beats_baseline", comparison.PositiveExcess,
			)
			return json.NewEncoder(os.Stdout).Encode(comparison)
		},
	}
}

func validateCmd() *cobra.Command {
	var startDate, endDate string
	cmd := &cobra.Command{
		Use:   "validate [symbols...]",
		Short: "Grade the trained models over a held-out historical window",
		Long: `validate replays each symbol's model over stored history it was not
trained on and grades the signals against the realized next-day moves.
The window defaults to the current year.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			symbols, err := symbolsFromArgsOrConfig(args, cfg)
			if err != nil {
				return err
			}

			// Default to the current year, the window the models were
			// trained to exclude.
			start := time.Date(time.Now().UTC().Year(), 1, 1, 0, 0, 0, 0, time.UTC)
			var end time.Time
			if startDate != "" {
				if start, err = time.Parse("2006-01-02", startDate); err != nil {
					return fmt.Errorf("parsing --start %q: %w", startDate, err)
				}
			}
			if endDate != "" {
				if end, err = time.Parse("2006-01-02", endDate); err != nil {
					return fmt.Errorf("parsing --end %q: %w", endDate, err)
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			pstore := store.NewParquetStore(cfg.Storage.DataDir)
			validator := validate.New(newFrameSource(pstore, cfg.Storage.ModelsDir), 0, 0, logger)

			summary := validator.ValidateBatch(ctx, symbols, start, end)
			path, err := validate.WriteSummary(cfg.Storage.ResultsDir, summary)
			if err != nil {
				return err
			}
			logger.Info("validation complete",
				"succeeded", summary.Succeeded,
				"failed", summary.Failed,
				"summary", path,
			)
			return json.NewEncoder(os.Stdout).Encode(summary)
		},
	}
	cmd.Flags().StringVar(&startDate, "start", "", "validation window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "validation window end (YYYY-MM-DD)")
	return cmd
}

func predictCmd() *cobra.Command {
	var horizon int
	cmd := &cobra.Command{
		Use:   "predict <symbol>",
		Short: "Project the trained model a few trading days forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			symbol := args[0]

			ctx, cancel := signalContext()
			defer cancel()

			pstore := store.NewParquetStore(cfg.Storage.DataDir)
			frame, err := newFrameSource(pstore, cfg.Storage.ModelsDir)(ctx, symbol)
			if err != nil {
				return err
			}
			scorer, err := model.Resolve(cfg.Storage.ModelsDir, symbol)
			if err != nil {
				return err
			}

			if horizon == 0 {
				horizon = cfg.Predict.Horizon
			}
			if horizon == 0 {
				horizon = 2
			}
			p := predict.New(scorer, cfg.Predict.ConfidenceThreshold, logger)
			forecast, err := p.PredictNextDays(frame, time.Now().UTC(), horizon)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(forecast)
		},
	}
	cmd.Flags().IntVar(&horizon, "days", 0, "trading days to project (max 5)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the backtest results API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			params, err := paramsFromConfig(cfg.Backtest)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			pstore := store.NewParquetStore(cfg.Storage.DataDir)
			sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer sqlite.Close()

			engine := backtest.NewEngine(params, logger)
			source := newFrameSource(pstore, cfg.Storage.ModelsDir)
			validator := validate.New(source, 0, 0, logger)
			api := httpapi.NewServer(engine, source, sqlite, pstore, validator, cfg.Storage.ResultsDir, logger)

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving results API", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kestrel version %s\n", version)
		},
	}
}

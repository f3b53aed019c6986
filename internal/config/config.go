package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the kestrel pipeline.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Backtest BacktestConfig `yaml:"backtest"`
	Predict  PredictConfig  `yaml:"predict"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	ModelsDir  string `yaml:"models_dir"`
	ResultsDir string `yaml:"results_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration for the results API.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FetchConfig controls daily bar acquisition.
type FetchConfig struct {
	StartDate       string   `yaml:"start_date"`
	BatchSize       int      `yaml:"batch_size"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	Symbols         []string `yaml:"symbols"`
}

// BacktestConfig holds simulation parameters. Zero values are replaced with
// the documented defaults by Normalize.
type BacktestConfig struct {
	Cash        float64 `yaml:"cash"`
	Commission  float64 `yaml:"commission"`
	MLThreshold float64 `yaml:"ml_threshold"`
	FastPeriod  int     `yaml:"fast_period"`
	SlowPeriod  int     `yaml:"slow_period"`
	StartDate   string  `yaml:"start_date"` // optional, YYYYMMDD
	EndDate     string  `yaml:"end_date"`   // optional, YYYYMMDD
	Strict      bool    `yaml:"strict"`     // reject signal/bar length mismatch
}

// PredictConfig controls the forward projection heuristic.
type PredictConfig struct {
	Horizon             int     `yaml:"horizon"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// Backtest parameter defaults.
const (
	DefaultCash        = 100000.0
	DefaultCommission  = 0.0008
	DefaultMLThreshold = 0.51
	DefaultFastPeriod  = 5
	DefaultSlowPeriod  = 20
)

// Normalize fills unset backtest parameters with defaults and validates the
// ones that have hard ranges.
func (b *BacktestConfig) Normalize() error {
	if b.Cash == 0 {
		b.Cash = DefaultCash
	}
	if b.Commission == 0 {
		b.Commission = DefaultCommission
	}
	if b.MLThreshold == 0 {
		b.MLThreshold = DefaultMLThreshold
	}
	if b.FastPeriod == 0 {
		b.FastPeriod = DefaultFastPeriod
	}
	if b.SlowPeriod == 0 {
		b.SlowPeriod = DefaultSlowPeriod
	}

	if b.Cash < 0 {
		return fmt.Errorf("backtest cash must be positive, got %v", b.Cash)
	}
	if b.MLThreshold <= 0 || b.MLThreshold >= 1 {
		return fmt.Errorf("ml_threshold must be in (0,1), got %v", b.MLThreshold)
	}
	if b.FastPeriod >= b.SlowPeriod {
		return fmt.Errorf("fast_period (%d) must be smaller than slow_period (%d)", b.FastPeriod, b.SlowPeriod)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and normalizes the
// backtest parameters.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Backtest.Normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		cfg.Storage.ModelsDir = v
	}
	if v := os.Getenv("RESULTS_DIR"); v != "" {
		cfg.Storage.ResultsDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

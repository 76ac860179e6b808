package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the grid-search backtester.
type Config struct {
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
	Run     Run     `yaml:"run"`
}

// Storage holds paths for the Bar Store (parquet) and Result Store (sqlite).
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Run holds the default execution and cost-model parameters for a grid
// search: the starting capital and per-trade risk budget the simulation
// kernel uses, the cost model, and the default worker count.
type Run struct {
	Capital         float64 `yaml:"capital"`
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade"`
	BrokerageRate   float64 `yaml:"brokerage_rate"`
	STTRate         float64 `yaml:"stt_rate"`
	Workers         int     `yaml:"workers"`
	StoreTrades     bool    `yaml:"store_trades"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the baked-in configuration used when no config file is
// supplied on the command line.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "./data",
			SQLitePath: "./data/results.db",
		},
		Logging: Logging{
			Level: "info",
		},
		Run: Run{
			Capital:         100000,
			MaxRiskPerTrade: 1000,
			BrokerageRate:   0.0003,
			STTRate:         0.00025,
			Workers:         4,
			StoreTrades:     false,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path, parses it over Default(),
// and applies environment variable overrides. An empty path returns
// Default() with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks the allowlisted environment variables and
// overrides the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORB_BAR_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ORB_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ORB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ORB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Run.Workers = n
		}
	}
	if v := os.Getenv("ORB_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Run.Capital = f
		}
	}
}

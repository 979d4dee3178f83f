// Package config loads and validates barsim run configuration files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/data"
	"github.com/rustyeddy/barsim/internal/logging"
	"github.com/rustyeddy/barsim/journal"
	"github.com/rustyeddy/barsim/strategies"
)

// Config represents a complete backtest run.
type Config struct {
	Data     DataConfig        `json:"data" yaml:"data"`
	Backtest backtest.Config   `json:"backtest" yaml:"backtest"`
	Strategy strategies.Config `json:"strategy" yaml:"strategy"`
	Journal  JournalConfig     `json:"journal" yaml:"journal"`
	Logging  logging.Config    `json:"logging" yaml:"logging"`
}

// DataConfig selects where bars come from.
type DataConfig struct {
	Source   string `json:"source" yaml:"source"` // "csv" or "parquet"
	Dir      string `json:"dir" yaml:"dir"`
	Interval string `json:"interval" yaml:"interval"` // e.g. "5m", "1h", "1d"
	Period   string `json:"period" yaml:"period"`     // e.g. "60d"
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	OrgFile    string `json:"org_file,omitempty" yaml:"org_file,omitempty"`
}

// LoadFromFile reads a YAML or JSON file over Default, so omitted keys
// keep their default values.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if isJSON(path) {
		err = json.Unmarshal(raw, cfg)
	} else {
		err = yaml.Unmarshal(raw, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// SaveToFile writes JSON for .json paths and YAML otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		raw []byte
		err error
	)
	if isJSON(path) {
		raw, err = json.MarshalIndent(c, "", "  ")
	} else {
		raw, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Backtest.Symbol == "" {
		return errors.New("backtest.symbol is required")
	}
	if err := c.Backtest.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	switch c.Data.Source {
	case "csv", "parquet":
	default:
		return fmt.Errorf("data.source must be 'csv' or 'parquet', got %q", c.Data.Source)
	}
	if c.Data.Dir == "" {
		return errors.New("data.dir is required")
	}
	if _, err := data.ParseInterval(c.Data.Interval); err != nil {
		return fmt.Errorf("data.interval: %w", err)
	}
	if c.Data.Period != "" {
		if _, err := data.ParsePeriod(c.Data.Period); err != nil {
			return fmt.Errorf("data.period: %w", err)
		}
	}

	if _, err := strategies.New(c.Strategy); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	switch c.Journal.Type {
	case "none":
	case "csv":
		if c.Journal.Dir == "" {
			return errors.New("journal.dir required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return errors.New("journal db_path required for SQLite type")
		}
	default:
		return errors.New("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	return nil
}

// Source builds the bar source named by Data.
func (c *Config) Source(log *logrus.Logger) data.Source {
	if c.Data.Source == "parquet" {
		return data.NewParquetStore(c.Data.Dir)
	}
	return &data.CSVSource{Dir: c.Data.Dir, Log: log}
}

// LegsPath is where the CSV journal writes legs for this run.
func (c *Config) LegsPath() string {
	period := c.Data.Period
	if period == "" {
		period = "all"
	}
	return filepath.Join(c.Journal.Dir, journal.LegsFileName(c.Backtest.Symbol, c.Data.Interval, period))
}

// EquityPath is the CSV equity log, or "" when none is configured.
func (c *Config) EquityPath() string {
	if c.Journal.EquityFile == "" || filepath.IsAbs(c.Journal.EquityFile) {
		return c.Journal.EquityFile
	}
	return filepath.Join(c.Journal.Dir, c.Journal.EquityFile)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	bt := backtest.DefaultConfig()
	bt.Symbol = "SPY"
	return &Config{
		Data: DataConfig{
			Source:   "csv",
			Dir:      "./data",
			Interval: "5m",
			Period:   "60d",
		},
		Backtest: bt,
		Strategy: strategies.Config{
			Name:     "ema_cross",
			EMACross: strategies.EMACrossDefaults(),
		},
		Journal: JournalConfig{
			Type: "csv",
			Dir:  "./journal",
		},
		Logging: logging.DefaultConfig(),
	}
}

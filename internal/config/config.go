// Package config loads application settings from a YAML file, the
// environment and an optional .env file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"energy_billing/internal/billing"
	"energy_billing/internal/ingest"
	"energy_billing/internal/logging"
	"energy_billing/internal/model"
	"energy_billing/internal/store"
)

// Environment variables read by Load.
const (
	EnvConfigPath    = "ENERGY_CONFIG"
	EnvStoreDriver   = "ENERGY_STORE_DRIVER"
	EnvStoreDSN      = "ENERGY_STORE_DSN"
	EnvTariffsPath   = "ENERGY_TARIFFS"
	EnvDayCount      = "ENERGY_DAY_COUNT"
	EnvAccountNumber = "ENERGY_ACCOUNT_NUMBER"
	EnvDeviceType    = "ENERGY_DEVICE_TYPE"
	EnvHTTPAddr      = "ENERGY_HTTP_ADDR"
	EnvLogLevel      = "ENERGY_LOG_LEVEL"
	EnvLogFormat     = "ENERGY_LOG_FORMAT"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type IngestConfig struct {
	AccountNumber string `yaml:"account_number"`
	DeviceType    string `yaml:"device_type"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds everything the commands need to wire the store, tariffs,
// engine and importer.
type Config struct {
	Store       StoreConfig  `yaml:"store"`
	TariffsPath string       `yaml:"tariffs_path"`
	DayCount    string       `yaml:"day_count"`
	Ingest      IngestConfig `yaml:"ingest"`
	HTTPAddr    string       `yaml:"http_addr"`
	Log         LogConfig    `yaml:"log"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Store:       StoreConfig{Driver: store.DriverCSV, DSN: "data/readings.csv"},
		TariffsPath: "config/tariffs.yaml",
		DayCount:    billing.DayCountCeil.String(),
		Ingest:      IngestConfig{DeviceType: model.DefaultDeviceType},
		HTTPAddr:    ":8080",
		Log:         LogConfig{Level: "info", Format: logging.FormatJSON},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $ENERGY_CONFIG when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Store.Driver = getenvDefault(EnvStoreDriver, c.Store.Driver)
	c.Store.DSN = getenvDefault(EnvStoreDSN, c.Store.DSN)
	c.TariffsPath = getenvDefault(EnvTariffsPath, c.TariffsPath)
	c.DayCount = getenvDefault(EnvDayCount, c.DayCount)
	c.Ingest.AccountNumber = getenvDefault(EnvAccountNumber, c.Ingest.AccountNumber)
	c.Ingest.DeviceType = getenvDefault(EnvDeviceType, c.Ingest.DeviceType)
	c.HTTPAddr = getenvDefault(EnvHTTPAddr, c.HTTPAddr)
	c.Log.Level = getenvDefault(EnvLogLevel, c.Log.Level)
	c.Log.Format = getenvDefault(EnvLogFormat, c.Log.Format)
}

// Validate rejects settings the commands cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverCSV, store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.TariffsPath == "" {
		return errors.New("config: tariffs_path required")
	}
	if _, err := c.DayCountPolicy(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) DayCountPolicy() (billing.DayCountPolicy, error) {
	return billing.ParseDayCountPolicy(c.DayCount)
}

func (c Config) IngestDefaults() ingest.Defaults {
	return ingest.Defaults{
		AccountNumber: c.Ingest.AccountNumber,
		DeviceType:    c.Ingest.DeviceType,
	}
}

func (c Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format}
}

// LoadDotEnv reads KEY=VALUE lines from path and sets the variables not
// already present in the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			if err := os.Setenv(key, val); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func getenvDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

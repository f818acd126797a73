// Package config loads propsync settings from the environment and an optional
// YAML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/propsync/denorm"
	"github.com/jacentio/propsync/internal/dedup"
	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
)

// Config is the process configuration shared by the Lambda and the CLI.
type Config struct {
	Tables struct {
		Cities     string `yaml:"cities"`
		Clients    string `yaml:"clients"`
		Properties string `yaml:"properties"`
	} `yaml:"tables"`

	Indexes struct {
		// CityID is the GSI partitioned on cityId, on both clients and properties.
		CityID string `yaml:"cityId"`
		// ClientID is the GSI partitioned on clientId, on properties.
		ClientID string `yaml:"clientId"`
	} `yaml:"indexes"`

	MaxTransactItems int  `yaml:"maxTransactItems"`
	AtomicCreate     bool `yaml:"atomicCreate"`

	// Redis backs the redelivery ledger. An empty Addr disables it.
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		DedupTTL time.Duration `yaml:"dedupTTL"`
	} `yaml:"redis"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Tables.Cities = getEnv("PROPSYNC_CITIES_TABLE", model.Cities)
	cfg.Tables.Clients = getEnv("PROPSYNC_CLIENTS_TABLE", model.Clients)
	cfg.Tables.Properties = getEnv("PROPSYNC_PROPERTIES_TABLE", model.Properties)

	cfg.Indexes.CityID = getEnv("PROPSYNC_CITY_INDEX", "cityId-index")
	cfg.Indexes.ClientID = getEnv("PROPSYNC_CLIENT_INDEX", "clientId-index")

	var err error
	if cfg.MaxTransactItems, err = getEnvInt("PROPSYNC_MAX_TRANSACT_ITEMS", 100); err != nil {
		return nil, err
	}
	if cfg.AtomicCreate, err = getEnvBool("PROPSYNC_ATOMIC_CREATE", false); err != nil {
		return nil, err
	}

	cfg.Redis.Addr = getEnv("PROPSYNC_REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("PROPSYNC_REDIS_PASSWORD", "")
	if cfg.Redis.DB, err = getEnvInt("PROPSYNC_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Redis.DedupTTL, err = getEnvDuration("PROPSYNC_DEDUP_TTL", dedup.DefaultTTL); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// LoadFile loads the environment configuration and overlays the YAML file at
// path. Keys present in the file win over the environment. An empty path
// returns the environment configuration.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Store returns the store layout described by c.
func (c *Config) Store() store.Config {
	return store.Config{
		Tables: map[string]string{
			model.Cities:     c.Tables.Cities,
			model.Clients:    c.Tables.Clients,
			model.Properties: c.Tables.Properties,
		},
		Indexes: map[string]string{
			model.Clients + ".cityId":      c.Indexes.CityID,
			model.Properties + ".cityId":   c.Indexes.CityID,
			model.Properties + ".clientId": c.Indexes.ClientID,
		},
		MaxTransactItems: c.MaxTransactItems,
	}
}

// Engine returns the engine options described by c.
func (c *Config) Engine() denorm.Options {
	return denorm.Options{AtomicCreate: c.AtomicCreate}
}

// NewLogger builds a logger writing to w at the configured level and format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

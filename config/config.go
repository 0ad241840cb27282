/*
Package config loads service configuration from YAML with environment
overrides.

PURPOSE:
  One struct for everything the server wires: HTTP address, storage
  driver, Redis, Kafka, the payment gateway, and the modification
  policy knobs. Defaults make `go run ./cmd/server` work with no config
  file at all (sqlite, no cache, no broker, out-of-band capture).

ENVIRONMENT:
  A .env file (godotenv) is loaded by the server before config; the
  RENTAL_* variables below override whatever the YAML said. This keeps
  secrets (DSN, API keys) out of committed config files.

    RENTAL_HTTP_ADDR, RENTAL_DB_DRIVER, RENTAL_DB_DSN,
    RENTAL_REDIS_ADDR, RENTAL_KAFKA_BROKERS, RENTAL_GATEWAY_URL,
    RENTAL_GATEWAY_API_KEY
*/
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Policy   PolicyConfig   `yaml:"policy"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite, a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	// Addr empty disables the summary cache.
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type KafkaConfig struct {
	// Brokers empty disables event publishing.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type GatewayConfig struct {
	// BaseURL empty means captures are recorded out of band (no-op).
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// PolicyConfig drives the modification policy resolver. FeeType is
// "flat" or "percent"; percent applies FeePercent of the booking's
// current amount as the modification fee.
type PolicyConfig struct {
	Currency              string  `yaml:"currency"`
	FreeModificationHours int     `yaml:"free_modification_hours"`
	FeeType               string  `yaml:"fee_type"`
	FlatFee               string  `yaml:"flat_fee"`
	FeePercent            float64 `yaml:"fee_percent"`
}

// FlatFeeAmount parses the configured flat fee; a malformed value is a
// startup error, not a silent zero.
func (p PolicyConfig) FlatFeeAmount() (decimal.Decimal, error) {
	if p.FlatFee == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(p.FlatFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid flat_fee %q: %w", p.FlatFee, err)
	}
	return d, nil
}

func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./data/rental.db"},
		Redis:    RedisConfig{TTLSeconds: 60},
		Kafka:    KafkaConfig{Topic: "settlement-events"},
		Policy: PolicyConfig{
			Currency:              "USD",
			FreeModificationHours: 48,
			FeeType:               "flat",
			FlatFee:               "25",
		},
	}
}

// Load reads the YAML file at path (missing file means defaults) and
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if cfg.Policy.FeeType != "flat" && cfg.Policy.FeeType != "percent" {
		return nil, fmt.Errorf("unknown policy fee_type %q", cfg.Policy.FeeType)
	}
	if _, err := cfg.Policy.FlatFeeAmount(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.HTTP.Addr, "RENTAL_HTTP_ADDR")
	setString(&c.Database.Driver, "RENTAL_DB_DRIVER")
	setString(&c.Database.DSN, "RENTAL_DB_DSN")
	setString(&c.Redis.Addr, "RENTAL_REDIS_ADDR")
	setString(&c.Gateway.BaseURL, "RENTAL_GATEWAY_URL")
	setString(&c.Gateway.APIKey, "RENTAL_GATEWAY_API_KEY")
	if v := os.Getenv("RENTAL_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

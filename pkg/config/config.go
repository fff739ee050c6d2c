package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcclellann/coopLoan/pkg/ledger"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-level config
type ServerConfig struct {
	Port                   int `yaml:"port"`
	ReadTimeoutSeconds     int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	Path   string `yaml:"path"`
}

// Redis connection config
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLMinutes) * time.Minute
}

type LogConfig struct {
	LogLevel string `yaml:"level"`
}

// LoanPolicyConfig is the cooperative's loan product. Amounts are in whole
// rupiah. An explicit annual_rate_percent of 0 configures an interest-free
// product; only a missing key falls back to the default rate.
type LoanPolicyConfig struct {
	AnnualRatePercent   *float64 `yaml:"annual_rate_percent"`
	MinAmount           int64    `yaml:"min_amount"`
	MaxAmount           int64    `yaml:"max_amount"`
	MinTermMonths       int      `yaml:"min_term_months"`
	MaxTermMonths       int      `yaml:"max_term_months"`
	EnforcePaymentOrder *bool    `yaml:"enforce_payment_order"`
}

// AppConfig is the main config struct that holds all configs
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LogConfig        `yaml:"logging"`
	LoanPolicy LoanPolicyConfig `yaml:"loan_policy"`
}

// Policy converts the configured loan product into a ledger.Policy.
func (c *AppConfig) Policy() ledger.Policy {
	p := c.LoanPolicy
	enforce := true
	if p.EnforcePaymentOrder != nil {
		enforce = *p.EnforcePaymentOrder
	}
	rate := ledger.DefaultPolicy().AnnualRatePercent
	if p.AnnualRatePercent != nil {
		rate = decimal.NewFromFloat(*p.AnnualRatePercent)
	}
	return ledger.Policy{
		AnnualRatePercent:   rate,
		MinAmount:           decimal.NewFromInt(p.MinAmount),
		MaxAmount:           decimal.NewFromInt(p.MaxAmount),
		MinTermMonths:       p.MinTermMonths,
		MaxTermMonths:       p.MaxTermMonths,
		EnforcePaymentOrder: enforce,
	}
}

func assignDefaultConfigValues(cfg *AppConfig) *AppConfig {
	defaults := ledger.DefaultPolicy()

	// server config defaults
	cfg.Server.Port = GetEnvOrDefaultAsInt("SERVER_PORT", orInt(cfg.Server.Port, 8080))
	cfg.Server.ReadTimeoutSeconds = GetEnvOrDefaultAsInt("SERVER_READ_TIMEOUT_SECONDS", orInt(cfg.Server.ReadTimeoutSeconds, 10))
	cfg.Server.WriteTimeoutSeconds = GetEnvOrDefaultAsInt("SERVER_WRITE_TIMEOUT_SECONDS", orInt(cfg.Server.WriteTimeoutSeconds, 10))
	cfg.Server.ShutdownTimeoutSeconds = GetEnvOrDefaultAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", orInt(cfg.Server.ShutdownTimeoutSeconds, 5))

	// storage config defaults
	cfg.Storage.Driver = strings.ToLower(GetEnvOrDefaultAsString("STORAGE_DRIVER", orString(cfg.Storage.Driver, "memory")))
	cfg.Storage.Path = GetEnvOrDefaultAsString("STORAGE_PATH", orString(cfg.Storage.Path, "coopLoan.db"))

	// Redis config defaults
	cfg.Redis.Enabled = GetEnvOrDefaultAsBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = GetEnvOrDefaultAsString("REDIS_ADDR", orString(cfg.Redis.Addr, "localhost:6379"))
	cfg.Redis.Password = GetEnvOrDefaultAsString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = GetEnvOrDefaultAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TTLMinutes = GetEnvOrDefaultAsInt("REDIS_TTL_MINUTES", orInt(cfg.Redis.TTLMinutes, 60))

	// log config defaults
	cfg.Logging.LogLevel = GetEnvOrDefaultAsString("LOGGING_LEVEL", orString(cfg.Logging.LogLevel, "info"))

	// loan policy defaults
	lp := &cfg.LoanPolicy
	rate := defaults.AnnualRatePercent.InexactFloat64()
	if lp.AnnualRatePercent != nil {
		rate = *lp.AnnualRatePercent
	}
	rate = GetEnvOrDefaultAsFloat("LOAN_ANNUAL_RATE_PERCENT", rate)
	lp.AnnualRatePercent = &rate
	lp.MinAmount = GetEnvOrDefaultAsInt64("LOAN_MIN_AMOUNT", orInt64(lp.MinAmount, defaults.MinAmount.IntPart()))
	lp.MaxAmount = GetEnvOrDefaultAsInt64("LOAN_MAX_AMOUNT", orInt64(lp.MaxAmount, defaults.MaxAmount.IntPart()))
	lp.MinTermMonths = GetEnvOrDefaultAsInt("LOAN_MIN_TERM_MONTHS", orInt(lp.MinTermMonths, defaults.MinTermMonths))
	lp.MaxTermMonths = GetEnvOrDefaultAsInt("LOAN_MAX_TERM_MONTHS", orInt(lp.MaxTermMonths, defaults.MaxTermMonths))
	if v, ok := os.LookupEnv("LOAN_ENFORCE_PAYMENT_ORDER"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			lp.EnforcePaymentOrder = &b
		}
	}
	return cfg
}

// LoadFromConfigFilePath loads and parses config file into AppConfig
func LoadFromConfigFilePath(configPath string) (*AppConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	defaultCfg := assignDefaultConfigValues(&cfg)

	if err := validateConfig(defaultCfg); err != nil {
		return nil, err
	}
	return defaultCfg, nil
}

// LoadFromConfig loads an optional .env file, then the config file named by
// CONFIG_PATH.
func LoadFromConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := GetEnvOrDefaultAsString("CONFIG_PATH", "configs/config.yaml")

	// Load the actual config file
	cfg, err := LoadFromConfigFilePath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	return cfg, nil
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory or sqlite, got %q", cfg.Storage.Driver)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if cfg.Redis.TTLMinutes < 0 {
		return fmt.Errorf("redis.ttl_minutes must not be negative, got %d", cfg.Redis.TTLMinutes)
	}
	if err := cfg.Policy().Validate(); err != nil {
		return fmt.Errorf("loan_policy: %w", err)
	}
	return nil
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orInt64(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// GetEnvOrDefaultAsInt returns the value of the given env variable
// as an int or the default value if not set or invalid.
func GetEnvOrDefaultAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return int(value)
}

func GetEnvOrDefaultAsInt64(key string, defaultValue int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func GetEnvOrDefaultAsFloat(key string, defaultValue float64) float64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func GetEnvOrDefaultAsBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetEnvOrDefaultAsString returns the value of the given env variable or the default value if not set.
func GetEnvOrDefaultAsString(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		if val != "" {
			return val
		}
	}
	return defaultVal
}

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	sharedConfig "github.com/finrelay/finrelay/internal/shared/config"
)

type Config struct {
	Server     sharedConfig.ServerConfig     `mapstructure:"server"`
	Database   sharedConfig.DatabaseConfig   `mapstructure:"database"`
	Logger     sharedConfig.LoggerConfig     `mapstructure:"logger"`
	Redis      sharedConfig.RedisConfig      `mapstructure:"redis"`
	Stripe     sharedConfig.StripeConfig     `mapstructure:"stripe"`
	Salesforce sharedConfig.SalesforceConfig `mapstructure:"salesforce"`
	Queue      sharedConfig.QueueConfig      `mapstructure:"queue"`
	RateLimit  sharedConfig.RateLimitConfig  `mapstructure:"rate_limit"`
	Batch      sharedConfig.BatchConfig      `mapstructure:"batch"`
	Retry      sharedConfig.RetryConfig      `mapstructure:"retry"`
	Bulk       sharedConfig.BulkConfig       `mapstructure:"bulk"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables
func Load(env string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../configs")
	viper.AddConfigPath("../../configs")

	viper.SetEnvPrefix("FINRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Allow env parameter to override server mode if provided
	if env != "" && env != "default" {
		viper.Set("server.mode", env)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "root")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "finrelay_dev")
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.conn_max_lifetime", 60)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.output_path", "stdout")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Stripe defaults
	viper.SetDefault("stripe.api_version", "2024-10-28")

	// Salesforce defaults
	viper.SetDefault("salesforce.instance_url", "https://login.salesforce.com")
	viper.SetDefault("salesforce.api_version", "v63.0")
	viper.SetDefault("salesforce.token_refresh_margin", 300)

	// Queue defaults
	viper.SetDefault("queue.max_messages", 10)
	viper.SetDefault("queue.wait_time_seconds", 20)
	viper.SetDefault("queue.poll_interval", 5)
	viper.SetDefault("queue.max_receives", 5)

	// Rate limit defaults mirror the Salesforce org limits: 15000 calls
	// per 24h, throttled to 250/min and 10/s to avoid burst exhaustion.
	viper.SetDefault("rate_limit.resource_id", "salesforce_api")
	viper.SetDefault("rate_limit.per_second", 10)
	viper.SetDefault("rate_limit.per_minute", 250)
	viper.SetDefault("rate_limit.per_day", 15000)

	// Batch accumulation defaults
	viper.SetDefault("batch.size_threshold", 200)
	viper.SetDefault("batch.time_threshold", 30)
	viper.SetDefault("batch.window_ttl_hours", 24)

	// Retry defaults
	viper.SetDefault("retry.max_attempts", 5)
	viper.SetDefault("retry.backoff_base", 2)
	viper.SetDefault("retry.backoff_max", 32)

	// Bulk job polling defaults
	viper.SetDefault("bulk.poll_interval", 5)
	viper.SetDefault("bulk.max_wait_time", 300)
}

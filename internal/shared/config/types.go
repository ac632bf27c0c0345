package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Mode string `mapstructure:"mode"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host" validate:"required"`
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	Username        string `mapstructure:"username" validate:"required"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database" validate:"required"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"min=1"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"min=1"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" validate:"min=1"`
}

func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path" validate:"required"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0,max=15"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type StripeConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
	APIVersion    string `mapstructure:"api_version" validate:"required"`
}

type SalesforceConfig struct {
	InstanceURL string `mapstructure:"instance_url" validate:"url"`
	APIVersion  string `mapstructure:"api_version" validate:"required,startswith=v"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	// PEM-encoded RSA private key for the JWT bearer flow.
	PrivateKey string `mapstructure:"private_key"`
	// Seconds before expiry at which a cached token is refreshed.
	TokenRefreshMargin int `mapstructure:"token_refresh_margin" validate:"min=0"`
}

func (s *SalesforceConfig) TokenURL() string {
	return s.InstanceURL + "/services/oauth2/token"
}

func (s *SalesforceConfig) IngestURL() string {
	return fmt.Sprintf("%s/services/data/%s/jobs/ingest", s.InstanceURL, s.APIVersion)
}

type QueueConfig struct {
	MaxMessages     int `mapstructure:"max_messages" validate:"min=1"`
	WaitTimeSeconds int `mapstructure:"wait_time_seconds" validate:"min=0"`
	PollInterval    int `mapstructure:"poll_interval" validate:"min=1"`
	// Receives before a message is parked on the dead letter list.
	MaxReceives int `mapstructure:"max_receives" validate:"min=1"`
}

type RateLimitConfig struct {
	ResourceID string `mapstructure:"resource_id" validate:"required"`
	PerSecond  int    `mapstructure:"per_second" validate:"min=1"`
	PerMinute  int    `mapstructure:"per_minute" validate:"min=1"`
	PerDay     int    `mapstructure:"per_day" validate:"min=1"`
}

type BatchConfig struct {
	SizeThreshold int `mapstructure:"size_threshold" validate:"min=1"`
	TimeThreshold int `mapstructure:"time_threshold" validate:"min=1"`
	// Safety-net TTL for orphaned windows, in hours.
	WindowTTLHours int `mapstructure:"window_ttl_hours" validate:"min=1"`
}

func (b *BatchConfig) TimeThresholdDuration() time.Duration {
	return time.Duration(b.TimeThreshold) * time.Second
}

type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`
	BackoffBase int `mapstructure:"backoff_base" validate:"min=1"`
	BackoffMax  int `mapstructure:"backoff_max" validate:"min=1"`
}

type BulkConfig struct {
	PollInterval int `mapstructure:"poll_interval" validate:"min=1"`
	MaxWaitTime  int `mapstructure:"max_wait_time" validate:"min=1"`
}

package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the newsletter service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	SES         SESConfig         `yaml:"ses"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Unsubscribe UnsubscribeConfig `yaml:"unsubscribe"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the bind host. Containers need 0.0.0.0 regardless of
// what the config file says.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis configuration for send rate limiting and
// scheduler locks. Optional: when disabled the rate limiter is bypassed
// and locks fall back to PG advisory locks.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// SESConfig holds AWS SES transport configuration.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the API call timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DeliveryConfig holds delivery orchestrator tuning.
type DeliveryConfig struct {
	Workers            int `yaml:"workers"`
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	RatePerSecond      int `yaml:"rate_per_second"`
	EventAppendRetries int `yaml:"event_append_retries"`
}

// SendTimeout returns the per-recipient send timeout as a duration.
func (c DeliveryConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// UnsubscribeConfig holds unsubscribe link signing configuration.
type UnsubscribeConfig struct {
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
}

// SnapshotConfig holds the rendered-document archive configuration.
// Type is "local" or "s3".
type SnapshotConfig struct {
	Type      string `yaml:"type"`
	LocalPath string `yaml:"local_path"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
}

// SchedulerConfig holds the scheduled-campaign executor configuration.
type SchedulerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
}

// PollInterval returns the poll interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Delivery.Workers == 0 {
		cfg.Delivery.Workers = 20
	}
	if cfg.Delivery.SendTimeoutSeconds == 0 {
		cfg.Delivery.SendTimeoutSeconds = 30
	}
	if cfg.Delivery.RatePerSecond == 0 {
		cfg.Delivery.RatePerSecond = 50
	}
	if cfg.Delivery.EventAppendRetries == 0 {
		cfg.Delivery.EventAppendRetries = 3
	}
	if cfg.Snapshot.Type == "" {
		cfg.Snapshot.Type = "local"
	}
	if cfg.Snapshot.LocalPath == "" {
		cfg.Snapshot.LocalPath = "data/snapshots"
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 30
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 10
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is read first, so secrets can live in .env
// locally and in real environment variables on the container platform.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("UNSUBSCRIBE_SECRET"); v != "" {
		cfg.Unsubscribe.Secret = v
	}
	if v := os.Getenv("UNSUBSCRIBE_BASE_URL"); v != "" {
		cfg.Unsubscribe.BaseURL = v
	}
	if v := os.Getenv("SNAPSHOT_S3_BUCKET"); v != "" {
		cfg.Snapshot.S3Bucket = v
		cfg.Snapshot.Type = "s3"
	}

	return cfg, nil
}

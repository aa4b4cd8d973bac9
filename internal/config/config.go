package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig
	Engine   EngineConfig
	Logging  LoggingConfig
	Demo     DemoConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// URL renders the config as a redis:// URL for clients that parse one.
func (r RedisConfig) URL() string {
	if r.Password != "" {
		return fmt.Sprintf("redis://:%s@%s/%d", r.Password, r.Addr, r.DB)
	}
	return fmt.Sprintf("redis://%s/%d", r.Addr, r.DB)
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type EngineConfig struct {
	// WorkerConcurrency bounds per-run dispatch fan-out.
	WorkerConcurrency int `mapstructure:"worker_concurrency"`
	// RunClaimBatch is how many queued runs one worker locks per poll.
	RunClaimBatch       int           `mapstructure:"run_claim_batch"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	DefaultRatePerSec   int           `mapstructure:"default_rate_per_sec"`
	SegmentQueryTimeout time.Duration `mapstructure:"segment_query_timeout"`
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	SuppressionCacheTTL time.Duration `mapstructure:"suppression_cache_ttl"`
	// DistributedRateLimit switches the per-profile limiter from local
	// token buckets to Redis counters shared across workers.
	DistributedRateLimit bool `mapstructure:"distributed_rate_limit"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// DemoConfig enables the delivery event simulator for deployments
// without a provider webhook.
type DemoConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	WorkspaceID string `mapstructure:"workspace_id"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("engine.worker_concurrency", 8)
	viper.SetDefault("engine.run_claim_batch", 4)
	viper.SetDefault("engine.poll_interval", 2*time.Second)
	viper.SetDefault("engine.default_rate_per_sec", 10)
	viper.SetDefault("engine.segment_query_timeout", 5*time.Minute)
	viper.SetDefault("engine.retry_max_attempts", 5)
	viper.SetDefault("engine.retry_base_delay", 500*time.Millisecond)
	viper.SetDefault("engine.retry_max_delay", 30*time.Second)
	viper.SetDefault("engine.suppression_cache_ttl", 5*time.Minute)
	viper.SetDefault("logging.level", "info")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

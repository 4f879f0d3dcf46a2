package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource    string
	Port        string
	Env         string
	LogLevel    string
	LogFile     string
	StoreDriver string
	AutoMigrate bool

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	KafkaBrokers     []string
	KafkaTopicPrefix string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("auto_migrate", false)
	v.SetDefault("retry_max_attempts", 5)
	v.SetDefault("retry_base_delay", 20*time.Millisecond)
	v.SetDefault("retry_max_delay", time.Second)
	v.SetDefault("kafka_topic_prefix", "wallet.")
	v.SetDefault("outbox_poll_interval", time.Second)
	v.SetDefault("outbox_batch_size", 100)
}

// Load reads the environment, and CONFIG_FILE first when it is set.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DBSource:           v.GetString("db_source"),
		Port:               v.GetString("server_port"),
		Env:                v.GetString("environment"),
		LogLevel:           v.GetString("log_level"),
		LogFile:            v.GetString("log_file"),
		StoreDriver:        strings.ToLower(v.GetString("store_driver")),
		AutoMigrate:        v.GetBool("auto_migrate"),
		RetryMaxAttempts:   v.GetInt("retry_max_attempts"),
		RetryBaseDelay:     v.GetDuration("retry_base_delay"),
		RetryMaxDelay:      v.GetDuration("retry_max_delay"),
		KafkaBrokers:       splitList(v.GetString("kafka_brokers")),
		KafkaTopicPrefix:   v.GetString("kafka_topic_prefix"),
		OutboxPollInterval: v.GetDuration("outbox_poll_interval"),
		OutboxBatchSize:    v.GetInt("outbox_batch_size"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("invalid retry delays: base %s, max %s", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive")
	}
	if c.OutboxBatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1, got %d", c.OutboxBatchSize)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (plus an
 * optional .env file), providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                        string `mapstructure:"SERVER_PORT"`
	DatabaseURL                       string `mapstructure:"DATABASE_URL"`
	RabbitMQURL                       string `mapstructure:"RABBITMQ_URL"`
	LedgerExchange                    string `mapstructure:"LEDGER_EXCHANGE"`
	LedgerEventQueue                  string `mapstructure:"LEDGER_EVENT_QUEUE"`
	RedisURL                          string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix              string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	WithdrawRequestRateLimitPerMinute int    `mapstructure:"WITHDRAW_REQUEST_RATE_LIMIT_PER_MINUTE"`
	WithdrawCommitRateLimitPerMinute  int    `mapstructure:"WITHDRAW_COMMIT_RATE_LIMIT_PER_MINUTE"`
	OutboxBatchSize                   int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxPollIntervalMS              int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxMaxAttempts                 int    `mapstructure:"OUTBOX_MAX_ATTEMPTS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("LEDGER_EXCHANGE", "ledger.events")
	viper.SetDefault("LEDGER_EVENT_QUEUE", "ledger_service.transaction_log")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("WITHDRAW_REQUEST_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("WITHDRAW_COMMIT_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)
	viper.SetDefault("OUTBOX_MAX_ATTEMPTS", 12)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EXCHANGE")
	_ = viper.BindEnv("LEDGER_EVENT_QUEUE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("WITHDRAW_REQUEST_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WITHDRAW_COMMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_MAX_ATTEMPTS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if config.OutboxPollIntervalMS <= 0 {
		config.OutboxPollIntervalMS = 1200
	}
	if config.OutboxMaxAttempts <= 0 {
		config.OutboxMaxAttempts = 12
	}

	return
}

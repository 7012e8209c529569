/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the disbursement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisEventDedupePrefix    string `mapstructure:"REDIS_EVENT_DEDUPE_PREFIX"`
	EventDedupeTTLMinutes     int    `mapstructure:"EVENT_DEDUPE_TTL_MINUTES"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	PaymentEventQueue         string `mapstructure:"PAYMENT_EVENT_QUEUE"`
	DwollaAPIBaseURL          string `mapstructure:"DWOLLA_API_BASE_URL"`
	DwollaAPIKey              string `mapstructure:"DWOLLA_API_KEY"`
	DwollaAPISecret           string `mapstructure:"DWOLLA_API_SECRET"`
	StaffJWKSURL              string `mapstructure:"STAFF_JWKS_URL"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	SplitDisbursementsEnabled bool   `mapstructure:"SPLIT_DISBURSEMENTS_ENABLED"`
	ReconcileSweepSchedule    string `mapstructure:"RECONCILE_SWEEP_SCHEDULE"`
	ProcessingDeadlineMinutes int    `mapstructure:"PROCESSING_DEADLINE_MINUTES"`
	ReconcileBatchLimit       int    `mapstructure:"RECONCILE_BATCH_LIMIT"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("PAYMENT_EVENT_QUEUE", "disbursement_service.donation_payments")
	viper.SetDefault("REDIS_EVENT_DEDUPE_PREFIX", "giveflow:disbursement:event")
	viper.SetDefault("EVENT_DEDUPE_TTL_MINUTES", 1440)
	viper.SetDefault("DWOLLA_API_BASE_URL", "https://api-sandbox.dwolla.com")
	viper.SetDefault("SPLIT_DISBURSEMENTS_ENABLED", true)
	viper.SetDefault("RECONCILE_SWEEP_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("PROCESSING_DEADLINE_MINUTES", 30)
	viper.SetDefault("RECONCILE_BATCH_LIMIT", 100)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_EVENT_DEDUPE_PREFIX")
	_ = viper.BindEnv("EVENT_DEDUPE_TTL_MINUTES")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("DWOLLA_API_BASE_URL")
	_ = viper.BindEnv("DWOLLA_API_KEY")
	_ = viper.BindEnv("DWOLLA_API_SECRET")
	_ = viper.BindEnv("STAFF_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "DISBURSEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SPLIT_DISBURSEMENTS_ENABLED")
	_ = viper.BindEnv("RECONCILE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("PROCESSING_DEADLINE_MINUTES")
	_ = viper.BindEnv("RECONCILE_BATCH_LIMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.InternalAPIKey == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("DISBURSEMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisEventDedupePrefix = strings.TrimSpace(config.RedisEventDedupePrefix)
	if config.RedisEventDedupePrefix == "" {
		config.RedisEventDedupePrefix = "giveflow:disbursement:event"
	}
	config.DwollaAPIBaseURL = strings.TrimSuffix(strings.TrimSpace(config.DwollaAPIBaseURL), "/")

	if config.EventDedupeTTLMinutes <= 0 {
		config.EventDedupeTTLMinutes = 1440
	}
	if config.ProcessingDeadlineMinutes <= 0 {
		config.ProcessingDeadlineMinutes = 30
	}
	if config.ReconcileBatchLimit <= 0 {
		config.ReconcileBatchLimit = 100
	}
	if strings.TrimSpace(config.ReconcileSweepSchedule) == "" {
		config.ReconcileSweepSchedule = "*/15 * * * *"
	}

	return
}

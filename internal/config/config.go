/**
 * @description
 * This package handles the configuration management for the tool-service. It uses the
 * Viper library to read configuration from environment variables and an optional .env
 * file, then normalises the values the rest of the service relies on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the tool-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort      string        `mapstructure:"SERVER_PORT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `mapstructure:"TRUST_PROXY_HEADERS"`

	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	WarehouseDatabaseURL string        `mapstructure:"WAREHOUSE_DATABASE_URL"`
	WarehouseTimeout     time.Duration `mapstructure:"WAREHOUSE_STATEMENT_TIMEOUT"`
	WarehouseQueryRole   string        `mapstructure:"WAREHOUSE_QUERY_ROLE"`
	TableWinners         string        `mapstructure:"WAREHOUSE_TABLE_WINNERS"`
	TablePerformance     string        `mapstructure:"WAREHOUSE_TABLE_PERFORMANCE"`
	TableCalendar        string        `mapstructure:"WAREHOUSE_TABLE_CALENDAR"`
	TableOptionsChain    string        `mapstructure:"WAREHOUSE_TABLE_OPTIONS_CHAIN"`
	TablePriceData       string        `mapstructure:"WAREHOUSE_TABLE_PRICE_DATA"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	SubscriberEventQueue string `mapstructure:"SUBSCRIBER_EVENT_QUEUE"`

	AuthMode           string        `mapstructure:"AUTH_MODE"`
	CredentialCacheTTL time.Duration `mapstructure:"CREDENTIAL_CACHE_TTL"`
	ClerkJWKSURL       string        `mapstructure:"CLERK_JWKS_URL"`
	ClerkIssuer        string        `mapstructure:"CLERK_ISSUER"`

	RateLimitGlobalPerMinute int `mapstructure:"RATE_LIMIT_GLOBAL_PER_MINUTE"`
	RateLimitProPerMinute    int `mapstructure:"RATE_LIMIT_PRO_PER_MINUTE"`
	RateLimitTrialPerMinute  int `mapstructure:"RATE_LIMIT_TRIAL_PER_MINUTE"`
	RateLimitFreePerMinute   int `mapstructure:"RATE_LIMIT_FREE_PER_MINUTE"`

	ToolTimeout time.Duration `mapstructure:"TOOL_TIMEOUT"`

	UsageQueueSize         int           `mapstructure:"USAGE_QUEUE_SIZE"`
	UsageRetention         time.Duration `mapstructure:"USAGE_RETENTION"`
	UsageShutdownTimeout   time.Duration `mapstructure:"USAGE_SHUTDOWN_TIMEOUT"`
	WindowSweepSchedule    string        `mapstructure:"WINDOW_SWEEP_SCHEDULE"`
	UsageRetentionSchedule string        `mapstructure:"USAGE_RETENTION_SCHEDULE"`

	ObjectStoreBaseURL string `mapstructure:"OBJECTSTORE_BASE_URL"`
	ObjectStoreBucket  string `mapstructure:"OBJECTSTORE_BUCKET"`
	ObjectStoreToken   string `mapstructure:"OBJECTSTORE_TOKEN"`

	SearchBaseURL  string `mapstructure:"SEARCH_BASE_URL"`
	GoogleAPIKey   string `mapstructure:"GOOGLE_API_KEY"`
	GoogleSearchCX string `mapstructure:"GOOGLE_CSE_ID"`
}

var envKeys = []string{
	"SERVER_PORT", "PORT", "SHUTDOWN_TIMEOUT", "CORS_ALLOWED_ORIGINS", "TRUST_PROXY_HEADERS",
	"DATABASE_URL", "WAREHOUSE_DATABASE_URL", "WAREHOUSE_STATEMENT_TIMEOUT", "WAREHOUSE_QUERY_ROLE",
	"WAREHOUSE_TABLE_WINNERS", "WAREHOUSE_TABLE_PERFORMANCE", "WAREHOUSE_TABLE_CALENDAR",
	"WAREHOUSE_TABLE_OPTIONS_CHAIN", "WAREHOUSE_TABLE_PRICE_DATA",
	"REDIS_RATE_LIMIT_PREFIX", "RABBITMQ_URL", "SUBSCRIBER_EVENT_QUEUE",
	"AUTH_MODE", "CREDENTIAL_CACHE_TTL", "CLERK_JWKS_URL", "CLERK_ISSUER",
	"RATE_LIMIT_GLOBAL_PER_MINUTE", "RATE_LIMIT_PRO_PER_MINUTE",
	"RATE_LIMIT_TRIAL_PER_MINUTE", "RATE_LIMIT_FREE_PER_MINUTE",
	"TOOL_TIMEOUT", "USAGE_QUEUE_SIZE", "USAGE_RETENTION", "USAGE_SHUTDOWN_TIMEOUT",
	"WINDOW_SWEEP_SCHEDULE", "USAGE_RETENTION_SCHEDULE",
	"OBJECTSTORE_BASE_URL", "OBJECTSTORE_BUCKET", "OBJECTSTORE_TOKEN",
	"SEARCH_BASE_URL", "GOOGLE_API_KEY", "GOOGLE_CSE_ID",
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("TRUST_PROXY_HEADERS", false)
	viper.SetDefault("WAREHOUSE_STATEMENT_TIMEOUT", "15s")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "toolsvc:rate_limit")
	viper.SetDefault("AUTH_MODE", "required")
	viper.SetDefault("CREDENTIAL_CACHE_TTL", "30s")
	viper.SetDefault("RATE_LIMIT_GLOBAL_PER_MINUTE", 300)
	viper.SetDefault("RATE_LIMIT_PRO_PER_MINUTE", 120)
	viper.SetDefault("RATE_LIMIT_TRIAL_PER_MINUTE", 30)
	viper.SetDefault("RATE_LIMIT_FREE_PER_MINUTE", 10)
	viper.SetDefault("TOOL_TIMEOUT", "20s")
	viper.SetDefault("USAGE_QUEUE_SIZE", 1024)
	viper.SetDefault("USAGE_RETENTION", "2160h")
	viper.SetDefault("USAGE_SHUTDOWN_TIMEOUT", "10s")
	viper.SetDefault("WINDOW_SWEEP_SCHEDULE", "@every 5m")
	viper.SetDefault("USAGE_RETENTION_SCHEDULE", "30 3 * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TOOLSVC_REDIS_URL")
	_ = viper.BindEnv("GOOGLE_CSE_ID", "GOOGLE_CSE_ID", "GOOGLE_SEARCH_ENGINE_ID")

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

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.WarehouseDatabaseURL = strings.TrimSpace(config.WarehouseDatabaseURL)
	if config.WarehouseDatabaseURL != "" && config.WarehouseDatabaseURL == config.DatabaseURL {
		log.Printf("level=warn component=config msg=\"warehouse shares the credential database; set WAREHOUSE_QUERY_ROLE to confine ad-hoc queries\"")
	}
	config.WarehouseQueryRole = strings.TrimSpace(config.WarehouseQueryRole)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "toolsvc:rate_limit"
	}
	config.AuthMode = strings.ToLower(strings.TrimSpace(config.AuthMode))
	config.CORSOrigins = splitList(config.CORSOrigins)

	if config.CredentialCacheTTL < 0 {
		log.Printf("level=warn component=config msg=\"negative credential cache ttl; disabling cache\" ttl=%s", config.CredentialCacheTTL)
		config.CredentialCacheTTL = 0
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = 20 * time.Second
	}
	if config.WarehouseTimeout <= 0 {
		config.WarehouseTimeout = 15 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	if config.UsageShutdownTimeout <= 0 {
		config.UsageShutdownTimeout = 10 * time.Second
	}
	if config.UsageQueueSize <= 0 {
		config.UsageQueueSize = 1024
	}

	for name, limit := range map[string]*int{
		"RATE_LIMIT_GLOBAL_PER_MINUTE": &config.RateLimitGlobalPerMinute,
		"RATE_LIMIT_PRO_PER_MINUTE":    &config.RateLimitProPerMinute,
		"RATE_LIMIT_TRIAL_PER_MINUTE":  &config.RateLimitTrialPerMinute,
		"RATE_LIMIT_FREE_PER_MINUTE":   &config.RateLimitFreePerMinute,
	} {
		if *limit < 0 {
			log.Printf("level=warn component=config msg=\"negative rate limit configured; disabling scope\" key=%s value=%d", name, *limit)
			*limit = 0
		}
	}

	return
}

// splitList accepts either a real list or a single comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), then normalizes the values so the rest of the service can trust them.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Fee percentages are handed to the ledger as decimals.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/omerc321/washapp-sub002/internal/ledger"
)

// Config holds all the configuration variables for the service.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	StoreDriver        string `mapstructure:"STORE_DRIVER"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	RunMigrations      bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RedisPrefix        string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	PaymentEventQueue  string `mapstructure:"PAYMENT_EVENT_QUEUE"`
	GatewayBaseURL     string `mapstructure:"GATEWAY_BASE_URL"`
	GatewayAPIKey      string `mapstructure:"GATEWAY_API_KEY"`
	GatewayTimeoutSecs int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	JWTSecret          string `mapstructure:"JWT_SECRET"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`
	LogFile      string `mapstructure:"LOG_FILE"`
	OtelExporter string `mapstructure:"OTEL_EXPORTER"`

	Currency                    string  `mapstructure:"CURRENCY"`
	VATPercent                  float64 `mapstructure:"VAT_PERCENT"`
	PayPerWashFlatFeeMinor      int64   `mapstructure:"PAY_PER_WASH_FLAT_FEE_MINOR"`
	PayPerWashFeePercent        float64 `mapstructure:"PAY_PER_WASH_FEE_PERCENT"`
	ProcessingFeeFlatMinor      int64   `mapstructure:"PROCESSING_FEE_FLAT_MINOR"`
	ProcessingFeePercent        float64 `mapstructure:"PROCESSING_FEE_PERCENT"`
	SubscriptionBlockSize       int     `mapstructure:"SUBSCRIPTION_BLOCK_SIZE"`
	SubscriptionBlockPriceMinor int64   `mapstructure:"SUBSCRIPTION_BLOCK_PRICE_MINOR"`

	ShiftStaleAfterMinutes    int    `mapstructure:"SHIFT_STALE_AFTER_MINUTES"`
	PaymentRefundAfterMinutes int    `mapstructure:"PAYMENT_REFUND_AFTER_MINUTES"`
	ShiftSweepSchedule        string `mapstructure:"SHIFT_SWEEP_SCHEDULE"`
	RefundSweepSchedule       string `mapstructure:"REFUND_SWEEP_SCHEDULE"`
	AcceptRateLimitPerMinute  int    `mapstructure:"ACCEPT_RATE_LIMIT_PER_MINUTE"`
}

var defaults = map[string]interface{}{
	"SERVER_PORT":                    "8080",
	"STORE_DRIVER":                   "postgres",
	"DB_MAX_CONNS":                   25,
	"RUN_MIGRATIONS":                 true,
	"REDIS_RATE_LIMIT_PREFIX":        "washapp:rate_limit",
	"PAYMENT_EVENT_QUEUE":            "washapp.payment_captures",
	"GATEWAY_TIMEOUT_SECONDS":        15,
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "text",
	"OTEL_EXPORTER":                  "none",
	"CURRENCY":                       "AED",
	"VAT_PERCENT":                    5.0,
	"PAY_PER_WASH_FLAT_FEE_MINOR":    200,
	"PAY_PER_WASH_FEE_PERCENT":       5.0,
	"PROCESSING_FEE_FLAT_MINOR":      100,
	"PROCESSING_FEE_PERCENT":         2.5,
	"SUBSCRIPTION_BLOCK_SIZE":        10,
	"SUBSCRIPTION_BLOCK_PRICE_MINOR": 50000,
	"SHIFT_STALE_AFTER_MINUTES":      10,
	"PAYMENT_REFUND_AFTER_MINUTES":   15,
	"SHIFT_SWEEP_SCHEDULE":           "@every 60s",
	"REFUND_SWEEP_SCHEDULE":          "@every 60s",
	"ACCEPT_RATE_LIMIT_PER_MINUTE":   30,
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	// Bind explicitly so Unmarshal sees keys that only exist in the environment.
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "GATEWAY_BASE_URL", "GATEWAY_API_KEY",
		"JWT_SECRET", "CORS_ALLOWED_ORIGINS", "LOG_FILE",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WASHAPP_INTERNAL_API_KEY")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.normalize()
	return
}

func (c *Config) normalize() {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.ServerPort = port
	}
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.StoreDriver != "memory" {
		c.StoreDriver = "postgres"
	}
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "AED"
	}
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RedisPrefix = strings.TrimSuffix(strings.TrimSpace(c.RedisPrefix), ":")
	if c.RedisPrefix == "" {
		c.RedisPrefix = "washapp:rate_limit"
	}
	if strings.TrimSpace(c.InternalAPIKey) == "" {
		c.InternalAPIKey = strings.TrimSpace(os.Getenv("WASHAPP_INTERNAL_API_KEY"))
	}

	c.VATPercent = clampPercent("VAT_PERCENT", c.VATPercent)
	c.PayPerWashFeePercent = clampPercent("PAY_PER_WASH_FEE_PERCENT", c.PayPerWashFeePercent)
	c.ProcessingFeePercent = clampPercent("PROCESSING_FEE_PERCENT", c.ProcessingFeePercent)
	c.PayPerWashFlatFeeMinor = nonNegative("PAY_PER_WASH_FLAT_FEE_MINOR", c.PayPerWashFlatFeeMinor)
	c.ProcessingFeeFlatMinor = nonNegative("PROCESSING_FEE_FLAT_MINOR", c.ProcessingFeeFlatMinor)
	c.SubscriptionBlockPriceMinor = nonNegative("SUBSCRIPTION_BLOCK_PRICE_MINOR", c.SubscriptionBlockPriceMinor)

	if c.SubscriptionBlockSize <= 0 {
		c.SubscriptionBlockSize = 10
	}
	if c.ShiftStaleAfterMinutes <= 0 {
		c.ShiftStaleAfterMinutes = 10
	}
	if c.PaymentRefundAfterMinutes <= 0 {
		c.PaymentRefundAfterMinutes = 15
	}
	if c.GatewayTimeoutSecs <= 0 {
		c.GatewayTimeoutSecs = 15
	}
	if c.DBMaxConns <= 0 {
		c.DBMaxConns = 25
	}
	if c.AcceptRateLimitPerMinute < 0 {
		c.AcceptRateLimitPerMinute = 0
	}
	if strings.TrimSpace(c.ShiftSweepSchedule) == "" {
		c.ShiftSweepSchedule = "@every 60s"
	}
	if strings.TrimSpace(c.RefundSweepSchedule) == "" {
		c.RefundSweepSchedule = "@every 60s"
	}
}

// FeeRates converts the fee settings into ledger rates.
func (c Config) FeeRates() ledger.Rates {
	return ledger.Rates{
		VATPercent:             decimal.NewFromFloat(c.VATPercent),
		PayPerWashFlatFee:      c.PayPerWashFlatFeeMinor,
		PayPerWashPercent:      decimal.NewFromFloat(c.PayPerWashFeePercent),
		ProcessingFlatFee:      c.ProcessingFeeFlatMinor,
		ProcessingPercent:      decimal.NewFromFloat(c.ProcessingFeePercent),
		SubscriptionBlockSize:  c.SubscriptionBlockSize,
		SubscriptionBlockPrice: c.SubscriptionBlockPriceMinor,
	}
}

// ShiftStaleAfter is how long an on-duty cleaner may go without a heartbeat.
func (c Config) ShiftStaleAfter() time.Duration {
	return time.Duration(c.ShiftStaleAfterMinutes) * time.Minute
}

// RefundAfter is how long a paid job waits for a cleaner before auto-refund.
func (c Config) RefundAfter() time.Duration {
	return time.Duration(c.PaymentRefundAfterMinutes) * time.Minute
}

// GatewayTimeout bounds each gateway request.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSecs) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS, defaulting to any origin.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func clampPercent(key string, v float64) float64 {
	if v < 0 {
		log.Printf("level=warn component=config msg=\"negative percent configured; coercing to zero\" key=%s value=%f", key, v)
		return 0
	}
	if v > 100 {
		log.Printf("level=warn component=config msg=\"percent too high; capping at 100\" key=%s value=%f", key, v)
		return 100
	}
	return v
}

func nonNegative(key string, v int64) int64 {
	if v < 0 {
		log.Printf("level=warn component=config msg=\"negative amount configured; coercing to zero\" key=%s value=%d", key, v)
		return 0
	}
	return v
}

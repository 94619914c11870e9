package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range []string{"PORT", "SERVER_PORT", "VAT_PERCENT", "STORE_DRIVER", "PAYMENT_REFUND_AFTER_MINUTES", "SHIFT_STALE_AFTER_MINUTES"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if cfg.RefundAfter() != 15*time.Minute || cfg.ShiftStaleAfter() != 10*time.Minute {
		t.Fatalf("unexpected thresholds: refund=%s stale=%s", cfg.RefundAfter(), cfg.ShiftStaleAfter())
	}

	rates := cfg.FeeRates()
	if !rates.VATPercent.Equal(rates.PayPerWashPercent) || rates.VATPercent.String() != "5" {
		t.Fatalf("expected 5%% VAT and platform percent, got %s / %s", rates.VATPercent, rates.PayPerWashPercent)
	}
	if rates.PayPerWashFlatFee != 200 || rates.SubscriptionBlockSize != 10 || rates.SubscriptionBlockPrice != 50000 {
		t.Fatalf("unexpected default rates: %+v", rates)
	}
}

func TestLoadConfig_ClampsPercentsAndAmounts(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setEnvWithCleanup(t, "VAT_PERCENT", "150")
	setEnvWithCleanup(t, "PAY_PER_WASH_FEE_PERCENT", "-3")
	setEnvWithCleanup(t, "PAY_PER_WASH_FLAT_FEE_MINOR", "-200")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.VATPercent != 100 {
		t.Fatalf("expected VAT capped at 100, got %f", cfg.VATPercent)
	}
	if cfg.PayPerWashFeePercent != 0 || cfg.PayPerWashFlatFeeMinor != 0 {
		t.Fatalf("expected negatives coerced to zero, got %f / %d", cfg.PayPerWashFeePercent, cfg.PayPerWashFlatFeeMinor)
	}
}

func TestLoadConfig_PortAndAliases(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setEnvWithCleanup(t, "PORT", "9090")
	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "WASHAPP_INTERNAL_API_KEY", "alias-key")
	setEnvWithCleanup(t, "STORE_DRIVER", " Memory ")
	setEnvWithCleanup(t, "REDIS_RATE_LIMIT_PREFIX", "wash:")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to override, got %q", cfg.ServerPort)
	}
	if cfg.InternalAPIKey != "alias-key" {
		t.Fatalf("expected alias internal key, got %q", cfg.InternalAPIKey)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if cfg.RedisPrefix != "wash" {
		t.Fatalf("expected trailing colon trimmed, got %q", cfg.RedisPrefix)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	unsetEnvWithCleanup(t, "CURRENCY")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CURRENCY=sar\nCORS_ALLOWED_ORIGINS=https://a.example, https://b.example\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	unsetEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Currency != "SAR" {
		t.Fatalf("expected currency from .env upper-cased, got %q", cfg.Currency)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}

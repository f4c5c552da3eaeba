package config

import (
	"reflect"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/qrfare")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("SAPTCO_USERNAME", "svc")
	t.Setenv("SAPTCO_PASSWORD", "pw")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BASE_URL", "https://fares.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Payment.SuccessCodes, DefaultSuccessCodes) {
		t.Fatalf("success codes = %v", cfg.Payment.SuccessCodes)
	}
	if cfg.Payment.SettleDelay != 3*time.Second || cfg.Payment.ConfirmPollAttempts != 1 {
		t.Fatalf("unexpected confirm defaults: %+v", cfg.Payment)
	}
	if cfg.Payment.SuccessURL != "https://fares.example.com/qr-payment/success" {
		t.Fatalf("success url = %q", cfg.Payment.SuccessURL)
	}
	if cfg.Payment.FailURL != "https://fares.example.com/qr-payment/fail" {
		t.Fatalf("fail url = %q", cfg.Payment.FailURL)
	}
	if cfg.Backend.QRFormat != "V8" || cfg.QR.Size != 256 {
		t.Fatalf("unexpected backend/qr defaults: %+v %+v", cfg.Backend, cfg.QR)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("default env should be development")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("PAYMENT_SUCCESS_CODES", " 000.000.000 , ,000.200.000")
	t.Setenv("PAYMENT_SETTLE_DELAY", "0s")
	t.Setenv("PAYMENT_CONFIRM_POLL_ATTEMPTS", "4")
	t.Setenv("PAYMENT_SUCCESS_URL", "https://app.example/ok")
	t.Setenv("SAPTCO_RATE_LIMIT_RPS", "2.5")
	t.Setenv("QR_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := []string{"000.000.000", "000.200.000"}; !reflect.DeepEqual(cfg.Payment.SuccessCodes, want) {
		t.Fatalf("success codes = %v, want %v", cfg.Payment.SuccessCodes, want)
	}
	if cfg.Payment.SettleDelay != 0 || cfg.Payment.ConfirmPollAttempts != 4 {
		t.Fatalf("unexpected payment config: %+v", cfg.Payment)
	}
	if cfg.Payment.SuccessURL != "https://app.example/ok" {
		t.Fatalf("success url = %q", cfg.Payment.SuccessURL)
	}
	if cfg.Backend.RateLimitRPS != 2.5 {
		t.Fatalf("rate = %v", cfg.Backend.RateLimitRPS)
	}
	if cfg.QR.Size != 256 {
		t.Fatalf("invalid QR_SIZE should fall back, got %d", cfg.QR.Size)
	}
	if cfg.IsDevelopment() {
		t.Fatalf("production must not be development")
	}
}

func TestLoadRequired(t *testing.T) {
	cases := []struct {
		name  string
		unset string
		extra map[string]string
	}{
		{name: "database", unset: "DATABASE_URL"},
		{name: "secret", unset: "SESSION_SECRET"},
		{name: "backend_password", unset: "SAPTCO_PASSWORD"},
		{name: "empty_codes", extra: map[string]string{"PAYMENT_SUCCESS_CODES": " , "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			if tc.unset != "" {
				t.Setenv(tc.unset, "")
			}
			for k, v := range tc.extra {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadWithDatabaseDisabled(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_DISABLED", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DBDisabled {
		t.Fatalf("expected DBDisabled")
	}
}

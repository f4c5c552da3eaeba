package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default OPPWA result codes that mean the 3-D Secure payment went through
// (or is pending on the issuer side) and must be confirmed with the backend.
var DefaultSuccessCodes = []string{"000.000.000", "000.100.110", "000.100.112"}

type Config struct {
	Env           string
	HTTPAddr      string
	DatabaseURL   string
	DBDisabled    bool
	SessionSecret string
	BaseURL       string
	Backend       BackendConfig
	Gateway       GatewayConfig
	Payment       PaymentConfig
	QR            QRConfig
	S3            S3Config
	Worker        WorkerConfig
	Logging       LoggingConfig
}

// BackendConfig describes the ticketing backend that owns fares and issues QR tokens.
type BackendConfig struct {
	BaseURL        string
	Username       string
	Password       string
	QRFormat       string
	DefaultFareID  string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateBurst      int
}

// GatewayConfig describes the hosted payment page provider used for verification.
type GatewayConfig struct {
	Host           string
	EntityID       string
	AccessToken    string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateBurst      int
}

type PaymentConfig struct {
	SuccessURL          string
	FailURL             string
	SuccessCodes        []string
	SettleDelay         time.Duration
	ConfirmPollAttempts int
	ConfirmPollBackoff  time.Duration
}

type QRConfig struct {
	Size  int
	Level string
}

type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
}

// WorkerConfig drives the reconciler for sessions whose callback never arrived.
type WorkerConfig struct {
	ReconcileAfter time.Duration
	PollInterval   time.Duration
	BatchSize      int
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:           getenv("APP_ENV", "dev"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBDisabled:    getenvBool("DB_DISABLED", false),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		BaseURL:       strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),
		Backend: BackendConfig{
			BaseURL:        getenv("SAPTCO_BASE_URL", "https://fcpuat.saptco.com.sa"),
			Username:       os.Getenv("SAPTCO_USERNAME"),
			Password:       os.Getenv("SAPTCO_PASSWORD"),
			QRFormat:       getenv("SAPTCO_QR_FORMAT", "V8"),
			DefaultFareID:  os.Getenv("SAPTCO_DEFAULT_FARE_ID"),
			RequestTimeout: getenvDuration("SAPTCO_REQUEST_TIMEOUT", 15*time.Second),
			RateLimitRPS:   getenvFloat("SAPTCO_RATE_LIMIT_RPS", 5),
			RateBurst:      getenvInt("SAPTCO_RATE_BURST", 5),
		},
		Gateway: GatewayConfig{
			Host:           getenv("OPPWA_HOST", "https://test.oppwa.com"),
			EntityID:       os.Getenv("OPPWA_ENTITY_ID"),
			AccessToken:    os.Getenv("OPPWA_ACCESS_TOKEN"),
			RequestTimeout: getenvDuration("OPPWA_REQUEST_TIMEOUT", 15*time.Second),
			RateLimitRPS:   getenvFloat("OPPWA_RATE_LIMIT_RPS", 5),
			RateBurst:      getenvInt("OPPWA_RATE_BURST", 5),
		},
		Payment: PaymentConfig{
			SuccessURL:          os.Getenv("PAYMENT_SUCCESS_URL"),
			FailURL:             os.Getenv("PAYMENT_FAIL_URL"),
			SuccessCodes:        parseList(getenv("PAYMENT_SUCCESS_CODES", strings.Join(DefaultSuccessCodes, ","))),
			SettleDelay:         getenvDuration("PAYMENT_SETTLE_DELAY", 3*time.Second),
			ConfirmPollAttempts: getenvInt("PAYMENT_CONFIRM_POLL_ATTEMPTS", 1),
			ConfirmPollBackoff:  getenvDuration("PAYMENT_CONFIRM_POLL_BACKOFF", time.Second),
		},
		QR: QRConfig{
			Size:  getenvInt("QR_SIZE", 256),
			Level: getenv("QR_LEVEL", "medium"),
		},
		S3: S3Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getenv("S3_REGION", "us-east-1"),
			UseSSL:         getenvBool("S3_USE_SSL", true),
		},
		Worker: WorkerConfig{
			ReconcileAfter: getenvDuration("PAYMENT_RECONCILE_AFTER", 30*time.Minute),
			PollInterval:   getenvDuration("WORKER_POLL_INTERVAL", time.Minute),
			BatchSize:      getenvInt("WORKER_BATCH_SIZE", 50),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
	}
	if cfg.Payment.SuccessURL == "" {
		cfg.Payment.SuccessURL = cfg.BaseURL + "/qr-payment/success"
	}
	if cfg.Payment.FailURL == "" {
		cfg.Payment.FailURL = cfg.BaseURL + "/qr-payment/fail"
	}

	if cfg.DatabaseURL == "" && !cfg.DBDisabled {
		return nil, fmt.Errorf("DATABASE_URL is required (or set DB_DISABLED=true)")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.Backend.Username == "" || cfg.Backend.Password == "" {
		return nil, fmt.Errorf("SAPTCO_USERNAME and SAPTCO_PASSWORD are required")
	}
	if len(cfg.Payment.SuccessCodes) == 0 {
		return nil, fmt.Errorf("PAYMENT_SUCCESS_CODES must not be empty")
	}

	return cfg, nil
}

// IsDevelopment reports whether detailed upstream diagnostics may be shown to callers.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func parseList(val string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

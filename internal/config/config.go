package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultMaxUploadBytes is the largest statement accepted (2 MiB).
const DefaultMaxUploadBytes = 2 * 1024 * 1024

// DefaultMaxRequestBytes caps a whole request body. It sits well above the
// file limit so oversized statements are still read and answered with the
// "too large" message instead of a dropped connection.
const DefaultMaxRequestBytes = 64 * 1024 * 1024

// Config holds application configuration.
type Config struct {
	ListenAddr      string
	AnalysisURL     string
	AnalysisTimeout time.Duration
	MaxUploadBytes  int64
	MaxRequestBytes int64
	CurrencySymbol  string
	SessionTTL      time.Duration
	UploadRate      float64
	UploadBurst     int
	LogLevel        string
	LogFormat       string
}

// Load reads a .env file if one exists, then builds the configuration
// from environment variables.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return NewConfig()
}

// NewConfig builds the configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		AnalysisURL:    getEnv("ANALYSIS_URL", "http://localhost:8000/api/accounts/upload/"),
		CurrencySymbol: getEnv("CURRENCY_SYMBOL", "$"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.AnalysisTimeout, err = getEnvDuration("ANALYSIS_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes); err != nil {
		return nil, err
	}
	if cfg.MaxRequestBytes, err = getEnvInt64("MAX_REQUEST_BYTES", DefaultMaxRequestBytes); err != nil {
		return nil, err
	}
	if cfg.UploadRate, err = getEnvFloat("UPLOAD_RATE_PER_SEC", 2); err != nil {
		return nil, err
	}
	burst, err := getEnvInt64("UPLOAD_RATE_BURST", 5)
	if err != nil {
		return nil, err
	}
	cfg.UploadBurst = int(burst)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.AnalysisURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ANALYSIS_URL must be an absolute http(s) URL, got %q", c.AnalysisURL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.MaxRequestBytes <= c.MaxUploadBytes {
		return fmt.Errorf("MAX_REQUEST_BYTES must be larger than MAX_UPLOAD_BYTES")
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.UploadRate <= 0 || c.UploadBurst <= 0 {
		return fmt.Errorf("UPLOAD_RATE_PER_SEC and UPLOAD_RATE_BURST must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

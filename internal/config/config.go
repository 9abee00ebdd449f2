/**
 * Configuration for the invoice OCR worker
 *
 * Loads configuration from environment variables matching .env.ocrworker
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (job queue + progress events)
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Gemini AI extractor
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	// Tesseract configuration
	OCRLanguages  string // e.g. "tur+eng"
	CharWhitelist string // restricted recognition character set

	// Image preprocessing tunables
	MinDimension     int     // upscale target when both dimensions are below this
	MaxDimension     int     // downscale target when either dimension exceeds this
	ContrastFactor   float64 // per-channel multiplier, ~1.5-2.0
	BrightnessOffset float64 // per-channel additive offset, ~15-25
	BinarizeThreshold float64 // luminance cutoff for the binarization blend
	BinarizeMix       float64 // blend weight of the binarized value, 0-1

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds

	// Invoice categories offered to the vision extractor
	Categories []string
}

// DefaultCharWhitelist restricts Tesseract output to what a Turkish receipt can
// plausibly contain: digits, Turkish and Latin letters, punctuation and the
// currency symbols the amount patterns understand.
const DefaultCharWhitelist = "0123456789" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" +
	"ÇĞİÖŞÜçğıöşü" +
	" .,:;/-*#%()" +
	"₺$€£"

var defaultCategories = []string{
	"Yemek", "Ulaşım", "Faturalar", "Alışveriş", "Eğlence",
	"Sağlık", "Eğitim", "Kira", "Diğer",
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:     getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		OCRLanguages:      getEnvOrDefault("OCR_LANGUAGES", "tur+eng"),
		CharWhitelist:     getEnvOrDefault("OCR_CHAR_WHITELIST", DefaultCharWhitelist),
		MinDimension:      getEnvAsIntOrDefault("PREPROCESS_MIN_DIMENSION", 1200),
		MaxDimension:      getEnvAsIntOrDefault("PREPROCESS_MAX_DIMENSION", 3000),
		ContrastFactor:    getEnvAsFloatOrDefault("PREPROCESS_CONTRAST", 1.7),
		BrightnessOffset:  getEnvAsFloatOrDefault("PREPROCESS_BRIGHTNESS", 20),
		BinarizeThreshold: getEnvAsFloatOrDefault("PREPROCESS_BINARIZE_THRESHOLD", 135),
		BinarizeMix:       getEnvAsFloatOrDefault("PREPROCESS_BINARIZE_MIX", 0.4),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		Categories:        defaultCategories,
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 64 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 64, got %d", c.WorkerConcurrency)
	}

	if c.MinDimension <= 0 || c.MaxDimension <= 0 || c.MinDimension > c.MaxDimension {
		return fmt.Errorf("invalid preprocess dimensions: min=%d max=%d", c.MinDimension, c.MaxDimension)
	}

	if c.ContrastFactor < 1.0 || c.ContrastFactor > 3.0 {
		return fmt.Errorf("PREPROCESS_CONTRAST must be between 1.0 and 3.0, got %g", c.ContrastFactor)
	}

	if c.BinarizeMix < 0 || c.BinarizeMix > 1 {
		return fmt.Errorf("PREPROCESS_BINARIZE_MIX must be between 0 and 1, got %g", c.BinarizeMix)
	}

	return nil
}

// AIEnabled reports whether the AI extractor can be used at all.
func (c *Config) AIEnabled() bool {
	return c.GeminiAPIKey != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

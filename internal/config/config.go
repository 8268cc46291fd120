package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Quality API
	SonarToken      string
	SonarAPIURL     string
	SonarMinVersion string

	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	// Client behavior
	RateLimitInterval time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	CacheTTL          time.Duration

	// Scheduling policy
	FailureThreshold      int
	DefaultUpdateInterval int // seconds
	DailyReportHour       int // UTC
	WeeklyReportDay       time.Weekday
	WeeklyReportHour      int // UTC
	AlertSweepInterval    time.Duration
	ReportRetryDelay      time.Duration
	ReportRetryMax        int

	// Alerting
	AlertThresholds map[string]float64 // percent change per metric, sign-aware
	ScoreWeights    ScoreWeights

	// Logging
	LogLevel  string
	LogFormat string
}

// ScoreWeights parameterize the quality score composite
type ScoreWeights struct {
	Coverage        float64
	Bugs            float64
	Vulnerabilities float64
	CodeSmells      float64
	Duplication     float64
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		SonarToken:      getEnv("SONAR_TOKEN", ""),
		SonarAPIURL:     getEnv("SONAR_API_URL", "https://sonarcloud.io/api"),
		SonarMinVersion: getEnv("SONAR_MIN_VERSION", "8.0"),

		StorageType: getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./sonarboard.db"),
		PostgresURL: getEnv("POSTGRES_URL", ""),

		APIPort:     getEnv("API_PORT", "8080"),
		APIHost:     getEnv("API_HOST", "localhost"),
		APIEndpoint: getEnv("API_ENDPOINT", "http://localhost:8080"),

		SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		RateLimitInterval: time.Duration(getEnvInt("REFRESH_RATE_LIMIT_MS", 100)) * time.Millisecond,
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:    time.Duration(getEnvInt("RETRY_BASE_DELAY_S", 2)) * time.Second,
		CacheTTL:          time.Duration(getEnvInt("CLIENT_CACHE_TTL_S", 60)) * time.Second,

		FailureThreshold:      getEnvInt("FAILURE_THRESHOLD", 3),
		DefaultUpdateInterval: getEnvInt("DEFAULT_UPDATE_INTERVAL_S", 3600),
		DailyReportHour:       getEnvInt("DAILY_REPORT_HOUR", 6),
		WeeklyReportDay:       time.Weekday(getEnvInt("WEEKLY_REPORT_DAY", 1)),
		WeeklyReportHour:      getEnvInt("WEEKLY_REPORT_HOUR", 7),
		AlertSweepInterval:    time.Duration(getEnvInt("ALERT_SWEEP_HOURS", 4)) * time.Hour,
		ReportRetryDelay:      time.Duration(getEnvInt("REPORT_RETRY_DELAY_S", 1800)) * time.Second,
		ReportRetryMax:        getEnvInt("REPORT_RETRY_MAX_ATTEMPTS", 3),

		AlertThresholds: map[string]float64{
			"bugs":                     20,
			"vulnerabilities":          20,
			"code_smells":              25,
			"coverage":                 -10,
			"duplicated_lines_density": 30,
		},
		ScoreWeights: ScoreWeights{
			Coverage:        2.0,
			Bugs:            -2.0,
			Vulnerabilities: -3.0,
			CodeSmells:      -1.0,
			Duplication:     -1.0,
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// Validate validates the configuration. Missing credentials are fatal to the
// scheduling subsystem, so they are rejected here rather than at first use.
func (c *Config) Validate() error {
	if c.SonarToken == "" {
		return &ConfigError{Field: "SONAR_TOKEN", Message: "quality API token is required"}
	}
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.MaxRetries < 1 {
		return &ConfigError{Field: "MAX_RETRIES", Message: "must be at least 1"}
	}
	if c.FailureThreshold < 1 {
		return &ConfigError{Field: "FAILURE_THRESHOLD", Message: "must be at least 1"}
	}
	if c.DailyReportHour < 0 || c.DailyReportHour > 23 {
		return &ConfigError{Field: "DAILY_REPORT_HOUR", Message: "must be between 0 and 23"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	ServerPort     string
	DatabaseType   string
	DatabasePath   string
	DatabaseURL    string
	MigrationsPath string
	Debug          bool

	// Pairing credentials
	PairingCodeTTL    time.Duration
	QRSigningSecret   string
	MaxFailedAttempts int
	LockoutDuration   time.Duration

	// Approval workflow
	ApprovalExpiry          time.Duration
	AutoApproveFollowScore  int
	AutoApproveContentScore int

	// Transition sweeps
	SweepInterval time.Duration

	// Parent notifications (SES)
	AWSRegion    string
	SESFromEmail string
	SESFromName  string
	AppBaseURL   string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		ServerPort:     getEnv("PORT", "8080"),
		DatabaseType:   getEnv("DB_TYPE", "sqlite"),
		DatabasePath:   getEnv("DB_PATH", "./fledge.db"),
		DatabaseURL:    getEnv("DB_URL", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
		Debug:          getEnvBool("DEBUG", false),

		PairingCodeTTL:    getEnvDuration("PAIRING_CODE_TTL", 15*time.Minute),
		QRSigningSecret:   getEnv("QR_SIGNING_SECRET", ""),
		MaxFailedAttempts: getEnvInt("PAIRING_MAX_FAILED_ATTEMPTS", 5),
		LockoutDuration:   getEnvDuration("PAIRING_LOCKOUT_DURATION", 30*time.Minute),

		ApprovalExpiry:          getEnvDuration("APPROVAL_EXPIRY", 72*time.Hour),
		AutoApproveFollowScore:  getEnvInt("AUTO_APPROVE_FOLLOW_SCORE", 60),
		AutoApproveContentScore: getEnvInt("AUTO_APPROVE_CONTENT_SCORE", 75),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),

		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "Fledge"),
		AppBaseURL:   getEnv("APP_BASE_URL", "http://localhost:8080"),
	}
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt reads an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool reads a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration reads a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

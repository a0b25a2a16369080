package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the bridge orchestrator service
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// EVM Chain Configuration
	EVMRPCURL            string
	EVMChainID           int64
	EVMBridgeContract    string
	EVMConfirmationDepth int64
	EVMPrivateKeyPath    string

	// NEAR-family Chain Configuration
	NearRPCURL            string
	NearNetworkID         string
	NearBridgeAccountID    string
	NearConfirmationDepth int64
	NearSignerKeyPath      string

	// Database Configuration (URL-based)
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool

	// Quantum Crypto Configuration
	WrappingKeySource string // env var name or file path holding the process wrapping key
	KDFContextSalt    string

	// Price/Quote Engine Configuration
	PriceProviders       []string      // "name=url=weight" triples
	PriceProviderTimeout time.Duration
	PriceStalenessWindow time.Duration
	QuoteLifetime        time.Duration

	// Risk Gate Configuration
	RiskScorerURL        string
	RiskScorerTimeout    time.Duration
	RiskAllowThreshold   float64
	RiskReviewThreshold  float64
	RiskBlockThreshold   float64
	RiskAdminOverrideCap float64
	RiskQuorumN          int

	// Supervisor Configuration
	DeadlineSubmitSource   time.Duration
	DeadlineSourceConfirm  time.Duration
	DeadlineSubmitDest     time.Duration
	DeadlineDestConfirm    time.Duration
	DeadlineReview         time.Duration
	ClockSkewTolerance     time.Duration
	SupervisorSweepPeriod  time.Duration

	// Event Bus Configuration
	EventBusSubscriberBuffer int

	// Service Configuration
	ServiceID string
	LogLevel  string

	// Security Configuration
	WrappingKeySecret string // resolved secret value, validated for strength

	// Audit mirror (optional, best-effort)
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string
}

// Load reads configuration from environment variables.
//
// SECURITY: Required variables have no defaults and must be explicitly set.
// Call Validate() after Load() to ensure all required configuration is present.
func Load() (*Config, error) {
	cfg := &Config{
		// Server Configuration
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		// EVM Chain Configuration - REQUIRED, no defaults for production security
		EVMRPCURL:            getEnv("EVM_RPC_URL", ""),
		EVMChainID:           getEnvInt64("EVM_CHAIN_ID", 11155111), // Sepolia
		EVMBridgeContract:    getEnv("EVM_BRIDGE_CONTRACT", ""),
		EVMConfirmationDepth: getEnvInt64("EVM_CONFIRMATION_DEPTH", 12),
		EVMPrivateKeyPath:    getEnv("EVM_PRIVATE_KEY_PATH", ""),

		// NEAR-family Chain Configuration - REQUIRED, no defaults for production security
		NearRPCURL:            getEnv("NEAR_RPC_URL", ""),
		NearNetworkID:         getEnv("NEAR_NETWORK_ID", "testnet"),
		NearBridgeAccountID:    getEnv("NEAR_BRIDGE_ACCOUNT_ID", ""),
		NearConfirmationDepth: getEnvInt64("NEAR_CONFIRMATION_DEPTH", 3),
		NearSignerKeyPath:      getEnv("NEAR_SIGNER_KEY_PATH", ""),

		// Database Configuration - REQUIRED, no default for security
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", true),

		// Quantum Crypto Configuration
		WrappingKeySource: getEnv("WRAPPING_KEY_SOURCE", "WRAPPING_KEY_SECRET"),
		KDFContextSalt:    getEnv("KDF_CONTEXT_SALT", "bridge.v1"),

		// Price/Quote Engine Configuration
		PriceProviders:       parseCommaList(getEnv("PRICE_PROVIDERS", "")),
		PriceProviderTimeout: getEnvDuration("PRICE_PROVIDER_TIMEOUT", 800*time.Millisecond),
		PriceStalenessWindow: getEnvDuration("PRICE_STALENESS_WINDOW", 60*time.Second),
		QuoteLifetime:        getEnvDuration("QUOTE_LIFETIME", 30*time.Second),

		// Risk Gate Configuration
		RiskScorerURL:        getEnv("RISK_SCORER_URL", ""),
		RiskScorerTimeout:    getEnvDuration("RISK_SCORER_TIMEOUT", 2*time.Second),
		RiskAllowThreshold:   getEnvFloat("RISK_ALLOW_THRESHOLD", 0.30),
		RiskReviewThreshold:  getEnvFloat("RISK_REVIEW_THRESHOLD", 0.60),
		RiskBlockThreshold:   getEnvFloat("RISK_BLOCK_THRESHOLD", 0.80),
		RiskAdminOverrideCap: getEnvFloat("RISK_ADMIN_OVERRIDE_CAP", 0.90),
		RiskQuorumN:          getEnvInt("RISK_QUORUM_N", 3),

		// Supervisor Configuration
		DeadlineSubmitSource:  getEnvDuration("DEADLINE_SUBMIT_SOURCE", 120*time.Second),
		DeadlineSourceConfirm: getEnvDuration("DEADLINE_SOURCE_CONFIRM", 900*time.Second),
		DeadlineSubmitDest:    getEnvDuration("DEADLINE_SUBMIT_DEST", 120*time.Second),
		DeadlineDestConfirm:   getEnvDuration("DEADLINE_DEST_CONFIRM", 900*time.Second),
		DeadlineReview:        getEnvDuration("DEADLINE_REVIEW", 24*time.Hour),
		ClockSkewTolerance:    getEnvDuration("CLOCK_SKEW_TOLERANCE", 30*time.Second),
		SupervisorSweepPeriod: getEnvDuration("SUPERVISOR_SWEEP_PERIOD", 15*time.Second),

		// Event Bus Configuration
		EventBusSubscriberBuffer: getEnvInt("EVENT_BUS_SUBSCRIBER_BUFFER", 256),

		// Service Configuration
		ServiceID: getEnv("SERVICE_ID", "bridge-default"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		// Audit mirror (optional, best-effort)
		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
	}

	cfg.WrappingKeySecret = os.Getenv(cfg.WrappingKeySource)

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	if c.EVMRPCURL == "" {
		errs = append(errs, "EVM_RPC_URL is required but not set")
	}
	if c.NearRPCURL == "" {
		errs = append(errs, "NEAR_RPC_URL is required but not set")
	}
	if c.RiskScorerURL == "" {
		errs = append(errs, "RISK_SCORER_URL is required but not set")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	} else {
		if strings.Contains(c.DatabaseURL, "sslmode=disable") {
			errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
		}
	}

	if c.WrappingKeySecret == "" {
		errs = append(errs, fmt.Sprintf("%s is required but not set", c.WrappingKeySource))
	} else {
		weakSecrets := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lower := strings.ToLower(c.WrappingKeySecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lower, weak) {
				errs = append(errs, "wrapping key secret contains weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.WrappingKeySecret) < 32 {
			errs = append(errs, "wrapping key secret must be at least 32 bytes for security")
		}
	}

	if c.RiskAllowThreshold >= c.RiskReviewThreshold || c.RiskReviewThreshold >= c.RiskBlockThreshold {
		errs = append(errs, "risk thresholds must satisfy allow < review < block")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local development.
// WARNING: Do not use this in production - use Validate() instead.
func (c *Config) ValidateForDevelopment() error {
	var errs []string

	if c.EVMRPCURL == "" {
		errs = append(errs, "EVM_RPC_URL is required")
	}
	if c.NearRPCURL == "" {
		errs = append(errs, "NEAR_RPC_URL is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("development configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseCommaList parses a comma-separated list, trimming whitespace and
// dropping empty elements.
func parseCommaList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

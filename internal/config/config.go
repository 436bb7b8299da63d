package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"saldo/internal/core"
)

// Backend names accepted by DATA_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type Config struct {
	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP, optional: an empty URL disables event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets ledger mirror, optional
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Engine
	ConflictRetries  int
	CreditLimit      string
	NetWorthCacheTTL time.Duration

	// Workers
	ReconcileInterval    time.Duration
	ReconcileConcurrency int
	RecurringInterval    time.Duration

	LogLevel string
}

func Load() *Config {
	return &Config{
		DataBackend:  getEnv("DATA_BACKEND", BackendSQLite),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/saldo.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "saldo"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Ledger"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		ConflictRetries:  getEnvInt("CONFLICT_RETRIES", 5),
		CreditLimit:      getEnv("CREDIT_LIMIT", "5000.00"),
		NetWorthCacheTTL: getEnvDuration("NET_WORTH_CACHE_TTL", 30*time.Second),

		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", time.Hour),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
		RecurringInterval:    getEnvDuration("RECURRING_INTERVAL", time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// CreditLimitAmount parses CreditLimit as a positive decimal amount.
func (c *Config) CreditLimitAmount() (core.Money, error) {
	m, err := core.ParseMoney(c.CreditLimit)
	if err != nil {
		return core.Money{}, err
	}
	if !m.IsPositive() {
		return core.Money{}, fmt.Errorf("credit limit must be positive")
	}
	return m, nil
}

// SheetsEnabled reports whether a spreadsheet mirror is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// AMQPEnabled reports whether an AMQP broker is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns every problem in one error
func (c *Config) Validate() error {
	var errors []string

	switch c.DataBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [%s %s]", c.DataBackend, BackendMemory, BackendSQLite))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet is configured")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if _, err := c.CreditLimitAmount(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid credit limit '%s': %v", c.CreditLimit, err))
	}

	if c.ConflictRetries < 1 || c.ConflictRetries > 100 {
		errors = append(errors, fmt.Sprintf("invalid conflict retries %d: must be between 1 and 100", c.ConflictRetries))
	}
	if c.NetWorthCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid net worth cache TTL %v: must not be negative", c.NetWorthCacheTTL))
	}

	if c.ReconcileConcurrency < 1 || c.ReconcileConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid reconcile concurrency %d: must be between 1 and 64", c.ReconcileConcurrency))
	}
	errors = append(errors, checkInterval("reconcile", c.ReconcileInterval)...)
	errors = append(errors, checkInterval("recurring", c.RecurringInterval)...)

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func checkInterval(name string, d time.Duration) []string {
	if d < time.Second {
		return []string{fmt.Sprintf("invalid %s interval %v: must be at least 1 second", name, d)}
	}
	if d > 24*time.Hour {
		return []string{fmt.Sprintf("invalid %s interval %v: must be at most 24 hours", name, d)}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"cargostat/internal/log"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

var validBackends = []string{BackendMemory, BackendSQLite}

type Config struct {
	// HTTP Server
	Port                   string
	CORSOrigin             string
	WriteRequestsPerMinute int

	// Backend selection
	DataBackend  string
	SQLiteDBPath string

	// AMQP; an empty URL disables change messages.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Backup worker
	BackupDir      string
	BackupInterval time.Duration
	BackupKeep     int

	// Google Sheets export; an empty spreadsheet id disables the sink.
	GoogleSpreadsheetID string
	GoogleSheetName     string

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:                   getEnv("PORT", "8081"),
		CORSOrigin:             getEnv("CORS_ORIGIN", ""),
		WriteRequestsPerMinute: getEnvInt("WRITE_RATE_LIMIT", 60),

		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/cargostat.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "cargostat"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "cargostat_backup"),

		BackupDir:      getEnv("BACKUP_DIR", "./data/backups"),
		BackupInterval: getEnvDuration("BACKUP_INTERVAL", time.Hour),
		BackupKeep:     getEnvInt("BACKUP_KEEP", 24),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Cargo"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.WriteRequestsPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid write rate limit %d: must be at least 1", c.WriteRequestsPerMinute))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := ensureDir(filepath.Dir(c.SQLiteDBPath)); msg != "" {
			errors = append(errors, "cannot create SQLite database directory "+msg)
		}
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

	if c.BackupDir == "" {
		errors = append(errors, "backup directory cannot be empty")
	}
	if c.BackupInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid backup interval %v: must be at least 1 minute", c.BackupInterval))
	} else if c.BackupInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid backup interval %v: must be at most 7 days", c.BackupInterval))
	}
	if c.BackupKeep < 0 {
		errors = append(errors, fmt.Sprintf("invalid backup keep %d: must not be negative", c.BackupKeep))
	}

	if c.GoogleSpreadsheetID != "" && strings.TrimSpace(c.GoogleSheetName) == "" {
		errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// UseSQLite reports whether the stores persist to SQLite.
func (c *Config) UseSQLite() bool { return c.DataBackend == BackendSQLite }

func ensureDir(dir string) string {
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Sprintf("'%s': %v", dir, err)
		}
	}
	return ""
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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	DatabaseURL       string
	JWTSecret         string
	TokenTTL          time.Duration
	AdminUsername     string
	AdminPasswordHash string

	DefaultExchange    string
	BroadcastInterval  time.Duration
	BroadcastTimeframe string
	BroadcastAutostart bool
	MaxWSClients       int

	ExchangesFile string
	Exchanges     map[string]ExchangeCredentials

	RedisURL         string
	MongoURI         string
	MongoDatabase    string
	ArchivePath      string
	ArchiveRetention time.Duration

	TracingEnabled bool
}

// LoadConfig loads environment variables and the optional exchanges file.
// The returned config is usable even when an error is reported.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL:       getEnv("DATABASE_URL", "sqlite://tradingroad.db"),
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		TokenTTL:          getDuration("JWT_TTL", 24*time.Hour),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		DefaultExchange:    strings.ToLower(getEnv("DEFAULT_EXCHANGE", "binance")),
		BroadcastInterval:  getDuration("BROADCAST_INTERVAL", 5*time.Second),
		BroadcastTimeframe: getEnv("BROADCAST_TIMEFRAME", "1m"),
		BroadcastAutostart: getBool("BROADCAST_AUTOSTART", true),
		MaxWSClients:       getInt("MAX_WS_CLIENTS", 100),

		ExchangesFile: getEnv("EXCHANGES_FILE", ""),

		RedisURL:         getEnv("REDIS_URL", ""),
		MongoURI:         getEnv("MONGODB_URI", ""),
		MongoDatabase:    getEnv("MONGODB_DATABASE", "tradingroad"),
		ArchivePath:      getEnv("ARCHIVE_PATH", "data/candles.db"),
		ArchiveRetention: getDuration("ARCHIVE_RETENTION", 30*24*time.Hour),

		TracingEnabled: getBool("TRACING_ENABLED", false),
	}

	var fileErr error
	cfg.Exchanges = map[string]ExchangeCredentials{}
	if cfg.ExchangesFile != "" {
		file, err := LoadExchangesFile(cfg.ExchangesFile)
		if err != nil {
			fileErr = fmt.Errorf("exchanges file: %w", err)
		} else {
			cfg.Exchanges = file.Credentials
			if file.DefaultExchange != "" && os.Getenv("DEFAULT_EXCHANGE") == "" {
				cfg.DefaultExchange = file.DefaultExchange
			}
		}
	}
	ApplyEnvCredentials(cfg.Exchanges, os.Environ())

	return cfg, fileErr
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// InitDB opens the relational database named by DatabaseURL.
// postgres:// and postgresql:// URLs use Postgres, anything else SQLite.
func InitDB(cfg *Config) (*gorm.DB, error) {
	dialector, desc := dialectorFor(cfg.DatabaseURL)
	log.WithField("database", desc).Info("Connecting to database")

	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Error
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("Database connection verified successfully")
	return db, nil
}

func dialectorFor(url string) (gorm.Dialector, string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), "postgres " + maskHost(url)
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		return sqlite.Open(path), "sqlite " + path
	default:
		return sqlite.Open(url), "sqlite " + url
	}
}

// maskHost masks credentials and host for logging, preserving the scheme
func maskHost(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return "***"
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	if len(rest) <= 6 {
		return scheme + "://***"
	}
	return scheme + "://" + rest[:3] + "***"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getDuration accepts Go durations ("5s") or plain seconds ("5")
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	log.WithField("key", key).Warnf("invalid duration %q, using %s", value, defaultValue)
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.WithField("key", key).Warnf("invalid integer %q, using %d", value, defaultValue)
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

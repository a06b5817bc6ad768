package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string

	CycleInterval time.Duration
	CycleDeadline time.Duration
	FetchTimeout  time.Duration
	PoolSize      int
	UnitSize      int
	MaxSymbols    int
	Providers     []string

	TradingHoursOnly bool

	WatchlistPath        string
	ArchivePath          string
	ArchiveRetentionDays int

	MongoURI   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	AdminUser         string
	AdminPasswordHash string
	JWTSecret         string
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		CycleInterval: time.Duration(getEnvInt("CYCLE_INTERVAL_SECONDS", 3)) * time.Second,
		CycleDeadline: time.Duration(getEnvInt("CYCLE_DEADLINE_SECONDS", 10)) * time.Second,
		FetchTimeout:  time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 5)) * time.Second,
		PoolSize:      getEnvInt("POOL_SIZE", 30),
		UnitSize:      getEnvInt("UNIT_SIZE", 20),
		MaxSymbols:    getEnvInt("MAX_SYMBOLS", 200),
		Providers:     getEnvList("QUOTE_PROVIDERS", "sina,netease,tencent"),

		TradingHoursOnly: getEnvBool("TRADING_HOURS_ONLY", false),

		WatchlistPath:        getEnv("WATCHLIST_PATH", "data/watchlist.json"),
		ArchivePath:          getEnv("ARCHIVE_PATH", "data/market.db"),
		ArchiveRetentionDays: getEnvInt("ARCHIVE_RETENTION_DAYS", 30),

		MongoURI:   getEnv("MONGODB_URI", ""),
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "billions_dollars"),

		AdminUser:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", "your-secret-key"),
	}

	return config, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.CycleInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL_SECONDS must be positive")
	}
	if c.CycleDeadline <= 0 {
		return fmt.Errorf("CYCLE_DEADLINE_SECONDS must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_SECONDS must be positive")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("POOL_SIZE must be positive")
	}
	if c.UnitSize <= 0 {
		return fmt.Errorf("UNIT_SIZE must be positive")
	}
	if c.MaxSymbols <= 0 {
		return fmt.Errorf("MAX_SYMBOLS must be positive")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("QUOTE_PROVIDERS must name at least one provider")
	}
	if c.Environment == "production" && c.JWTSecret == "your-secret-key" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// InitDB initializes the optional Postgres connection. An empty DB_HOST
// means the service runs without it.
func InitDB(cfg *Config) (*gorm.DB, error) {
	if cfg.DBHost == "" {
		log.Println("DB_HOST not set, running without Postgres")
		return nil, nil
	}

	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(cfg.DBHost),
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=Asia/Shanghai",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvBool gets a boolean environment variable or returns a default
// value.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}

// getEnvList gets a comma-separated environment variable as a slice.
func getEnvList(key, defaultValue string) []string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

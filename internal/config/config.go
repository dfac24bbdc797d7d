package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for our application
type Config struct {
	Port                      string
	Origin                    string
	Environment               string
	LogLevel                  string
	JWTSecret                 string
	JWTRefreshSecret          string
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	Database                  DatabaseConfig
	Engine                    EngineConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	SSLMode  string
	Path     string
	DSN      string
}

// EngineConfig holds the tunables of the scheduling and adherence engine.
type EngineConfig struct {
	ReminderPageSize       int
	MaxGenerationDays      int
	DefaultRefillThreshold int
	DefaultInventoryUnit   string
}

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", DriverMySQL),
		Host:     getEnv("DB_HOST", "localhost"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "medi"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		Path:     getEnv("DB_PATH", "medi.db"),
	}

	dsn, err := buildDSN(&dbConfig)
	if err != nil {
		return nil, err
	}
	dbConfig.DSN = dsn

	jwtExpMinutes, err := getEnvInt("JWT_EXPIRATION_MINUTES", 15)
	if err != nil {
		return nil, err
	}

	jwtRefreshExpHours, err := getEnvInt("JWT_REFRESH_EXPIRATION_HOURS", 168) // 7 days
	if err != nil {
		return nil, err
	}

	pageSize, err := getEnvInt("REMINDER_PAGE_SIZE", 50)
	if err != nil {
		return nil, err
	}

	maxGenerationDays, err := getEnvInt("MAX_GENERATION_DAYS", 31)
	if err != nil {
		return nil, err
	}

	refillThreshold, err := getEnvInt("DEFAULT_REFILL_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}

	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid REMINDER_PAGE_SIZE: must be positive")
	}
	if maxGenerationDays <= 0 {
		return nil, fmt.Errorf("invalid MAX_GENERATION_DAYS: must be positive")
	}

	return &Config{
		Port:                      getEnv("PORT", "3001"),
		Origin:                    getEnv("ORIGIN", "http://localhost:4200"),
		Environment:               getEnv("APP_ENV", "development"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		JWTSecret:                 getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret:          getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		JWTExpirationMinutes:      jwtExpMinutes,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
		Database:                  dbConfig,
		Engine: EngineConfig{
			ReminderPageSize:       pageSize,
			MaxGenerationDays:      maxGenerationDays,
			DefaultRefillThreshold: refillThreshold,
			DefaultInventoryUnit:   getEnv("DEFAULT_INVENTORY_UNIT", "tablet"),
		},
	}, nil
}

// DefaultEngineConfig returns the engine tunables used when no environment is loaded.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ReminderPageSize:       50,
		MaxGenerationDays:      31,
		DefaultRefillThreshold: 5,
		DefaultInventoryUnit:   "tablet",
	}
}

func buildDSN(db *DatabaseConfig) (string, error) {
	switch db.Driver {
	case DriverMySQL:
		db.Port = getEnv("DB_PORT", "3306")
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			db.Username, db.Password, db.Host, db.Port, db.Name), nil
	case DriverPostgres:
		db.Port = getEnv("DB_PORT", "5432")
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			db.Host, db.Port, db.Username, db.Password, db.Name, db.SSLMode), nil
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", db.Path), nil
	default:
		return "", fmt.Errorf("invalid DB_DRIVER %q: expected mysql, postgres or sqlite", db.Driver)
	}
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

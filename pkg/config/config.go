package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Typesense   TypesenseConfig
	OTEL        OTELConfig
	Clustering  ClusteringConfig
	Coverage    CoverageConfig
	Performance PerformanceConfig
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Environment string
	LogLevel    string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Migrate  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	URL    string
	APIKey string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// ClusteringConfig controls the clustering runs
type ClusteringConfig struct {
	MinSimilarity     float64
	Strategy          string
	MaxComparisons    int64
	MaxDuration       time.Duration
	MaxConcurrentRuns int
	LockTTL           time.Duration
}

// CoverageConfig controls coverage recomputation
type CoverageConfig struct {
	Workers       int
	RetryAttempts int
	RetryDelay    time.Duration
}

// PerformanceConfig controls the content performance score.
// Weights are relative; they are normalized before use.
type PerformanceConfig struct {
	WindowDays            int
	PageviewsWeight       float64
	UniquePageviewsWeight float64
	EngagementWeight      float64
	TimeOnPageWeight      float64
	PageviewsTarget       float64
	UniquePageviewsTarget float64
	TimeOnPageTarget      float64
	RetryAttempts         int
	RetryDelay            time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "keyword_clusters"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getEnvAsBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Typesense: TypesenseConfig{
			URL:    getEnv("TYPESENSE_URL", ""),
			APIKey: getEnv("TYPESENSE_API_KEY", ""),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "keyword-clusters"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Clustering: ClusteringConfig{
			MinSimilarity:     getEnvAsFloat("CLUSTER_MIN_SIMILARITY", 0.3),
			Strategy:          getEnv("CLUSTER_STRATEGY", "token_index"),
			MaxComparisons:    int64(getEnvAsInt("CLUSTER_MAX_COMPARISONS", 25_000_000)),
			MaxDuration:       getEnvAsDuration("CLUSTER_MAX_DURATION", 5*time.Minute),
			MaxConcurrentRuns: getEnvAsInt("CLUSTER_MAX_CONCURRENT_RUNS", 4),
			LockTTL:           getEnvAsDuration("CLUSTER_LOCK_TTL", 10*time.Minute),
		},
		Coverage: CoverageConfig{
			Workers:       getEnvAsInt("COVERAGE_WORKERS", 4),
			RetryAttempts: getEnvAsInt("COVERAGE_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvAsDuration("COVERAGE_RETRY_DELAY", 200*time.Millisecond),
		},
		Performance: PerformanceConfig{
			WindowDays:            getEnvAsInt("PERF_WINDOW_DAYS", 30),
			PageviewsWeight:       getEnvAsFloat("PERF_WEIGHT_PAGEVIEWS", 0.35),
			UniquePageviewsWeight: getEnvAsFloat("PERF_WEIGHT_UNIQUE_PAGEVIEWS", 0.25),
			EngagementWeight:      getEnvAsFloat("PERF_WEIGHT_ENGAGEMENT", 0.20),
			TimeOnPageWeight:      getEnvAsFloat("PERF_WEIGHT_TIME_ON_PAGE", 0.20),
			PageviewsTarget:       getEnvAsFloat("PERF_TARGET_PAGEVIEWS", 10000),
			UniquePageviewsTarget: getEnvAsFloat("PERF_TARGET_UNIQUE_PAGEVIEWS", 5000),
			TimeOnPageTarget:      getEnvAsFloat("PERF_TARGET_TIME_ON_PAGE", 180),
			RetryAttempts:         getEnvAsInt("PERF_RETRY_ATTEMPTS", 3),
			RetryDelay:            getEnvAsDuration("PERF_RETRY_DELAY", 200*time.Millisecond),
		},
	}

	if cfg.Clustering.MinSimilarity <= 0 || cfg.Clustering.MinSimilarity > 1 {
		return nil, fmt.Errorf("CLUSTER_MIN_SIMILARITY must be in (0, 1], got %v", cfg.Clustering.MinSimilarity)
	}
	if cfg.Clustering.Strategy != "token_index" && cfg.Clustering.Strategy != "exhaustive" {
		return nil, fmt.Errorf("CLUSTER_STRATEGY must be token_index or exhaustive, got %q", cfg.Clustering.Strategy)
	}

	return cfg, nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

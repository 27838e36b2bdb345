package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port    string
	GinMode string

	DBDriver string
	DBDSN    string

	SessionAbsTTL      time.Duration
	SessionIdleTTL     time.Duration
	SessionTokenBytes  int
	SharedCode         string
	SharedCodeHash     string
	JWTSecret          string
	JWTExpiresIn       time.Duration
	AdminPinHash       string
	TableSlugSalt      string
	TableSlugMinLength int
	FrontendBaseURL    string

	HeartbeatInterval time.Duration
	UrgentAfter       time.Duration

	RedisURL         string
	KafkaBrokers     []string
	KafkaExportTopic string

	CORSOrigins  []string
	RateLimitRPS float64

	LogLevel  string
	LogFormat string

	TxRetries    int
	TxRetryMin   time.Duration
	TxRetryMax   time.Duration
	ExportBuffer int
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		DBDriver: getEnv("DB_DRIVER", "mysql"),
		DBDSN:    getEnv("DB_DSN", mysqlDSNFromParts()),

		SessionAbsTTL:      time.Duration(getEnvAsInt("SESSION_ABS_TTL_MIN", 120)) * time.Minute,
		SessionIdleTTL:     time.Duration(getEnvAsInt("SESSION_IDLE_TTL_MIN", 30)) * time.Minute,
		SessionTokenBytes:  getEnvAsInt("SESSION_TOKEN_BYTES", 32),
		SharedCode:         getEnv("SESSION_SHARED_CODE", ""),
		SharedCodeHash:     getEnv("SESSION_SHARED_CODE_HASH", ""),
		JWTSecret:          getEnv("JWT_SECRET", "change-me"),
		JWTExpiresIn:       getEnvAsDuration("JWT_EXPIRES_IN", time.Hour),
		AdminPinHash:       getEnv("ADMIN_PIN_HASH", ""),
		TableSlugSalt:      getEnv("TABLE_SLUG_SALT", "change-me"),
		TableSlugMinLength: getEnvAsInt("TABLE_SLUG_MINLEN", 6),
		FrontendBaseURL:    strings.TrimRight(getEnv("FE_BASE_URL", "http://localhost:8080"), "/"),

		HeartbeatInterval: time.Duration(getEnvAsInt("SSE_HEARTBEAT_SEC", 25)) * time.Second,
		UrgentAfter:       time.Duration(getEnvAsInt("URGENT_MIN", 15)) * time.Minute,

		RedisURL:         getEnv("REDIS_URL", ""),
		KafkaBrokers:     getEnvAsList("KAFKA_BROKERS"),
		KafkaExportTopic: getEnv("KAFKA_EXPORT_TOPIC", "table-order.orders"),

		CORSOrigins:  getEnvAsList("CORS_ORIGINS"),
		RateLimitRPS: getEnvAsFloat("RATE_LIMIT_RPS", 5),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		TxRetries:    getEnvAsInt("TX_RETRIES", 4),
		TxRetryMin:   time.Duration(getEnvAsInt("TX_RETRY_MIN_MS", 20)) * time.Millisecond,
		TxRetryMax:   time.Duration(getEnvAsInt("TX_RETRY_MAX_MS", 200)) * time.Millisecond,
		ExportBuffer: getEnvAsInt("EXPORT_BUFFER", 256),
	}
}

// InitDB opens the gorm connection for the configured driver.
func InitDB(cfg *Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch cfg.DBDriver {
	case "mysql":
		db, err := gorm.Open(mysql.Open(cfg.DBDSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(getEnvAsInt("DB_MAX_OPEN_CONNS", 20))
		sqlDB.SetMaxIdleConns(getEnvAsInt("DB_MAX_IDLE_CONNS", 10))
		sqlDB.SetConnMaxLifetime(time.Hour)
		return db, nil
	case "sqlite":
		return OpenSQLite(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

// OpenSQLite opens a SQLite database limited to a single connection, which
// makes SQLite's database-level write lock the serialization point. Used in
// development and tests.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func mysqlDSNFromParts() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		getEnv("DB_USER", "root"),
		getEnv("DB_PASSWORD", ""),
		getEnv("DB_HOST", "127.0.0.1"),
		getEnv("DB_PORT", "3306"),
		getEnv("DB_NAME", "table_order"),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
